package balancer

import (
	"fmt"

	"github.com/tarancss/rpcbalancer/lib/util"
)

// route picks the backend that will execute c. The stages narrow the candidate set in order:
//
//   - health and capability: an empty set means no backend can serve the call
//   - pinned backend (manual mode): strict, the pinned backend or nothing
//   - allow list: preferred backends, skipped when it would empty the set
//   - avoid list: backends that already failed c, skipped when it would empty the set
//   - least busy: fewest workers executing a call, ties go to the oldest registration
func route(cs []candidate, c *Call, pinned string) (string, error) {
	set := make([]candidate, 0, len(cs))

	for _, b := range cs {
		if b.offline {
			continue
		}

		if _, ok := b.methods[c.Method]; ok {
			set = append(set, b)
		}
	}

	if pinned != "" {
		set = util.Filter(set, func(b candidate) bool { return b.id == pinned })
	}

	if len(set) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoBackend, c.Method)
	}

	if len(c.Allow) > 0 {
		if s := util.Filter(set, func(b candidate) bool { return util.In(c.Allow, b.id) }); len(s) > 0 {
			set = s
		}
	}

	if len(c.Avoid) > 0 {
		if s := util.Filter(set, func(b candidate) bool { return !util.In(c.Avoid, b.id) }); len(s) > 0 {
			set = s
		}
	}

	best := set[0]
	for _, b := range set[1:] {
		if b.busy < best.busy {
			best = b
		}
	}

	return best.id, nil
}
