package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func cand(id string, busy int, offline bool, methods ...string) candidate {
	c := candidate{id: id, busy: busy, offline: offline, methods: make(map[string]struct{})}
	for _, m := range methods {
		c.methods[m] = struct{}{}
	}

	return c
}

func TestRoute(t *testing.T) {
	abc := []candidate{
		cand("A", 0, false, "getBalance"),
		cand("B", 0, false, "getBalance", "sendRawTx"),
		cand("C", 0, true, "getBalance"),
	}

	cases := []struct {
		name   string
		cs     []candidate
		call   Call
		pinned string
		exp    string
		err    error
	}{
		{"tieOldestFirst", abc, Call{Method: "getBalance"}, "", "A", nil},
		{"leastBusy", []candidate{cand("A", 2, false, "m"), cand("B", 1, false, "m"), cand("C", 1, false, "m")},
			Call{Method: "m"}, "", "B", nil},
		{"capability", abc, Call{Method: "sendRawTx"}, "", "B", nil},
		{"noneCapable", abc, Call{Method: "getToken"}, "", "", ErrNoBackend},
		{"offlineNeverChosen", abc, Call{Method: "getBalance", Allow: []string{"C"}}, "", "A", nil},
		{"allow", abc, Call{Method: "getBalance", Allow: []string{"B"}}, "", "B", nil},
		{"allowUnknownIgnored", abc, Call{Method: "getBalance", Allow: []string{"Z"}}, "", "A", nil},
		{"avoid", abc, Call{Method: "getBalance", Avoid: []string{"A"}}, "", "B", nil},
		{"avoidAllIgnored", abc, Call{Method: "getBalance", Avoid: []string{"A", "B"}}, "", "A", nil},
		{"avoidWithinAllow", abc, Call{Method: "getBalance", Allow: []string{"A"}, Avoid: []string{"A"}}, "", "A", nil},
		{"pinned", abc, Call{Method: "getBalance"}, "B", "B", nil},
		{"pinnedIgnoresAvoid", abc, Call{Method: "getBalance", Avoid: []string{"B"}}, "B", "B", nil},
		{"pinnedOffline", abc, Call{Method: "getBalance"}, "C", "", ErrNoBackend},
		{"pinnedIncapable", abc, Call{Method: "sendRawTx"}, "A", "", ErrNoBackend},
		{"empty", nil, Call{Method: "getBalance"}, "", "", ErrNoBackend},
	}

	for i := range cases {
		tc := &cases[i]
		t.Run(tc.name, func(t *testing.T) {
			id, err := route(tc.cs, &tc.call, tc.pinned)

			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.exp, id)
		})
	}
}
