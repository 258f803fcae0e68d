package balancer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/time/rate"

	"github.com/tarancss/rpcbalancer/lib/util"
)

// Invoker runs a method on a backend. It is the only thing the balancer knows about a backend's wire format.
type Invoker interface {
	Invoke(ctx context.Context, method string, args []interface{}) (interface{}, error)
	Close()
}

// Descriptor describes a backend provider. The balancer owns Invoker once the descriptor is registered and closes
// it when the backend is removed or its network is switched out.
type Descriptor struct {
	ID               string
	Methods          []string
	Custom           bool          // added by the user, removable
	MaxWorkers       int           // concurrency limit
	Timeout          time.Duration // bounded wait of each invocation
	FailureThreshold int           // consecutive failures that take the backend offline
	RateLimit        float64       // requests per second, 0 is unlimited
	ProbeMethod      string        // method used by the health monitor, defaults to the balancer's
	Offline          bool          // register offline, under health monitoring
	Invoker          Invoker
}

// Descriptor defaults.
const (
	DefaultMaxWorkers       = 5
	DefaultTimeout          = 10 * time.Second
	DefaultFailureThreshold = 2
)

func (d Descriptor) validate() (Descriptor, error) {
	if d.ID == "" || d.Invoker == nil || len(d.Methods) == 0 {
		return d, fmt.Errorf("%w: id, methods and invoker are required (id %q)", ErrInvalidDescriptor, d.ID)
	}

	if d.MaxWorkers <= 0 {
		d.MaxWorkers = DefaultMaxWorkers
	}

	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}

	if d.FailureThreshold <= 0 {
		d.FailureThreshold = DefaultFailureThreshold
	}

	return d, nil
}

// BackendStats is a snapshot of a registered backend.
type BackendStats struct {
	ID               string        `json:"id"`
	Methods          []string      `json:"methods"`
	Custom           bool          `json:"custom"`
	Offline          bool          `json:"offline"`
	Failures         int           `json:"failures"`
	FailureThreshold int           `json:"failureThreshold"`
	MaxWorkers       int           `json:"maxWorkers"`
	Workers          []string      `json:"workers"`
	Busy             int           `json:"busy"`
	Timeout          time.Duration `json:"timeout"`
	AvgResponse      time.Duration `json:"avgResponse"`
	RateLimit        float64       `json:"rateLimit,omitempty"`
}

type backend struct {
	desc     Descriptor
	methods  map[string]struct{}
	offline  bool
	failures int
	avg      time.Duration
	limiter  *rate.Limiter
	workers  *orderedmap.OrderedMap[string, *Call] // worker id -> call being executed
}

// candidate is what the router sees of a backend.
type candidate struct {
	id      string
	methods map[string]struct{}
	offline bool
	busy    int
}

// registry keeps the backends of a network in insertion order. Every read-modify-write happens under mu.
type registry struct {
	mu       sync.RWMutex
	backends *orderedmap.OrderedMap[string, *backend]
}

func newRegistry() *registry {
	return &registry{backends: orderedmap.New[string, *backend]()}
}

func (r *registry) add(d Descriptor) error {
	b := &backend{
		desc:    d,
		methods: make(map[string]struct{}, len(d.Methods)),
		offline: d.Offline,
		workers: orderedmap.New[string, *Call](),
	}
	for _, m := range d.Methods {
		b.methods[m] = struct{}{}
	}

	if d.RateLimit > 0 {
		burst := int(d.RateLimit)
		if burst < 1 {
			burst = 1
		}

		b.limiter = rate.NewLimiter(rate.Limit(d.RateLimit), burst)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends.Get(d.ID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, d.ID)
	}

	r.backends.Set(d.ID, b)

	return nil
}

func (r *registry) remove(id string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends.Delete(id)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}

	return b.desc, nil
}

func (r *registry) descriptor(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends.Get(id)
	if !ok {
		return Descriptor{}, false
	}

	return b.desc, true
}

func (r *registry) descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds := make([]Descriptor, 0, r.backends.Len())
	for p := r.backends.Oldest(); p != nil; p = p.Next() {
		ds = append(ds, p.Value.desc)
	}

	return ds
}

func (r *registry) limiter(id string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.backends.Get(id); ok {
		return b.limiter
	}

	return nil
}

// candidates returns the routing view of every backend, in insertion order.
func (r *registry) candidates() []candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cs := make([]candidate, 0, r.backends.Len())

	for p := r.backends.Oldest(); p != nil; p = p.Next() {
		b := p.Value
		c := candidate{id: p.Key, methods: b.methods, offline: b.offline}

		for w := b.workers.Oldest(); w != nil; w = w.Next() {
			if w.Value != nil {
				c.busy++
			}
		}

		cs = append(cs, c)
	}

	return cs
}

// reserveWorker registers a new worker for backend id when the backend is online and below its concurrency limit.
// Worker ids reuse the lowest free slot.
func (r *registry) reserveWorker(id string) (wid string, ok, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, found := r.backends.Get(id)
	if !found || b.offline {
		return "", false, false
	}

	if b.workers.Len() >= b.desc.MaxWorkers {
		return "", false, true
	}

	for slot := 0; ; slot++ {
		wid = fmt.Sprintf("%s_worker_%d", id, slot)
		if _, used := b.workers.Get(wid); !used {
			b.workers.Set(wid, nil)

			return wid, true, true
		}
	}
}

func (r *registry) releaseWorker(id, wid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends.Get(id); ok {
		b.workers.Delete(wid)
	}
}

// setCurrent records the call a worker executes, nil when idle.
func (r *registry) setCurrent(id, wid string, c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends.Get(id); ok {
		if _, ok = b.workers.Get(wid); ok {
			b.workers.Set(wid, c)
		}
	}
}

// recordSuccess resets the consecutive failures of backend id and folds elapsed into its average response time.
func (r *registry) recordSuccess(id string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends.Get(id)
	if !ok {
		return
	}

	b.failures = 0

	if b.avg == 0 {
		b.avg = elapsed
	} else {
		b.avg += (elapsed - b.avg) / 5
	}
}

// recordFailure counts a failure of backend id and reports whether it made the backend go offline. The counter
// restarts from zero on that transition.
func (r *registry) recordFailure(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends.Get(id)
	if !ok || b.offline {
		return false
	}

	b.failures++
	if b.failures < b.desc.FailureThreshold {
		return false
	}

	b.offline = true
	b.failures = 0

	return true
}

// setOnline reports whether backend id was offline.
func (r *registry) setOnline(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends.Get(id)
	if !ok || !b.offline {
		return false
	}

	b.offline = false
	b.failures = 0

	return true
}

func (r *registry) isOffline(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends.Get(id)

	return !ok || b.offline
}

func (r *registry) resetFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for p := r.backends.Oldest(); p != nil; p = p.Next() {
		p.Value.failures = 0
	}
}

// uncovered returns the methods in required that no online backend serves, sorted.
func (r *registry) uncovered(required []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string

	for _, m := range required {
		covered := false

		for p := r.backends.Oldest(); p != nil && !covered; p = p.Next() {
			if _, ok := p.Value.methods[m]; ok && !p.Value.offline {
				covered = true
			}
		}

		if !covered && !util.In(out, m) {
			out = append(out, m)
		}
	}

	sort.Strings(out)

	return out
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.backends.Len()
}

// methods returns every method served by some registered backend, sorted.
func (r *registry) methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]struct{})
	for p := r.backends.Oldest(); p != nil; p = p.Next() {
		for m := range p.Value.methods {
			set[m] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}

	sort.Strings(out)

	return out
}

func (r *registry) workerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for p := r.backends.Oldest(); p != nil; p = p.Next() {
		n += p.Value.workers.Len()
	}

	return n
}

func (r *registry) stats() []BackendStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ss := make([]BackendStats, 0, r.backends.Len())

	for p := r.backends.Oldest(); p != nil; p = p.Next() {
		b := p.Value
		s := BackendStats{
			ID:               b.desc.ID,
			Methods:          append([]string(nil), b.desc.Methods...),
			Custom:           b.desc.Custom,
			Offline:          b.offline,
			Failures:         b.failures,
			FailureThreshold: b.desc.FailureThreshold,
			MaxWorkers:       b.desc.MaxWorkers,
			Workers:          make([]string, 0, b.workers.Len()),
			Timeout:          b.desc.Timeout,
			AvgResponse:      b.avg,
			RateLimit:        b.desc.RateLimit,
		}

		for w := b.workers.Oldest(); w != nil; w = w.Next() {
			s.Workers = append(s.Workers, w.Key)
			if w.Value != nil {
				s.Busy++
			}
		}

		ss = append(ss, s)
	}

	return ss
}
