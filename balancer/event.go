package balancer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventKind is the closed set of lifecycle events emitted by the balancer.
type EventKind int

// Lifecycle events.
const (
	BackendOnline EventKind = iota
	BackendOffline
	BackendAdded
	BackendRemoved
	WorkerSpawned
	WorkerKilled
	CallRequested
	CallTimedOut
	CallFailed
	CallSucceeded
	BalancerFlushed
	NetworkSwitched
)

var kindNames = [...]string{ //nolint:gochecknoglobals // enum names
	BackendOnline:   "backendOnline",
	BackendOffline:  "backendOffline",
	BackendAdded:    "backendAdded",
	BackendRemoved:  "backendRemoved",
	WorkerSpawned:   "workerSpawned",
	WorkerKilled:    "workerKilled",
	CallRequested:   "callRequested",
	CallTimedOut:    "callTimedOut",
	CallFailed:      "callFailed",
	CallSucceeded:   "callSucceeded",
	BalancerFlushed: "balancerFlushed",
	NetworkSwitched: "networkSwitched",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}

	return kindNames[k]
}

// ParseEventKind returns the kind named s.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range kindNames {
		if name == s {
			return EventKind(k), nil
		}
	}

	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event describes something that happened in the balancer. Only the fields relevant to Kind are set. Final marks
// the CallFailed event of a call that will not be retried.
type Event struct {
	Kind    EventKind
	Network string
	Backend string
	Worker  string
	CallID  uint64
	Method  string
	Retries int
	Final   bool
	Err     error
	Elapsed time.Duration
	Time    time.Time
}

// Sink receives events. Emit is called synchronously from the balancer goroutines and must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Emitter fans events out to its sinks and to buffered subscriptions. Slow subscribers lose events rather than
// stall the balancer.
type Emitter struct {
	log *zap.Logger

	mu    sync.RWMutex
	sinks []Sink
	subs  map[int]chan Event
	next  int
}

// NewEmitter returns an emitter delivering to sinks.
func NewEmitter(log *zap.Logger, sinks ...Sink) *Emitter {
	return &Emitter{
		log:   log,
		sinks: sinks,
		subs:  make(map[int]chan Event),
	}
}

// Emit delivers e to every sink and subscription.
func (em *Emitter) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	for _, s := range em.sinks {
		s.Emit(e)
	}

	for _, ch := range em.subs {
		select {
		case ch <- e:
		default:
			em.log.Debug("subscriber too slow, event dropped", zap.Stringer("kind", e.Kind))
		}
	}
}

// Subscribe returns a channel receiving every event from now on and the function that ends the subscription and
// closes the channel.
func (em *Emitter) Subscribe(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)

	em.mu.Lock()
	id := em.next
	em.next++
	em.subs[id] = ch
	em.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			em.mu.Lock()
			delete(em.subs, id)
			close(ch)
			em.mu.Unlock()
		})
	}
}
