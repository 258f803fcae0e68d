package balancer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

type invokeFunc func(ctx context.Context, method string) (interface{}, error)

// fakeInvoker answers with its id unless told otherwise.
type fakeInvoker struct {
	id     string
	calls  atomic.Int32
	closed atomic.Bool

	mu sync.Mutex
	fn invokeFunc
}

func newFake(id string) *fakeInvoker {
	return &fakeInvoker{id: id}
}

func (f *fakeInvoker) set(fn invokeFunc) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

func (f *fakeInvoker) Invoke(ctx context.Context, method string, _ []interface{}) (interface{}, error) {
	f.calls.Add(1)

	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()

	if fn == nil {
		return f.id, nil
	}

	return fn(ctx, method)
}

func (f *fakeInvoker) Close() {
	f.closed.Store(true)
}

func failing(context.Context, string) (interface{}, error) {
	return nil, errBoom
}

func hanging(ctx context.Context, _ string) (interface{}, error) {
	<-ctx.Done()

	return nil, ctx.Err()
}

func desc(inv *fakeInvoker, methods ...string) Descriptor {
	return Descriptor{ID: inv.id, Methods: methods, Invoker: inv, Timeout: time.Second}
}

// recorder keeps every event it sees.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(kind EventKind, match func(Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, e := range r.events {
		if e.Kind == kind && (match == nil || match(e)) {
			n++
		}
	}

	return n
}

func newTestBalancer(t *testing.T, opts Options, ds ...Descriptor) (*Balancer, *recorder) {
	t.Helper()

	if opts.ProbeInterval == 0 {
		opts.ProbeInterval = time.Hour
	}

	rec := &recorder{}

	b, err := New(Network{Name: "testNet", Backends: ds}, opts, zaptest.NewLogger(t), rec)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	return b, rec
}

func ctxWithin(t *testing.T, d time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)

	return ctx
}
