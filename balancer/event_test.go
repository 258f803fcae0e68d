package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventKind(t *testing.T) {
	for k := BackendOnline; k <= NetworkSwitched; k++ {
		p, err := ParseEventKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, p)
	}

	assert.Equal(t, "callTimedOut", CallTimedOut.String())
	assert.Equal(t, "EventKind(42)", EventKind(42).String())

	_, err := ParseEventKind("backendExploded")
	assert.Error(t, err)
}

func TestEmitter(t *testing.T) {
	var got []Event

	em := NewEmitter(zap.NewNop(), SinkFunc(func(e Event) { got = append(got, e) }))

	ch, unsubscribe := em.Subscribe(1)
	slow, unsubscribeSlow := em.Subscribe(0)

	defer unsubscribeSlow()

	em.Emit(Event{Kind: WorkerSpawned, Backend: "A", Worker: "A_worker_0"})
	em.Emit(Event{Kind: WorkerKilled, Backend: "A", Worker: "A_worker_0"})

	require.Len(t, got, 2)
	assert.False(t, got[0].Time.IsZero())

	e := <-ch
	assert.Equal(t, WorkerSpawned, e.Kind)
	assert.Empty(t, ch, "second event dropped, buffer full")
	assert.Empty(t, slow)

	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)

	em.Emit(Event{Kind: BalancerFlushed})
	assert.Len(t, got, 3)
}
