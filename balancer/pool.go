package balancer

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// lane is the private queue of a backend and the context its workers run under.
type lane struct {
	queue  chan *Call
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pool runs the workers of every backend of a network.
type pool struct {
	n   *netState
	log *zap.Logger

	mu       sync.Mutex
	base     context.Context
	cancel   context.CancelFunc
	lanes    map[string]*lane
	size     int
	stopping bool
	wg       sync.WaitGroup
}

func newPool(n *netState, size int) *pool {
	p := &pool{
		n:     n,
		log:   n.log,
		lanes: make(map[string]*lane),
		size:  size,
	}
	p.base, p.cancel = context.WithCancel(context.Background())

	return p
}

func (p *pool) addLane(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.lanes[id]; ok {
		return
	}

	l := &lane{queue: make(chan *Call, p.size)}
	l.ctx, l.cancel = context.WithCancel(p.base)
	p.lanes[id] = l
}

// lane returns the lane of backend id and its current context.
func (p *pool) lane(id string) (*lane, context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.lanes[id]
	if !ok {
		return nil, nil
	}

	return l, l.ctx
}

// enqueue puts c on the queue of backend id and makes sure the backend has workers to consume it. ctx bounds the
// wait for queue space.
func (p *pool) enqueue(ctx context.Context, id string, c *Call) error {
	l, lctx := p.lane(id)
	if l == nil {
		return errRetired
	}

	select {
	case l.queue <- c:
	case <-lctx.Done():
		return errRetired
	case <-ctx.Done():
		return ctx.Err()
	}

	if !p.n.b.tracker.isPending(c.ID) {
		// flushed or abandoned while enqueued, possibly after the queue was drained: nothing may stay behind it
		p.drain(id, true)

		return nil
	}

	if !p.ensure(id) {
		// went offline after it was routed to, nobody will consume its queue
		p.drain(id, true)
	}

	return nil
}

// ensure spawns workers for backend id up to its concurrency limit and reports whether the backend is online.
func (p *pool) ensure(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.lanes[id]
	if !ok {
		return false
	}

	if p.stopping {
		return !p.n.reg.isOffline(id)
	}

	d, _ := p.n.reg.descriptor(id)

	for {
		wid, ok, online := p.n.reg.reserveWorker(id)
		if !online {
			return false
		}

		if !ok {
			return true
		}

		p.wg.Add(1)
		l.wg.Add(1)

		p.n.emit(Event{Kind: WorkerSpawned, Backend: id, Worker: wid})

		go p.work(l.ctx, l, d, wid)
	}
}

// retire cancels the workers of backend id and hands the calls waiting in its queue back to the router. Calls being
// executed are handed back by their workers.
func (p *pool) retire(id string) {
	p.mu.Lock()
	l, ok := p.lanes[id]

	if ok {
		l.cancel()
		l.ctx, l.cancel = context.WithCancel(p.base)
	}
	p.mu.Unlock()

	if ok {
		p.drain(id, true)
	}
}

// remove retires backend id for good and waits for its workers to exit.
func (p *pool) remove(id string) {
	p.mu.Lock()
	l, ok := p.lanes[id]
	delete(p.lanes, id)
	p.mu.Unlock()

	if !ok {
		return
	}

	l.cancel()
	l.wg.Wait()

	for {
		select {
		case c := <-l.queue:
			go p.n.redispatch(c)
		default:
			return
		}
	}
}

// drain empties the queue of backend id. Drained calls are re-routed when requeue is set, discarded otherwise.
func (p *pool) drain(id string, requeue bool) int {
	l, _ := p.lane(id)
	if l == nil {
		return 0
	}

	n := 0

	for {
		select {
		case c := <-l.queue:
			n++

			if requeue {
				go p.n.redispatch(c)
			}
		default:
			return n
		}
	}
}

// stop cancels every worker, waits for them to exit and discards every queued call. Workers are spawned again on
// demand.
func (p *pool) stop() {
	p.mu.Lock()
	p.stopping = true
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	for _, id := range p.ids() {
		if n := p.drain(id, false); n > 0 {
			p.log.Info("discarded queued calls", zap.String("backend", id), zap.Int("calls", n))
		}
	}

	p.mu.Lock()
	p.base, p.cancel = context.WithCancel(context.Background())

	for _, l := range p.lanes {
		l.ctx, l.cancel = context.WithCancel(p.base)
	}

	p.stopping = false
	p.mu.Unlock()
}

// shutdown stops the pool for good.
func (p *pool) shutdown() {
	p.mu.Lock()
	p.stopping = true
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	for _, id := range p.ids() {
		p.drain(id, false)
	}
}

func (p *pool) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.lanes))
	for id := range p.lanes {
		ids = append(ids, id)
	}

	return ids
}

func (p *pool) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, l := range p.lanes {
		n += len(l.queue)
	}

	return n
}
