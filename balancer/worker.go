package balancer

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// work is the loop of a worker of backend d: take a call from the lane, run it, repeat until ctx is canceled.
func (p *pool) work(ctx context.Context, l *lane, d Descriptor, wid string) {
	defer p.wg.Done()
	defer l.wg.Done()
	defer func() {
		p.n.reg.releaseWorker(d.ID, wid)
		p.n.emit(Event{Kind: WorkerKilled, Backend: d.ID, Worker: wid})
	}()

	lim := p.n.reg.limiter(d.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-l.queue:
			if !p.n.b.tracker.isPending(c.ID) {
				// abandoned by its caller or flushed
				continue
			}

			if ctx.Err() != nil {
				go p.n.redispatch(c)

				return
			}

			p.execute(ctx, lim, d, wid, c)
		}
	}
}

func (p *pool) execute(ctx context.Context, lim *rate.Limiter, d Descriptor, wid string, c *Call) {
	p.n.reg.setCurrent(d.ID, wid, c)
	defer p.n.reg.setCurrent(d.ID, wid, nil)

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			go p.n.redispatch(c)

			return
		}
	}

	start := time.Now()
	res, err := invokeWithin(ctx, d.Invoker, c.Method, c.Args, d.Timeout)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		p.n.reg.recordSuccess(d.ID, elapsed)
		p.n.emit(Event{Kind: CallSucceeded, Backend: d.ID, Worker: wid, CallID: c.ID, Method: c.Method,
			Retries: c.Retries, Elapsed: elapsed})
		p.n.b.tracker.resolve(c, outcome{result: res})
	case ctx.Err() != nil:
		// interrupted by retirement: the call goes back to the router as it was
		go p.n.redispatch(c)
	default:
		p.n.fail(d.ID, wid, c, err, elapsed)
	}
}

// invokeWithin runs method on inv and waits at most timeout for the answer. A late answer is dropped.
func invokeWithin(ctx context.Context, inv Invoker, method string, args []interface{}, timeout time.Duration) (interface{}, error) {
	ictx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   interface{}
		err error
	}

	ch := make(chan result, 1)

	go func() {
		v, err := inv.Invoke(ictx, method, args)
		ch <- result{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
