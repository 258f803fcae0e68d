// Package observer implements the observer microservice. The observer consumes the lifecycle events the balancer
// service publishes for every network and keeps a persistent view of each network: backend states, live workers and
// call counters.
package observer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tarancss/rpcbalancer/lib/msg"
	"github.com/tarancss/rpcbalancer/lib/store"
	nv "github.com/tarancss/rpcbalancer/observer/netview"
)

// Observer implements an observer service.
type Observer struct {
	log  *zap.Logger
	db   store.DB // optional
	mb   msg.MsgBroker
	nets []string

	mu    sync.Mutex
	views map[string]*nv.NetView

	wg sync.WaitGroup
}

// New instantiates a new observer service for networks nets.
func New(db store.DB, mb msg.MsgBroker, nets []string, log *zap.Logger) *Observer {
	return &Observer{
		log:   log,
		db:    db,
		mb:    mb,
		nets:  nets,
		views: make(map[string]*nv.NetView),
	}
}

// Observe loads the view of every network and starts consuming its events. The returned channel is closed once
// every consumer is done, that is once the broker is closed.
func (o *Observer) Observe() (<-chan struct{}, error) {
	for _, net := range o.nets {
		v, err := nv.New(net, o.db)
		if err != nil {
			return nil, fmt.Errorf("cannot load view of %s: %w", net, err)
		}

		o.mu.Lock()
		o.views[net] = v
		o.mu.Unlock()

		if err = o.ManageEvents(net, v); err != nil {
			return nil, err
		}
	}

	done := make(chan struct{})

	go func() {
		o.wg.Wait()
		close(done)
	}()

	return done, nil
}

// View returns a snapshot of the view of network net.
func (o *Observer) View(net string) (store.NetView, bool) {
	o.mu.Lock()
	v, ok := o.views[net]
	o.mu.Unlock()

	if !ok {
		return store.NetView{}, false
	}

	return v.ToStore(), true
}

// ManageEvents starts a go routine to receive the events of network net and apply them to v. Each event is
// acknowledged once the view is saved.
func (o *Observer) ManageEvents(net string, v *nv.NetView) error {
	mut := new(sync.Mutex)
	mut.Lock()

	eveCh, errCh, err := o.mb.GetEvents(net, mut)
	if err != nil {
		return fmt.Errorf("observer: cannot get events: %w", err)
	}

	log := o.log.With(zap.String("net", net))

	o.wg.Add(2) //nolint:gomnd // event and error readers

	// launch event channel reader
	go func() {
		defer o.wg.Done()

		log.Info("start listening to balancer events")

		for e := range eveCh {
			if err := v.Apply(e); err != nil {
				log.Warn("cannot apply event", zap.String("kind", e.Kind), zap.Error(err))
			} else {
				log.Debug("event applied", zap.String("kind", e.Kind), zap.String("backend", e.Backend),
					zap.Uint64("call", e.Call))
			}

			if o.db != nil {
				if err := o.db.SaveView(net, v.ToStore()); err != nil {
					log.Error("cannot save view", zap.Error(err))
				}
			}

			mut.Unlock()
		}

		log.Info("stop listening to balancer events")
	}()

	// launch error channel reader
	go func() {
		defer o.wg.Done()

		for e := range errCh {
			log.Warn("received error", zap.Error(e))
		}
	}()

	return nil
}

// Stop closes the broker, which ends every consumer.
func (o *Observer) Stop() error {
	return o.mb.Close()
}
