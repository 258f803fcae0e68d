// Package gateway implements the balancer microservice.
//
// This microservice implements a RESTful API for clients to submit calls to a blockchain network through a pool of
// backend providers, and to control the balancer serving them. Lifecycle events of the balancer are forwarded to the
// message broker for the observer microservice.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tarancss/rpcbalancer/balancer"
	"github.com/tarancss/rpcbalancer/lib/config"
	"github.com/tarancss/rpcbalancer/lib/msg"
	"github.com/tarancss/rpcbalancer/lib/store"
	"github.com/tarancss/rpcbalancer/lib/store/db"
)

// ErrNoNet is returned for networks missing in the configuration.
var ErrNoNet = errors.New("network not available")

// Gateway contains the data necessary to deliver the service
type Gateway struct {
	log    *zap.Logger
	conf   config.ServiceConfig
	dbtype string
	db     store.DB // db connection, optional
	mb     msg.MsgBroker
	bal    *balancer.Balancer

	// MetricsHandler is served at /metrics when set
	MetricsHandler http.Handler

	netMu sync.Mutex // serializes network switches

	s  *http.Server  // http server
	ss *http.Server  // https server
	sc chan struct{} // http server channel used for graceful shutdowns

	unsubscribe func()
	fwd         sync.WaitGroup
}

// New returns a pointer to a new Gateway service balancing the network conf.Network. Balancer events are delivered
// to sinks.
func New(conf config.ServiceConfig, dbConn store.DB, mb msg.MsgBroker, log *zap.Logger,
	sinks ...balancer.Sink) (*Gateway, error) {
	g := &Gateway{
		log:    log,
		conf:   conf,
		dbtype: conf.DBType,
		db:     dbConn,
		mb:     mb,
		sc:     make(chan struct{}),
	}

	nc, ok := conf.FindNetwork(conf.Network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoNet, conf.Network)
	}

	net, err := g.loadNetwork(nc)
	if err != nil {
		return nil, fmt.Errorf("cannot load network %s: %w", nc.Name, err)
	}

	if g.bal, err = balancer.New(net, Options(conf), log, sinks...); err != nil {
		closeNetwork(net)

		return nil, err
	}

	g.restoreSettings(nc.Name)

	return g, nil
}

// Balancer returns the balancer served by the gateway.
func (g *Gateway) Balancer() *balancer.Balancer {
	return g.bal
}

// SwitchNetwork makes network name, as configured, the active one and restores its stored mode.
func (g *Gateway) SwitchNetwork(name string) error {
	g.netMu.Lock()
	defer g.netMu.Unlock()

	nc, ok := g.conf.FindNetwork(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoNet, name)
	}

	net, err := g.loadNetwork(nc)
	if err != nil {
		return fmt.Errorf("cannot load network %s: %w", name, err)
	}

	if err = g.bal.SwitchNetwork(net); err != nil {
		// a closed balancer has already closed the backends
		if !errors.Is(err, balancer.ErrClosed) {
			closeNetwork(net)
		}

		return err
	}

	g.restoreSettings(name)

	return nil
}

func closeNetwork(net balancer.Network) {
	for _, d := range net.Backends {
		d.Invoker.Close()
	}
}

// ForwardEvents starts a go routine publishing the balancer lifecycle events to the message broker. Events of a
// burst are sent together, grouped by network.
func (g *Gateway) ForwardEvents() {
	if g.mb == nil {
		return
	}

	events, unsubscribe := g.bal.Events().Subscribe(1024) //nolint:gomnd // events buffered before dropping
	g.unsubscribe = unsubscribe

	g.fwd.Add(1)

	go func() {
		defer g.fwd.Done()

		g.log.Info("start forwarding balancer events")

		for e := range events {
			batch := map[string][]msg.Event{e.Network: {ToMsg(e)}}
			nets := []string{e.Network}

		drain:
			for {
				select {
				case more, ok := <-events:
					if !ok {
						break drain
					}

					if _, seen := batch[more.Network]; !seen {
						nets = append(nets, more.Network)
					}

					batch[more.Network] = append(batch[more.Network], ToMsg(more))
				default:
					break drain
				}
			}

			for _, net := range nets {
				if err := g.mb.SendEvents(net, batch[net]); err != nil {
					g.log.Warn("cannot send events to broker", zap.String("net", net),
						zap.Int("events", len(batch[net])), zap.Error(err))
				}
			}
		}

		g.log.Info("stop forwarding balancer events")
	}()
}

// ToMsg converts a balancer event to its broker message.
func ToMsg(e balancer.Event) msg.Event {
	m := msg.Event{
		Kind:      e.Kind.String(),
		Net:       e.Network,
		Backend:   e.Backend,
		Worker:    e.Worker,
		Call:      e.CallID,
		Method:    e.Method,
		Retries:   e.Retries,
		Final:     e.Final,
		ElapsedMs: e.Elapsed.Milliseconds(),
		TS:        e.Time,
	}

	if e.Err != nil {
		m.Err = e.Err.Error()
	}

	return m
}

// Stop shuts down the http servers implementing the RESTful API, the balancer and closes gracefully the
// connections to message broker and database.
func (g *Gateway) Stop() error {
	var err error

	// shutdown http servers
	if g.s != nil {
		err = multierr.Append(err, g.s.Shutdown(context.Background()))
	}

	if g.ss != nil {
		err = multierr.Append(err, g.ss.Shutdown(context.Background()))
	}

	close(g.sc) // close server channel to indicate shutdowns have finished

	g.bal.Close()

	// stop forwarding once the last events are out
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.fwd.Wait()
	}

	if g.mb != nil {
		err = multierr.Append(err, g.mb.Close())
	}

	if g.db != nil {
		err = multierr.Append(err, db.Close(g.dbtype, g.db))
	}

	for _, e := range multierr.Errors(err) {
		g.log.Warn("error stopping gateway", zap.Error(e))
	}

	return err
}
