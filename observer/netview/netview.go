// Package netview keeps the view of a network the observer builds from the balancer lifecycle events.
package netview

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tarancss/rpcbalancer/balancer"
	"github.com/tarancss/rpcbalancer/lib/msg"
	"github.com/tarancss/rpcbalancer/lib/store"
)

// NetView contains the counters and backend states of a network.
type NetView struct {
	l    sync.Mutex // l is a mutex to ensure concurrent updating of the view
	net  string
	view store.NetView
}

// New loads the view of network net from db, or starts an empty one if none was saved. db may be nil.
func New(net string, db store.DB) (*NetView, error) {
	n := &NetView{net: net}

	if db != nil {
		s, err := db.LoadView(net)

		switch {
		case err == nil:
			n.FromStore(s)
		case errors.Is(err, store.ErrDataNotFound):
			// if the view was not present in DB, then we just start counting from zero
		default:
			return nil, err
		}
	}

	if n.view.Backends == nil {
		n.FromStore(store.NetView{})
	}

	return n, nil
}

// Apply updates the view with event e.
func (n *NetView) Apply(e msg.Event) error {
	kind, err := balancer.ParseEventKind(e.Kind)
	if err != nil {
		return err
	}

	if e.Net != n.net {
		return fmt.Errorf("event of network %s applied to view of %s", e.Net, n.net)
	}

	n.l.Lock()
	defer n.l.Unlock()

	v := &n.view
	b := v.Backends[e.Backend]

	switch kind {
	case balancer.BackendAdded:
		if _, ok := v.Backends[e.Backend]; !ok {
			b.Online = true
		}
	case balancer.BackendOnline:
		b.Online = true
	case balancer.BackendOffline:
		b.Online = false
	case balancer.BackendRemoved:
		delete(v.Backends, e.Backend)
	case balancer.WorkerSpawned:
		b.Workers++
	case balancer.WorkerKilled:
		if b.Workers > 0 {
			b.Workers--
		}
	case balancer.CallRequested:
		v.Requested++
	case balancer.CallSucceeded:
		v.Succeeded++
		b.Succeeded++

		if b.AvgMs == 0 {
			b.AvgMs = e.ElapsedMs
		} else {
			b.AvgMs += (e.ElapsedMs - b.AvgMs) / 5 //nolint:gomnd // same weight as the balancer
		}
	case balancer.CallTimedOut:
		b.TimedOut++
	case balancer.CallFailed:
		if e.Final {
			v.Failed++
		} else {
			b.Failed++
		}
	case balancer.BalancerFlushed:
		v.Flushes++
	case balancer.NetworkSwitched:
		v.Switches++
	}

	if e.Backend != "" && kind != balancer.BackendRemoved {
		v.Backends[e.Backend] = b
	}

	v.LastEvent = e.Kind
	if e.TS.After(v.Updated) {
		v.Updated = e.TS
	}

	return nil
}

// Backend returns the view of backend id.
func (n *NetView) Backend(id string) (store.BackendView, bool) {
	n.l.Lock()
	defer n.l.Unlock()

	b, ok := n.view.Backends[id]

	return b, ok
}

// ToStore returns a store.NetView struct to be saved to store
func (n *NetView) ToStore() store.NetView {
	n.l.Lock()
	defer n.l.Unlock()

	s := n.view
	s.Backends = make(map[string]store.BackendView, len(n.view.Backends))

	for id, b := range n.view.Backends {
		s.Backends[id] = b
	}

	return s
}

// FromStore loads the NetView with the values read from store
func (n *NetView) FromStore(s store.NetView) {
	n.l.Lock()
	defer n.l.Unlock()

	n.view = s
	if n.view.Backends == nil {
		n.view.Backends = make(map[string]store.BackendView)
	}
}
