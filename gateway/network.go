package gateway

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/rpcbalancer/balancer"
	"github.com/tarancss/rpcbalancer/lib/backend"
	"github.com/tarancss/rpcbalancer/lib/config"
	"github.com/tarancss/rpcbalancer/lib/store"
)

// Options returns the balancer tuning of the service configuration.
func Options(conf config.ServiceConfig) balancer.Options {
	return balancer.Options{
		MaxRetries:      conf.MaxRetries,
		QueueSize:       conf.QueueSize,
		ProbeInterval:   time.Duration(conf.ProbeIntervalMs) * time.Millisecond,
		ProbeTimeout:    time.Duration(conf.ProbeTimeoutMs) * time.Millisecond,
		ProbeMethod:     conf.ProbeMethod,
		RequiredMethods: conf.RequiredMethods,
	}
}

// Descriptor opens the client of the backend described by bc and returns its balancer descriptor.
func Descriptor(bc config.BackendConfig) (balancer.Descriptor, error) {
	bc = bc.WithDefaults()

	b, err := backend.Init(bc)
	if err != nil {
		return balancer.Descriptor{}, err
	}

	return balancer.Descriptor{
		ID:               bc.ID,
		Methods:          b.Methods(),
		Custom:           bc.Custom,
		MaxWorkers:       bc.MaxWorkers,
		Timeout:          time.Duration(bc.TimeoutMs) * time.Millisecond,
		FailureThreshold: bc.FailureThreshold,
		RateLimit:        bc.RateLimit,
		Offline:          bc.Offline,
		Invoker:          b,
	}, nil
}

// loadNetwork builds network nc from its configured backends followed by the custom backends stored for it.
func (g *Gateway) loadNetwork(nc config.NetworkConfig) (balancer.Network, error) {
	bcs := append([]config.BackendConfig(nil), nc.Backends...)

	if g.db != nil {
		custom, err := g.db.GetBackends(nc.Name)
		if err != nil && !errors.Is(err, store.ErrDataNotFound) {
			g.log.Warn("cannot load custom backends", zap.String("net", nc.Name), zap.Error(err))
		}

		for _, bc := range custom {
			if _, dup := findBackend(bcs, bc.ID); dup {
				g.log.Warn("custom backend shadowed by configuration, ignored", zap.String("net", nc.Name),
					zap.String("backend", bc.ID))

				continue
			}

			bc.Custom = true
			bcs = append(bcs, bc)
		}
	}

	net := balancer.Network{Name: nc.Name}
	opened := make(map[string]backend.Backend, len(bcs))

	for _, bc := range bcs {
		d, err := Descriptor(bc)
		if err != nil {
			backend.End(opened)

			return net, err
		}

		opened[d.ID] = d.Invoker.(backend.Backend)
		net.Backends = append(net.Backends, d)
	}

	return net, nil
}

func findBackend(bcs []config.BackendConfig, id string) (config.BackendConfig, bool) {
	for _, bc := range bcs {
		if bc.ID == id {
			return bc, true
		}
	}

	return config.BackendConfig{}, false
}

// restoreSettings applies the mode stored for network net.
func (g *Gateway) restoreSettings(net string) {
	if g.db == nil {
		return
	}

	s, err := g.db.LoadSettings(net)
	if err != nil {
		if !errors.Is(err, store.ErrDataNotFound) {
			g.log.Warn("cannot load balancer settings", zap.String("net", net), zap.Error(err))
		}

		return
	}

	if !s.Manual {
		return
	}

	if err = g.bal.SetManual(s.Pinned); err != nil {
		g.log.Warn("cannot restore manual mode", zap.String("net", net), zap.String("backend", s.Pinned),
			zap.Error(err))
	}
}

// saveSettings stores the current mode of the active network.
func (g *Gateway) saveSettings() error {
	if g.db == nil {
		return nil
	}

	manual, pinned := g.bal.Mode()

	return g.db.SaveSettings(g.bal.Network(), store.Settings{Manual: manual, Pinned: pinned})
}
