// Package store defines the interface for database implementations to the balancer and observer microservices.
package store

import (
	"errors"

	"github.com/tarancss/rpcbalancer/lib/config"
)

// DB defines required methods for balancers and observers
type DB interface {
	// methods for balancer service
	AddBackend(net string, b config.BackendConfig) error
	RemoveBackend(net, id string) error
	GetBackends(net string) ([]config.BackendConfig, error)
	LoadSettings(net string) (Settings, error)
	SaveSettings(net string, s Settings) error
	// methods for observer service
	LoadView(net string) (NetView, error)
	SaveView(net string, v NetView) error
}

// Errors returned
var (
	ErrBackendNotFound = errors.New("backend was not found in store")
	ErrBackendExists   = errors.New("backend already exists in store")
	ErrDataNotFound    = errors.New("data was not found in store")
)
