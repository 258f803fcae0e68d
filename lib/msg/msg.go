// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"
	"time"
)

// Event defines the message the balancer service publishes for every lifecycle event of a network. Kind is one of
// the balancer event kind names (ie. "backendOffline").
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Net       string    `json:"net"`
	Backend   string    `json:"backend,omitempty"`
	Worker    string    `json:"worker,omitempty"`
	Call      uint64    `json:"call,omitempty"`
	Method    string    `json:"method,omitempty"`
	Retries   int       `json:"retries,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Err       string    `json:"err,omitempty"`
	ElapsedMs int64     `json:"elapsedMs,omitempty"`
	TS        time.Time `json:"ts"`
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for balancer service
	SendEvents(net string, es []Event) error

	// methods for observer service
	GetEvents(net string, mut *sync.Mutex) (<-chan Event, <-chan error, error)
}
