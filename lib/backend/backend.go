// Package backend defines the interface required for all the backend providers of a network.
package backend

import (
	"context"
	"fmt"

	"github.com/tarancss/rpcbalancer/lib/backend/ethereum"
	"github.com/tarancss/rpcbalancer/lib/backend/rpc"
	"github.com/tarancss/rpcbalancer/lib/backend/types"
	"github.com/tarancss/rpcbalancer/lib/config"
)

// Backend is a provider able to run the methods it declares. Invoke must honour ctx where the underlying client
// allows it; results of invocations abandoned by the caller are simply dropped.
type Backend interface {
	Invoke(ctx context.Context, method string, args []interface{}) (interface{}, error)
	Methods() []string
	Close()
}

// Init returns a client for the backend described by bc.
func Init(bc config.BackendConfig) (Backend, error) {
	var b Backend

	var err error

	switch bc.Kind {
	case config.KindRPC, "":
		var c *rpc.RPC
		if c, err = rpc.Init(bc.URL, bc.Secret, bc.Methods); err == nil {
			b = c
		}
	case config.KindEthcli:
		var c *ethereum.Ethereum
		if c, err = ethereum.Init(bc.URL, bc.Secret, bc.Methods); err == nil {
			b = c
		}
	default:
		err = types.ErrUnknownKind
	}

	if err != nil {
		return nil, fmt.Errorf("backend %s (%s): %w", bc.ID, bc.Kind, err)
	}

	return b, nil
}

// End closes gracefully all the backend clients opened.
func End(bs map[string]Backend) {
	for _, b := range bs {
		b.Close()
	}
}
