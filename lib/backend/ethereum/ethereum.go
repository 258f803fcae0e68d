// Package ethereum implements a backend for ethereum networks on top of the ethcli client.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/tarancss/ethcli"

	"github.com/tarancss/rpcbalancer/lib/backend/types"
)

// Methods served by an ethcli backend.
var Methods = []string{ //nolint:gochecknoglobals // method table
	types.Ping,
	types.GetBalance,
	types.GetTokenBalance,
	types.GetToken,
}

// ErrNoClient is returned when ethcli cannot reach the node.
var ErrNoClient = errors.New("cannot connect to ethereum blockchain")

// Ethereum implements a connection to an ethereum-type chain.
type Ethereum struct {
	c       *ethcli.EthCli
	methods []string
}

// Init returns a connection to an ethereum node, using secret if necessary for authentication. methods restricts the
// capability set, only methods the client can serve are kept.
func Init(node, secret string, methods []string) (*Ethereum, error) {
	c := ethcli.Init(node, secret)
	if c == nil {
		return nil, fmt.Errorf("%w in %s", ErrNoClient, node)
	}

	e := &Ethereum{c: c, methods: Methods}

	if len(methods) > 0 {
		e.methods = make([]string, 0, len(methods))

		for _, m := range methods {
			for _, s := range Methods {
				if m == s {
					e.methods = append(e.methods, m)
				}
			}
		}
	}

	return e, nil
}

// Methods returns the methods served.
func (e *Ethereum) Methods() []string {
	return e.methods
}

// Close ends a connection
func (e *Ethereum) Close() {
	e.c.End()
}

// Invoke runs method against the node. ethcli is not context aware, so ctx is only checked before the request is made.
func (e *Ethereum) Invoke(ctx context.Context, method string, args []interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch method {
	case types.Ping:
		// the genesis block is always there
		var b map[string]interface{}
		if err := e.c.GetBlockByNumber(0, false, &b); err != nil {
			return nil, err
		}

		return b["hash"], nil
	case types.GetBalance:
		addr, err := types.StringArg(method, args, 0)
		if err != nil {
			return nil, err
		}

		bal, _, err := e.c.GetBalance(addr, "")
		if err != nil {
			return nil, err
		}

		return bal, nil
	case types.GetTokenBalance:
		addr, err := types.StringArg(method, args, 0)
		if err != nil {
			return nil, err
		}

		token, err := types.StringArg(method, args, 1)
		if err != nil {
			return nil, err
		}

		_, tokBal, err := e.c.GetBalance(addr, token)
		if err != nil {
			if errors.Is(err, ethcli.ErrBadAmt) {
				// the token does not exist for the given blockchain
				return big.NewInt(0), nil
			}

			return nil, err
		}

		return tokBal, nil
	case types.GetToken:
		token, err := types.StringArg(method, args, 0)
		if err != nil {
			return nil, err
		}

		return e.getToken(token)
	}

	return nil, fmt.Errorf("%s: %w", method, types.ErrUnsupported)
}

// getToken returns the name, symbol and decimals of a valid ERC20 token.
func (e *Ethereum) getToken(token string) (t types.Token, err error) {
	if t.Name, err = e.c.GetTokenName(token); err != nil {
		return
	}

	if t.Symbol, err = e.c.GetTokenSymbol(token); err != nil {
		return
	}

	var dec uint64
	if dec, err = e.c.GetTokenDecimals(token); err != nil {
		return
	}

	t.Decimals = uint8(dec)

	return
}
