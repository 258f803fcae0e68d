// Package rpc implements a backend for Ethereum-type JSON-RPC nodes over HTTP.
package rpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tarancss/rpcbalancer/lib/backend/types"
	"github.com/tarancss/rpcbalancer/lib/util"
)

// ERC20 balanceOf(address) methodID
var balanceOf = []byte{0x70, 0xa0, 0x82, 0x31} //nolint:gochecknoglobals // selector

// RPC implements a connection to a JSON-RPC node.
type RPC struct {
	c       *rpc.Client
	methods []string
}

// Init returns a client of the JSON-RPC node at url, using secret for Basic Authentication if informed. methods
// restricts the capability set to the methods of types.AllMethods it names; when empty every one of them is served.
func Init(url, secret string, methods []string) (*RPC, error) {
	c, err := rpc.DialHTTPWithClient(url, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to node in %s: %w", url, err)
	}

	if secret != "" {
		c.SetHeader("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(secret)))
	}

	r := &RPC{c: c, methods: types.AllMethods}

	if len(methods) > 0 {
		r.methods = util.Filter(methods, func(m string) bool { return util.In(types.AllMethods, m) })
	}

	return r, nil
}

// Methods returns the methods served by the node.
func (r *RPC) Methods() []string {
	return r.methods
}

// Close ends the connection.
func (r *RPC) Close() {
	r.c.Close()
}

// Invoke runs method against the node. Results are plain Go values that encode nicely to JSON: strings for ids and
// hashes, uint64 for counters, *big.Int for balances and hexutil.Bytes for call data.
func (r *RPC) Invoke(ctx context.Context, method string, args []interface{}) (interface{}, error) {
	switch method {
	case types.Ping:
		var v string
		err := r.c.CallContext(ctx, &v, "net_version")

		return v, err
	case types.GetCurrentBlock:
		var v hexutil.Uint64
		err := r.c.CallContext(ctx, &v, "eth_blockNumber")

		return uint64(v), err
	case types.GetBalance:
		addr, err := types.StringArg(method, args, 0)
		if err != nil {
			return nil, err
		}

		var v hexutil.Big
		err = r.c.CallContext(ctx, &v, "eth_getBalance", addr, "latest")

		return (*big.Int)(&v), err
	case types.GetTransactionCount:
		addr, err := types.StringArg(method, args, 0)
		if err != nil {
			return nil, err
		}

		var v hexutil.Uint64
		err = r.c.CallContext(ctx, &v, "eth_getTransactionCount", addr, "pending")

		return uint64(v), err
	case types.EstimateGas:
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: missing call object: %w", method, types.ErrBadArgs)
		}

		var v hexutil.Uint64
		err := r.c.CallContext(ctx, &v, "eth_estimateGas", args[0])

		return uint64(v), err
	case types.SendCallRequest:
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: missing call object: %w", method, types.ErrBadArgs)
		}

		tag := "latest"
		if len(args) > 1 {
			if s, ok := args[1].(string); ok {
				tag = s
			}
		}

		var v hexutil.Bytes
		err := r.c.CallContext(ctx, &v, "eth_call", args[0], tag)

		return v, err
	case types.GetTokenBalance:
		addr, err := types.StringArg(method, args, 0)
		if err != nil {
			return nil, err
		}

		token, err := types.StringArg(method, args, 1)
		if err != nil {
			return nil, err
		}

		var v hexutil.Bytes
		if err = r.c.CallContext(ctx, &v, "eth_call", balanceOfCall(addr, token), "latest"); err != nil {
			return nil, err
		}

		return new(big.Int).SetBytes(v), nil
	case types.GetTokenBalances:
		return r.tokenBalances(ctx, args)
	case types.SendRawTx:
		raw, err := types.StringArg(method, args, 0)
		if err != nil {
			return nil, err
		}

		var h common.Hash
		err = r.c.CallContext(ctx, &h, "eth_sendRawTransaction", raw)

		return h.Hex(), err
	}

	return nil, fmt.Errorf("%s: %w", method, types.ErrUnsupported)
}

// tokenBalances gets the balances of address args[0] for every token in args[1:] in a single batch request.
func (r *RPC) tokenBalances(ctx context.Context, args []interface{}) (interface{}, error) {
	addr, err := types.StringArg(types.GetTokenBalances, args, 0)
	if err != nil {
		return nil, err
	}

	tokens, err := types.StringArgs(types.GetTokenBalances, args, 1)
	if err != nil {
		return nil, err
	}

	batch := make([]rpc.BatchElem, len(tokens))
	res := make([]hexutil.Bytes, len(tokens))

	for i, token := range tokens {
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{balanceOfCall(addr, token), "latest"},
			Result: &res[i],
		}
	}

	if err = r.c.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	bals := make(map[string]*big.Int, len(tokens))

	for i, token := range tokens {
		if batch[i].Error != nil {
			return nil, fmt.Errorf("token %s: %w", token, batch[i].Error)
		}

		bals[token] = new(big.Int).SetBytes(res[i])
	}

	return bals, nil
}

// balanceOfCall builds the eth_call object for ERC20 balanceOf(addr) on token.
func balanceOfCall(addr, token string) map[string]interface{} {
	data := make([]byte, 0, len(balanceOf)+common.HashLength)
	data = append(data, balanceOf...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(addr).Bytes(), common.HashLength)...)

	return map[string]interface{}{
		"to":   token,
		"data": hexutil.Encode(data),
	}
}
