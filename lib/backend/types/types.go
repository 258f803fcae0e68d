// Package types common backend method names, types and errors.
package types

import (
	"errors"
	"fmt"
)

// Methods a backend may serve. The JSON-RPC adapter serves all of them except GetToken.
const (
	Ping                = "ping"
	SendCallRequest     = "sendCallRequest"
	GetBalance          = "getBalance"
	EstimateGas         = "estimateGas"
	GetTokenBalance     = "getTokenBalance"
	GetTokenBalances    = "getTokenBalances"
	GetTransactionCount = "getTransactionCount"
	GetCurrentBlock     = "getCurrentBlock"
	SendRawTx           = "sendRawTx"
	GetToken            = "getToken"
)

// AllMethods lists the methods every network is expected to serve.
var AllMethods = []string{ //nolint:gochecknoglobals // method table
	Ping,
	SendCallRequest,
	GetBalance,
	EstimateGas,
	GetTokenBalance,
	GetTokenBalances,
	GetTransactionCount,
	GetCurrentBlock,
	SendRawTx,
}

// Token is an ERC20 asset.
type Token struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Error codes.
var (
	ErrUnsupported = errors.New("method not supported by backend")
	ErrBadArgs     = errors.New("bad arguments for method")
	ErrUnknownKind = errors.New("unknown backend kind")
)

// StringArg returns args[i] as a string.
func StringArg(method string, args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d: %w", method, i, ErrBadArgs)
	}

	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s: argument %d is not a string: %w", method, i, ErrBadArgs)
	}

	return s, nil
}

// StringArgs returns args[from:] as strings. A single []interface{} or []string argument is flattened.
func StringArgs(method string, args []interface{}, from int) ([]string, error) {
	if from >= len(args) {
		return nil, fmt.Errorf("%s: missing argument %d: %w", method, from, ErrBadArgs)
	}

	rest := args[from:]
	if len(rest) == 1 {
		switch v := rest[0].(type) {
		case []string:
			return v, nil
		case []interface{}:
			rest = v
		}
	}

	ss := make([]string, 0, len(rest))

	for i := range rest {
		s, err := StringArg(method, rest, i)
		if err != nil {
			return nil, err
		}

		ss = append(ss, s)
	}

	return ss, nil
}
