// Package contract wraps read-only calls to on-chain contracts. A call that
// the chain rejects (revert, missing method, undecodable output) is reported
// as a Result with Reverted set, never as an error, so callers can skip the
// affected field and carry on. Errors are reserved for transport failures.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrReverted     = errors.New("contract: call reverted")
	ErrNoSuchMethod = errors.New("contract: method not in ABI")
)

// Caller executes eth_call. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Result is the outcome of a try-call. Value is only meaningful when
// Reverted is false.
type Result[T any] struct {
	Value    T
	Reverted bool
}

// Binding is one contract address paired with the ABI used to talk to it,
// pinned to a block height (nil means latest).
type Binding struct {
	caller  Caller
	abi     abi.ABI
	address common.Address
	block   *big.Int
}

// Bind creates a Binding.
func Bind(c Caller, a abi.ABI, address common.Address, block *big.Int) *Binding {
	return &Binding{caller: c, abi: a, address: address, block: block}
}

// Address returns the bound contract address.
func (b *Binding) Address() common.Address { return b.address }

// Call packs the arguments, executes the call and unpacks the outputs.
// Any on-chain rejection is returned as ErrReverted.
func (b *Binding) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	m, ok := b.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchMethod, method)
	}
	input, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := b.address
	output, err := b.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, b.block)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrReverted, method, err)
		}
		return nil, fmt.Errorf("call %s on %s: %w", method, b.address.Hex(), err)
	}
	if len(output) == 0 && len(m.Outputs) > 0 {
		// No code at the address, or a fallback that returns nothing.
		return nil, fmt.Errorf("%w: %s: empty output", ErrReverted, method)
	}
	values, err := m.Outputs.Unpack(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: unpack: %v", ErrReverted, method, err)
	}
	return values, nil
}

// Try calls a single-output method and converts the output to T.
func Try[T any](ctx context.Context, b *Binding, method string, args ...any) (Result[T], error) {
	values, err := b.Call(ctx, method, args...)
	if errors.Is(err, ErrReverted) {
		return Result[T]{Reverted: true}, nil
	}
	if err != nil {
		return Result[T]{}, err
	}
	if len(values) == 0 {
		return Result[T]{Reverted: true}, nil
	}
	v, ok := convert[T](values[0])
	if !ok {
		return Result[T]{Reverted: true}, nil
	}
	return Result[T]{Value: v}, nil
}

// Attempt names one method call in a fallback chain.
type Attempt struct {
	Method string
	Args   []any
}

// FirstOf tries each attempt in order and returns the first one that did
// not revert. If every attempt reverts the returned Result is Reverted.
func FirstOf[T any](ctx context.Context, b *Binding, attempts ...Attempt) (Result[T], error) {
	for _, a := range attempts {
		r, err := Try[T](ctx, b, a.Method, a.Args...)
		if err != nil {
			return Result[T]{}, err
		}
		if !r.Reverted {
			return r, nil
		}
	}
	return Result[T]{Reverted: true}, nil
}

func convert[T any](v any) (out T, ok bool) {
	if t, ok := v.(T); ok {
		return t, true
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	p := abi.ConvertType(v, new(T))
	if tp, isPtr := p.(*T); isPtr {
		return *tp, true
	}
	return out, false
}

// isRevert reports whether the node executed the call and refused it.
// Other JSON-RPC errors (rate limits, missing headers, timeouts) are
// transport failures and must not be mistaken for a revert.
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "invalid opcode") ||
		strings.Contains(msg, "out of gas")
}

// revertCode is the JSON-RPC error code geth uses for a reverted eth_call.
const revertCode = 3

// Bytes32 right-pads a short ASCII key such as "sUSD" into a bytes32.
func Bytes32(key string) [32]byte {
	var out [32]byte
	copy(out[:], key)
	return out
}
