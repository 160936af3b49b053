// Package contracttest provides an in-memory contract.Caller for tests.
package contracttest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RevertError mimics the JSON-RPC error a node returns for a reverted call.
type RevertError struct{}

func (RevertError) Error() string  { return "execution reverted" }
func (RevertError) ErrorCode() int { return 3 }

// Fake answers eth_call from canned responses keyed by contract address and
// calldata. Responses registered without arguments match any calldata for
// that method selector. Unknown calls revert.
type Fake struct {
	mu      sync.Mutex
	exact   map[string][]byte
	byMeth  map[string][]byte
	reverts map[string]bool
	failErr error
	flaky   map[string]*flaky
	calls   map[string]int
}

type flaky struct {
	n   int
	err error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		exact:   make(map[string][]byte),
		byMeth:  make(map[string][]byte),
		reverts: make(map[string]bool),
		flaky:   make(map[string]*flaky),
		calls:   make(map[string]int),
	}
}

// Return registers the outputs of method on addr for any arguments.
func (f *Fake) Return(addr common.Address, a abi.ABI, method string, outputs ...any) {
	m := mustMethod(a, method)
	data, err := m.Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("contracttest: pack %s outputs: %v", method, err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := methodKey(addr, m.ID)
	f.byMeth[key] = data
	delete(f.reverts, key)
}

// ReturnFor registers the outputs of method on addr for exactly args.
func (f *Fake) ReturnFor(addr common.Address, a abi.ABI, method string, args []any, outputs ...any) {
	m := mustMethod(a, method)
	input, err := a.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("contracttest: pack %s inputs: %v", method, err))
	}
	data, err := m.Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("contracttest: pack %s outputs: %v", method, err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exact[exactKey(addr, input)] = data
}

// Revert makes every call of method on addr revert.
func (f *Fake) Revert(addr common.Address, a abi.ABI, method string) {
	m := mustMethod(a, method)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := methodKey(addr, m.ID)
	f.reverts[key] = true
	delete(f.byMeth, key)
}

// Fail makes every subsequent call return err, as a broken transport would.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

// FailNext makes the next n calls of method on addr return err. Later
// calls are answered normally.
func (f *Fake) FailNext(addr common.Address, a abi.ABI, method string, n int, err error) {
	m := mustMethod(a, method)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flaky[methodKey(addr, m.ID)] = &flaky{n: n, err: err}
}

// Calls returns how many times method on addr was called.
func (f *Fake) Calls(addr common.Address, a abi.ABI, method string) int {
	m := mustMethod(a, method)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[methodKey(addr, m.ID)]
}

func (f *Fake) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failErr != nil {
		return nil, f.failErr
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, RevertError{}
	}
	key := methodKey(*call.To, call.Data[:4])
	f.calls[key]++

	if fl, ok := f.flaky[key]; ok && fl.n > 0 {
		fl.n--
		return nil, fl.err
	}

	if out, ok := f.exact[exactKey(*call.To, call.Data)]; ok {
		return out, nil
	}
	if f.reverts[key] {
		return nil, RevertError{}
	}
	if out, ok := f.byMeth[key]; ok {
		return out, nil
	}
	return nil, RevertError{}
}

func mustMethod(a abi.ABI, method string) abi.Method {
	m, ok := a.Methods[method]
	if !ok {
		panic("contracttest: unknown method " + method)
	}
	return m
}

func methodKey(addr common.Address, selector []byte) string {
	return addr.Hex() + ":" + hex.EncodeToString(selector)
}

func exactKey(addr common.Address, calldata []byte) string {
	return addr.Hex() + ":" + hex.EncodeToString(calldata)
}
