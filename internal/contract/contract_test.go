package contract_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/contract/contracttest"
)

var pool = common.HexToAddress("0xA991356d261fbaF194463aF6DF8f0464F8f1c742")

func TestTry_Value(t *testing.T) {
	fake := contracttest.New()
	fake.Return(pool, contract.TruefiPool, "poolValue", big.NewInt(5_000_000))

	b := contract.Bind(fake, contract.TruefiPool, pool, nil)
	r, err := contract.Try[*big.Int](context.Background(), b, "poolValue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Reverted {
		t.Fatal("expected value, got revert")
	}
	if r.Value.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Errorf("expected 5000000, got %s", r.Value)
	}
}

func TestTry_RevertIsNotAnError(t *testing.T) {
	fake := contracttest.New()
	fake.Revert(pool, contract.TruefiPool, "loansValue")

	b := contract.Bind(fake, contract.TruefiPool, pool, nil)
	r, err := contract.Try[*big.Int](context.Background(), b, "loansValue")
	if err != nil {
		t.Fatalf("revert must not surface as error: %v", err)
	}
	if !r.Reverted {
		t.Error("expected Reverted")
	}
}

func TestTry_UnregisteredMethodReverts(t *testing.T) {
	b := contract.Bind(contracttest.New(), contract.ERC20, pool, nil)
	r, err := contract.Try[string](context.Background(), b, "symbol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Reverted {
		t.Error("expected Reverted for a method with no code behind it")
	}
}

func TestTry_TransportErrorPropagates(t *testing.T) {
	fake := contracttest.New()
	boom := errors.New("dial tcp: connection refused")
	fake.Fail(boom)

	b := contract.Bind(fake, contract.ERC20, pool, nil)
	_, err := contract.Try[uint8](context.Background(), b, "decimals")
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestTry_ConvertsTypes(t *testing.T) {
	fake := contracttest.New()
	underlying := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	fake.Return(pool, contract.ERC20, "decimals", uint8(6))
	fake.Return(pool, contract.ManagedPortfolio, "underlyingToken", underlying)

	ctx := context.Background()
	dec, err := contract.Try[uint8](ctx, contract.Bind(fake, contract.ERC20, pool, nil), "decimals")
	if err != nil || dec.Reverted || dec.Value != 6 {
		t.Fatalf("decimals: got %+v err=%v", dec, err)
	}
	tok, err := contract.Try[common.Address](ctx, contract.Bind(fake, contract.ManagedPortfolio, pool, nil), "underlyingToken")
	if err != nil || tok.Reverted || tok.Value != underlying {
		t.Fatalf("underlyingToken: got %+v err=%v", tok, err)
	}
}

func TestReturnFor_MatchesArguments(t *testing.T) {
	fake := contracttest.New()
	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob := common.HexToAddress("0x2222222222222222222222222222222222222222")
	fake.ReturnFor(pool, contract.ERC20, "balanceOf", []any{alice}, big.NewInt(7))

	b := contract.Bind(fake, contract.ERC20, pool, nil)
	ctx := context.Background()

	r, _ := contract.Try[*big.Int](ctx, b, "balanceOf", alice)
	if r.Reverted || r.Value.Int64() != 7 {
		t.Errorf("alice: got %+v", r)
	}
	r, _ = contract.Try[*big.Int](ctx, b, "balanceOf", bob)
	if !r.Reverted {
		t.Errorf("bob: expected revert, got %+v", r)
	}
}

func TestFirstOf_FallsThroughLegacyMethods(t *testing.T) {
	snx := common.HexToAddress("0x08F30Ecf2C15A783083ab9D5b9211c22388d0564")
	sUSD := contract.Bytes32("sUSD")

	tests := []struct {
		name     string
		setup    func(f *contracttest.Fake)
		want     int64
		reverted bool
	}{
		{
			name: "newest method",
			setup: func(f *contracttest.Fake) {
				f.Return(snx, contract.Synthetix, "totalIssuedSynthsExcludeOtherCollateral", big.NewInt(3))
				f.Return(snx, contract.Synthetix, "totalIssuedSynths", big.NewInt(1))
			},
			want: 3,
		},
		{
			name: "middle method",
			setup: func(f *contracttest.Fake) {
				f.Return(snx, contract.Synthetix, "totalIssuedSynthsExcludeEtherCollateral", big.NewInt(2))
				f.Return(snx, contract.Synthetix, "totalIssuedSynths", big.NewInt(1))
			},
			want: 2,
		},
		{
			name: "oldest method",
			setup: func(f *contracttest.Fake) {
				f.Return(snx, contract.Synthetix, "totalIssuedSynths", big.NewInt(1))
			},
			want: 1,
		},
		{
			name:     "all revert",
			setup:    func(f *contracttest.Fake) {},
			reverted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := contracttest.New()
			tt.setup(fake)
			b := contract.Bind(fake, contract.Synthetix, snx, nil)

			r, err := contract.FirstOf[*big.Int](context.Background(), b,
				contract.Attempt{Method: "totalIssuedSynthsExcludeOtherCollateral", Args: []any{sUSD}},
				contract.Attempt{Method: "totalIssuedSynthsExcludeEtherCollateral", Args: []any{sUSD}},
				contract.Attempt{Method: "totalIssuedSynths", Args: []any{sUSD}},
			)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Reverted != tt.reverted {
				t.Fatalf("expected reverted=%v, got %v", tt.reverted, r.Reverted)
			}
			if !tt.reverted && r.Value.Int64() != tt.want {
				t.Errorf("expected %d, got %s", tt.want, r.Value)
			}
		})
	}
}

func TestBytes32(t *testing.T) {
	b := contract.Bytes32("sUSD")
	if string(b[:4]) != "sUSD" {
		t.Errorf("expected sUSD prefix, got %q", b[:4])
	}
	for _, c := range b[4:] {
		if c != 0 {
			t.Fatal("expected zero padding")
		}
	}
}

func TestCall_UnknownMethod(t *testing.T) {
	b := contract.Bind(contracttest.New(), contract.ERC20, pool, nil)
	_, err := b.Call(context.Background(), "mint")
	if !errors.Is(err, contract.ErrNoSuchMethod) {
		t.Fatalf("expected ErrNoSuchMethod, got %v", err)
	}
}

// nodeError is a JSON-RPC error as returned by ethclient.
type nodeError struct {
	code int
	msg  string
}

func (e nodeError) Error() string  { return e.msg }
func (e nodeError) ErrorCode() int { return e.code }

type errCaller struct{ err error }

func (c errCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, c.err
}

func TestTry_NodeErrorsAreNotReverts(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		reverted bool
	}{
		{"rate limited", nodeError{-32005, "limit exceeded"}, false},
		{"header not found", nodeError{-32000, "header not found"}, false},
		{"timeout", nodeError{-32000, "request timed out"}, false},
		{"revert code", nodeError{3, "execution reverted: not a pool"}, true},
		{"revert message", nodeError{-32000, "execution reverted"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := contract.Bind(errCaller{tt.err}, contract.ERC20, pool, nil)
			r, err := contract.Try[uint8](context.Background(), b, "decimals")
			if tt.reverted {
				if err != nil || !r.Reverted {
					t.Fatalf("expected revert, got %+v err=%v", r, err)
				}
				return
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected node error to surface, got %+v err=%v", r, err)
			}
		})
	}
}

func TestRetryCaller_RetriesTransportErrors(t *testing.T) {
	fake := contracttest.New()
	fake.Return(pool, contract.ERC20, "decimals", uint8(6))
	fake.FailNext(pool, contract.ERC20, "decimals", 2, nodeError{-32005, "limit exceeded"})

	retries := 0
	caller := contract.NewRetryCaller(fake, contract.RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		OnRetry:         func(error) { retries++ },
	})
	r, err := contract.Try[uint8](context.Background(), contract.Bind(caller, contract.ERC20, pool, nil), "decimals")
	if err != nil || r.Reverted || r.Value != 6 {
		t.Fatalf("expected 6 after retries, got %+v err=%v", r, err)
	}
	if retries != 2 {
		t.Errorf("expected 2 retries, got %d", retries)
	}
	if got := fake.Calls(pool, contract.ERC20, "decimals"); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestRetryCaller_RevertIsFinal(t *testing.T) {
	fake := contracttest.New()
	fake.Revert(pool, contract.ERC20, "decimals")
	caller := contract.NewRetryCaller(fake, contract.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond})

	r, err := contract.Try[uint8](context.Background(), contract.Bind(caller, contract.ERC20, pool, nil), "decimals")
	if err != nil || !r.Reverted {
		t.Fatalf("expected revert, got %+v err=%v", r, err)
	}
	if got := fake.Calls(pool, contract.ERC20, "decimals"); got != 1 {
		t.Errorf("revert must not be retried, got %d calls", got)
	}
}

func TestRetryCaller_GivesUp(t *testing.T) {
	fake := contracttest.New()
	boom := errors.New("connection reset by peer")
	fake.FailNext(pool, contract.ERC20, "decimals", 10, boom)
	caller := contract.NewRetryCaller(fake, contract.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond})

	_, err := contract.Try[uint8](context.Background(), contract.Bind(caller, contract.ERC20, pool, nil), "decimals")
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error after retries, got %v", err)
	}
	if got := fake.Calls(pool, contract.ERC20, "decimals"); got != 3 {
		t.Errorf("expected 1 call + 2 retries, got %d", got)
	}
}
