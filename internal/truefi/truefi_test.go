package truefi_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/contract/contracttest"
	"github.com/atmx/lending-indexer/internal/lending"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/price"
	"github.com/atmx/lending-indexer/internal/store"
	"github.com/atmx/lending-indexer/internal/truefi"
)

var (
	factory   = common.HexToAddress("0x1391D9223E08845e536157995085fE0Cef8Bd393")
	pool      = common.HexToAddress("0xA991356d261fbaF194463aF6DF8f0464F8f1c742")
	portfolio = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	farm      = common.HexToAddress("0xec6c3FD795D6e6f202825Ddb56E01b3c128b0b10")
	alice     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob       = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// 2022-01-01T00:00:00Z
const t0 = int64(1640995200)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func units(n, decimals int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
}

func addrTopic(a common.Address) common.Hash { return common.BytesToHash(a.Bytes()) }

// mkLog builds a log the way a node would return it: the event id and the
// indexed arguments as topics, the rest ABI-packed into data.
func mkLog(t *testing.T, addr common.Address, kind truefi.Kind, indexed []common.Hash, data ...any) types.Log {
	t.Helper()
	ev := contract.TruefiEvents.Events[string(kind)]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		t.Fatalf("pack %s: %v", kind, err)
	}
	return types.Log{
		Address: addr,
		Topics:  append([]common.Hash{truefi.Topic(kind)}, indexed...),
		Data:    packed,
	}
}

type env struct {
	d       *truefi.Dispatcher
	ix      *lending.Indexer
	fake    *contracttest.Fake
	ms      *store.MemoryStore
	watched []common.Address
	nextIdx uint
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fake := contracttest.New()
	ms := store.NewMemoryStore()
	pricer := price.New(ms, fake, price.Oracles{}, nil)
	ix := lending.New(ms, fake, pricer, "mainnet", nil, nil)

	fake.Return(price.USDC, contract.ERC20, "decimals", uint8(6))
	fake.Return(price.USDC, contract.ERC20, "symbol", "USDC")
	fake.Return(pool, contract.ERC20, "decimals", uint8(6))
	fake.Return(pool, contract.ERC20, "name", "TrueFi USDC")

	e := &env{d: truefi.NewDispatcher(ix), ix: ix, fake: fake, ms: ms}
	e.d.OnNewMarket(func(a common.Address) { e.watched = append(e.watched, a) })
	return e
}

// apply dispatches l as if it were emitted at ts.
func (e *env) apply(t *testing.T, l types.Log, ts int64) truefi.Kind {
	t.Helper()
	e.nextIdx++
	ev := model.Event{
		Block:    model.Block{Number: uint64(ts-t0) + 1000, Timestamp: ts},
		TxHash:   common.BigToHash(big.NewInt(ts*1000 + int64(e.nextIdx))),
		TxFrom:   alice,
		LogIndex: e.nextIdx,
		Address:  l.Address,
	}
	kind, err := e.d.HandleLog(context.Background(), ev, l)
	if err != nil {
		t.Fatalf("handle %s: %v", kind, err)
	}
	return kind
}

func (e *env) createPool(t *testing.T) {
	t.Helper()
	e.apply(t, mkLog(t, factory, truefi.KindPoolCreated, nil, price.USDC, pool), t0)
}

func (e *env) market(t *testing.T) *model.Market {
	t.Helper()
	m, err := e.ix.GetMarket(context.Background(), pool)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDecodeLog(t *testing.T) {
	l := mkLog(t, pool, truefi.KindLoanCreated,
		[]common.Hash{addrTopic(pool), addrTopic(bob)}, units(1000, 6), big.NewInt(1250))

	ev, err := truefi.DecodeLog(l)
	if err != nil {
		t.Fatal(err)
	}
	lc, ok := ev.(truefi.LoanCreated)
	if !ok {
		t.Fatalf("expected LoanCreated, got %T", ev)
	}
	if lc.Pool != pool || lc.Borrower != bob {
		t.Errorf("unexpected indexed fields: %+v", lc)
	}
	if lc.Amount.Cmp(units(1000, 6)) != 0 || lc.APY.Int64() != 1250 {
		t.Errorf("unexpected data fields: %+v", lc)
	}
}

func TestDecodeLog_Unknown(t *testing.T) {
	_, err := truefi.DecodeLog(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := truefi.DecodeLog(types.Log{}); err == nil {
		t.Fatal("expected error for log without topics")
	}
}

func TestDecodeLog_TopicCountMismatch(t *testing.T) {
	l := mkLog(t, pool, truefi.KindExited, nil, units(1, 6))
	if _, err := truefi.DecodeLog(l); err == nil {
		t.Fatal("expected error for missing indexed topic")
	}
}

func TestTopics_CoverHandlers(t *testing.T) {
	topics := make(map[common.Hash]bool)
	for _, h := range truefi.Topics() {
		topics[h] = true
	}
	for kind := range truefi.Handlers {
		if !topics[truefi.Topic(kind)] {
			t.Errorf("handler for %s has no topic", kind)
		}
	}
}

func TestPoolCreated(t *testing.T) {
	e := newEnv(t)
	e.createPool(t)

	m := e.market(t)
	if !m.IsPool || m.InputToken != model.AddressID(price.USDC) {
		t.Errorf("unexpected market: %+v", m)
	}
	if len(e.watched) != 1 || e.watched[0] != pool {
		t.Errorf("expected pool to be watched, got %v", e.watched)
	}
}

func TestPortfolioCreated_RevertSkips(t *testing.T) {
	e := newEnv(t)
	kind := e.apply(t, mkLog(t, factory, truefi.KindPortfolioCreated, nil, portfolio, bob), t0)
	if kind != truefi.KindPortfolioCreated {
		t.Fatalf("unexpected kind %s", kind)
	}
	if e.ms.Count("Market") != 0 || len(e.watched) != 0 {
		t.Error("portfolio without underlying token must be skipped")
	}
}

func TestPortfolioCreated(t *testing.T) {
	e := newEnv(t)
	e.fake.Return(portfolio, contract.ManagedPortfolio, "underlyingToken", price.USDC)
	e.fake.Return(portfolio, contract.ERC20, "decimals", uint8(6))

	e.apply(t, mkLog(t, factory, truefi.KindPortfolioCreated, nil, portfolio, bob), t0)
	m, err := e.ix.GetMarket(context.Background(), portfolio)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsPool {
		t.Error("expected portfolio market")
	}
	if len(e.watched) != 1 || e.watched[0] != portfolio {
		t.Errorf("expected portfolio to be watched, got %v", e.watched)
	}
}

func TestJoinedAndExited(t *testing.T) {
	e := newEnv(t)
	e.createPool(t)

	e.apply(t, mkLog(t, pool, truefi.KindJoined, []common.Hash{addrTopic(bob)}, units(100, 6), units(100, 6)), t0+60)
	m := e.market(t)
	if !m.CumulativeDepositUSD.Equal(d(100)) {
		t.Errorf("expected deposit volume 100, got %s", m.CumulativeDepositUSD)
	}
	if e.ms.Count("Deposit") != 1 {
		t.Errorf("expected 1 deposit, got %d", e.ms.Count("Deposit"))
	}

	e.apply(t, mkLog(t, pool, truefi.KindExited, []common.Hash{addrTopic(bob)}, units(100, 6)), t0+120)
	m = e.market(t)
	if e.ms.Count("Withdraw") != 1 || m.OpenPositionCount != 0 {
		t.Errorf("expected withdraw to close the position, open=%d", m.OpenPositionCount)
	}
}

func TestTransfer_MovesBalance(t *testing.T) {
	e := newEnv(t)
	e.createPool(t)

	e.apply(t, mkLog(t, pool, truefi.KindTransfer,
		[]common.Hash{addrTopic(alice), addrTopic(bob)}, units(5, 6)), t0+60)

	if e.ms.Count("Deposit") != 1 || e.ms.Count("Withdraw") != 1 {
		t.Fatalf("expected one transfer deposit and withdraw, got %d and %d",
			e.ms.Count("Deposit"), e.ms.Count("Withdraw"))
	}
	m := e.market(t)
	if !m.CumulativeDepositUSD.IsZero() {
		t.Errorf("transfers must not add volume, got %s", m.CumulativeDepositUSD)
	}
}

func TestTransfer_MintIgnored(t *testing.T) {
	e := newEnv(t)
	e.createPool(t)

	e.apply(t, mkLog(t, pool, truefi.KindTransfer,
		[]common.Hash{addrTopic(common.Address{}), addrTopic(bob)}, units(5, 6)), t0+60)
	if e.ms.Count("Deposit") != 0 {
		t.Error("mint must not create a deposit")
	}
}

func TestLoanCreated(t *testing.T) {
	e := newEnv(t)
	e.createPool(t)
	e.fake.Return(pool, contract.TruefiPool, "loansValue", units(1000, 6))

	e.apply(t, mkLog(t, pool, truefi.KindLoanCreated,
		[]common.Hash{addrTopic(pool), addrTopic(bob)}, units(1000, 6), big.NewInt(1250)), t0+60)

	m := e.market(t)
	if !m.CumulativeBorrowUSD.Equal(d(1000)) {
		t.Errorf("expected borrow volume 1000, got %s", m.CumulativeBorrowUSD)
	}
	if !m.TotalBorrowBalanceUSD.Equal(d(1000)) {
		t.Errorf("expected borrow balance 1000, got %s", m.TotalBorrowBalanceUSD)
	}
	if len(m.Rates) != 2 {
		t.Fatalf("expected 2 rates, got %v", m.Rates)
	}
	r, err := store.Load[model.InterestRate](context.Background(), e.ms, m.Rates[0])
	if err != nil {
		t.Fatal(err)
	}
	if r.Side != model.SideBorrower || !r.Rate.Equal(d(12.5)) {
		t.Errorf("expected borrower rate 12.5, got %s %s", r.Side, r.Rate)
	}
}

func TestLoanRepaid_SplitsInterest(t *testing.T) {
	e := newEnv(t)
	e.createPool(t)
	e.fake.Revert(pool, contract.TruefiPool, "loansValue")

	e.apply(t, mkLog(t, pool, truefi.KindLoanCreated,
		[]common.Hash{addrTopic(pool), addrTopic(bob)}, units(1000, 6), big.NewInt(1000)), t0+60)
	e.apply(t, mkLog(t, pool, truefi.KindLoanRepaid,
		[]common.Hash{addrTopic(pool), addrTopic(bob)}, units(1000, 6), units(100, 6)), t0+120)

	m := e.market(t)
	if !m.TotalBorrowBalanceUSD.IsZero() {
		t.Errorf("expected repaid balance 0, got %s", m.TotalBorrowBalanceUSD)
	}
	if !m.CumulativeProtocolSideRevenueUSD.Equal(d(10)) {
		t.Errorf("expected protocol revenue 10, got %s", m.CumulativeProtocolSideRevenueUSD)
	}
	if !m.CumulativeSupplySideRevenueUSD.Equal(d(90)) {
		t.Errorf("expected supply revenue 90, got %s", m.CumulativeSupplySideRevenueUSD)
	}
	if e.ms.Count("Repay") != 1 {
		t.Errorf("expected 1 repay, got %d", e.ms.Count("Repay"))
	}
}

func TestLoanCreated_UnknownPoolSkipped(t *testing.T) {
	e := newEnv(t)
	e.apply(t, mkLog(t, pool, truefi.KindLoanCreated,
		[]common.Hash{addrTopic(pool), addrTopic(bob)}, units(1, 6), big.NewInt(1)), t0)
	if e.ms.Count("Borrow") != 0 {
		t.Error("expected no borrow for unknown pool")
	}
}

func TestRewardRateUpdated(t *testing.T) {
	e := newEnv(t)
	e.fake.Return(price.TRU, contract.ERC20, "decimals", uint8(8))
	e.fake.Return(price.TRU, contract.ERC20, "symbol", "TRU")

	end := big.NewInt(t0 + 86400*30)
	e.apply(t, mkLog(t, farm, truefi.KindRewardRateUpdated, nil, price.TRU, units(1, 8), end), t0)

	rt, err := store.Load[model.RewardToken](context.Background(), e.ms,
		lending.RewardTypeDeposit+"-"+model.AddressID(price.TRU))
	if err != nil {
		t.Fatal(err)
	}
	if rt.DistributionEnd != end.Int64() {
		t.Errorf("expected distribution end %d, got %d", end.Int64(), rt.DistributionEnd)
	}
}

func TestUnknownLogIgnored(t *testing.T) {
	e := newEnv(t)
	kind := e.apply(t, types.Log{Address: pool, Topics: []common.Hash{common.HexToHash("0x01")}}, t0)
	if kind != "" {
		t.Errorf("expected no kind, got %s", kind)
	}
}

func TestBootstrap(t *testing.T) {
	e := newEnv(t)
	e.fake.Return(pool, contract.TruefiPool, "token", price.USDC)

	stkTru := common.HexToAddress("0x23696914Ca9737466D8553a2d619948f548Ee424")

	err := e.d.Bootstrap(context.Background(), model.Block{Number: 1, Timestamp: t0}, truefi.Known{
		Pools:      []common.Address{pool, bob},
		Portfolios: []common.Address{portfolio},
		Staking:    []common.Address{stkTru},
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.ms.Count("Market") != 2 {
		t.Fatalf("expected the pool and the staking market, got %d markets", e.ms.Count("Market"))
	}
	if len(e.watched) != 2 || e.watched[0] != pool || e.watched[1] != stkTru {
		t.Errorf("expected pool and staking watched, got %v", e.watched)
	}
	m, err := e.ix.GetMarket(context.Background(), stkTru)
	if err != nil {
		t.Fatal(err)
	}
	if m.InputToken != model.AddressID(price.TRU) {
		t.Errorf("expected TRU input token, got %s", m.InputToken)
	}
}
