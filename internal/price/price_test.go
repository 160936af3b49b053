package price_test

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/contract/contracttest"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/price"
	"github.com/atmx/lending-indexer/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func e(decimals int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)
}

func id(a common.Address) string { return strings.ToLower(a.Hex()) }

var (
	usdcOracle = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	truOracle  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	wethFeed   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func newPricer(t *testing.T) (*price.Pricer, *contracttest.Fake, *store.MemoryStore) {
	t.Helper()
	fake := contracttest.New()
	ms := store.NewMemoryStore()
	p := price.New(ms, fake, price.Oracles{
		Stablecoin: map[common.Address]common.Address{price.USDC: usdcOracle},
		Tru:        truOracle,
		Feeds:      map[common.Address]common.Address{weth: wethFeed},
	}, nil)
	return p, fake, ms
}

func TestToDecimal(t *testing.T) {
	got := price.ToDecimal(big.NewInt(1_500_000), 6)
	if !got.Equal(d(1.5)) {
		t.Errorf("expected 1.5, got %s", got)
	}
	if !price.ToDecimal(nil, 18).IsZero() {
		t.Error("nil amount must be zero")
	}
}

func TestTokenPrice_StablecoinOracle(t *testing.T) {
	p, fake, _ := newPricer(t)
	// 1 USDC = 0.999 USD, 18-decimal result.
	fake.ReturnFor(usdcOracle, contract.StablecoinOracle, "tokenToUsd", []any{e(6)},
		new(big.Int).Mul(big.NewInt(999), e(15)))

	usdc := &model.Token{ID: id(price.USDC), Decimals: 6}
	px, err := p.TokenPrice(context.Background(), usdc)
	if err != nil {
		t.Fatal(err)
	}
	if !px.Equal(d(0.999)) {
		t.Errorf("expected 0.999, got %s", px)
	}
}

func TestTokenPrice_StablecoinFallsBackToOne(t *testing.T) {
	p, fake, _ := newPricer(t)
	fake.Revert(usdcOracle, contract.StablecoinOracle, "tokenToUsd")

	for _, tok := range []common.Address{price.USDC, price.USDT, price.TUSD, price.BUSD} {
		px, err := p.TokenPrice(context.Background(), &model.Token{ID: id(tok), Decimals: 18})
		if err != nil {
			t.Fatal(err)
		}
		if !px.Equal(decimal.NewFromInt(1)) {
			t.Errorf("%s: expected 1, got %s", tok.Hex(), px)
		}
	}
}

func TestTokenPrice_ChainlinkFeed(t *testing.T) {
	p, fake, _ := newPricer(t)
	fake.Return(wethFeed, contract.Aggregator, "latestAnswer", big.NewInt(2500_00000000))
	fake.Return(wethFeed, contract.Aggregator, "decimals", uint8(8))

	px, err := p.TokenPrice(context.Background(), &model.Token{ID: id(weth), Decimals: 18})
	if err != nil {
		t.Fatal(err)
	}
	if !px.Equal(d(2500)) {
		t.Errorf("expected 2500, got %s", px)
	}
}

func TestTokenPrice_UnknownTokenIsZero(t *testing.T) {
	p, _, _ := newPricer(t)
	px, err := p.TokenPrice(context.Background(), &model.Token{ID: "0x000000000000000000000000000000000000dead", Decimals: 18})
	if err != nil {
		t.Fatal(err)
	}
	if !px.IsZero() {
		t.Errorf("expected 0, got %s", px)
	}
}

func TestAmountInUSD_UnwrapsUnderlying(t *testing.T) {
	p, _, ms := newPricer(t)
	ctx := context.Background()

	// tfUSDT wraps USDT, which has no oracle configured: price 1.
	store.Save(ctx, ms, model.Token{ID: id(price.USDT), Symbol: "USDT", Decimals: 6})
	tf := &model.Token{ID: "0x6002b1dcb26e7b1aa797a17551c6f487923299d7", Symbol: "tfUSDT", Decimals: 6, UnderlyingAsset: id(price.USDT)}

	usd, err := p.AmountInUSD(ctx, big.NewInt(250_000_000), tf)
	if err != nil {
		t.Fatal(err)
	}
	if !usd.Equal(d(250)) {
		t.Errorf("expected 250, got %s", usd)
	}
}

func TestAmountInUSDForTru(t *testing.T) {
	p, fake, _ := newPricer(t)
	// 1 TRU (8 decimals) = 0.12 USD.
	fake.ReturnFor(truOracle, contract.TruOracle, "truToUsd", []any{e(8)},
		new(big.Int).Mul(big.NewInt(12), e(16)))

	tru := &model.Token{ID: id(price.TRU), Symbol: "TRU", Decimals: 8}
	usd, err := p.AmountInUSDForTru(context.Background(), new(big.Int).Mul(big.NewInt(1000), e(8)), tru)
	if err != nil {
		t.Fatal(err)
	}
	if !usd.Equal(d(120)) {
		t.Errorf("expected 120, got %s", usd)
	}
}

func TestAmountInUSDForTru_NoOracle(t *testing.T) {
	p := price.New(store.NewMemoryStore(), contracttest.New(), price.Oracles{}, nil)
	usd, err := p.AmountInUSDForTru(context.Background(), big.NewInt(1), &model.Token{ID: id(price.TRU), Decimals: 8})
	if err != nil {
		t.Fatal(err)
	}
	if !usd.IsZero() {
		t.Errorf("expected 0, got %s", usd)
	}
}

func TestPricer_QueriesEveryTime(t *testing.T) {
	p, fake, _ := newPricer(t)
	fake.Return(usdcOracle, contract.StablecoinOracle, "tokenToUsd", e(18))

	usdc := &model.Token{ID: id(price.USDC), Decimals: 6}
	for i := 0; i < 3; i++ {
		p.TokenPrice(context.Background(), usdc)
	}
	if n := fake.Calls(usdcOracle, contract.StablecoinOracle, "tokenToUsd"); n != 3 {
		t.Errorf("expected 3 oracle calls, got %d", n)
	}
}
