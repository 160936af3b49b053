// Package price converts raw token amounts into USD using on-chain oracles.
// Every call re-queries the chain; nothing is cached and nothing is retried.
package price

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

// Stablecoins priced through their own TrueFi oracle.
var (
	USDC = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	USDT = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	TUSD = common.HexToAddress("0x0000000000085d4780B73119b644AE5ecd22b376")
	BUSD = common.HexToAddress("0x4Fabb145d64652a948d72533023f6E7A623C7C53")
)

// TRU is the TrueFi governance token.
var TRU = common.HexToAddress("0x4C19596f5aAfF459fA38B0f7eD92F11AE6543784")

const (
	oracleDecimals     = 18
	aggregatorDecimals = 8
)

// Oracles is the set of price sources a Pricer may query.
type Oracles struct {
	// Stablecoin token -> oracle exposing tokenToUsd(uint256).
	Stablecoin map[common.Address]common.Address
	// Oracle exposing truToUsd(uint256). Zero means none.
	Tru common.Address
	// Token -> Chainlink aggregator, used for every other token.
	Feeds map[common.Address]common.Address
}

// Pricer computes USD values. Token metadata is read from the store.
type Pricer struct {
	store   store.Store
	caller  contract.Caller
	oracles Oracles
	logger  *slog.Logger
}

// New creates a Pricer.
func New(st store.Store, caller contract.Caller, oracles Oracles, logger *slog.Logger) *Pricer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pricer{store: st, caller: caller, oracles: oracles, logger: logger}
}

// ToDecimal shifts a raw on-chain amount by decimals. A nil amount is zero.
func ToDecimal(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// AmountInUSD values amount of token. Wrapped tokens are valued through
// their underlying asset, one level deep.
func (p *Pricer) AmountInUSD(ctx context.Context, amount *big.Int, token *model.Token) (decimal.Decimal, error) {
	if token.UnderlyingAsset != "" {
		underlying, err := store.Load[model.Token](ctx, p.store, token.UnderlyingAsset)
		switch {
		case err == nil:
			return p.amountInUSD(ctx, amount, underlying)
		case errors.Is(err, store.ErrNotFound):
			p.logger.Warn("underlying token not found", "token", token.ID, "underlying", token.UnderlyingAsset)
		default:
			return decimal.Zero, err
		}
	}
	return p.amountInUSD(ctx, amount, token)
}

func (p *Pricer) amountInUSD(ctx context.Context, amount *big.Int, token *model.Token) (decimal.Decimal, error) {
	px, err := p.TokenPrice(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return ToDecimal(amount, token.Decimals).Mul(px), nil
}

// TokenPrice returns the USD price of one whole token.
func (p *Pricer) TokenPrice(ctx context.Context, token *model.Token) (decimal.Decimal, error) {
	addr := common.HexToAddress(token.ID)
	switch addr {
	case USDC, USDT, TUSD, BUSD:
		return p.stablecoinPrice(ctx, addr, token.Decimals)
	default:
		return p.feedPrice(ctx, addr)
	}
}

// stablecoinPrice asks the token's oracle for the USD value of one whole
// token. A missing oracle or a revert prices the coin at exactly 1.
func (p *Pricer) stablecoinPrice(ctx context.Context, token common.Address, decimals int32) (decimal.Decimal, error) {
	oracle, ok := p.oracles.Stablecoin[token]
	if !ok {
		return decimal.NewFromInt(1), nil
	}
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	b := contract.Bind(p.caller, contract.StablecoinOracle, oracle, nil)
	r, err := contract.Try[*big.Int](ctx, b, "tokenToUsd", one)
	if err != nil {
		return decimal.Zero, err
	}
	if r.Reverted {
		return decimal.NewFromInt(1), nil
	}
	return ToDecimal(r.Value, oracleDecimals), nil
}

// feedPrice reads a Chainlink aggregator. Unknown tokens are worth zero.
func (p *Pricer) feedPrice(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	feed, ok := p.oracles.Feeds[token]
	if !ok {
		p.logger.Warn("no price feed for token", "token", strings.ToLower(token.Hex()))
		return decimal.Zero, nil
	}
	b := contract.Bind(p.caller, contract.Aggregator, feed, nil)
	answer, err := contract.Try[*big.Int](ctx, b, "latestAnswer")
	if err != nil {
		return decimal.Zero, err
	}
	if answer.Reverted || answer.Value.Sign() <= 0 {
		p.logger.Warn("price feed returned no answer", "token", strings.ToLower(token.Hex()), "feed", feed.Hex())
		return decimal.Zero, nil
	}

	decimals := int32(aggregatorDecimals)
	dec, err := contract.Try[uint8](ctx, b, "decimals")
	if err != nil {
		return decimal.Zero, err
	}
	if !dec.Reverted {
		decimals = int32(dec.Value)
	}
	return ToDecimal(answer.Value, decimals), nil
}

// AmountInUSDForTru values amount of a TRU-denominated token through the
// TRU oracle. Without a usable oracle the value is zero.
func (p *Pricer) AmountInUSDForTru(ctx context.Context, amount *big.Int, token *model.Token) (decimal.Decimal, error) {
	if p.oracles.Tru == (common.Address{}) {
		p.logger.Warn("no TRU oracle configured", "token", token.ID)
		return decimal.Zero, nil
	}
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(token.Decimals)), nil)
	b := contract.Bind(p.caller, contract.TruOracle, p.oracles.Tru, nil)
	r, err := contract.Try[*big.Int](ctx, b, "truToUsd", one)
	if err != nil {
		return decimal.Zero, err
	}
	if r.Reverted {
		p.logger.Warn("TRU oracle reverted", "token", token.ID)
		return decimal.Zero, nil
	}
	return ToDecimal(amount, token.Decimals).Mul(ToDecimal(r.Value, oracleDecimals)), nil
}
