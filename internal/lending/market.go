package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/price"
	"github.com/atmx/lending-indexer/internal/store"
)

// ErrUnknownMarket is returned when an event references a market that was
// never created.
var ErrUnknownMarket = errors.New("lending: unknown market")

// Action is a user-facing market action.
type Action int

const (
	ActionDeposit Action = iota
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionLiquidate
)

func (a Action) String() string {
	switch a {
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionLiquidate:
		return "liquidate"
	default:
		return "unknown"
	}
}

func (a Action) addTo(v *model.PeriodVolumes, usd decimal.Decimal) {
	switch a {
	case ActionDeposit:
		v.DepositUSD = v.DepositUSD.Add(usd)
	case ActionWithdraw:
		v.WithdrawUSD = v.WithdrawUSD.Add(usd)
	case ActionBorrow:
		v.BorrowUSD = v.BorrowUSD.Add(usd)
	case ActionRepay:
		v.RepayUSD = v.RepayUSD.Add(usd)
	case ActionLiquidate:
		v.LiquidateUSD = v.LiquidateUSD.Add(usd)
	}
}

// CreateMarket registers the market whose receipt token is tfToken and
// whose deposits are denominated in reserve. Creating an existing market
// is a no-op.
func (ix *Indexer) CreateMarket(ctx context.Context, ev model.Event, reserve, tfToken common.Address, isPool bool) error {
	id := model.AddressID(tfToken)
	exists, err := store.Exists[model.Market](ctx, ix.store, id)
	if err != nil || exists {
		return err
	}

	outToken, err := ix.Token(ctx, tfToken, model.AddressID(reserve))
	if err != nil {
		return err
	}
	inToken, err := ix.Token(ctx, reserve, "")
	if err != nil {
		return err
	}
	p, err := ix.Protocol(ctx)
	if err != nil {
		return err
	}

	m := &model.Market{
		ID:                 id,
		Protocol:           p.ID,
		Name:               outToken.Name,
		IsPool:             isPool,
		IsActive:           true,
		CanUseAsCollateral: false,
		CanBorrowFrom:      true,
		InputToken:         inToken.ID,
		OutputToken:        outToken.ID,
		Rates:              []string{},
		CreatedTimestamp:   ev.Block.Timestamp,
		CreatedBlockNumber: ev.Block.Number,
		ExchangeRate:       decimal.NewFromInt(1),
		InputTokenBalance:  new(big.Int),
		OutputTokenSupply:  new(big.Int),
	}
	if err := store.Save(ctx, ix.store, m); err != nil {
		return err
	}
	ix.logger.Info("market created", "market", id, "input_token", inToken.ID, "pool", isPool, "block", ev.Block.Number)
	return ix.IncrementProtocolTotalPoolCount(ctx, ev)
}

// GetMarket loads the market at addr. A market that was never created
// yields ErrUnknownMarket.
func (ix *Indexer) GetMarket(ctx context.Context, addr common.Address) (*model.Market, error) {
	m, err := store.Load[model.Market](ctx, ix.store, model.AddressID(addr))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, model.AddressID(addr))
	}
	return m, err
}

// CloseMarket deactivates a market.
func (ix *Indexer) CloseMarket(ctx context.Context, m *model.Market) error {
	m.IsActive = false
	m.CanUseAsCollateral = false
	m.CanBorrowFrom = false
	return store.Save(ctx, ix.store, m)
}

// MarketDailySnapshot loads or creates the market's row for the event's
// day, copies the market's live values into it and saves it.
func (ix *Indexer) MarketDailySnapshot(ctx context.Context, ev model.Event, m *model.Market) (*model.MarketDailySnapshot, error) {
	id := fmt.Sprintf("%s-%d", m.ID, ev.Block.Day())
	snap, _, err := loadOr[model.MarketDailySnapshot](ctx, ix.store, id, func() *model.MarketDailySnapshot {
		return &model.MarketDailySnapshot{ID: id, Protocol: m.Protocol, Market: m.ID}
	})
	if err != nil {
		return nil, err
	}
	if snap.Rates, err = ix.snapshotRates(ctx, m, ev.Block.Day()); err != nil {
		return nil, err
	}
	snap.MarketMetrics = metricsOf(m)
	snap.BlockNumber = ev.Block.Number
	snap.Timestamp = ev.Block.Timestamp
	if err := store.Save(ctx, ix.store, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// MarketHourlySnapshot is MarketDailySnapshot for the event's hour. Rate
// copies are still keyed by day.
func (ix *Indexer) MarketHourlySnapshot(ctx context.Context, ev model.Event, m *model.Market) (*model.MarketHourlySnapshot, error) {
	id := fmt.Sprintf("%s-%d", m.ID, ev.Block.Hour())
	snap, _, err := loadOr[model.MarketHourlySnapshot](ctx, ix.store, id, func() *model.MarketHourlySnapshot {
		return &model.MarketHourlySnapshot{ID: id, Protocol: m.Protocol, Market: m.ID}
	})
	if err != nil {
		return nil, err
	}
	if snap.Rates, err = ix.snapshotRates(ctx, m, ev.Block.Day()); err != nil {
		return nil, err
	}
	snap.MarketMetrics = metricsOf(m)
	snap.BlockNumber = ev.Block.Number
	snap.Timestamp = ev.Block.Timestamp
	if err := store.Save(ctx, ix.store, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func metricsOf(m *model.Market) model.MarketMetrics {
	return model.MarketMetrics{
		TotalValueLockedUSD:              m.TotalValueLockedUSD,
		CumulativeSupplySideRevenueUSD:   m.CumulativeSupplySideRevenueUSD,
		CumulativeProtocolSideRevenueUSD: m.CumulativeProtocolSideRevenueUSD,
		CumulativeTotalRevenueUSD:        m.CumulativeTotalRevenueUSD,
		TotalDepositBalanceUSD:           m.TotalDepositBalanceUSD,
		CumulativeDepositUSD:             m.CumulativeDepositUSD,
		TotalBorrowBalanceUSD:            m.TotalBorrowBalanceUSD,
		CumulativeBorrowUSD:              m.CumulativeBorrowUSD,
		CumulativeLiquidateUSD:           m.CumulativeLiquidateUSD,
		InputTokenBalance:                m.InputTokenBalance,
		InputTokenPriceUSD:               m.InputTokenPriceUSD,
		OutputTokenSupply:                m.OutputTokenSupply,
		OutputTokenPriceUSD:              m.OutputTokenPriceUSD,
		ExchangeRate:                     m.ExchangeRate,
		RewardTokenEmissionsAmount:       m.RewardTokenEmissionsAmount,
		RewardTokenEmissionsUSD:          m.RewardTokenEmissionsUSD,
	}
}

// snapshotRates copies each of the market's current rates under
// "{rateID}-{day}" and returns the copies' ids. A rate id that does not
// resolve is skipped.
func (ix *Indexer) snapshotRates(ctx context.Context, m *model.Market, day int64) ([]string, error) {
	out := make([]string, 0, len(m.Rates))
	for _, rateID := range m.Rates {
		rate, err := store.Load[model.InterestRate](ctx, ix.store, rateID)
		if errors.Is(err, store.ErrNotFound) {
			ix.logger.Warn("snapshot rate not found", "rate", rateID, "market", m.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		cp := &model.InterestRate{
			ID:     rateID + "-" + strconv.FormatInt(day, 10),
			Side:   rate.Side,
			Type:   rate.Type,
			Rate:   rate.Rate,
			Market: rate.Market,
		}
		if err := store.Save(ctx, ix.store, cp); err != nil {
			return nil, err
		}
		out = append(out, cp.ID)
	}
	return out, nil
}

// AddMarketVolume records usd of action on the market, its daily and
// hourly snapshots and the protocol. Withdraw and repay volume is not
// cumulative on the market. Deposit volume is not added to the hourly
// snapshot, matching the deployed subgraph.
func (ix *Indexer) AddMarketVolume(ctx context.Context, ev model.Event, m *model.Market, action Action, usd decimal.Decimal) error {
	switch action {
	case ActionDeposit:
		m.CumulativeDepositUSD = m.CumulativeDepositUSD.Add(usd)
	case ActionBorrow:
		m.CumulativeBorrowUSD = m.CumulativeBorrowUSD.Add(usd)
	case ActionLiquidate:
		m.CumulativeLiquidateUSD = m.CumulativeLiquidateUSD.Add(usd)
	}
	if err := store.Save(ctx, ix.store, m); err != nil {
		return err
	}

	daily, err := ix.MarketDailySnapshot(ctx, ev, m)
	if err != nil {
		return err
	}
	action.addTo(&daily.Daily, usd)
	if err := store.Save(ctx, ix.store, daily); err != nil {
		return err
	}

	hourly, err := ix.MarketHourlySnapshot(ctx, ev, m)
	if err != nil {
		return err
	}
	if action != ActionDeposit {
		action.addTo(&hourly.Hourly, usd)
		if err := store.Save(ctx, ix.store, hourly); err != nil {
			return err
		}
	}

	return ix.AddProtocolVolume(ctx, ev, action, usd)
}

// ChangeMarketBorrowBalance moves the market's borrow balance. The amount
// outstanding is re-read from the contract (loansValue for pools,
// illiquidValue for portfolios) when possible; otherwise change is applied
// as a delta. The market balance never goes below zero; the protocol
// receives the unclamped delta.
func (ix *Indexer) ChangeMarketBorrowBalance(ctx context.Context, ev model.Event, m *model.Market, change *big.Int) error {
	inToken, err := store.Load[model.Token](ctx, ix.store, m.InputToken)
	if err != nil {
		return err
	}
	changeUSD, err := ix.pricer.AmountInUSD(ctx, change, inToken)
	if err != nil {
		return err
	}

	var outstanding contract.Result[*big.Int]
	if m.IsPool {
		outstanding, err = contract.Try[*big.Int](ctx, ix.marketBinding(m), "loansValue")
	} else {
		outstanding, err = contract.Try[*big.Int](ctx, ix.marketBinding(m), "illiquidValue")
	}
	if err != nil {
		return err
	}
	if !outstanding.Reverted {
		usd, err := ix.pricer.AmountInUSD(ctx, outstanding.Value, inToken)
		if err != nil {
			return err
		}
		changeUSD = usd.Sub(m.TotalBorrowBalanceUSD)
	}

	m.TotalBorrowBalanceUSD = m.TotalBorrowBalanceUSD.Add(changeUSD)
	if m.TotalBorrowBalanceUSD.IsNegative() {
		m.TotalBorrowBalanceUSD = decimal.Zero
	}
	if err := store.Save(ctx, ix.store, m); err != nil {
		return err
	}
	if err := ix.refreshSnapshots(ctx, ev, m); err != nil {
		return err
	}
	return ix.UpdateProtocolBorrowBalance(ctx, ev, changeUSD)
}

// UpdateMarketRates replaces the market's rates with a fresh borrower and
// lender pair derived from borrowerRate (a percentage).
func (ix *Indexer) UpdateMarketRates(ctx context.Context, ev model.Event, m *model.Market, borrowerRate decimal.Decimal) error {
	rates, err := ix.CreateInterestRates(ctx, m, borrowerRate, ev.Block.Timestamp)
	if err != nil {
		return err
	}
	m.Rates = rates
	if err := store.Save(ctx, ix.store, m); err != nil {
		return err
	}
	return ix.refreshSnapshots(ctx, ev, m)
}

// UpdateTokenSupply reprices the market's input token and re-reads its
// TVL and supply from the contract.
func (ix *Indexer) UpdateTokenSupply(ctx context.Context, ev model.Event, marketAddr common.Address) error {
	m, err := ix.GetMarket(ctx, marketAddr)
	if err != nil {
		return err
	}
	inToken, err := store.Load[model.Token](ctx, ix.store, m.InputToken)
	if err != nil {
		return err
	}
	if m.InputTokenPriceUSD, err = ix.pricer.TokenPrice(ctx, inToken); err != nil {
		return err
	}
	if err := ix.updateMarketTVL(ctx, ev, m, inToken); err != nil {
		return err
	}
	return ix.refreshSnapshots(ctx, ev, m)
}

func (ix *Indexer) updateMarketTVL(ctx context.Context, ev model.Event, m *model.Market, inToken *model.Token) error {
	outToken, err := store.Load[model.Token](ctx, ix.store, m.OutputToken)
	if err != nil {
		return err
	}

	b := ix.marketBinding(m)
	valueMethod := "value"
	if m.IsPool {
		valueMethod = "poolValue"
	}
	supply, err := contract.Try[*big.Int](ctx, b, "totalSupply")
	if err != nil {
		return err
	}
	if !supply.Reverted {
		m.OutputTokenSupply = supply.Value
	}
	value, err := contract.Try[*big.Int](ctx, b, valueMethod)
	if err != nil {
		return err
	}

	if !value.Reverted {
		tvl := price.ToDecimal(value.Value, inToken.Decimals).Mul(m.InputTokenPriceUSD)
		change := tvl.Sub(m.TotalValueLockedUSD)
		if err := ix.UpdateProtocolTVL(ctx, ev, change, change); err != nil {
			return err
		}
		if m.OutputTokenSupply != nil && m.OutputTokenSupply.Sign() > 0 {
			outSupply := price.ToDecimal(m.OutputTokenSupply, outToken.Decimals)
			m.OutputTokenPriceUSD = tvl.Div(outSupply)
			m.InputTokenBalance = value.Value
			m.ExchangeRate = price.ToDecimal(value.Value, inToken.Decimals).Div(outSupply)
		}
		m.TotalValueLockedUSD = tvl
		m.TotalDepositBalanceUSD = tvl
	} else {
		ix.logger.Debug("market value reverted, TVL unchanged", "market", m.ID, "method", valueMethod)
	}
	return store.Save(ctx, ix.store, m)
}

// AddMarketSupplySideRevenue adds revenue paid to the market's lenders.
func (ix *Indexer) AddMarketSupplySideRevenue(ctx context.Context, ev model.Event, m *model.Market, usd decimal.Decimal) error {
	m.CumulativeSupplySideRevenueUSD = m.CumulativeSupplySideRevenueUSD.Add(usd)
	m.CumulativeTotalRevenueUSD = m.CumulativeTotalRevenueUSD.Add(usd)
	err := ix.addMarketRevenue(ctx, ev, m, func(v *model.PeriodVolumes) {
		v.SupplySideRevenueUSD = v.SupplySideRevenueUSD.Add(usd)
		v.TotalRevenueUSD = v.TotalRevenueUSD.Add(usd)
	})
	if err != nil {
		return err
	}
	return ix.AddSupplySideRevenue(ctx, ev, usd)
}

// AddMarketProtocolSideRevenue adds revenue kept by the protocol.
func (ix *Indexer) AddMarketProtocolSideRevenue(ctx context.Context, ev model.Event, m *model.Market, usd decimal.Decimal) error {
	m.CumulativeProtocolSideRevenueUSD = m.CumulativeProtocolSideRevenueUSD.Add(usd)
	m.CumulativeTotalRevenueUSD = m.CumulativeTotalRevenueUSD.Add(usd)
	err := ix.addMarketRevenue(ctx, ev, m, func(v *model.PeriodVolumes) {
		v.ProtocolSideRevenueUSD = v.ProtocolSideRevenueUSD.Add(usd)
		v.TotalRevenueUSD = v.TotalRevenueUSD.Add(usd)
	})
	if err != nil {
		return err
	}
	return ix.AddProtocolSideRevenue(ctx, ev, usd)
}

func (ix *Indexer) addMarketRevenue(ctx context.Context, ev model.Event, m *model.Market, add func(*model.PeriodVolumes)) error {
	if err := store.Save(ctx, ix.store, m); err != nil {
		return err
	}
	daily, err := ix.MarketDailySnapshot(ctx, ev, m)
	if err != nil {
		return err
	}
	add(&daily.Daily)
	if err := store.Save(ctx, ix.store, daily); err != nil {
		return err
	}
	hourly, err := ix.MarketHourlySnapshot(ctx, ev, m)
	if err != nil {
		return err
	}
	add(&hourly.Hourly)
	return store.Save(ctx, ix.store, hourly)
}

func (ix *Indexer) refreshSnapshots(ctx context.Context, ev model.Event, m *model.Market) error {
	if _, err := ix.MarketDailySnapshot(ctx, ev, m); err != nil {
		return err
	}
	_, err := ix.MarketHourlySnapshot(ctx, ev, m)
	return err
}

func (ix *Indexer) openMarketPosition(ctx context.Context, m *model.Market, side string) error {
	m.OpenPositionCount++
	m.PositionCount++
	if side == model.SideBorrower {
		m.BorrowingPositionCount++
	} else {
		m.LendingPositionCount++
	}
	if err := store.Save(ctx, ix.store, m); err != nil {
		return err
	}
	return ix.incrementProtocolPositionCount(ctx)
}

func (ix *Indexer) closeMarketPosition(ctx context.Context, m *model.Market) error {
	m.OpenPositionCount--
	m.ClosedPositionCount++
	if err := store.Save(ctx, ix.store, m); err != nil {
		return err
	}
	return ix.decrementProtocolOpenPositionCount(ctx)
}

func (ix *Indexer) marketBinding(m *model.Market) *contract.Binding {
	a := contract.ManagedPortfolio
	if m.IsPool {
		a = contract.TruefiPool
	}
	return contract.Bind(ix.caller, a, common.HexToAddress(m.ID), nil)
}
