package lending

import (
	"context"
	"errors"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

// Protocol classification.
const (
	ProtocolTypeLending = "LENDING"
	LendingTypePooled   = "POOLED"
	RiskTypeIsolated    = "ISOLATED"
)

// Protocol loads or creates the LendingProtocol singleton. Versions are
// refreshed and the entity saved on every call.
func (ix *Indexer) Protocol(ctx context.Context) (*model.LendingProtocol, error) {
	p, _, err := loadOr[model.LendingProtocol](ctx, ix.store, ProtocolID, func() *model.LendingProtocol {
		return &model.LendingProtocol{
			ID:                         ProtocolID,
			Name:                       ProtocolName,
			Slug:                       ProtocolSlug,
			Network:                    ix.network,
			Type:                       ProtocolTypeLending,
			LendingType:                LendingTypePooled,
			RiskType:                   RiskTypeIsolated,
			RewardTokenEmissionsAmount: new(big.Int),
		}
	})
	if err != nil {
		return nil, err
	}
	p.SchemaVersion = SchemaVersion
	p.SubgraphVersion = SubgraphVersion
	p.MethodologyVersion = MethodologyVersion
	if err := store.Save(ctx, ix.store, p); err != nil {
		return nil, err
	}
	return p, nil
}

// FinancialsSnapshot loads or creates the protocol's daily financials row
// and copies the protocol's current values into it. The caller saves it.
// Reward emissions are re-evaluated once per day, when the row is created.
func (ix *Indexer) FinancialsSnapshot(ctx context.Context, ev model.Event, p *model.LendingProtocol) (*model.FinancialsDailySnapshot, error) {
	id := strconv.FormatInt(ev.Block.Day(), 10)
	snap, created, err := loadOr[model.FinancialsDailySnapshot](ctx, ix.store, id, func() *model.FinancialsDailySnapshot {
		return &model.FinancialsDailySnapshot{ID: id, Protocol: p.ID}
	})
	if err != nil {
		return nil, err
	}
	if created {
		if err := ix.updateRewardEmission(ctx, ev.Block.Timestamp, p); err != nil {
			return nil, err
		}
	}

	snap.TotalValueLockedUSD = p.TotalValueLockedUSD
	snap.MintedTokenSupplies = p.MintedTokenSupplies
	snap.RewardTokenEmissionsAmount = p.RewardTokenEmissionsAmount
	snap.RewardTokenEmissionsUSD = p.RewardTokenEmissionsUSD
	snap.CumulativeSupplySideRevenueUSD = p.CumulativeSupplySideRevenueUSD
	snap.CumulativeProtocolSideRevenueUSD = p.CumulativeProtocolSideRevenueUSD
	snap.CumulativeTotalRevenueUSD = p.CumulativeTotalRevenueUSD
	snap.TotalDepositBalanceUSD = p.TotalDepositBalanceUSD
	snap.CumulativeDepositUSD = p.CumulativeDepositUSD
	snap.TotalBorrowBalanceUSD = p.TotalBorrowBalanceUSD
	snap.CumulativeBorrowUSD = p.CumulativeBorrowUSD
	snap.CumulativeLiquidateUSD = p.CumulativeLiquidateUSD
	snap.BlockNumber = ev.Block.Number
	snap.Timestamp = ev.Block.Timestamp
	return snap, nil
}

// updateProtocol applies mutate to the protocol, saves it, then refreshes
// and saves the day's financials row after applying daily to it.
func (ix *Indexer) updateProtocol(ctx context.Context, ev model.Event, mutate func(*model.LendingProtocol), daily func(*model.PeriodVolumes)) error {
	p, err := ix.Protocol(ctx)
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(p)
		if err := store.Save(ctx, ix.store, p); err != nil {
			return err
		}
	}
	snap, err := ix.FinancialsSnapshot(ctx, ev, p)
	if err != nil {
		return err
	}
	if daily != nil {
		daily(&snap.Daily)
	}
	return store.Save(ctx, ix.store, snap)
}

// AddProtocolSideRevenue adds revenue kept by the protocol.
func (ix *Indexer) AddProtocolSideRevenue(ctx context.Context, ev model.Event, usd decimal.Decimal) error {
	return ix.updateProtocol(ctx, ev,
		func(p *model.LendingProtocol) {
			p.CumulativeProtocolSideRevenueUSD = p.CumulativeProtocolSideRevenueUSD.Add(usd)
			p.CumulativeTotalRevenueUSD = p.CumulativeTotalRevenueUSD.Add(usd)
		},
		func(d *model.PeriodVolumes) {
			d.ProtocolSideRevenueUSD = d.ProtocolSideRevenueUSD.Add(usd)
			d.TotalRevenueUSD = d.TotalRevenueUSD.Add(usd)
		})
}

// AddSupplySideRevenue adds revenue paid out to lenders.
func (ix *Indexer) AddSupplySideRevenue(ctx context.Context, ev model.Event, usd decimal.Decimal) error {
	return ix.updateProtocol(ctx, ev,
		func(p *model.LendingProtocol) {
			p.CumulativeSupplySideRevenueUSD = p.CumulativeSupplySideRevenueUSD.Add(usd)
			p.CumulativeTotalRevenueUSD = p.CumulativeTotalRevenueUSD.Add(usd)
		},
		func(d *model.PeriodVolumes) {
			d.SupplySideRevenueUSD = d.SupplySideRevenueUSD.Add(usd)
			d.TotalRevenueUSD = d.TotalRevenueUSD.Add(usd)
		})
}

// AddProtocolVolume records volume of one action kind. Deposit, borrow and
// liquidate volume is cumulative on the protocol; withdraw and repay are
// only tracked per day.
func (ix *Indexer) AddProtocolVolume(ctx context.Context, ev model.Event, action Action, usd decimal.Decimal) error {
	var mutate func(*model.LendingProtocol)
	switch action {
	case ActionDeposit:
		mutate = func(p *model.LendingProtocol) { p.CumulativeDepositUSD = p.CumulativeDepositUSD.Add(usd) }
	case ActionBorrow:
		mutate = func(p *model.LendingProtocol) { p.CumulativeBorrowUSD = p.CumulativeBorrowUSD.Add(usd) }
	case ActionLiquidate:
		mutate = func(p *model.LendingProtocol) { p.CumulativeLiquidateUSD = p.CumulativeLiquidateUSD.Add(usd) }
	}
	return ix.updateProtocol(ctx, ev, mutate, func(d *model.PeriodVolumes) {
		action.addTo(d, usd)
	})
}

// UpdateProtocolTVL applies deltas to the protocol TVL and deposit balance.
func (ix *Indexer) UpdateProtocolTVL(ctx context.Context, ev model.Event, tvlChange, depositChange decimal.Decimal) error {
	return ix.updateProtocol(ctx, ev, func(p *model.LendingProtocol) {
		p.TotalValueLockedUSD = p.TotalValueLockedUSD.Add(tvlChange)
		p.TotalDepositBalanceUSD = p.TotalDepositBalanceUSD.Add(depositChange)
	}, nil)
}

// UpdateProtocolBorrowBalance applies a delta to the protocol borrow
// balance.
func (ix *Indexer) UpdateProtocolBorrowBalance(ctx context.Context, ev model.Event, change decimal.Decimal) error {
	return ix.updateProtocol(ctx, ev, func(p *model.LendingProtocol) {
		p.TotalBorrowBalanceUSD = p.TotalBorrowBalanceUSD.Add(change)
	}, nil)
}

func (ix *Indexer) bumpProtocol(ctx context.Context, mutate func(*model.LendingProtocol)) error {
	p, err := ix.Protocol(ctx)
	if err != nil {
		return err
	}
	mutate(p)
	return store.Save(ctx, ix.store, p)
}

func (ix *Indexer) incrementProtocolPositionCount(ctx context.Context) error {
	return ix.bumpProtocol(ctx, func(p *model.LendingProtocol) {
		p.CumulativePositionCount++
		p.OpenPositionCount++
	})
}

func (ix *Indexer) decrementProtocolOpenPositionCount(ctx context.Context) error {
	return ix.bumpProtocol(ctx, func(p *model.LendingProtocol) { p.OpenPositionCount-- })
}

// UpdateProtocolRewardToken sets the protocol's reward token and its daily
// emission from a per-second rate.
func (ix *Indexer) UpdateProtocolRewardToken(ctx context.Context, timestamp int64, rt *model.RewardToken, ratePerSecond *big.Int) error {
	p, err := ix.Protocol(ctx)
	if err != nil {
		return err
	}
	p.RewardToken = rt.ID
	p.RewardTokenEmissionsAmount = new(big.Int).Mul(ratePerSecond, big.NewInt(model.SecondsPerDay))
	p.RewardTokenEmissionsUSD = decimal.Zero
	if err := store.Save(ctx, ix.store, p); err != nil {
		return err
	}
	return ix.updateRewardEmission(ctx, timestamp, p)
}

// updateRewardEmission zeroes the emission once the distribution has ended
// and re-values it through the TRU oracle.
func (ix *Indexer) updateRewardEmission(ctx context.Context, timestamp int64, p *model.LendingProtocol) error {
	if p.RewardToken == "" {
		return nil
	}
	rt, err := store.Load[model.RewardToken](ctx, ix.store, p.RewardToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	tok, err := store.Load[model.Token](ctx, ix.store, rt.Token)
	if errors.Is(err, store.ErrNotFound) {
		ix.logger.Warn("reward token not found", "token", rt.Token)
		return nil
	}
	if err != nil {
		return err
	}

	emission := p.RewardTokenEmissionsAmount
	if emission == nil || timestamp > rt.DistributionEnd {
		emission = new(big.Int)
	}
	usd, err := ix.pricer.AmountInUSDForTru(ctx, emission, tok)
	if err != nil {
		return err
	}
	p.RewardTokenEmissionsAmount = emission
	p.RewardTokenEmissionsUSD = usd
	return store.Save(ctx, ix.store, p)
}
