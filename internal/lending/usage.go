package lending

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

// UsageDailySnapshot loads or creates the usage row for the event's day
// and copies the protocol's cumulative counters into it. The caller saves it.
func (ix *Indexer) UsageDailySnapshot(ctx context.Context, ev model.Event, p *model.LendingProtocol) (*model.UsageMetricsDailySnapshot, error) {
	id := strconv.FormatInt(ev.Block.Day(), 10)
	snap, _, err := loadOr[model.UsageMetricsDailySnapshot](ctx, ix.store, id, func() *model.UsageMetricsDailySnapshot {
		return &model.UsageMetricsDailySnapshot{ID: id, Protocol: p.ID}
	})
	if err != nil {
		return nil, err
	}
	snap.CumulativeUniqueUsers = p.CumulativeUniqueUsers
	snap.CumulativeUniqueDepositors = p.CumulativeUniqueDepositors
	snap.CumulativeUniqueBorrowers = p.CumulativeUniqueBorrowers
	snap.CumulativeUniqueLiquidators = p.CumulativeUniqueLiquidators
	snap.CumulativeUniqueLiquidatees = p.CumulativeUniqueLiquidatees
	snap.CumulativePositionCount = p.CumulativePositionCount
	snap.OpenPositionCount = p.OpenPositionCount
	snap.TotalPoolCount = p.TotalPoolCount
	snap.BlockNumber = ev.Block.Number
	snap.Timestamp = ev.Block.Timestamp
	return snap, nil
}

// UsageHourlySnapshot is UsageDailySnapshot for the event's hour.
func (ix *Indexer) UsageHourlySnapshot(ctx context.Context, ev model.Event, p *model.LendingProtocol) (*model.UsageMetricsHourlySnapshot, error) {
	id := strconv.FormatInt(ev.Block.Hour(), 10)
	snap, _, err := loadOr[model.UsageMetricsHourlySnapshot](ctx, ix.store, id, func() *model.UsageMetricsHourlySnapshot {
		return &model.UsageMetricsHourlySnapshot{ID: id, Protocol: p.ID}
	})
	if err != nil {
		return nil, err
	}
	snap.CumulativeUniqueUsers = p.CumulativeUniqueUsers
	snap.BlockNumber = ev.Block.Number
	snap.Timestamp = ev.Block.Timestamp
	return snap, nil
}

// updateUsage refreshes both usage snapshots from the protocol, lets fn
// adjust their bucket counters, and saves them.
func (ix *Indexer) updateUsage(ctx context.Context, ev model.Event, fn func(daily, hourly *model.UsageCounts) error) error {
	p, err := ix.Protocol(ctx)
	if err != nil {
		return err
	}
	daily, err := ix.UsageDailySnapshot(ctx, ev, p)
	if err != nil {
		return err
	}
	hourly, err := ix.UsageHourlySnapshot(ctx, ev, p)
	if err != nil {
		return err
	}
	if fn != nil {
		if err := fn(&daily.Daily, &hourly.Hourly); err != nil {
			return err
		}
	}
	if err := store.Save(ctx, ix.store, daily); err != nil {
		return err
	}
	return store.Save(ctx, ix.store, hourly)
}

// UpdateUsageMetrics counts one transaction by user in the event's day and
// hour, and marks user active in both buckets. A user seen for the first
// time becomes a unique user.
func (ix *Indexer) UpdateUsageMetrics(ctx context.Context, ev model.Event, user common.Address) error {
	acct, err := ix.Account(ctx, user)
	if err != nil {
		return err
	}
	return ix.updateUsage(ctx, ev, func(daily, hourly *model.UsageCounts) error {
		daily.TransactionCount++
		hourly.TransactionCount++

		first, err := ix.markActive(ctx, fmt.Sprintf("daily-%s-%d", acct.ID, ev.Block.Day()))
		if err != nil {
			return err
		}
		if first {
			daily.ActiveUsers++
		}
		first, err = ix.markActive(ctx, fmt.Sprintf("hourly-%s-%d", acct.ID, ev.Block.Hour()))
		if err != nil {
			return err
		}
		if first {
			hourly.ActiveUsers++
		}
		return nil
	})
}

// IncrementProtocolDepositCount counts a deposit by acct.
func (ix *Indexer) IncrementProtocolDepositCount(ctx context.Context, ev model.Event, acct *model.Account) error {
	return ix.incrementActionCount(ctx, ev, ActionDeposit, acct, nil)
}

// IncrementProtocolWithdrawCount counts a withdrawal.
func (ix *Indexer) IncrementProtocolWithdrawCount(ctx context.Context, ev model.Event) error {
	return ix.incrementActionCount(ctx, ev, ActionWithdraw, nil, nil)
}

// IncrementProtocolBorrowCount counts a borrow by acct.
func (ix *Indexer) IncrementProtocolBorrowCount(ctx context.Context, ev model.Event, acct *model.Account) error {
	return ix.incrementActionCount(ctx, ev, ActionBorrow, acct, nil)
}

// IncrementProtocolRepayCount counts a repayment.
func (ix *Indexer) IncrementProtocolRepayCount(ctx context.Context, ev model.Event) error {
	return ix.incrementActionCount(ctx, ev, ActionRepay, nil, nil)
}

// IncrementProtocolLiquidateCount counts a liquidation of liquidatee by
// liquidator.
func (ix *Indexer) IncrementProtocolLiquidateCount(ctx context.Context, ev model.Event, liquidatee, liquidator *model.Account) error {
	return ix.incrementActionCount(ctx, ev, ActionLiquidate, liquidatee, liquidator)
}

// incrementActionCount bumps the per-bucket counter for action. For
// deposits, borrows and liquidations the accounts involved are also
// counted as active for the day and, the first time ever, as unique
// depositors, borrowers, liquidatees or liquidators.
func (ix *Indexer) incrementActionCount(ctx context.Context, ev model.Event, action Action, acct, liquidator *model.Account) error {
	// Unique counters live on the protocol; bump them before the usage
	// snapshots copy it.
	if acct != nil && action != ActionWithdraw && action != ActionRepay {
		if err := ix.markUnique(ctx, uniqueRole(action), acct); err != nil {
			return err
		}
	}
	if liquidator != nil {
		if err := ix.markUnique(ctx, "liquidator", liquidator); err != nil {
			return err
		}
	}

	return ix.updateUsage(ctx, ev, func(daily, hourly *model.UsageCounts) error {
		switch action {
		case ActionDeposit:
			daily.DepositCount++
			hourly.DepositCount++
		case ActionWithdraw:
			daily.WithdrawCount++
			hourly.WithdrawCount++
		case ActionBorrow:
			daily.BorrowCount++
			hourly.BorrowCount++
		case ActionRepay:
			daily.RepayCount++
			hourly.RepayCount++
		case ActionLiquidate:
			daily.LiquidateCount++
			hourly.LiquidateCount++
		}

		if acct != nil && action != ActionWithdraw && action != ActionRepay {
			first, err := ix.markActive(ctx, fmt.Sprintf("daily-%s-%s-%d", uniqueRole(action), acct.ID, ev.Block.Day()))
			if err != nil {
				return err
			}
			if first {
				switch action {
				case ActionDeposit:
					daily.ActiveDepositors++
				case ActionBorrow:
					daily.ActiveBorrowers++
				case ActionLiquidate:
					daily.ActiveLiquidatees++
				}
			}
		}
		if liquidator != nil {
			first, err := ix.markActive(ctx, fmt.Sprintf("daily-liquidator-%s-%d", liquidator.ID, ev.Block.Day()))
			if err != nil {
				return err
			}
			if first {
				daily.ActiveLiquidators++
			}
		}
		return nil
	})
}

func uniqueRole(action Action) string {
	switch action {
	case ActionDeposit:
		return "deposit"
	case ActionBorrow:
		return "borrow"
	case ActionLiquidate:
		return "liquidatee"
	default:
		return action.String()
	}
}

// markUnique bumps the protocol's cumulative unique counter for role the
// first time acct acts in it.
func (ix *Indexer) markUnique(ctx context.Context, role string, acct *model.Account) error {
	first, err := ix.markActive(ctx, fmt.Sprintf("%s-%s", role, acct.ID))
	if err != nil || !first {
		return err
	}
	return ix.bumpProtocol(ctx, func(p *model.LendingProtocol) {
		switch role {
		case "deposit":
			p.CumulativeUniqueDepositors++
		case "borrow":
			p.CumulativeUniqueBorrowers++
		case "liquidatee":
			p.CumulativeUniqueLiquidatees++
		case "liquidator":
			p.CumulativeUniqueLiquidators++
		}
	})
}

// IncrementProtocolTotalPoolCount counts a newly created market.
func (ix *Indexer) IncrementProtocolTotalPoolCount(ctx context.Context, ev model.Event) error {
	if err := ix.bumpProtocol(ctx, func(p *model.LendingProtocol) { p.TotalPoolCount++ }); err != nil {
		return err
	}
	return ix.updateUsage(ctx, ev, nil)
}

// markActive records an ActiveAccount marker and reports whether it was
// new.
func (ix *Indexer) markActive(ctx context.Context, id string) (bool, error) {
	exists, err := store.Exists[model.ActiveAccount](ctx, ix.store, id)
	if err != nil || exists {
		return false, err
	}
	return true, store.Save(ctx, ix.store, &model.ActiveAccount{ID: id})
}
