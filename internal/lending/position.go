package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

// Position returns the account's open position in m on side, opening a new
// one when none is open. Positions are numbered per account, market and
// side; a closed position is never reused.
func (ix *Indexer) Position(ctx context.Context, ev model.Event, acct *model.Account, m *model.Market, side string) (*model.Position, error) {
	counterID := fmt.Sprintf("%s-%s-%s", acct.ID, m.ID, side)
	counter, counterCreated, err := loadOr[model.PositionCounter](ctx, ix.store, counterID, func() *model.PositionCounter {
		return &model.PositionCounter{ID: counterID}
	})
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s-%d", counterID, counter.NextCount)
	pos, err := store.Load[model.Position](ctx, ix.store, id)
	switch {
	case err == nil && pos.IsOpen():
		return pos, nil
	case err == nil:
		counter.NextCount++
		counterCreated = true
		id = fmt.Sprintf("%s-%d", counterID, counter.NextCount)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	if counterCreated {
		if err := store.Save(ctx, ix.store, counter); err != nil {
			return nil, err
		}
	}

	pos = &model.Position{
		ID:                id,
		Account:           acct.ID,
		Market:            m.ID,
		Side:              side,
		Balance:           new(big.Int),
		HashOpened:        ev.Hash(),
		BlockNumberOpened: ev.Block.Number,
		TimestampOpened:   ev.Block.Timestamp,
	}
	if err := store.Save(ctx, ix.store, pos); err != nil {
		return nil, err
	}
	err = ix.bumpAccount(ctx, acct, func(a *model.Account) {
		a.PositionCount++
		a.OpenPositionCount++
	})
	if err != nil {
		return nil, err
	}
	if err := ix.openMarketPosition(ctx, m, side); err != nil {
		return nil, err
	}
	return pos, nil
}

// adjustPosition applies delta to the position balance. Lender balances
// are re-read from the market's receipt token when the call succeeds.
func (ix *Indexer) adjustPosition(ctx context.Context, pos *model.Position, m *model.Market, delta *big.Int) error {
	if pos.Balance == nil {
		pos.Balance = new(big.Int)
	}
	local := new(big.Int).Add(pos.Balance, delta)

	if pos.Side == model.SideLender {
		b := contract.Bind(ix.caller, contract.ERC20, common.HexToAddress(m.ID), nil)
		r, err := contract.Try[*big.Int](ctx, b, "balanceOf", common.HexToAddress(pos.Account))
		if err != nil {
			return err
		}
		if !r.Reverted {
			local = r.Value
		}
	}
	pos.Balance = local
	return store.Save(ctx, ix.store, pos)
}

func (ix *Indexer) bumpPosition(ctx context.Context, pos *model.Position, fn func(*model.Position)) error {
	fn(pos)
	return store.Save(ctx, ix.store, pos)
}

// checkIfPositionClosed closes pos once its balance is exhausted. m is the
// position's market when the caller already holds it.
func (ix *Indexer) checkIfPositionClosed(ctx context.Context, ev model.Event, acct *model.Account, m *model.Market, pos *model.Position) error {
	if !pos.IsOpen() || (pos.Balance != nil && pos.Balance.Sign() > 0) {
		return nil
	}
	pos.HashClosed = ev.Hash()
	pos.BlockNumberClosed = ev.Block.Number
	pos.TimestampClosed = ev.Block.Timestamp
	if err := store.Save(ctx, ix.store, pos); err != nil {
		return err
	}
	err := ix.bumpAccount(ctx, acct, func(a *model.Account) {
		a.OpenPositionCount--
		a.ClosedPositionCount++
	})
	if err != nil {
		return err
	}

	if m == nil || m.ID != pos.Market {
		if m, err = store.Load[model.Market](ctx, ix.store, pos.Market); err != nil {
			return err
		}
	}
	ix.logger.Debug("position closed", "position", pos.ID, "block", ev.Block.Number)
	return ix.closeMarketPosition(ctx, m)
}
