package lending

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

func record(ev model.Event, m *model.Market, pos *model.Position, asset *model.Token, amount *big.Int, usd decimal.Decimal) model.EventRecord {
	return model.EventRecord{
		ID:          ev.ID(),
		Hash:        ev.Hash(),
		Nonce:       ev.TxNonce,
		LogIndex:    ev.LogIndex,
		BlockNumber: ev.Block.Number,
		Timestamp:   ev.Block.Timestamp,
		Market:      m.ID,
		Position:    pos.ID,
		Asset:       asset.ID,
		Amount:      new(big.Int).Set(amount),
		AmountUSD:   usd,
	}
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// marketOrSkip resolves the market at addr. An unknown market is logged
// and reported as nil with no error so the caller can drop the event.
func (ix *Indexer) marketOrSkip(ctx context.Context, addr common.Address, ev model.Event) (*model.Market, error) {
	m, err := ix.GetMarket(ctx, addr)
	if errors.Is(err, ErrUnknownMarket) {
		ix.logger.Warn("event for unknown market", "market", model.AddressID(addr), "tx", ev.Hash(), "log_index", ev.LogIndex)
		return nil, nil
	}
	return m, err
}

// CreateDeposit records user depositing amount of reserve into the market
// that emitted ev. Transfers of receipt tokens are recorded with
// isTransfer set and contribute no volume.
func (ix *Indexer) CreateDeposit(ctx context.Context, ev model.Event, reserve, user common.Address, amount *big.Int, isTransfer bool) error {
	if !validAmount(amount) {
		ix.logger.Warn("invalid deposit amount", "amount", amount, "tx", ev.Hash())
		return nil
	}
	m, err := ix.marketOrSkip(ctx, ev.Address, ev)
	if err != nil || m == nil {
		return err
	}
	acct, err := ix.Account(ctx, user)
	if err != nil {
		return err
	}
	pos, err := ix.Position(ctx, ev, acct, m, model.SideLender)
	if err != nil {
		return err
	}
	asset, err := ix.Token(ctx, reserve, "")
	if err != nil {
		return err
	}
	usd, err := ix.pricer.AmountInUSD(ctx, amount, asset)
	if err != nil {
		return err
	}

	dep := &model.Deposit{EventRecord: record(ev, m, pos, asset, amount, usd), Account: acct.ID}
	if err := store.Save(ctx, ix.store, dep); err != nil {
		return err
	}
	if err := ix.UpdateUsageMetrics(ctx, ev, ev.TxFrom); err != nil {
		return err
	}
	if !isTransfer {
		if err := ix.AddMarketVolume(ctx, ev, m, ActionDeposit, usd); err != nil {
			return err
		}
		if err := ix.IncrementProtocolDepositCount(ctx, ev, acct); err != nil {
			return err
		}
	}
	if err := ix.bumpAccount(ctx, acct, func(a *model.Account) { a.DepositCount++ }); err != nil {
		return err
	}
	if err := ix.adjustPosition(ctx, pos, m, amount); err != nil {
		return err
	}
	if err := ix.bumpPosition(ctx, pos, func(p *model.Position) { p.DepositCount++ }); err != nil {
		return err
	}
	ix.notify(ctx, dep)
	return nil
}

// CreateWithdraw records user withdrawing amount of reserve from the
// market that emitted ev, closing the lender position once it is empty.
func (ix *Indexer) CreateWithdraw(ctx context.Context, ev model.Event, reserve, user common.Address, amount *big.Int, isTransfer bool) error {
	if !validAmount(amount) {
		ix.logger.Warn("invalid withdraw amount", "amount", amount, "tx", ev.Hash())
		return nil
	}
	m, err := ix.marketOrSkip(ctx, ev.Address, ev)
	if err != nil || m == nil {
		return err
	}
	acct, err := ix.Account(ctx, user)
	if err != nil {
		return err
	}
	pos, err := ix.Position(ctx, ev, acct, m, model.SideLender)
	if err != nil {
		return err
	}
	asset, err := ix.Token(ctx, reserve, "")
	if err != nil {
		return err
	}
	usd, err := ix.pricer.AmountInUSD(ctx, amount, asset)
	if err != nil {
		return err
	}

	w := &model.Withdraw{EventRecord: record(ev, m, pos, asset, amount, usd), Account: acct.ID}
	if err := store.Save(ctx, ix.store, w); err != nil {
		return err
	}
	if err := ix.UpdateUsageMetrics(ctx, ev, user); err != nil {
		return err
	}
	if !isTransfer {
		if err := ix.AddMarketVolume(ctx, ev, m, ActionWithdraw, usd); err != nil {
			return err
		}
		if err := ix.IncrementProtocolWithdrawCount(ctx, ev); err != nil {
			return err
		}
	}
	if err := ix.bumpAccount(ctx, acct, func(a *model.Account) { a.WithdrawCount++ }); err != nil {
		return err
	}
	if err := ix.adjustPosition(ctx, pos, m, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if err := ix.bumpPosition(ctx, pos, func(p *model.Position) { p.WithdrawCount++ }); err != nil {
		return err
	}
	if err := ix.checkIfPositionClosed(ctx, ev, acct, m, pos); err != nil {
		return err
	}
	ix.notify(ctx, w)
	return nil
}

// CreateBorrow records borrower drawing amount of reserve from m.
func (ix *Indexer) CreateBorrow(ctx context.Context, ev model.Event, m *model.Market, reserve, borrower common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		ix.logger.Warn("invalid borrow amount", "amount", amount, "tx", ev.Hash())
		return nil
	}
	acct, err := ix.Account(ctx, borrower)
	if err != nil {
		return err
	}
	pos, err := ix.Position(ctx, ev, acct, m, model.SideBorrower)
	if err != nil {
		return err
	}
	asset, err := ix.Token(ctx, reserve, "")
	if err != nil {
		return err
	}
	usd, err := ix.pricer.AmountInUSD(ctx, amount, asset)
	if err != nil {
		return err
	}

	b := &model.Borrow{EventRecord: record(ev, m, pos, asset, amount, usd), Account: acct.ID}
	if err := store.Save(ctx, ix.store, b); err != nil {
		return err
	}
	if err := ix.UpdateUsageMetrics(ctx, ev, borrower); err != nil {
		return err
	}
	if err := ix.AddMarketVolume(ctx, ev, m, ActionBorrow, usd); err != nil {
		return err
	}
	if err := ix.IncrementProtocolBorrowCount(ctx, ev, acct); err != nil {
		return err
	}
	if err := ix.bumpAccount(ctx, acct, func(a *model.Account) { a.BorrowCount++ }); err != nil {
		return err
	}
	if err := ix.adjustPosition(ctx, pos, m, amount); err != nil {
		return err
	}
	if err := ix.bumpPosition(ctx, pos, func(p *model.Position) { p.BorrowCount++ }); err != nil {
		return err
	}
	ix.notify(ctx, b)
	return nil
}

// CreateRepay records user repaying amount of reserve into m, closing the
// borrower position once the debt is gone.
func (ix *Indexer) CreateRepay(ctx context.Context, ev model.Event, m *model.Market, reserve, user common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		ix.logger.Warn("invalid repay amount", "amount", amount, "tx", ev.Hash())
		return nil
	}
	asset, err := ix.Token(ctx, reserve, "")
	if err != nil {
		return err
	}
	acct, err := ix.Account(ctx, user)
	if err != nil {
		return err
	}
	pos, err := ix.Position(ctx, ev, acct, m, model.SideBorrower)
	if err != nil {
		return err
	}
	usd, err := ix.pricer.AmountInUSD(ctx, amount, asset)
	if err != nil {
		return err
	}

	r := &model.Repay{EventRecord: record(ev, m, pos, asset, amount, usd), Account: acct.ID}
	if err := store.Save(ctx, ix.store, r); err != nil {
		return err
	}
	if err := ix.UpdateUsageMetrics(ctx, ev, user); err != nil {
		return err
	}
	if err := ix.AddMarketVolume(ctx, ev, m, ActionRepay, usd); err != nil {
		return err
	}
	if err := ix.IncrementProtocolRepayCount(ctx, ev); err != nil {
		return err
	}
	if err := ix.bumpAccount(ctx, acct, func(a *model.Account) { a.RepayCount++ }); err != nil {
		return err
	}
	if err := ix.adjustPosition(ctx, pos, m, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if err := ix.bumpPosition(ctx, pos, func(p *model.Position) { p.RepayCount++ }); err != nil {
		return err
	}
	if err := ix.checkIfPositionClosed(ctx, ev, acct, m, pos); err != nil {
		return err
	}
	ix.notify(ctx, r)
	return nil
}

// CreateLiquidate records liquidator seizing amountLiquidated of the
// collateral market's receipt token from liquidatee to cover debtAmount of
// debtAsset. The collateral is valued through the TRU oracle and the
// difference to the debt value is supply-side revenue.
func (ix *Indexer) CreateLiquidate(ctx context.Context, ev model.Event, collateralAsset common.Address, amountLiquidated *big.Int, debtAsset common.Address, debtAmount *big.Int, liquidator, liquidatee common.Address) error {
	if !validAmount(amountLiquidated) {
		ix.logger.Warn("invalid liquidation amount", "amount", amountLiquidated, "tx", ev.Hash())
		return nil
	}
	m, err := ix.marketOrSkip(ctx, collateralAsset, ev)
	if err != nil || m == nil {
		return err
	}
	debtMarket := m
	if debtAsset != collateralAsset {
		if debtMarket, err = ix.marketOrSkip(ctx, debtAsset, ev); err != nil || debtMarket == nil {
			return err
		}
	}

	debtToken, err := ix.Token(ctx, debtAsset, "")
	if err != nil {
		return err
	}
	collateralToken, err := ix.Token(ctx, collateralAsset, "")
	if err != nil {
		return err
	}
	userAcct, err := ix.Account(ctx, liquidatee)
	if err != nil {
		return err
	}
	liqAcct := userAcct
	if liquidator != liquidatee {
		if liqAcct, err = ix.Account(ctx, liquidator); err != nil {
			return err
		}
	}
	lenderPos, err := ix.Position(ctx, ev, userAcct, m, model.SideLender)
	if err != nil {
		return err
	}
	borrowerPos, err := ix.Position(ctx, ev, userAcct, debtMarket, model.SideBorrower)
	if err != nil {
		return err
	}

	amountUSD, err := ix.pricer.AmountInUSDForTru(ctx, amountLiquidated, collateralToken)
	if err != nil {
		return err
	}
	debtUSD, err := ix.pricer.AmountInUSD(ctx, debtAmount, debtToken)
	if err != nil {
		return err
	}

	liq := &model.Liquidate{
		EventRecord:    record(ev, m, borrowerPos, debtToken, amountLiquidated, amountUSD),
		Liquidator:     liqAcct.ID,
		Liquidatee:     userAcct.ID,
		LenderPosition: lenderPos.ID,
		ProfitUSD:      amountUSD.Sub(debtUSD),
	}
	if err := store.Save(ctx, ix.store, liq); err != nil {
		return err
	}
	if err := ix.UpdateUsageMetrics(ctx, ev, liquidator); err != nil {
		return err
	}
	if err := ix.AddMarketSupplySideRevenue(ctx, ev, m, liq.ProfitUSD); err != nil {
		return err
	}
	if err := ix.AddMarketVolume(ctx, ev, m, ActionLiquidate, amountUSD); err != nil {
		return err
	}
	if err := ix.IncrementProtocolLiquidateCount(ctx, ev, userAcct, liqAcct); err != nil {
		return err
	}
	if err := ix.bumpAccount(ctx, userAcct, func(a *model.Account) { a.LiquidationCount++ }); err != nil {
		return err
	}
	if err := ix.bumpAccount(ctx, liqAcct, func(a *model.Account) { a.LiquidateCount++ }); err != nil {
		return err
	}

	if err := ix.adjustPosition(ctx, lenderPos, m, new(big.Int).Neg(amountLiquidated)); err != nil {
		return err
	}
	var debtDelta *big.Int
	if debtAmount != nil {
		debtDelta = new(big.Int).Neg(debtAmount)
	} else {
		debtDelta = new(big.Int)
	}
	if err := ix.adjustPosition(ctx, borrowerPos, debtMarket, debtDelta); err != nil {
		return err
	}
	for _, pos := range []*model.Position{borrowerPos, lenderPos} {
		if err := ix.bumpPosition(ctx, pos, func(p *model.Position) { p.LiquidationCount++ }); err != nil {
			return err
		}
	}
	if err := ix.checkIfPositionClosed(ctx, ev, userAcct, m, lenderPos); err != nil {
		return err
	}
	if err := ix.checkIfPositionClosed(ctx, ev, userAcct, debtMarket, borrowerPos); err != nil {
		return err
	}
	ix.notify(ctx, liq)
	return nil
}
