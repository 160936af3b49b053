package truefi

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/lending"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/price"
	"github.com/atmx/lending-indexer/internal/store"
)

// ProtocolFeeShare is the part of loan interest kept by the protocol.
var ProtocolFeeShare = decimal.NewFromFloat(0.1)

// HandlerFunc applies one decoded event.
type HandlerFunc func(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error

// Handlers routes each event kind to its handler.
var Handlers = map[Kind]HandlerFunc{
	KindPoolCreated:       handlePoolCreated,
	KindPortfolioCreated:  handlePortfolioCreated,
	KindJoined:            handleJoined,
	KindExited:            handleExited,
	KindDeposited:         handleDeposited,
	KindWithdrawn:         handleWithdrawn,
	KindTransfer:          handleTransfer,
	KindLoanCreated:       handleLoanCreated,
	KindLoanRepaid:        handleLoanRepaid,
	KindLiquidated:        handleLiquidated,
	KindRewardRateUpdated: handleRewardRateUpdated,
}

// Dispatcher decodes logs and runs their handlers against an Indexer.
type Dispatcher struct {
	ix       *lending.Indexer
	logger   *slog.Logger
	onMarket func(common.Address)
}

// NewDispatcher creates a Dispatcher for ix.
func NewDispatcher(ix *lending.Indexer) *Dispatcher {
	return &Dispatcher{ix: ix, logger: ix.Logger()}
}

// OnNewMarket registers fn to be called with the address of every market
// created by a factory event, so its logs can be watched from then on.
func (d *Dispatcher) OnNewMarket(fn func(common.Address)) {
	d.onMarket = fn
}

// HandleLog decodes l and applies it. Logs that are not TrueFi events are
// ignored.
func (d *Dispatcher) HandleLog(ctx context.Context, ev model.Event, l types.Log) (Kind, error) {
	e, err := DecodeLog(l)
	if errors.Is(err, ErrUnknownEvent) {
		d.logger.Debug("unknown event", "topic", l.Topics, "address", l.Address.Hex())
		return "", nil
	}
	if err != nil {
		d.logger.Warn("undecodable log", "tx", l.TxHash.Hex(), "log_index", l.Index, "err", err)
		return "", nil
	}
	return e.Kind(), d.Handle(ctx, ev, e)
}

// Handle applies an already decoded event.
func (d *Dispatcher) Handle(ctx context.Context, ev model.Event, e Event) error {
	h, ok := Handlers[e.Kind()]
	if !ok {
		return nil
	}
	return h(ctx, d, ev, e)
}

func (d *Dispatcher) marketCreated(addr common.Address) {
	if d.onMarket != nil {
		d.onMarket(addr)
	}
}

// market resolves a market or returns nil after logging when it is unknown.
func (d *Dispatcher) market(ctx context.Context, addr common.Address, ev model.Event) (*model.Market, error) {
	m, err := d.ix.GetMarket(ctx, addr)
	if errors.Is(err, lending.ErrUnknownMarket) {
		d.logger.Warn("event for unknown market", "market", model.AddressID(addr), "tx", ev.Hash())
		return nil, nil
	}
	return m, err
}

// --- Market creation ---

func handlePoolCreated(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	pc := e.(PoolCreated)
	if err := d.ix.CreateMarket(ctx, ev, pc.Token, pc.Pool, true); err != nil {
		return err
	}
	d.marketCreated(pc.Pool)
	return nil
}

func handlePortfolioCreated(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	pc := e.(PortfolioCreated)
	b := contract.Bind(d.ix.Caller(), contract.ManagedPortfolio, pc.NewPortfolio, nil)
	underlying, err := contract.Try[common.Address](ctx, b, "underlyingToken")
	if err != nil {
		return err
	}
	if underlying.Reverted {
		d.logger.Warn("portfolio has no underlying token", "portfolio", model.AddressID(pc.NewPortfolio))
		return nil
	}
	if err := d.ix.CreateMarket(ctx, ev, underlying.Value, pc.NewPortfolio, false); err != nil {
		return err
	}
	d.marketCreated(pc.NewPortfolio)
	return nil
}

// --- Lender flows ---

func (d *Dispatcher) deposit(ctx context.Context, ev model.Event, user common.Address, amount *big.Int) error {
	m, err := d.market(ctx, ev.Address, ev)
	if err != nil || m == nil {
		return err
	}
	if err := d.ix.CreateDeposit(ctx, ev, common.HexToAddress(m.InputToken), user, amount, false); err != nil {
		return err
	}
	return d.ix.UpdateTokenSupply(ctx, ev, ev.Address)
}

func (d *Dispatcher) withdraw(ctx context.Context, ev model.Event, user common.Address, amount *big.Int) error {
	m, err := d.market(ctx, ev.Address, ev)
	if err != nil || m == nil {
		return err
	}
	if err := d.ix.CreateWithdraw(ctx, ev, common.HexToAddress(m.InputToken), user, amount, false); err != nil {
		return err
	}
	return d.ix.UpdateTokenSupply(ctx, ev, ev.Address)
}

func handleJoined(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	j := e.(Joined)
	return d.deposit(ctx, ev, j.Staker, j.Deposited)
}

func handleExited(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	x := e.(Exited)
	return d.withdraw(ctx, ev, x.Staker, x.Amount)
}

func handleDeposited(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	dep := e.(Deposited)
	return d.deposit(ctx, ev, dep.Lender, dep.Amount)
}

func handleWithdrawn(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	w := e.(Withdrawn)
	return d.withdraw(ctx, ev, w.Lender, w.ReceivedAmount)
}

// handleTransfer moves a receipt-token balance between two lenders. Mints
// and burns are covered by the join and exit events.
func handleTransfer(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	tr := e.(Transfer)
	if tr.From == (common.Address{}) || tr.To == (common.Address{}) {
		return nil
	}
	exists, err := store.Exists[model.Market](ctx, d.ix.Store(), model.AddressID(ev.Address))
	if err != nil || !exists {
		return err
	}
	m, err := d.ix.GetMarket(ctx, ev.Address)
	if err != nil {
		return err
	}

	amount, err := d.underlyingAmount(ctx, m, tr.Value)
	if err != nil {
		return err
	}
	reserve := common.HexToAddress(m.InputToken)
	if err := d.ix.CreateWithdraw(ctx, ev, reserve, tr.From, amount, true); err != nil {
		return err
	}
	return d.ix.CreateDeposit(ctx, ev, reserve, tr.To, amount, true)
}

// underlyingAmount converts receipt-token shares into input-token units at
// the market's last exchange rate.
func (d *Dispatcher) underlyingAmount(ctx context.Context, m *model.Market, shares *big.Int) (*big.Int, error) {
	in, err := store.Load[model.Token](ctx, d.ix.Store(), m.InputToken)
	if err != nil {
		return nil, err
	}
	out, err := store.Load[model.Token](ctx, d.ix.Store(), m.OutputToken)
	if err != nil {
		return nil, err
	}
	v := price.ToDecimal(shares, out.Decimals).Mul(m.ExchangeRate).Shift(in.Decimals)
	return v.BigInt(), nil
}

// --- Borrower flows ---

func handleLoanCreated(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	lc := e.(LoanCreated)
	m, err := d.market(ctx, lc.Pool, ev)
	if err != nil || m == nil {
		return err
	}
	if err := d.ix.CreateBorrow(ctx, ev, m, common.HexToAddress(m.InputToken), lc.Borrower, lc.Amount); err != nil {
		return err
	}
	if err := d.ix.ChangeMarketBorrowBalance(ctx, ev, m, lc.Amount); err != nil {
		return err
	}
	// APY is in basis points; rates are stored as percentages.
	rate := decimal.NewFromBigInt(lc.APY, -2)
	if err := d.ix.UpdateMarketRates(ctx, ev, m, rate); err != nil {
		return err
	}
	return d.ix.UpdateTokenSupply(ctx, ev, lc.Pool)
}

func handleLoanRepaid(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	lr := e.(LoanRepaid)
	m, err := d.market(ctx, lr.Pool, ev)
	if err != nil || m == nil {
		return err
	}
	reserve := common.HexToAddress(m.InputToken)
	if err := d.ix.CreateRepay(ctx, ev, m, reserve, lr.Borrower, lr.Amount); err != nil {
		return err
	}
	if err := d.ix.ChangeMarketBorrowBalance(ctx, ev, m, new(big.Int).Neg(lr.Amount)); err != nil {
		return err
	}

	if lr.Interest != nil && lr.Interest.Sign() > 0 {
		tok, err := store.Load[model.Token](ctx, d.ix.Store(), m.InputToken)
		if err != nil {
			return err
		}
		interestUSD, err := d.ix.Pricer().AmountInUSD(ctx, lr.Interest, tok)
		if err != nil {
			return err
		}
		protocolUSD := interestUSD.Mul(ProtocolFeeShare)
		if err := d.ix.AddMarketProtocolSideRevenue(ctx, ev, m, protocolUSD); err != nil {
			return err
		}
		if err := d.ix.AddMarketSupplySideRevenue(ctx, ev, m, interestUSD.Sub(protocolUSD)); err != nil {
			return err
		}
	}
	return d.ix.UpdateTokenSupply(ctx, ev, lr.Pool)
}

func handleLiquidated(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	l := e.(Liquidated)
	return d.ix.CreateLiquidate(ctx, ev, l.CollateralAsset, l.AmountLiquidated, l.DebtAsset, l.DebtAmount, l.Liquidator, l.Borrower)
}

// --- Rewards ---

func handleRewardRateUpdated(ctx context.Context, d *Dispatcher, ev model.Event, e Event) error {
	rr := e.(RewardRateUpdated)
	rt, err := d.ix.RewardToken(ctx, rr.RewardToken, lending.RewardTypeDeposit)
	if err != nil {
		return err
	}
	if rr.DistributionEnd.IsInt64() {
		rt.DistributionEnd = rr.DistributionEnd.Int64()
	}
	if err := store.Save(ctx, d.ix.Store(), rt); err != nil {
		return err
	}
	return d.ix.UpdateProtocolRewardToken(ctx, ev.Block.Timestamp, rt, rr.Rate)
}

// --- Bootstrap ---

// Known lists markets deployed before indexing starts.
type Known struct {
	Pools      []common.Address
	Portfolios []common.Address
	// Staking contracts are TRU-denominated markets, the collateral side of
	// liquidations.
	Staking []common.Address
}

// Bootstrap registers known markets so their logs are handled without the
// factory event. Pool and portfolio underlying tokens are read from the
// contract; markets whose read reverts are skipped.
func (d *Dispatcher) Bootstrap(ctx context.Context, b model.Block, known Known) error {
	ev := model.Event{Block: b}
	for _, p := range known.Pools {
		ev.Address = p
		tok, err := contract.Try[common.Address](ctx, contract.Bind(d.ix.Caller(), contract.TruefiPool, p, nil), "token")
		if err != nil {
			return err
		}
		if tok.Reverted {
			d.logger.Warn("pool has no token", "pool", model.AddressID(p))
			continue
		}
		if err := d.ix.CreateMarket(ctx, ev, tok.Value, p, true); err != nil {
			return err
		}
		d.marketCreated(p)
	}
	for _, p := range known.Portfolios {
		ev.Address = p
		if err := handlePortfolioCreated(ctx, d, ev, PortfolioCreated{NewPortfolio: p}); err != nil {
			return err
		}
	}
	for _, s := range known.Staking {
		ev.Address = s
		if err := d.ix.CreateMarket(ctx, ev, price.TRU, s, true); err != nil {
			return err
		}
		d.marketCreated(s)
	}
	return nil
}
