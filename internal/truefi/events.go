// Package truefi decodes TrueFi contract logs into typed events and routes
// each one to the lending aggregation it drives.
package truefi

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/atmx/lending-indexer/internal/contract"
)

// ErrUnknownEvent is returned by DecodeLog for a log whose first topic is
// not a TrueFi event this package handles.
var ErrUnknownEvent = errors.New("truefi: unknown event")

// Kind names a decoded event type.
type Kind string

const (
	KindPoolCreated       Kind = "PoolCreated"
	KindPortfolioCreated  Kind = "PortfolioCreated"
	KindJoined            Kind = "Joined"
	KindExited            Kind = "Exited"
	KindDeposited         Kind = "Deposited"
	KindWithdrawn         Kind = "Withdrawn"
	KindTransfer          Kind = "Transfer"
	KindLoanCreated       Kind = "LoanCreated"
	KindLoanRepaid        Kind = "LoanRepaid"
	KindLiquidated        Kind = "Liquidated"
	KindRewardRateUpdated Kind = "RewardRateUpdated"
)

// Event is a decoded TrueFi log.
type Event interface {
	Kind() Kind
}

// PoolCreated is emitted by a pool factory for a new legacy pool.
type PoolCreated struct {
	Token common.Address
	Pool  common.Address
}

// PortfolioCreated is emitted by a portfolio factory.
type PortfolioCreated struct {
	NewPortfolio common.Address
	Manager      common.Address
}

// Joined is a pool deposit: Deposited underlying for Minted tfTokens.
type Joined struct {
	Staker    common.Address
	Deposited *big.Int
	Minted    *big.Int
}

// Exited is a pool withdrawal of Amount underlying.
type Exited struct {
	Staker common.Address
	Amount *big.Int
}

// Deposited is a portfolio deposit.
type Deposited struct {
	Lender common.Address
	Amount *big.Int
}

// Withdrawn is a portfolio withdrawal.
type Withdrawn struct {
	Lender         common.Address
	SharesAmount   *big.Int
	ReceivedAmount *big.Int
}

// Transfer is an ERC20 transfer of a market's receipt token.
type Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// LoanCreated is a loan drawn from Pool. APY is in basis points.
type LoanCreated struct {
	Pool     common.Address
	Borrower common.Address
	Amount   *big.Int
	APY      *big.Int
}

// LoanRepaid is a repayment of Amount principal plus Interest into Pool.
type LoanRepaid struct {
	Pool     common.Address
	Borrower common.Address
	Amount   *big.Int
	Interest *big.Int
}

// Liquidated is a liquidation of Borrower's collateral.
type Liquidated struct {
	Borrower         common.Address
	Liquidator       common.Address
	CollateralAsset  common.Address
	AmountLiquidated *big.Int
	DebtAsset        common.Address
	DebtAmount       *big.Int
}

// RewardRateUpdated is a farm changing its per-second emission.
type RewardRateUpdated struct {
	RewardToken     common.Address
	Rate            *big.Int
	DistributionEnd *big.Int
}

func (PoolCreated) Kind() Kind       { return KindPoolCreated }
func (PortfolioCreated) Kind() Kind  { return KindPortfolioCreated }
func (Joined) Kind() Kind            { return KindJoined }
func (Exited) Kind() Kind            { return KindExited }
func (Deposited) Kind() Kind         { return KindDeposited }
func (Withdrawn) Kind() Kind         { return KindWithdrawn }
func (Transfer) Kind() Kind          { return KindTransfer }
func (LoanCreated) Kind() Kind       { return KindLoanCreated }
func (LoanRepaid) Kind() Kind        { return KindLoanRepaid }
func (Liquidated) Kind() Kind        { return KindLiquidated }
func (RewardRateUpdated) Kind() Kind { return KindRewardRateUpdated }

// Topic returns the first-topic hash of an event kind.
func Topic(k Kind) common.Hash {
	return contract.TruefiEvents.Events[string(k)].ID
}

// Topics returns the first-topic hashes of every handled event, for use in
// a log filter.
func Topics() []common.Hash {
	out := make([]common.Hash, 0, len(contract.TruefiEvents.Events))
	for _, ev := range contract.TruefiEvents.Events {
		out = append(out, ev.ID)
	}
	return out
}

// DecodeLog decodes a TrueFi log into its typed event.
func DecodeLog(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := contract.TruefiEvents.EventByID(l.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, l.Topics[0].Hex())
	}

	fields := make(map[string]any)
	if err := ev.Inputs.UnpackIntoMap(fields, l.Data); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", ev.Name, err)
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(l.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("decode %s: expected %d indexed topics, got %d", ev.Name, len(indexed), len(l.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("decode %s topics: %w", ev.Name, err)
	}

	f := fieldReader{fields: fields}
	var out Event
	switch Kind(ev.Name) {
	case KindPoolCreated:
		out = PoolCreated{Token: f.addr("token"), Pool: f.addr("pool")}
	case KindPortfolioCreated:
		out = PortfolioCreated{NewPortfolio: f.addr("newPortfolio"), Manager: f.addr("manager")}
	case KindJoined:
		out = Joined{Staker: f.addr("staker"), Deposited: f.num("deposited"), Minted: f.num("minted")}
	case KindExited:
		out = Exited{Staker: f.addr("staker"), Amount: f.num("amount")}
	case KindDeposited:
		out = Deposited{Lender: f.addr("lender"), Amount: f.num("amount")}
	case KindWithdrawn:
		out = Withdrawn{Lender: f.addr("lender"), SharesAmount: f.num("sharesAmount"), ReceivedAmount: f.num("receivedAmount")}
	case KindTransfer:
		out = Transfer{From: f.addr("from"), To: f.addr("to"), Value: f.num("value")}
	case KindLoanCreated:
		out = LoanCreated{Pool: f.addr("pool"), Borrower: f.addr("borrower"), Amount: f.num("amount"), APY: f.num("apy")}
	case KindLoanRepaid:
		out = LoanRepaid{Pool: f.addr("pool"), Borrower: f.addr("borrower"), Amount: f.num("amount"), Interest: f.num("interest")}
	case KindLiquidated:
		out = Liquidated{
			Borrower:         f.addr("borrower"),
			Liquidator:       f.addr("liquidator"),
			CollateralAsset:  f.addr("collateralAsset"),
			AmountLiquidated: f.num("amountLiquidated"),
			DebtAsset:        f.addr("debtAsset"),
			DebtAmount:       f.num("debtAmount"),
		}
	case KindRewardRateUpdated:
		out = RewardRateUpdated{RewardToken: f.addr("rewardToken"), Rate: f.num("rate"), DistributionEnd: f.num("distributionEnd")}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Name)
	}
	if f.err != nil {
		return nil, fmt.Errorf("decode %s: %w", ev.Name, f.err)
	}
	return out, nil
}

// fieldReader pulls typed values out of an unpacked field map, keeping the
// first type mismatch.
type fieldReader struct {
	fields map[string]any
	err    error
}

func (f *fieldReader) addr(name string) common.Address {
	v, ok := f.fields[name].(common.Address)
	if !ok && f.err == nil {
		f.err = fmt.Errorf("field %s: not an address", name)
	}
	return v
}

func (f *fieldReader) num(name string) *big.Int {
	v, ok := f.fields[name].(*big.Int)
	if !ok {
		if f.err == nil {
			f.err = fmt.Errorf("field %s: not a uint256", name)
		}
		return new(big.Int)
	}
	return v
}
