package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// EventRecord holds the fields every immutable event entity carries.
// ID is "{txHash}-{logIndex}". Once saved these are never modified.
type EventRecord struct {
	ID          string          `json:"id"`
	Hash        string          `json:"hash"`
	Nonce       uint64          `json:"nonce"`
	LogIndex    uint            `json:"log_index"`
	BlockNumber uint64          `json:"block_number"`
	Timestamp   int64           `json:"timestamp"`
	Market      string          `json:"market"`
	Position    string          `json:"position"`
	Asset       string          `json:"asset"`
	Amount      *big.Int        `json:"amount"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
}

// Deposit is a lender supplying the input token to a market.
type Deposit struct {
	EventRecord
	Account string `json:"account"`
}

func (Deposit) EntityKind() string { return "Deposit" }
func (d Deposit) EntityID() string { return d.ID }

// Withdraw is a lender redeeming from a market.
type Withdraw struct {
	EventRecord
	Account string `json:"account"`
}

func (Withdraw) EntityKind() string { return "Withdraw" }
func (w Withdraw) EntityID() string { return w.ID }

// Borrow is a loan drawn from a market.
type Borrow struct {
	EventRecord
	Account string `json:"account"`
}

func (Borrow) EntityKind() string { return "Borrow" }
func (b Borrow) EntityID() string { return b.ID }

// Repay is a loan repayment into a market.
type Repay struct {
	EventRecord
	Account string `json:"account"`
}

func (Repay) EntityKind() string { return "Repay" }
func (r Repay) EntityID() string { return r.ID }

// Liquidate records a liquidation. Position is the liquidatee's borrower
// position; LenderPosition is the liquidatee's lender position in the
// collateral market.
type Liquidate struct {
	EventRecord
	Liquidator     string          `json:"liquidator"`
	Liquidatee     string          `json:"liquidatee"`
	LenderPosition string          `json:"lender_position"`
	ProfitUSD      decimal.Decimal `json:"profit_usd"`
}

func (Liquidate) EntityKind() string { return "Liquidate" }
func (l Liquidate) EntityID() string { return l.ID }
