// Package model defines the entity types materialized by the indexer.
// All USD values use shopspring/decimal, never float64.
// Raw on-chain token amounts are kept as *big.Int in native units.
package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Entity is anything the store can persist. Kind names the entity type
// (the table, in a relational store) and ID is unique within a kind.
type Entity interface {
	EntityKind() string
	EntityID() string
}

// Position sides.
const (
	SideLender   = "LENDER"
	SideBorrower = "BORROWER"
)

// Interest rate types.
const (
	RateFixed    = "FIXED"
	RateVariable = "VARIABLE"
	RateStable   = "STABLE"
)

// Token is an ERC20 seen by the indexer. UnderlyingAsset is set for
// wrapped/receipt tokens (tfTokens) and points to the reserve token id.
type Token struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        int32  `json:"decimals"`
	UnderlyingAsset string `json:"underlying_asset,omitempty"`
}

func (Token) EntityKind() string { return "Token" }
func (t Token) EntityID() string { return t.ID }

// RewardToken describes an emitted incentive token.
type RewardToken struct {
	ID              string `json:"id"`
	Token           string `json:"token"`
	Type            string `json:"type"`
	DistributionEnd int64  `json:"distribution_end"`
}

func (RewardToken) EntityKind() string { return "RewardToken" }
func (r RewardToken) EntityID() string { return r.ID }

// Market is one lending pool or managed portfolio contract. Its ID is the
// contract address, which is also the output (tf)token.
type Market struct {
	ID                   string          `json:"id"`
	Protocol             string          `json:"protocol"`
	Name                 string          `json:"name"`
	IsPool               bool            `json:"is_pool"`
	IsActive             bool            `json:"is_active"`
	CanUseAsCollateral   bool            `json:"can_use_as_collateral"`
	CanBorrowFrom        bool            `json:"can_borrow_from"`
	MaximumLTV           decimal.Decimal `json:"maximum_ltv"`
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
	LiquidationPenalty   decimal.Decimal `json:"liquidation_penalty"`
	InputToken           string          `json:"input_token"`
	OutputToken          string          `json:"output_token"`
	Rates                []string        `json:"rates"`
	CreatedTimestamp     int64           `json:"created_timestamp"`
	CreatedBlockNumber   uint64          `json:"created_block_number"`

	TotalValueLockedUSD              decimal.Decimal `json:"total_value_locked_usd"`
	CumulativeSupplySideRevenueUSD   decimal.Decimal `json:"cumulative_supply_side_revenue_usd"`
	CumulativeProtocolSideRevenueUSD decimal.Decimal `json:"cumulative_protocol_side_revenue_usd"`
	CumulativeTotalRevenueUSD        decimal.Decimal `json:"cumulative_total_revenue_usd"`
	TotalDepositBalanceUSD           decimal.Decimal `json:"total_deposit_balance_usd"`
	CumulativeDepositUSD             decimal.Decimal `json:"cumulative_deposit_usd"`
	TotalBorrowBalanceUSD            decimal.Decimal `json:"total_borrow_balance_usd"` // clamped at zero
	CumulativeBorrowUSD              decimal.Decimal `json:"cumulative_borrow_usd"`
	CumulativeLiquidateUSD           decimal.Decimal `json:"cumulative_liquidate_usd"`

	InputTokenBalance   *big.Int        `json:"input_token_balance"`
	InputTokenPriceUSD  decimal.Decimal `json:"input_token_price_usd"`
	OutputTokenSupply   *big.Int        `json:"output_token_supply"`
	OutputTokenPriceUSD decimal.Decimal `json:"output_token_price_usd"`
	ExchangeRate        decimal.Decimal `json:"exchange_rate"`

	RewardTokenEmissionsAmount []*big.Int        `json:"reward_token_emissions_amount,omitempty"`
	RewardTokenEmissionsUSD    []decimal.Decimal `json:"reward_token_emissions_usd,omitempty"`

	PositionCount          int `json:"position_count"`
	OpenPositionCount      int `json:"open_position_count"`
	ClosedPositionCount    int `json:"closed_position_count"`
	LendingPositionCount   int `json:"lending_position_count"`
	BorrowingPositionCount int `json:"borrowing_position_count"`
}

func (Market) EntityKind() string { return "Market" }
func (m Market) EntityID() string { return m.ID }

// LendingProtocol is the protocol-wide singleton.
type LendingProtocol struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Network     string `json:"network"`
	Type        string `json:"type"`
	LendingType string `json:"lending_type"`
	RiskType    string `json:"risk_type"`
	RewardToken string `json:"reward_token,omitempty"`

	SchemaVersion      string `json:"schema_version"`
	SubgraphVersion    string `json:"subgraph_version"`
	MethodologyVersion string `json:"methodology_version"`

	CumulativeUniqueUsers       int `json:"cumulative_unique_users"`
	CumulativeUniqueDepositors  int `json:"cumulative_unique_depositors"`
	CumulativeUniqueBorrowers   int `json:"cumulative_unique_borrowers"`
	CumulativeUniqueLiquidators int `json:"cumulative_unique_liquidators"`
	CumulativeUniqueLiquidatees int `json:"cumulative_unique_liquidatees"`

	TotalValueLockedUSD              decimal.Decimal `json:"total_value_locked_usd"`
	CumulativeSupplySideRevenueUSD   decimal.Decimal `json:"cumulative_supply_side_revenue_usd"`
	CumulativeProtocolSideRevenueUSD decimal.Decimal `json:"cumulative_protocol_side_revenue_usd"`
	CumulativeTotalRevenueUSD        decimal.Decimal `json:"cumulative_total_revenue_usd"`
	TotalDepositBalanceUSD           decimal.Decimal `json:"total_deposit_balance_usd"`
	CumulativeDepositUSD             decimal.Decimal `json:"cumulative_deposit_usd"`
	TotalBorrowBalanceUSD            decimal.Decimal `json:"total_borrow_balance_usd"`
	CumulativeBorrowUSD              decimal.Decimal `json:"cumulative_borrow_usd"`
	CumulativeLiquidateUSD           decimal.Decimal `json:"cumulative_liquidate_usd"`
	MintedTokenSupplies              []*big.Int      `json:"minted_token_supplies,omitempty"`

	TotalPoolCount          int `json:"total_pool_count"`
	OpenPositionCount       int `json:"open_position_count"`
	CumulativePositionCount int `json:"cumulative_position_count"`

	RewardTokenEmissionsAmount *big.Int        `json:"reward_token_emissions_amount"`
	RewardTokenEmissionsUSD    decimal.Decimal `json:"reward_token_emissions_usd"`
}

func (LendingProtocol) EntityKind() string { return "LendingProtocol" }
func (p LendingProtocol) EntityID() string { return p.ID }

// Account is one wallet address seen by any handler.
type Account struct {
	ID                  string `json:"id"`
	PositionCount       int    `json:"position_count"`
	OpenPositionCount   int    `json:"open_position_count"`
	ClosedPositionCount int    `json:"closed_position_count"`
	DepositCount        int    `json:"deposit_count"`
	WithdrawCount       int    `json:"withdraw_count"`
	BorrowCount         int    `json:"borrow_count"`
	RepayCount          int    `json:"repay_count"`
	LiquidateCount      int    `json:"liquidate_count"`   // as liquidator
	LiquidationCount    int    `json:"liquidation_count"` // as liquidatee
}

func (Account) EntityKind() string { return "Account" }
func (a Account) EntityID() string { return a.ID }

// Position ties an account to a market on one side. A closed position is
// never reopened; the next one gets a new counter suffix.
type Position struct {
	ID                string   `json:"id"`
	Account           string   `json:"account"`
	Market            string   `json:"market"`
	Side              string   `json:"side"`
	IsCollateral      bool     `json:"is_collateral"`
	Balance           *big.Int `json:"balance"`
	HashOpened        string   `json:"hash_opened"`
	BlockNumberOpened uint64   `json:"block_number_opened"`
	TimestampOpened   int64    `json:"timestamp_opened"`
	HashClosed        string   `json:"hash_closed,omitempty"`
	BlockNumberClosed uint64   `json:"block_number_closed,omitempty"`
	TimestampClosed   int64    `json:"timestamp_closed,omitempty"`
	DepositCount      int      `json:"deposit_count"`
	WithdrawCount     int      `json:"withdraw_count"`
	BorrowCount       int      `json:"borrow_count"`
	RepayCount        int      `json:"repay_count"`
	LiquidationCount  int      `json:"liquidation_count"`
}

func (Position) EntityKind() string { return "Position" }
func (p Position) EntityID() string { return p.ID }

// IsOpen reports whether the position has not been closed yet.
func (p Position) IsOpen() bool { return p.HashClosed == "" }

// PositionCounter tracks the next position suffix for one
// account-market-side triple.
type PositionCounter struct {
	ID        string `json:"id"`
	NextCount int    `json:"next_count"`
}

func (PositionCounter) EntityKind() string { return "PositionCounter" }
func (p PositionCounter) EntityID() string { return p.ID }

// IngestCheckpoint is the position of the last log whose effects were
// committed for an ingest source. It is written together with those
// effects, so a replayed range resumes right after it.
type IngestCheckpoint struct {
	ID       string `json:"id"`
	Block    uint64 `json:"block"`
	LogIndex uint   `json:"log_index"`
}

func (IngestCheckpoint) EntityKind() string { return "IngestCheckpoint" }
func (c IngestCheckpoint) EntityID() string { return c.ID }
