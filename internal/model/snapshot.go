package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// MarketMetrics are the live values a market snapshot copies verbatim
// from its market on every save.
type MarketMetrics struct {
	TotalValueLockedUSD              decimal.Decimal   `json:"total_value_locked_usd"`
	CumulativeSupplySideRevenueUSD   decimal.Decimal   `json:"cumulative_supply_side_revenue_usd"`
	CumulativeProtocolSideRevenueUSD decimal.Decimal   `json:"cumulative_protocol_side_revenue_usd"`
	CumulativeTotalRevenueUSD        decimal.Decimal   `json:"cumulative_total_revenue_usd"`
	TotalDepositBalanceUSD           decimal.Decimal   `json:"total_deposit_balance_usd"`
	CumulativeDepositUSD             decimal.Decimal   `json:"cumulative_deposit_usd"`
	TotalBorrowBalanceUSD            decimal.Decimal   `json:"total_borrow_balance_usd"`
	CumulativeBorrowUSD              decimal.Decimal   `json:"cumulative_borrow_usd"`
	CumulativeLiquidateUSD           decimal.Decimal   `json:"cumulative_liquidate_usd"`
	InputTokenBalance                *big.Int          `json:"input_token_balance"`
	InputTokenPriceUSD               decimal.Decimal   `json:"input_token_price_usd"`
	OutputTokenSupply                *big.Int          `json:"output_token_supply"`
	OutputTokenPriceUSD              decimal.Decimal   `json:"output_token_price_usd"`
	ExchangeRate                     decimal.Decimal   `json:"exchange_rate"`
	RewardTokenEmissionsAmount       []*big.Int        `json:"reward_token_emissions_amount,omitempty"`
	RewardTokenEmissionsUSD          []decimal.Decimal `json:"reward_token_emissions_usd,omitempty"`
}

// PeriodVolumes are the per-bucket accumulators of a snapshot.
type PeriodVolumes struct {
	SupplySideRevenueUSD   decimal.Decimal `json:"supply_side_revenue_usd"`
	ProtocolSideRevenueUSD decimal.Decimal `json:"protocol_side_revenue_usd"`
	TotalRevenueUSD        decimal.Decimal `json:"total_revenue_usd"`
	DepositUSD             decimal.Decimal `json:"deposit_usd"`
	BorrowUSD              decimal.Decimal `json:"borrow_usd"`
	LiquidateUSD           decimal.Decimal `json:"liquidate_usd"`
	WithdrawUSD            decimal.Decimal `json:"withdraw_usd"`
	RepayUSD               decimal.Decimal `json:"repay_usd"`
}

// MarketDailySnapshot is keyed "{market}-{day}".
type MarketDailySnapshot struct {
	ID          string   `json:"id"`
	Protocol    string   `json:"protocol"`
	Market      string   `json:"market"`
	Rates       []string `json:"rates"`
	BlockNumber uint64   `json:"block_number"`
	Timestamp   int64    `json:"timestamp"`
	MarketMetrics
	Daily PeriodVolumes `json:"daily"`
}

func (MarketDailySnapshot) EntityKind() string { return "MarketDailySnapshot" }
func (s MarketDailySnapshot) EntityID() string { return s.ID }

// MarketHourlySnapshot is keyed "{market}-{hour}".
type MarketHourlySnapshot struct {
	ID          string   `json:"id"`
	Protocol    string   `json:"protocol"`
	Market      string   `json:"market"`
	Rates       []string `json:"rates"`
	BlockNumber uint64   `json:"block_number"`
	Timestamp   int64    `json:"timestamp"`
	MarketMetrics
	Hourly PeriodVolumes `json:"hourly"`
}

func (MarketHourlySnapshot) EntityKind() string { return "MarketHourlySnapshot" }
func (s MarketHourlySnapshot) EntityID() string { return s.ID }

// FinancialsDailySnapshot is the protocol-wide daily rollup, keyed "{day}".
type FinancialsDailySnapshot struct {
	ID                               string          `json:"id"`
	Protocol                         string          `json:"protocol"`
	BlockNumber                      uint64          `json:"block_number"`
	Timestamp                        int64           `json:"timestamp"`
	TotalValueLockedUSD              decimal.Decimal `json:"total_value_locked_usd"`
	MintedTokenSupplies              []*big.Int      `json:"minted_token_supplies,omitempty"`
	RewardTokenEmissionsAmount       *big.Int        `json:"reward_token_emissions_amount"`
	RewardTokenEmissionsUSD          decimal.Decimal `json:"reward_token_emissions_usd"`
	CumulativeSupplySideRevenueUSD   decimal.Decimal `json:"cumulative_supply_side_revenue_usd"`
	CumulativeProtocolSideRevenueUSD decimal.Decimal `json:"cumulative_protocol_side_revenue_usd"`
	CumulativeTotalRevenueUSD        decimal.Decimal `json:"cumulative_total_revenue_usd"`
	TotalDepositBalanceUSD           decimal.Decimal `json:"total_deposit_balance_usd"`
	CumulativeDepositUSD             decimal.Decimal `json:"cumulative_deposit_usd"`
	TotalBorrowBalanceUSD            decimal.Decimal `json:"total_borrow_balance_usd"`
	CumulativeBorrowUSD              decimal.Decimal `json:"cumulative_borrow_usd"`
	CumulativeLiquidateUSD           decimal.Decimal `json:"cumulative_liquidate_usd"`
	Daily                            PeriodVolumes   `json:"daily"`
}

func (FinancialsDailySnapshot) EntityKind() string { return "FinancialsDailySnapshot" }
func (s FinancialsDailySnapshot) EntityID() string { return s.ID }

// UsageCounts are per-bucket transaction and activity counters.
type UsageCounts struct {
	ActiveUsers       int `json:"active_users"`
	TransactionCount  int `json:"transaction_count"`
	DepositCount      int `json:"deposit_count"`
	WithdrawCount     int `json:"withdraw_count"`
	BorrowCount       int `json:"borrow_count"`
	RepayCount        int `json:"repay_count"`
	LiquidateCount    int `json:"liquidate_count"`
	ActiveDepositors  int `json:"active_depositors"`
	ActiveBorrowers   int `json:"active_borrowers"`
	ActiveLiquidators int `json:"active_liquidators"`
	ActiveLiquidatees int `json:"active_liquidatees"`
}

// UsageMetricsDailySnapshot is keyed "{day}".
type UsageMetricsDailySnapshot struct {
	ID                          string      `json:"id"`
	Protocol                    string      `json:"protocol"`
	BlockNumber                 uint64      `json:"block_number"`
	Timestamp                   int64       `json:"timestamp"`
	CumulativeUniqueUsers       int         `json:"cumulative_unique_users"`
	CumulativeUniqueDepositors  int         `json:"cumulative_unique_depositors"`
	CumulativeUniqueBorrowers   int         `json:"cumulative_unique_borrowers"`
	CumulativeUniqueLiquidators int         `json:"cumulative_unique_liquidators"`
	CumulativeUniqueLiquidatees int         `json:"cumulative_unique_liquidatees"`
	CumulativePositionCount     int         `json:"cumulative_position_count"`
	OpenPositionCount           int         `json:"open_position_count"`
	TotalPoolCount              int         `json:"total_pool_count"`
	Daily                       UsageCounts `json:"daily"`
}

func (UsageMetricsDailySnapshot) EntityKind() string { return "UsageMetricsDailySnapshot" }
func (s UsageMetricsDailySnapshot) EntityID() string { return s.ID }

// UsageMetricsHourlySnapshot is keyed "{hour}".
type UsageMetricsHourlySnapshot struct {
	ID                    string      `json:"id"`
	Protocol              string      `json:"protocol"`
	BlockNumber           uint64      `json:"block_number"`
	Timestamp             int64       `json:"timestamp"`
	CumulativeUniqueUsers int         `json:"cumulative_unique_users"`
	Hourly                UsageCounts `json:"hourly"`
}

func (UsageMetricsHourlySnapshot) EntityKind() string { return "UsageMetricsHourlySnapshot" }
func (s UsageMetricsHourlySnapshot) EntityID() string { return s.ID }

// InterestRate is recreated (new ID) on every rate change rather than
// mutated, and copied again for each snapshot that references it.
type InterestRate struct {
	ID     string          `json:"id"`
	Side   string          `json:"side"`
	Type   string          `json:"type"`
	Rate   decimal.Decimal `json:"rate"` // percentage, e.g. 5.25 = 5.25%
	Market string          `json:"market,omitempty"`
}

func (InterestRate) EntityKind() string { return "InterestRate" }
func (r InterestRate) EntityID() string { return r.ID }

// ActiveAccount is a dedup marker. Its existence alone means "already
// counted for this bucket"; it carries no data.
type ActiveAccount struct {
	ID string `json:"id"`
}

func (ActiveAccount) EntityKind() string { return "ActiveAccount" }
func (a ActiveAccount) EntityID() string { return a.ID }
