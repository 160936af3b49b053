package model

import "github.com/shopspring/decimal"

// SystemSetting is a 900-second snapshot of Synthetix system configuration,
// keyed by the slot start timestamp. Nil fields mean the getter reverted
// (or does not exist on the deployed SystemSettings version).
type SystemSetting struct {
	ID                            string           `json:"id"`
	BlockNumber                   uint64           `json:"block_number"`
	Timestamp                     int64            `json:"timestamp"`
	WaitingPeriodSecs             *decimal.Decimal `json:"waiting_period_secs,omitempty"`
	PriceDeviationThresholdFactor *decimal.Decimal `json:"price_deviation_threshold_factor,omitempty"`
	IssuanceRatio                 *decimal.Decimal `json:"issuance_ratio,omitempty"`
	FeePeriodDuration             *decimal.Decimal `json:"fee_period_duration,omitempty"`
	TargetThreshold               *decimal.Decimal `json:"target_threshold,omitempty"`
	LiquidationDelay              *decimal.Decimal `json:"liquidation_delay,omitempty"`
	LiquidationRatio              *decimal.Decimal `json:"liquidation_ratio,omitempty"`
	LiquidationPenalty            *decimal.Decimal `json:"liquidation_penalty,omitempty"`
	RateStalePeriod               *decimal.Decimal `json:"rate_stale_period,omitempty"`
	MinimumStakeTime              *decimal.Decimal `json:"minimum_stake_time,omitempty"`
	DebtSnapshotStaleTime         *decimal.Decimal `json:"debt_snapshot_stale_time,omitempty"`
	AggregatorWarningFlags        string           `json:"aggregator_warning_flags,omitempty"`
	EtherWrapperMaxETH            *decimal.Decimal `json:"ether_wrapper_max_eth,omitempty"`
	EtherWrapperMintFeeRate       *decimal.Decimal `json:"ether_wrapper_mint_fee_rate,omitempty"`
	EtherWrapperBurnFeeRate       *decimal.Decimal `json:"ether_wrapper_burn_fee_rate,omitempty"`
	AtomicMaxVolumePerBlock       *decimal.Decimal `json:"atomic_max_volume_per_block,omitempty"`
	AtomicTwapWindow              *decimal.Decimal `json:"atomic_twap_window,omitempty"`
}

func (SystemSetting) EntityKind() string { return "SystemSetting" }
func (s SystemSetting) EntityID() string { return s.ID }

// DebtState is the global debt at one candle period, keyed
// "{period}-{periodStart}".
type DebtState struct {
	ID                string           `json:"id"`
	Period            int64            `json:"period"`
	BlockNumber       uint64           `json:"block_number"`
	Timestamp         int64            `json:"timestamp"`
	TotalIssuedSynths decimal.Decimal  `json:"total_issued_synths"`
	DebtEntry         *decimal.Decimal `json:"debt_entry,omitempty"`
	DebtRatio         *decimal.Decimal `json:"debt_ratio,omitempty"`
}

func (DebtState) EntityKind() string { return "DebtState" }
func (s DebtState) EntityID() string { return s.ID }
