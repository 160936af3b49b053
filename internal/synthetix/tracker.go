// Package synthetix snapshots Synthetix system settings and global debt on a
// block schedule. Each snapshot is keyed by a 900-second slot so a block
// handled twice never produces a second row.
package synthetix

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/addresses"
	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/price"
	"github.com/atmx/lending-indexer/internal/store"
)

const (
	SettingsInterval = 6000
	DebtInterval     = 25
	SlotSeconds      = 900
)

// CandlePeriods are the bucket widths, in seconds, that each global debt
// reading is written under.
var CandlePeriods = []int64{
	365 * 86400,
	30 * 86400,
	7 * 86400,
	86400,
	4 * 3600,
	3600,
	15 * 60,
}

// Tracker runs the periodic Synthetix refreshes.
type Tracker struct {
	store   store.Store
	caller  contract.Caller
	table   addresses.Table
	network string
	logger  *slog.Logger
}

// New creates a Tracker reading contracts on network (for example
// "mainnet"). A nil table selects the embedded deployment table.
func New(st store.Store, caller contract.Caller, table addresses.Table, network string, logger *slog.Logger) *Tracker {
	if table == nil {
		table = addresses.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:   st,
		caller:  caller,
		table:   table,
		network: strings.ToLower(network),
		logger:  logger,
	}
}

// Due reports whether HandleBlock does anything at block number n.
func Due(n uint64) bool {
	return n%SettingsInterval == 0 || n%DebtInterval == 0
}

// HandleBlock runs whichever refreshes are scheduled for b.
func (t *Tracker) HandleBlock(ctx context.Context, b model.Block) error {
	if b.Number%SettingsInterval == 0 {
		if err := t.TrackSystemSettings(ctx, b); err != nil {
			return fmt.Errorf("system settings at %d: %w", b.Number, err)
		}
	}
	if b.Number%DebtInterval == 0 {
		if err := t.TrackGlobalDebt(ctx, b); err != nil {
			return fmt.Errorf("global debt at %d: %w", b.Number, err)
		}
	}
	return nil
}

func slot(ts int64) int64 { return ts - ts%SlotSeconds }

// --- System settings ---

// setting reads one uint getter into a field. Values with decimals 18 are
// ratios; 0 means a plain count of seconds or units.
type setting struct {
	method   string
	decimals int32
	field    func(*model.SystemSetting) **decimal.Decimal
}

var settings = []setting{
	{"waitingPeriodSecs", 0, func(s *model.SystemSetting) **decimal.Decimal { return &s.WaitingPeriodSecs }},
	{"priceDeviationThresholdFactor", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.PriceDeviationThresholdFactor }},
	{"issuanceRatio", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.IssuanceRatio }},
	{"feePeriodDuration", 0, func(s *model.SystemSetting) **decimal.Decimal { return &s.FeePeriodDuration }},
	{"targetThreshold", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.TargetThreshold }},
	{"liquidationDelay", 0, func(s *model.SystemSetting) **decimal.Decimal { return &s.LiquidationDelay }},
	{"liquidationRatio", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.LiquidationRatio }},
	{"liquidationPenalty", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.LiquidationPenalty }},
	{"rateStalePeriod", 0, func(s *model.SystemSetting) **decimal.Decimal { return &s.RateStalePeriod }},
	{"minimumStakeTime", 0, func(s *model.SystemSetting) **decimal.Decimal { return &s.MinimumStakeTime }},
	{"debtSnapshotStaleTime", 0, func(s *model.SystemSetting) **decimal.Decimal { return &s.DebtSnapshotStaleTime }},
	{"etherWrapperMaxETH", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.EtherWrapperMaxETH }},
	{"etherWrapperMintFeeRate", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.EtherWrapperMintFeeRate }},
	{"etherWrapperBurnFeeRate", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.EtherWrapperBurnFeeRate }},
	{"atomicMaxVolumePerBlock", 18, func(s *model.SystemSetting) **decimal.Decimal { return &s.AtomicMaxVolumePerBlock }},
	{"atomicTwapWindow", 0, func(s *model.SystemSetting) **decimal.Decimal { return &s.AtomicTwapWindow }},
}

// TrackSystemSettings saves one SystemSetting row for the block's slot
// unless it already exists. Getters that revert leave their field unset.
func (t *Tracker) TrackSystemSettings(ctx context.Context, b model.Block) error {
	id := fmt.Sprint(slot(b.Timestamp))
	exists, err := store.Exists[model.SystemSetting](ctx, t.store, id)
	if err != nil || exists {
		return err
	}
	addr, ok := t.table.Resolve("SystemSettings", t.network, b.Number)
	if !ok {
		t.logger.Warn("no SystemSettings deployment", "network", t.network)
		return nil
	}

	row := &model.SystemSetting{ID: id, BlockNumber: b.Number, Timestamp: b.Timestamp}
	bind := contract.Bind(t.caller, contract.SystemSettings, addr, new(big.Int).SetUint64(b.Number))
	for _, s := range settings {
		r, err := contract.Try[*big.Int](ctx, bind, s.method)
		if err != nil {
			return err
		}
		if r.Reverted {
			continue
		}
		v := price.ToDecimal(r.Value, s.decimals)
		*s.field(row) = &v
	}

	flags, err := contract.Try[common.Address](ctx, bind, "aggregatorWarningFlags")
	if err != nil {
		return err
	}
	if !flags.Reverted {
		row.AggregatorWarningFlags = model.AddressID(flags.Value)
	}

	if err := store.Save(ctx, t.store, row); err != nil {
		return err
	}
	t.logger.Info("system settings tracked", "block", b.Number, "slot", id)
	return nil
}

// --- Global debt ---

// TrackGlobalDebt writes a DebtState row per candle period for the block's
// slot. The 15-minute row doubles as the slot guard.
func (t *Tracker) TrackGlobalDebt(ctx context.Context, b model.Block) error {
	guard := debtID(SlotSeconds, b.Timestamp)
	exists, err := store.Exists[model.DebtState](ctx, t.store, guard)
	if err != nil || exists {
		return err
	}
	snxAddr, ok := t.table.Resolve("Synthetix", t.network, b.Number)
	if !ok {
		t.logger.Warn("no Synthetix deployment", "network", t.network)
		return nil
	}

	block := new(big.Int).SetUint64(b.Number)
	sUSD := contract.Bytes32("sUSD")
	issued, err := contract.FirstOf[*big.Int](ctx, contract.Bind(t.caller, contract.Synthetix, snxAddr, block),
		contract.Attempt{Method: "totalIssuedSynthsExcludeOtherCollateral", Args: []any{sUSD}},
		contract.Attempt{Method: "totalIssuedSynthsExcludeEtherCollateral", Args: []any{sUSD}},
		contract.Attempt{Method: "totalIssuedSynths", Args: []any{sUSD}},
	)
	if err != nil {
		return err
	}
	if issued.Reverted {
		t.logger.Warn("total issued synths unavailable", "block", b.Number)
		return nil
	}
	totalIssued := price.ToDecimal(issued.Value, 18)

	var debtEntry, debtRatio *decimal.Decimal
	if shareAddr, ok := t.table.Resolve("SynthetixDebtShare", t.network, b.Number); ok {
		supply, err := contract.Try[*big.Int](ctx, contract.Bind(t.caller, contract.DebtShare, shareAddr, block), "totalSupply")
		if err != nil {
			return err
		}
		if !supply.Reverted {
			entry := price.ToDecimal(supply.Value, 18)
			debtEntry = &entry
			if entry.IsPositive() {
				ratio := totalIssued.Div(entry)
				debtRatio = &ratio
			}
		}
	}

	for _, period := range CandlePeriods {
		row := &model.DebtState{
			ID:                debtID(period, b.Timestamp),
			Period:            period,
			BlockNumber:       b.Number,
			Timestamp:         b.Timestamp,
			TotalIssuedSynths: totalIssued,
			DebtEntry:         debtEntry,
			DebtRatio:         debtRatio,
		}
		if err := store.Save(ctx, t.store, row); err != nil {
			return err
		}
	}
	t.logger.Debug("global debt tracked", "block", b.Number, "total_issued", totalIssued)
	return nil
}

func debtID(period, ts int64) string {
	return fmt.Sprintf("%d-%d", period, ts-ts%period)
}
