package synthetix_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/addresses"
	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/contract/contracttest"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
	"github.com/atmx/lending-indexer/internal/synthetix"
)

var (
	snx       = common.HexToAddress("0x00000000000000000000000000000000000005a1")
	settings  = common.HexToAddress("0x00000000000000000000000000000000000005a2")
	debtShare = common.HexToAddress("0x00000000000000000000000000000000000005a3")
	table     = addresses.Table{"mainnet": {
		"Synthetix":          snx,
		"SystemSettings":     settings,
		"SynthetixDebtShare": debtShare,
	}}
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTracker() (*synthetix.Tracker, *contracttest.Fake, *store.MemoryStore) {
	fake := contracttest.New()
	ms := store.NewMemoryStore()
	return synthetix.New(ms, fake, table, "mainnet", nil), fake, ms
}

// 2022-01-01T00:05:00Z, 300 s into a slot.
const ts = int64(1640995500)

func TestHandleBlock_Schedule(t *testing.T) {
	tests := []struct {
		block          uint64
		settings, debt int
	}{
		{block: 12_000, settings: 1, debt: 7},
		{block: 12_025, settings: 0, debt: 7},
		{block: 12_001, settings: 0, debt: 0},
	}
	for _, tt := range tests {
		tr, fake, ms := newTracker()
		fake.Return(snx, contract.Synthetix, "totalIssuedSynths", e18(100))

		if err := tr.HandleBlock(context.Background(), model.Block{Number: tt.block, Timestamp: ts}); err != nil {
			t.Fatalf("block %d: %v", tt.block, err)
		}
		if got := ms.Count("SystemSetting"); got != tt.settings {
			t.Errorf("block %d: expected %d settings rows, got %d", tt.block, tt.settings, got)
		}
		if got := ms.Count("DebtState"); got != tt.debt {
			t.Errorf("block %d: expected %d debt rows, got %d", tt.block, tt.debt, got)
		}
		if synthetix.Due(tt.block) != (tt.debt > 0 || tt.settings > 0) {
			t.Errorf("block %d: Due disagrees with HandleBlock", tt.block)
		}
	}
}

func TestTrackSystemSettings_RevertedFieldsUnset(t *testing.T) {
	tr, fake, ms := newTracker()
	fake.Return(settings, contract.SystemSettings, "issuanceRatio", new(big.Int).Div(e18(1), big.NewInt(4)))
	fake.Return(settings, contract.SystemSettings, "waitingPeriodSecs", big.NewInt(360))

	ctx := context.Background()
	if err := tr.TrackSystemSettings(ctx, model.Block{Number: 6000, Timestamp: ts}); err != nil {
		t.Fatal(err)
	}
	row, err := store.Load[model.SystemSetting](ctx, ms, "1640995200")
	if err != nil {
		t.Fatal(err)
	}
	if row.IssuanceRatio == nil || !row.IssuanceRatio.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("expected issuance ratio 0.25, got %v", row.IssuanceRatio)
	}
	if row.WaitingPeriodSecs == nil || row.WaitingPeriodSecs.IntPart() != 360 {
		t.Errorf("expected waiting period 360, got %v", row.WaitingPeriodSecs)
	}
	if row.LiquidationRatio != nil {
		t.Errorf("expected reverted getter to stay unset, got %v", row.LiquidationRatio)
	}
}

func TestTrackSystemSettings_IdempotentPerSlot(t *testing.T) {
	tr, fake, ms := newTracker()
	fake.Return(settings, contract.SystemSettings, "issuanceRatio", e18(1))
	ctx := context.Background()

	if err := tr.TrackSystemSettings(ctx, model.Block{Number: 6000, Timestamp: ts}); err != nil {
		t.Fatal(err)
	}
	fake.Return(settings, contract.SystemSettings, "issuanceRatio", e18(2))
	// Same block again, then a later block in the same slot.
	for _, b := range []model.Block{{Number: 6000, Timestamp: ts}, {Number: 6001, Timestamp: ts + 500}} {
		if err := tr.TrackSystemSettings(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	if ms.Count("SystemSetting") != 1 {
		t.Fatalf("expected 1 row, got %d", ms.Count("SystemSetting"))
	}
	row, err := store.Load[model.SystemSetting](ctx, ms, "1640995200")
	if err != nil {
		t.Fatal(err)
	}
	if row.BlockNumber != 6000 || row.IssuanceRatio.IntPart() != 1 {
		t.Errorf("expected first row kept, got block %d ratio %v", row.BlockNumber, row.IssuanceRatio)
	}
}

func TestTrackGlobalDebt(t *testing.T) {
	tr, fake, ms := newTracker()
	fake.Return(snx, contract.Synthetix, "totalIssuedSynthsExcludeEtherCollateral", e18(500))
	fake.Return(snx, contract.Synthetix, "totalIssuedSynths", e18(1))
	fake.Return(debtShare, contract.DebtShare, "totalSupply", e18(250))

	ctx := context.Background()
	if err := tr.TrackGlobalDebt(ctx, model.Block{Number: 25, Timestamp: ts}); err != nil {
		t.Fatal(err)
	}
	rows, err := store.All[model.DebtState](ctx, ms)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(synthetix.CandlePeriods) {
		t.Fatalf("expected %d rows, got %d", len(synthetix.CandlePeriods), len(rows))
	}
	for _, r := range rows {
		if r.TotalIssuedSynths.IntPart() != 500 {
			t.Errorf("%s: expected total issued 500, got %s", r.ID, r.TotalIssuedSynths)
		}
		if r.DebtRatio == nil || r.DebtRatio.IntPart() != 2 {
			t.Errorf("%s: expected debt ratio 2, got %v", r.ID, r.DebtRatio)
		}
	}
	if _, err := store.Load[model.DebtState](ctx, ms, "3600-1640995200"); err != nil {
		t.Errorf("expected hourly row: %v", err)
	}
}

func TestTrackGlobalDebt_AllRevert(t *testing.T) {
	tr, _, ms := newTracker()
	if err := tr.TrackGlobalDebt(context.Background(), model.Block{Number: 25, Timestamp: ts}); err != nil {
		t.Fatalf("reverts must not error: %v", err)
	}
	if ms.Count("DebtState") != 0 {
		t.Error("expected no rows")
	}
}

func TestTrackGlobalDebt_ShareSupplyReverts(t *testing.T) {
	tr, fake, ms := newTracker()
	fake.Return(snx, contract.Synthetix, "totalIssuedSynths", e18(7))

	ctx := context.Background()
	if err := tr.TrackGlobalDebt(ctx, model.Block{Number: 50, Timestamp: ts}); err != nil {
		t.Fatal(err)
	}
	row, err := store.Load[model.DebtState](ctx, ms, "900-1640995200")
	if err != nil {
		t.Fatal(err)
	}
	if row.DebtEntry != nil || row.DebtRatio != nil {
		t.Errorf("expected debt entry and ratio unset, got %v %v", row.DebtEntry, row.DebtRatio)
	}
}

func TestUnknownNetworkSkips(t *testing.T) {
	ms := store.NewMemoryStore()
	tr := synthetix.New(ms, contracttest.New(), table, "goerli", nil)
	if err := tr.HandleBlock(context.Background(), model.Block{Number: 6000, Timestamp: ts}); err != nil {
		t.Fatal(err)
	}
	if ms.Count("SystemSetting")+ms.Count("DebtState") != 0 {
		t.Error("expected nothing written for an unknown network")
	}
}
