package lending

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

// CreateInterestRates saves a new BORROWER and LENDER fixed-rate pair for m
// and returns their ids. The lender rate is the borrower rate scaled by the
// market's utilization (borrowed / deposited).
func (ix *Indexer) CreateInterestRates(ctx context.Context, m *model.Market, borrowerRate decimal.Decimal, timestamp int64) ([]string, error) {
	lenderRate := borrowerRate.Mul(Utilization(m))

	rates := []*model.InterestRate{
		{
			ID:     rateID(model.SideBorrower, model.RateFixed, m.ID, timestamp),
			Side:   model.SideBorrower,
			Type:   model.RateFixed,
			Rate:   borrowerRate,
			Market: m.ID,
		},
		{
			ID:     rateID(model.SideLender, model.RateFixed, m.ID, timestamp),
			Side:   model.SideLender,
			Type:   model.RateFixed,
			Rate:   lenderRate,
			Market: m.ID,
		},
	}
	ids := make([]string, 0, len(rates))
	for _, r := range rates {
		if err := store.Save(ctx, ix.store, r); err != nil {
			return nil, err
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Utilization is the share of deposits currently lent out, in [0, 1] for
// a healthy market. A market with no deposits has zero utilization.
func Utilization(m *model.Market) decimal.Decimal {
	if !m.TotalDepositBalanceUSD.IsPositive() {
		return decimal.Zero
	}
	return m.TotalBorrowBalanceUSD.Div(m.TotalDepositBalanceUSD)
}

func rateID(side, typ, market string, timestamp int64) string {
	return fmt.Sprintf("%s-%s-%s-%d", side, typ, market, timestamp)
}
