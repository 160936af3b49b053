package lending

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

// Account loads or creates the account for addr. A new account is counted
// as a unique protocol user.
func (ix *Indexer) Account(ctx context.Context, addr common.Address) (*model.Account, error) {
	id := model.AddressID(addr)
	acct, created, err := loadOr[model.Account](ctx, ix.store, id, func() *model.Account {
		return &model.Account{ID: id}
	})
	if err != nil || !created {
		return acct, err
	}
	if err := store.Save(ctx, ix.store, acct); err != nil {
		return nil, err
	}
	if err := ix.bumpProtocol(ctx, func(p *model.LendingProtocol) { p.CumulativeUniqueUsers++ }); err != nil {
		return nil, err
	}
	return acct, nil
}

func (ix *Indexer) bumpAccount(ctx context.Context, acct *model.Account, fn func(*model.Account)) error {
	fn(acct)
	return store.Save(ctx, ix.store, acct)
}
