package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

const (
	unknownName     = "unknown"
	defaultDecimals = 18

	RewardTypeDeposit = "DEPOSIT"
)

// Token loads the token at addr, reading its ERC20 metadata from the chain
// the first time it is seen. underlying, when non-empty, marks the token as
// a receipt token for that asset.
func (ix *Indexer) Token(ctx context.Context, addr common.Address, underlying string) (*model.Token, error) {
	tok, created, err := loadOr[model.Token](ctx, ix.store, model.AddressID(addr), func() *model.Token {
		return &model.Token{ID: model.AddressID(addr)}
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return tok, nil
	}

	b := contract.Bind(ix.caller, contract.ERC20, addr, nil)
	name, err := contract.Try[string](ctx, b, "name")
	if err != nil {
		return nil, err
	}
	symbol, err := contract.Try[string](ctx, b, "symbol")
	if err != nil {
		return nil, err
	}
	decimals, err := contract.Try[uint8](ctx, b, "decimals")
	if err != nil {
		return nil, err
	}

	tok.Name, tok.Symbol, tok.Decimals = unknownName, unknownName, defaultDecimals
	if !name.Reverted {
		tok.Name = name.Value
	}
	if !symbol.Reverted {
		tok.Symbol = symbol.Value
	}
	if !decimals.Reverted {
		tok.Decimals = int32(decimals.Value)
	} else {
		ix.logger.Debug("decimals reverted, assuming default", "token", tok.ID, "decimals", defaultDecimals)
	}
	tok.UnderlyingAsset = underlying

	if err := store.Save(ctx, ix.store, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// RewardToken loads or creates the reward token entry for token.
func (ix *Indexer) RewardToken(ctx context.Context, token common.Address, rewardType string) (*model.RewardToken, error) {
	if _, err := ix.Token(ctx, token, ""); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("%s-%s", rewardType, model.AddressID(token))
	rt, created, err := loadOr[model.RewardToken](ctx, ix.store, id, func() *model.RewardToken {
		return &model.RewardToken{ID: id, Token: model.AddressID(token), Type: rewardType}
	})
	if err != nil {
		return nil, err
	}
	if created {
		if err := store.Save(ctx, ix.store, rt); err != nil {
			return nil, err
		}
	}
	return rt, nil
}
