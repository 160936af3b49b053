package ingest

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/atmx/lending-indexer/internal/model"
)

// blockCache memoizes header and transaction lookups for one range.
type blockCache struct {
	r       *Runner
	headers map[uint64]model.Block
	senders map[common.Hash]txInfo
}

type txInfo struct {
	from  common.Address
	nonce uint64
}

func newBlockCache(r *Runner) *blockCache {
	return &blockCache{
		r:       r,
		headers: make(map[uint64]model.Block),
		senders: make(map[common.Hash]txInfo),
	}
}

func (c *blockCache) block(ctx context.Context, n uint64) (model.Block, error) {
	if b, ok := c.headers[n]; ok {
		return b, nil
	}
	h, err := retry(ctx, c.r, "eth_getBlockByNumber", func() (*types.Header, error) {
		return c.r.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	})
	if err != nil {
		return model.Block{}, err
	}
	b := model.Block{Number: n, Timestamp: int64(h.Time)}
	c.headers[n] = b
	return b, nil
}

func (c *blockCache) tx(ctx context.Context, l types.Log) (txInfo, error) {
	if info, ok := c.senders[l.TxHash]; ok {
		return info, nil
	}
	tx, err := retry(ctx, c.r, "eth_getTransactionByHash", func() (*types.Transaction, error) {
		tx, _, err := c.r.chain.TransactionByHash(ctx, l.TxHash)
		return tx, err
	})
	if err != nil {
		return txInfo{}, err
	}
	from, err := retry(ctx, c.r, "eth_getTransactionByBlockHashAndIndex", func() (common.Address, error) {
		return c.r.chain.TransactionSender(ctx, tx, l.BlockHash, l.TxIndex)
	})
	if err != nil {
		return txInfo{}, err
	}
	info := txInfo{from: from, nonce: tx.Nonce()}
	c.senders[l.TxHash] = info
	return info, nil
}

// event builds the handler context for a log.
func (c *blockCache) event(ctx context.Context, l types.Log) (model.Event, error) {
	b, err := c.block(ctx, l.BlockNumber)
	if err != nil {
		return model.Event{}, err
	}
	info, err := c.tx(ctx, l)
	if err != nil {
		return model.Event{}, err
	}
	return model.Event{
		Block:    b,
		TxHash:   l.TxHash,
		TxFrom:   info.from,
		TxNonce:  info.nonce,
		LogIndex: l.Index,
		Address:  l.Address,
	}, nil
}
