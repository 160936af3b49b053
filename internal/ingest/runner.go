// Package ingest polls an EVM node for TrueFi logs and feeds them, in chain
// order, to the event dispatcher. It also drives the Synthetix block hook.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/atmx/lending-indexer/internal/metrics"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
	"github.com/atmx/lending-indexer/internal/synthetix"
	"github.com/atmx/lending-indexer/internal/truefi"
)

// ChainReader is the subset of *ethclient.Client the runner needs.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
}

// Options configures a Runner.
type Options struct {
	// Source names the cursor row, so several runners can share a store.
	Source       string
	StartBlock   uint64
	BatchSize    uint64
	PollInterval time.Duration
	// MaxRetries bounds retries of a failing RPC call. Zero means 5.
	MaxRetries uint64
	// RetryInterval is the first backoff delay; zero keeps the backoff default.
	RetryInterval time.Duration
}

// Runner walks the chain from the stored cursor to the head.
type Runner struct {
	chain    ChainReader
	dispatch *truefi.Dispatcher
	tracker  *synthetix.Tracker
	buf      *store.Buffer
	cursors  store.Cursors
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	watched map[common.Address]bool
	added   bool
}

// NewRunner creates a Runner. buf must be the store the dispatcher and
// tracker write through: the runner commits it once per handled log, along
// with a checkpoint, and discards it when a handler fails. tracker may be
// nil to skip the Synthetix hook.
func NewRunner(chain ChainReader, dispatch *truefi.Dispatcher, tracker *synthetix.Tracker, buf *store.Buffer, cursors store.Cursors, opts Options, logger *slog.Logger) *Runner {
	if opts.Source == "" {
		opts.Source = "truefi"
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 2000
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 12 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		chain:    chain,
		dispatch: dispatch,
		tracker:  tracker,
		buf:      buf,
		cursors:  cursors,
		opts:     opts,
		logger:   logger.With("component", "ingest"),
		watched:  make(map[common.Address]bool),
	}
	dispatch.OnNewMarket(r.discovered)
	return r
}

// Watch adds contracts to the log filter.
func (r *Runner) Watch(addrs ...common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range addrs {
		r.watched[a] = true
	}
	metrics.WatchedContracts.Set(float64(len(r.watched)))
}

func (r *Runner) discovered(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watched[addr] {
		return
	}
	r.watched[addr] = true
	r.added = true
	metrics.WatchedContracts.Set(float64(len(r.watched)))
}

// takeAdded reports whether a market was discovered since the last call.
func (r *Runner) takeAdded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := r.added
	r.added = false
	return added
}

func (r *Runner) addresses() []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.Address, 0, len(r.watched))
	for a := range r.watched {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Run indexes until ctx is cancelled or a handler fails.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("ingest started", "source", r.opts.Source, "watched", len(r.addresses()))
	for {
		caughtUp, err := r.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !caughtUp {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.opts.PollInterval):
		}
	}
}

// Step indexes the next batch of blocks. It reports true when the runner
// has reached the chain head.
func (r *Runner) Step(ctx context.Context) (bool, error) {
	head, err := retry(ctx, r, "eth_blockNumber", func() (uint64, error) {
		return r.chain.BlockNumber(ctx)
	})
	if err != nil {
		return false, err
	}
	metrics.HeadBlock.Set(float64(head))

	from, err := r.next(ctx)
	if err != nil {
		return false, err
	}
	if from > head {
		return true, nil
	}
	to := min(from+r.opts.BatchSize-1, head)

	start := time.Now()
	if err := r.IndexRange(ctx, from, to); err != nil {
		return false, err
	}
	if err := r.cursors.SetCursor(ctx, r.opts.Source, to); err != nil {
		return false, fmt.Errorf("save cursor: %w", err)
	}
	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	metrics.IndexedBlock.Set(float64(to))
	r.logger.Info("indexed range", "from", from, "to", to, "head", head)
	return to == head, nil
}

func (r *Runner) next(ctx context.Context) (uint64, error) {
	last, ok, err := r.cursors.Cursor(ctx, r.opts.Source)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		return r.opts.StartBlock, nil
	}
	return max(last+1, r.opts.StartBlock), nil
}

// logPos orders logs within a range.
type logPos struct {
	block uint64
	index uint
}

func (p logPos) after(q logPos) bool {
	return p.block > q.block || (p.block == q.block && p.index > q.index)
}

// IndexRange applies every watched log in [from, to] in (block, index)
// order, then runs the Synthetix hook for the range. When a handler
// registers a new market the rest of the range is fetched again so the new
// market's own logs are not missed. Logs at or before the stored checkpoint
// were already committed and are skipped, so a range that failed half way
// can be replayed.
func (r *Runner) IndexRange(ctx context.Context, from, to uint64) error {
	bc := newBlockCache(r)
	last, started, err := r.checkpoint(ctx, from)
	if err != nil {
		return err
	}
	r.takeAdded()

	for queryFrom := from; ; {
		logs, err := r.filter(ctx, queryFrom, to)
		if err != nil {
			return err
		}
		rescan := false
		for _, l := range logs {
			pos := logPos{l.BlockNumber, l.Index}
			if l.Removed || (started && !pos.after(last)) {
				continue
			}
			if err := r.apply(ctx, bc, l); err != nil {
				r.buf.Discard()
				return err
			}
			if err := r.commit(ctx, pos); err != nil {
				return err
			}
			last, started = pos, true
			if r.takeAdded() {
				rescan = true
				break
			}
		}
		if !rescan {
			break
		}
		queryFrom = last.block
		r.logger.Debug("new market, re-querying", "from", queryFrom, "to", to)
	}

	if r.tracker == nil {
		return nil
	}
	for n := roundUp(from, synthetix.DebtInterval); n <= to; n += synthetix.DebtInterval {
		b, err := bc.block(ctx, n)
		if err != nil {
			return err
		}
		if err := r.tracker.HandleBlock(ctx, b); err != nil {
			r.buf.Discard()
			return err
		}
		if err := r.buf.Commit(ctx); err != nil {
			r.buf.Discard()
			return err
		}
	}
	return nil
}

// checkpoint returns the last committed log position if it falls inside a
// range starting at from.
func (r *Runner) checkpoint(ctx context.Context, from uint64) (logPos, bool, error) {
	r.buf.Discard()
	cp, err := store.Load[model.IngestCheckpoint](ctx, r.buf, r.opts.Source)
	if errors.Is(err, store.ErrNotFound) {
		return logPos{}, false, nil
	}
	if err != nil {
		return logPos{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Block < from {
		return logPos{}, false, nil
	}
	return logPos{cp.Block, cp.LogIndex}, true, nil
}

// commit writes the handler's staged entities and the new checkpoint as
// one unit.
func (r *Runner) commit(ctx context.Context, pos logPos) error {
	cp := &model.IngestCheckpoint{ID: r.opts.Source, Block: pos.block, LogIndex: pos.index}
	if err := store.Save(ctx, r.buf, cp); err != nil {
		r.buf.Discard()
		return err
	}
	if err := r.buf.Commit(ctx); err != nil {
		r.buf.Discard()
		return fmt.Errorf("commit log %d/%d: %w", pos.block, pos.index, err)
	}
	return nil
}

func roundUp(n, m uint64) uint64 {
	if rem := n % m; rem != 0 {
		return n + m - rem
	}
	return n
}

func (r *Runner) filter(ctx context.Context, from, to uint64) ([]types.Log, error) {
	addrs := r.addresses()
	if len(addrs) == 0 {
		return nil, nil
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addrs,
		Topics:    [][]common.Hash{truefi.Topics()},
	}
	logs, err := retry(ctx, r, "eth_getLogs", func() ([]types.Log, error) {
		return r.chain.FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

func (r *Runner) apply(ctx context.Context, bc *blockCache, l types.Log) error {
	ev, err := bc.event(ctx, l)
	if err != nil {
		return err
	}
	kind, err := r.dispatch.HandleLog(ctx, ev, l)
	if err != nil {
		return fmt.Errorf("handle %s at %d/%d: %w", kind, l.BlockNumber, l.Index, err)
	}
	if kind != "" {
		metrics.EventsIndexed.WithLabelValues(string(kind)).Inc()
	}
	return nil
}

// retry runs fn with exponential backoff. Context cancellation stops it.
func retry[T any](ctx context.Context, r *Runner, method string, fn func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	if r.opts.RetryInterval > 0 {
		eb.InitialInterval = r.opts.RetryInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.opts.MaxRetries), ctx)
	attempt := 0
	out, err := backoff.RetryWithData(func() (T, error) {
		if attempt > 0 {
			metrics.RPCRetries.WithLabelValues(method).Inc()
		}
		attempt++
		v, err := fn()
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return out, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}
