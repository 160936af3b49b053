// Package lending maintains the lending-protocol entities: markets, the
// protocol singleton, snapshots, usage metrics, rates, accounts, positions
// and the immutable event records. Every operation runs synchronously for
// one chain event and persists whole entities through the store.
//
// Failures of the chain data (reverted calls, missing oracles, bad amounts)
// are logged and skipped. Only store failures are returned as errors.
package lending

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/price"
	"github.com/atmx/lending-indexer/internal/store"
)

// Protocol identity.
const (
	ProtocolName = "TrueFi"
	ProtocolSlug = "truefi"

	SchemaVersion      = "2.0.1"
	SubgraphVersion    = "1.2.0"
	MethodologyVersion = "1.0.0"
)

// ProtocolID is the id of the LendingProtocol singleton: the TRU token.
var ProtocolID = model.AddressID(price.TRU)

// Observer is notified after an event record has been saved.
type Observer interface {
	Indexed(ctx context.Context, kind string, e model.Entity)
}

// Indexer applies chain events to the entity store.
type Indexer struct {
	store    store.Store
	caller   contract.Caller
	pricer   *price.Pricer
	network  string
	logger   *slog.Logger
	observer Observer // optional
}

// New creates an Indexer. network is the chain name recorded on the
// protocol entity (e.g. "mainnet"). Pass nil for observer if nothing needs
// to hear about saved events.
func New(st store.Store, caller contract.Caller, pricer *price.Pricer, network string, observer Observer, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    st,
		caller:   caller,
		pricer:   pricer,
		network:  strings.ReplaceAll(strings.ToUpper(network), "-", "_"),
		logger:   logger,
		observer: observer,
	}
}

// Store returns the backing store.
func (ix *Indexer) Store() store.Store { return ix.store }

// Caller returns the contract caller used for on-chain reads.
func (ix *Indexer) Caller() contract.Caller { return ix.caller }

// Pricer returns the USD pricer.
func (ix *Indexer) Pricer() *price.Pricer { return ix.pricer }

// Logger returns the indexer's logger.
func (ix *Indexer) Logger() *slog.Logger { return ix.logger }

func (ix *Indexer) notify(ctx context.Context, e model.Entity) {
	if ix.observer != nil {
		ix.observer.Indexed(ctx, e.EntityKind(), e)
	}
}

// loadOr returns the stored entity or the result of create when none exists.
// The second return value reports whether the entity was created.
func loadOr[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, st store.Store, id string, create func() P) (P, bool, error) {
	v, err := store.Load[T, P](ctx, st, id)
	if err == nil {
		return v, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	return create(), true, nil
}
