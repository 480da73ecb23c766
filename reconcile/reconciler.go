// Package reconcile merges the two partial views of an account's purchase
// history, the bounded ledger event query and the local cache, into one
// deduplicated view with the referenced datasets resolved.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"datamarket/observability/metrics"
	"datamarket/registry"
	"datamarket/storage/purchases"
)

// ErrDatasetUnresolvable marks a purchase record whose dataset cannot be
// fetched from the ledger. This is a data-integrity fault and fails the
// whole reconciliation rather than being silently dropped.
var ErrDatasetUnresolvable = errors.New("reconcile: dataset unresolvable")

// UnknownTxHash is the sentinel recorded for ledger-observed purchases; the
// bounded event query does not expose a transaction hash.
const UnknownTxHash = "N/A"

// Ledger is the subset of the registry client the reconciler reads from.
type Ledger interface {
	BlockNumber(ctx context.Context) (uint64, error)
	PurchaseEvents(ctx context.Context, buyer common.Address, fromBlock, toBlock uint64) ([]registry.PurchaseEvent, error)
	GetDataset(ctx context.Context, id uint64) (*registry.Dataset, error)
}

// Cache is the durable per-account purchase store.
type Cache interface {
	ListFor(ctx context.Context, buyer common.Address) ([]purchases.Record, error)
}

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	Ledger Ledger
	Cache  Cache
	Logger *slog.Logger
	// Window overrides the ledger event query range; zero means the
	// ledger's maximum.
	Window uint64
}

// Reconciler produces the merged purchase view for an account.
type Reconciler struct {
	ledger  Ledger
	cache   Cache
	logger  *slog.Logger
	window  uint64
	metrics *metrics.MarketMetrics
}

// Entry pairs a purchase record with its resolved dataset.
type Entry struct {
	Record  purchases.Record
	Dataset registry.Dataset
}

// Result is the ordered, deduplicated outcome of a reconciliation run.
type Result struct {
	Entries []Entry
	// LedgerDegraded is set when the ledger event query failed and the
	// result covers cached records only.
	LedgerDegraded bool
}

// New builds a configured reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("reconcile: ledger is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("reconcile: cache is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.Window
	if window == 0 || window > registry.MaxEventWindow {
		window = registry.MaxEventWindow
	}
	return &Reconciler{
		ledger:  cfg.Ledger,
		cache:   cfg.Cache,
		logger:  logger,
		window:  window,
		metrics: metrics.Market(),
	}, nil
}

// Reconcile merges cached records with ledger-observed events for the
// account. Cached records are never reordered or dropped; ledger events are
// added only when no cached record covers the same dataset, because events
// carry no transaction hash to dedup on. The merge is commutative with
// respect to source read order, so repeated calls over unchanged state
// yield identical results.
func (r *Reconciler) Reconcile(ctx context.Context, account common.Address) (*Result, error) {
	cached, err := r.cache.ListFor(ctx, account)
	if err != nil {
		r.metrics.ObserveReconcile("error")
		return nil, fmt.Errorf("reconcile: read cache: %w", err)
	}

	merged := make([]purchases.Record, 0, len(cached))
	merged = append(merged, cached...)
	cachedDatasets := make(map[uint64]bool, len(cached))
	for _, rec := range cached {
		cachedDatasets[rec.DatasetID] = true
	}

	degraded := false
	events, err := r.recentEvents(ctx, account)
	if err != nil {
		// The cache is the durable source of truth for anything outside
		// the bounded window, so a failed event query degrades to a
		// cache-only view instead of failing the run.
		r.logger.Warn("ledger event query failed, serving cache-only view",
			"account", account.Hex(), "err", err)
		degraded = true
	}
	for _, ev := range events {
		if cachedDatasets[ev.DatasetID] {
			r.metrics.ObserveLedgerEvent(false)
			continue
		}
		r.metrics.ObserveLedgerEvent(true)
		merged = append(merged, purchases.Record{
			Buyer:     account,
			DatasetID: ev.DatasetID,
			Price:     ev.Price,
			Timestamp: ev.Timestamp,
			TxHash:    UnknownTxHash,
		})
	}

	entries, err := r.resolveDatasets(ctx, merged)
	if err != nil {
		r.metrics.ObserveReconcile("error")
		return nil, err
	}

	if degraded {
		r.metrics.ObserveReconcile("degraded")
	} else {
		r.metrics.ObserveReconcile("ok")
	}
	return &Result{Entries: entries, LedgerDegraded: degraded}, nil
}

func (r *Reconciler) recentEvents(ctx context.Context, account common.Address) ([]registry.PurchaseEvent, error) {
	head, err := r.ledger.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("head block: %w", err)
	}
	from := uint64(0)
	if head > r.window {
		from = head - r.window
	}
	events, err := r.ledger.PurchaseEvents(ctx, account, from, head)
	if err != nil {
		return nil, fmt.Errorf("purchase events [%d, %d]: %w", from, head, err)
	}
	return events, nil
}

func (r *Reconciler) resolveDatasets(ctx context.Context, records []purchases.Record) ([]Entry, error) {
	resolved := make(map[uint64]*registry.Dataset)
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		ds, ok := resolved[rec.DatasetID]
		if !ok {
			var err error
			ds, err = r.ledger.GetDataset(ctx, rec.DatasetID)
			if err != nil {
				return nil, fmt.Errorf("reconcile: dataset %d: %v: %w", rec.DatasetID, err, ErrDatasetUnresolvable)
			}
			resolved[rec.DatasetID] = ds
		}
		entries = append(entries, Entry{Record: rec, Dataset: *ds})
	}
	return entries, nil
}
