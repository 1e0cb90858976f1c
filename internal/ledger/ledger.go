package ledger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"stockledger/internal/models"
)

// ChangeOp identifies the kind of ledger mutation being journaled
type ChangeOp string

const (
	ChangeReserve ChangeOp = "reserve"
	ChangeCommit  ChangeOp = "commit"
	ChangeRelease ChangeOp = "release"
	ChangeRestock ChangeOp = "restock"
)

// Change describes a completed mutation handed to the journal. After holds
// the post-mutation record state.
type Change struct {
	Op        ChangeOp
	ProductID string
	Qty       int
	OrderID   string
	After     models.StockRecord
}

// Journal receives every successful mutation while the record lock is still
// held. A journal error aborts the mutation: the in-memory counters are
// rolled back so memory and storage never diverge.
type Journal interface {
	JournalChange(ctx context.Context, change Change) error
}

// record holds the live counters for one product. The semaphore serializes
// all mutations and reads of the counter pair; the arena map itself is
// guarded separately so products never contend with each other.
type record struct {
	sem           *semaphore.Weighted
	stockQty      int
	reservedQty   int
	lastRestocked *time.Time
	version       int64
	updatedAt     time.Time
}

func (r *record) snapshot(productID string) models.StockRecord {
	return models.StockRecord{
		ProductID:     productID,
		StockQty:      r.stockQty,
		ReservedQty:   r.reservedQty,
		LastRestocked: r.lastRestocked,
		Version:       r.version,
		UpdatedAt:     r.updatedAt,
	}
}

// Ledger is the authority over per-product stock and reservation counters.
// Operations on the same product are linearizable; operations on different
// products proceed fully in parallel.
type Ledger struct {
	mu       sync.RWMutex
	records  map[string]*record
	journal  Journal
	lockWait time.Duration
}

// New creates a ledger. journal may be nil (in-memory only); lockWait bounds
// how long an operation waits for a contended record before failing Busy.
func New(journal Journal, lockWait time.Duration) *Ledger {
	return &Ledger{
		records:  make(map[string]*record),
		journal:  journal,
		lockWait: lockWait,
	}
}

// Reserve atomically checks stock_qty >= qty, then moves qty units from
// stock to reserved. The check and the decrement are indivisible with
// respect to any other operation on the same product.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int, orderID string) (*models.StockRecord, error) {
	return l.apply(ctx, ChangeReserve, productID, qty, orderID, func(r *record) error {
		if r.stockQty < qty {
			return models.ErrInsufficientStock
		}
		r.stockQty -= qty
		r.reservedQty += qty
		return nil
	})
}

// Commit permanently consumes qty reserved units (order shipped). Stock is
// untouched; it was already decremented at reserve time.
func (l *Ledger) Commit(ctx context.Context, productID string, qty int, orderID string) (*models.StockRecord, error) {
	return l.apply(ctx, ChangeCommit, productID, qty, orderID, func(r *record) error {
		if r.reservedQty < qty {
			return models.ErrReservationUnderflow
		}
		r.reservedQty -= qty
		return nil
	})
}

// Release returns qty reserved units to availability (order cancelled or
// expired). The exact inverse of Reserve.
func (l *Ledger) Release(ctx context.Context, productID string, qty int, orderID string) (*models.StockRecord, error) {
	return l.apply(ctx, ChangeRelease, productID, qty, orderID, func(r *record) error {
		if r.reservedQty < qty {
			return models.ErrReservationUnderflow
		}
		r.reservedQty -= qty
		r.stockQty += qty
		return nil
	})
}

// Restock adds qty units of available stock and stamps last_restocked.
func (l *Ledger) Restock(ctx context.Context, productID string, qty int, ts time.Time) (*models.StockRecord, error) {
	return l.apply(ctx, ChangeRestock, productID, qty, "", func(r *record) error {
		r.stockQty += qty
		restocked := ts
		r.lastRestocked = &restocked
		return nil
	})
}

// Create registers a new product with zero stock. Fails if a record already
// exists; records are never created implicitly by reservation.
func (l *Ledger) Create(productID string) (*models.StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[productID]; exists {
		return nil, models.ErrRecordExists
	}

	rec := &record{
		sem:       semaphore.NewWeighted(1),
		version:   1,
		updatedAt: time.Now(),
	}
	l.records[productID] = rec

	snap := rec.snapshot(productID)
	return &snap, nil
}

// Drop removes a product's record; called only when the owning product is
// destroyed. Waits for any in-flight operation on the record to finish.
func (l *Ledger) Drop(ctx context.Context, productID string) error {
	rec := l.lookup(productID)
	if rec == nil {
		return models.ErrProductNotFound
	}

	if err := l.acquire(ctx, rec); err != nil {
		return err
	}
	defer rec.sem.Release(1)

	l.mu.Lock()
	delete(l.records, productID)
	l.mu.Unlock()
	return nil
}

// Get returns a consistent snapshot of a record. Takes the record lock so
// the counter pair is never observed half-updated.
func (l *Ledger) Get(ctx context.Context, productID string) (*models.StockRecord, error) {
	rec := l.lookup(productID)
	if rec == nil {
		return nil, models.ErrProductNotFound
	}

	if err := l.acquire(ctx, rec); err != nil {
		return nil, err
	}
	defer rec.sem.Release(1)

	snap := rec.snapshot(productID)
	return &snap, nil
}

// Hydrate replaces the arena content from durable storage. Called once at
// startup before the ledger begins serving.
func (l *Ledger) Hydrate(records []models.StockRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = make(map[string]*record, len(records))
	for _, rec := range records {
		l.records[rec.ProductID] = &record{
			sem:           semaphore.NewWeighted(1),
			stockQty:      rec.StockQty,
			reservedQty:   rec.ReservedQty,
			lastRestocked: rec.LastRestocked,
			version:       rec.Version,
			updatedAt:     rec.UpdatedAt,
		}
	}
}

// Len returns the number of live records
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Ledger) lookup(productID string) *record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[productID]
}

// acquire takes the record lock with a bounded wait. A caller whose own
// context is cancelled sees that error; exceeding the wait bound yields Busy.
func (l *Ledger) acquire(ctx context.Context, rec *record) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.lockWait)
	defer cancel()

	if err := rec.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return models.ErrBusy
	}
	return nil
}

// apply runs one mutation under the record lock: validate, mutate, bump
// version, journal. On journal failure the counters are restored.
func (l *Ledger) apply(ctx context.Context, op ChangeOp, productID string, qty int, orderID string, mutate func(*record) error) (*models.StockRecord, error) {
	if qty <= 0 {
		return nil, models.ErrInvalidQuantity
	}

	rec := l.lookup(productID)
	if rec == nil {
		return nil, models.ErrProductNotFound
	}

	if err := l.acquire(ctx, rec); err != nil {
		return nil, err
	}
	defer rec.sem.Release(1)

	// The record may have been dropped between lookup and acquire
	if l.lookup(productID) != rec {
		return nil, models.ErrProductNotFound
	}

	prev := *rec
	if err := mutate(rec); err != nil {
		return nil, err
	}
	rec.version++
	rec.updatedAt = time.Now()

	snap := rec.snapshot(productID)
	if l.journal != nil {
		change := Change{
			Op:        op,
			ProductID: productID,
			Qty:       qty,
			OrderID:   orderID,
			After:     snap,
		}
		if err := l.journal.JournalChange(ctx, change); err != nil {
			rec.stockQty = prev.stockQty
			rec.reservedQty = prev.reservedQty
			rec.lastRestocked = prev.lastRestocked
			rec.version = prev.version
			rec.updatedAt = prev.updatedAt
			return nil, err
		}
	}

	return &snap, nil
}
