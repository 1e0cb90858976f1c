package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/ledger"
	"stockledger/internal/models"
)

// journalFunc adapts a function to the Journal interface
type journalFunc func(ctx context.Context, change ledger.Change) error

func (f journalFunc) JournalChange(ctx context.Context, change ledger.Change) error {
	return f(ctx, change)
}

// newLedgerWithStock builds an in-memory ledger holding one product
func newLedgerWithStock(t *testing.T, productID string, stock int) *ledger.Ledger {
	t.Helper()

	l := ledger.New(nil, 250*time.Millisecond)
	_, err := l.Create(productID)
	require.NoError(t, err)

	if stock > 0 {
		_, err = l.Restock(context.Background(), productID, stock, time.Now())
		require.NoError(t, err)
	}
	return l
}

func TestLedger_ReserveThenInsufficient(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 10)
	ctx := context.Background()

	rec, err := l.Reserve(ctx, "p1", 7, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.StockQty)
	assert.Equal(t, 7, rec.ReservedQty)

	// A second reservation beyond remaining stock fails without state change
	_, err = l.Reserve(ctx, "p1", 5, "order-2")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	rec, err = l.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.StockQty)
	assert.Equal(t, 7, rec.ReservedQty)
}

func TestLedger_ReserveThenCommitAll(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 10)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "p1", 7, "order-1")
	require.NoError(t, err)

	rec, err := l.Reserve(ctx, "p1", 3, "order-2")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.StockQty)
	assert.Equal(t, 10, rec.ReservedQty)

	// Committing consumes reserved units permanently
	rec, err = l.Commit(ctx, "p1", 10, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.StockQty)
	assert.Equal(t, 0, rec.ReservedQty)
}

func TestLedger_ReleaseUnderflow(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 10)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "p1", 2, "order-1")
	require.NoError(t, err)

	_, err = l.Release(ctx, "p1", 3, "order-1")
	assert.ErrorIs(t, err, models.ErrReservationUnderflow)

	rec, err := l.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.StockQty)
	assert.Equal(t, 2, rec.ReservedQty)
}

func TestLedger_CommitUnderflow(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 10)
	ctx := context.Background()

	_, err := l.Commit(ctx, "p1", 1, "order-1")
	assert.ErrorIs(t, err, models.ErrReservationUnderflow)
}

func TestLedger_RestockStampsTimestamp(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 0)
	ctx := context.Background()

	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec, err := l.Restock(ctx, "p1", 20, ts)
	require.NoError(t, err)
	assert.Equal(t, 20, rec.StockQty)
	require.NotNil(t, rec.LastRestocked)
	assert.Equal(t, ts, *rec.LastRestocked)
}

func TestLedger_RoundTrip(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 10)
	ctx := context.Background()

	before, err := l.Get(ctx, "p1")
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "p1", 4, "order-1")
	require.NoError(t, err)

	after, err := l.Release(ctx, "p1", 4, "order-1")
	require.NoError(t, err)
	assert.Equal(t, before.StockQty, after.StockQty)
	assert.Equal(t, before.ReservedQty, after.ReservedQty)
}

func TestLedger_InvalidQuantity(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 10)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "p1", 0, "order-1")
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = l.Reserve(ctx, "p1", -3, "order-1")
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = l.Restock(ctx, "p1", 0, time.Now())
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
}

func TestLedger_ProductNotFound(t *testing.T) {
	l := ledger.New(nil, 250*time.Millisecond)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "ghost", 1, "order-1")
	assert.ErrorIs(t, err, models.ErrProductNotFound)

	_, err = l.Get(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrProductNotFound)

	err = l.Drop(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestLedger_CreateAndDrop(t *testing.T) {
	l := ledger.New(nil, 250*time.Millisecond)
	ctx := context.Background()

	rec, err := l.Create("p1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.StockQty)
	assert.Equal(t, 0, rec.ReservedQty)
	assert.Equal(t, int64(1), rec.Version)

	_, err = l.Create("p1")
	assert.ErrorIs(t, err, models.ErrRecordExists)

	require.NoError(t, l.Drop(ctx, "p1"))
	assert.Equal(t, 0, l.Len())

	_, err = l.Reserve(ctx, "p1", 1, "order-1")
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestLedger_Hydrate(t *testing.T) {
	l := ledger.New(nil, 250*time.Millisecond)
	restocked := time.Now().Add(-time.Hour)

	l.Hydrate([]models.StockRecord{
		{ProductID: "p1", StockQty: 5, ReservedQty: 2, Version: 9, LastRestocked: &restocked},
		{ProductID: "p2", StockQty: 0, ReservedQty: 0, Version: 1},
	})

	assert.Equal(t, 2, l.Len())

	rec, err := l.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.StockQty)
	assert.Equal(t, 2, rec.ReservedQty)
	assert.Equal(t, int64(9), rec.Version)
}

func TestLedger_VersionAdvancesPerMutation(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 10)
	ctx := context.Background()

	rec, err := l.Get(ctx, "p1")
	require.NoError(t, err)
	base := rec.Version

	rec, err = l.Reserve(ctx, "p1", 1, "order-1")
	require.NoError(t, err)
	assert.Equal(t, base+1, rec.Version)

	rec, err = l.Release(ctx, "p1", 1, "order-1")
	require.NoError(t, err)
	assert.Equal(t, base+2, rec.Version)
}

func TestLedger_JournalErrorRollsBack(t *testing.T) {
	failing := journalFunc(func(ctx context.Context, change ledger.Change) error {
		if change.Op == ledger.ChangeReserve {
			return assert.AnError
		}
		return nil
	})

	l := ledger.New(failing, 250*time.Millisecond)
	_, err := l.Create("p1")
	require.NoError(t, err)
	_, err = l.Restock(context.Background(), "p1", 10, time.Now())
	require.NoError(t, err)

	before, err := l.Get(context.Background(), "p1")
	require.NoError(t, err)

	_, err = l.Reserve(context.Background(), "p1", 3, "order-1")
	assert.ErrorIs(t, err, assert.AnError)

	// The failed mutation must leave no trace, version included
	after, err := l.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, before.StockQty, after.StockQty)
	assert.Equal(t, before.ReservedQty, after.ReservedQty)
	assert.Equal(t, before.Version, after.Version)
}

func TestLedger_JournalSeesPostState(t *testing.T) {
	var got ledger.Change
	capture := journalFunc(func(ctx context.Context, change ledger.Change) error {
		got = change
		return nil
	})

	l := ledger.New(capture, 250*time.Millisecond)
	_, err := l.Create("p1")
	require.NoError(t, err)
	_, err = l.Restock(context.Background(), "p1", 10, time.Now())
	require.NoError(t, err)

	_, err = l.Reserve(context.Background(), "p1", 4, "order-9")
	require.NoError(t, err)

	assert.Equal(t, ledger.ChangeReserve, got.Op)
	assert.Equal(t, "p1", got.ProductID)
	assert.Equal(t, 4, got.Qty)
	assert.Equal(t, "order-9", got.OrderID)
	assert.Equal(t, 6, got.After.StockQty)
	assert.Equal(t, 4, got.After.ReservedQty)
}

func TestLedger_ConcurrentReservesNoOverdraw(t *testing.T) {
	const (
		initialStock = 100
		callers      = 50
		qty          = 3
	)

	l := newLedgerWithStock(t, "p1", initialStock)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, "p1", qty, "order-n")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, models.ErrInsufficientStock):
				insufficient++
			}
		}()
	}
	wg.Wait()

	// Exactly floor(S/q) reservations may succeed, never more
	assert.Equal(t, initialStock/qty, succeeded)
	assert.Equal(t, callers-initialStock/qty, insufficient)

	rec, err := l.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, initialStock-succeeded*qty, rec.StockQty)
	assert.Equal(t, succeeded*qty, rec.ReservedQty)
	assert.GreaterOrEqual(t, rec.StockQty, 0)
}

func TestLedger_ConservationUnderConcurrency(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 60)
	ctx := context.Background()

	// Interleave reserve/release pairs; the stock+reserved sum must survive
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(ctx, "p1", 2, "order-n"); err == nil {
				_, err := l.Release(ctx, "p1", 2, "order-n")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	rec, err := l.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 60, rec.StockQty+rec.ReservedQty)
	assert.Equal(t, 0, rec.ReservedQty)
}

func TestLedger_BusyWhenLockHeldPastWait(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})

	blocking := journalFunc(func(ctx context.Context, change ledger.Change) error {
		if change.Op == ledger.ChangeReserve && change.ProductID == "p1" {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	})

	l := ledger.New(blocking, 50*time.Millisecond)
	for _, id := range []string{"p1", "p2"} {
		_, err := l.Create(id)
		require.NoError(t, err)
		_, err = l.Restock(context.Background(), id, 10, time.Now())
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := l.Reserve(context.Background(), "p1", 1, "order-1")
		done <- err
	}()

	<-entered

	// The record lock is held while the first reserve sits in the journal
	_, err := l.Reserve(context.Background(), "p1", 1, "order-2")
	assert.ErrorIs(t, err, models.ErrBusy)
	assert.True(t, models.IsRetryable(err))

	// A different product is untouched by the contention
	_, err = l.Reserve(context.Background(), "p2", 1, "order-3")
	assert.NoError(t, err)

	close(release)
	assert.NoError(t, <-done)
}

func TestLedger_CancelledContextWins(t *testing.T) {
	l := newLedgerWithStock(t, "p1", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Reserve(ctx, "p1", 1, "order-1")
	assert.ErrorIs(t, err, context.Canceled)
}
