package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygrid/settlecore/internal/models"
	"github.com/paygrid/settlecore/internal/processor"
)

func seedTx(t *testing.T, store *processor.MemoryTxStore, tx *models.Transaction) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), tx))
}

func settledTx(id string, amount int64) *models.Transaction {
	return &models.Transaction{
		TransactionID:  id,
		IdempotencyKey: "key-" + id,
		Channel:        models.ChannelUPI,
		State:          models.StateSettled,
		Amount:         amount,
		Currency:       "INR",
	}
}

type fakeBatchSource struct {
	batches map[string]*models.Batch
}

func (f *fakeBatchSource) Get(batchID string) (*models.Batch, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return nil, models.ErrBatchNotFound
	}
	return b, nil
}

func TestEngine_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("settled transaction with matching amount", func(t *testing.T) {
		store := processor.NewMemoryTxStore()
		seedTx(t, store, settledTx("tx-1", 5_000))
		e := NewEngine(store, time.Hour)

		rec, err := e.Ingest(ctx, models.Confirmation{
			Reference:       "tx-1",
			ConfirmedAmount: 5_000,
			ConfirmedAt:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMatched, rec.Status)
		assert.Equal(t, int64(0), rec.Discrepancy)
	})

	t.Run("amount discrepancy is a mismatch", func(t *testing.T) {
		store := processor.NewMemoryTxStore()
		seedTx(t, store, settledTx("tx-1", 5_000))
		e := NewEngine(store, time.Hour)

		rec, err := e.Ingest(ctx, models.Confirmation{
			Reference:       "tx-1",
			ConfirmedAmount: 4_500,
			ConfirmedAt:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMismatched, rec.Status)
		assert.Equal(t, int64(-500), rec.Discrepancy)
	})

	t.Run("confirmation for a reversed transaction is a mismatch", func(t *testing.T) {
		// The channel says it moved money; the ledger says nothing should
		// have moved. This must surface, never silently re-settle.
		store := processor.NewMemoryTxStore()
		tx := settledTx("tx-1", 5_000)
		tx.State = models.StateReversed
		seedTx(t, store, tx)
		e := NewEngine(store, time.Hour)

		rec, err := e.Ingest(ctx, models.Confirmation{
			Reference:       "tx-1",
			ConfirmedAmount: 5_000,
			ConfirmedAt:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMismatched, rec.Status)
		assert.Equal(t, int64(0), rec.ExpectedAmount)
		assert.Equal(t, int64(5_000), rec.Discrepancy)
	})

	t.Run("identical resubmission is a no-op", func(t *testing.T) {
		store := processor.NewMemoryTxStore()
		seedTx(t, store, settledTx("tx-1", 5_000))
		e := NewEngine(store, time.Hour)

		c := models.Confirmation{Reference: "tx-1", ConfirmedAmount: 5_000, ConfirmedAt: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
		first, err := e.Ingest(ctx, c)
		require.NoError(t, err)
		second, err := e.Ingest(ctx, c)
		require.NoError(t, err)

		assert.Equal(t, first.RecordID, second.RecordID)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "an identical feed must not modify the record")
	})

	t.Run("changed confirmation re-evaluates in place", func(t *testing.T) {
		store := processor.NewMemoryTxStore()
		seedTx(t, store, settledTx("tx-1", 5_000))
		e := NewEngine(store, time.Hour)

		first, err := e.Ingest(ctx, models.Confirmation{Reference: "tx-1", ConfirmedAmount: 4_000, ConfirmedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMismatched, first.Status)

		second, err := e.Ingest(ctx, models.Confirmation{Reference: "tx-1", ConfirmedAmount: 5_000, ConfirmedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, first.RecordID, second.RecordID, "records are corrected, never replaced")
		assert.Equal(t, models.ReconMatched, second.Status)
	})

	t.Run("resubmission with a truncated timestamp is still a no-op", func(t *testing.T) {
		// A feed read back from the wire loses the monotonic clock reading
		// time.Now attaches; the two timestamps are still the same instant.
		store := processor.NewMemoryTxStore()
		seedTx(t, store, settledTx("tx-1", 5_000))
		e := NewEngine(store, time.Hour)

		c := models.Confirmation{Reference: "tx-1", ConfirmedAmount: 5_000, ConfirmedAt: time.Now()}
		first, err := e.Ingest(ctx, c)
		require.NoError(t, err)

		c.ConfirmedAt = c.ConfirmedAt.Round(0)
		second, err := e.Ingest(ctx, c)
		require.NoError(t, err)

		assert.Equal(t, first.RecordID, second.RecordID)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "an identical feed must not modify the record")
	})

	t.Run("unknown reference defaults expectation to zero", func(t *testing.T) {
		e := NewEngine(processor.NewMemoryTxStore(), time.Hour)

		rec, err := e.Ingest(ctx, models.Confirmation{Reference: "ghost", ConfirmedAmount: 100, ConfirmedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMismatched, rec.Status)
		assert.Equal(t, int64(100), rec.Discrepancy)
	})
}

func TestEngine_BatchReferences(t *testing.T) {
	ctx := context.Background()

	newBatchEngine := func(t *testing.T, members ...*models.Transaction) *Engine {
		t.Helper()
		store := processor.NewMemoryTxStore()
		ids := make([]string, 0, len(members))
		for _, tx := range members {
			seedTx(t, store, tx)
			ids = append(ids, tx.TransactionID)
		}
		e := NewEngine(store, time.Hour)
		e.BindBatches(&fakeBatchSource{batches: map[string]*models.Batch{
			"NEFT-b1": {BatchID: "NEFT-b1", Channel: models.ChannelNEFT, Status: models.BatchSettled, TransactionIDs: ids},
		}})
		return e
	}

	t.Run("settled batch member matches batch-level confirmation", func(t *testing.T) {
		e := newBatchEngine(t, settledTx("tx-1", 5_000))

		rec, err := e.Ingest(ctx, models.Confirmation{
			Reference:       "NEFT-b1",
			ConfirmedAmount: 5_000,
			ConfirmedAt:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMatched, rec.Status)
		assert.Equal(t, int64(5_000), rec.ExpectedAmount)
	})

	t.Run("expectation sums only settled members", func(t *testing.T) {
		failed := settledTx("tx-2", 2_000)
		failed.State = models.StateFailed
		e := newBatchEngine(t, settledTx("tx-1", 5_000), failed, settledTx("tx-3", 1_500))

		rec, err := e.Ingest(ctx, models.Confirmation{
			Reference:       "NEFT-b1",
			ConfirmedAmount: 6_500,
			ConfirmedAt:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMatched, rec.Status)
		assert.Equal(t, int64(6_500), rec.ExpectedAmount)
	})

	t.Run("partner overstating a batch is a mismatch", func(t *testing.T) {
		e := newBatchEngine(t, settledTx("tx-1", 5_000))

		rec, err := e.Ingest(ctx, models.Confirmation{
			Reference:       "NEFT-b1",
			ConfirmedAmount: 7_000,
			ConfirmedAt:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMismatched, rec.Status)
		assert.Equal(t, int64(2_000), rec.Discrepancy)
	})

	t.Run("unknown batch still defaults to zero", func(t *testing.T) {
		e := newBatchEngine(t)

		rec, err := e.Ingest(ctx, models.Confirmation{Reference: "NEFT-ghost", ConfirmedAmount: 100, ConfirmedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, models.ReconMismatched, rec.Status)
		assert.Equal(t, int64(0), rec.ExpectedAmount)
	})
}

func TestEngine_TrackAndSweep(t *testing.T) {
	ctx := context.Background()
	store := processor.NewMemoryTxStore()
	e := NewEngine(store, 2*time.Hour)

	current := time.Now()
	e.now = func() time.Time { return current }

	e.Track(ctx, "tx-1", 5_000)
	e.Track(ctx, "tx-1", 9_999) // duplicate track is ignored

	pending := e.Records(models.ReconPending)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(5_000), pending[0].ExpectedAmount)

	// Inside the SLA nothing changes.
	current = current.Add(time.Hour)
	assert.Empty(t, e.Sweep(ctx))

	// Past the SLA the record escalates.
	current = current.Add(90 * time.Minute)
	changed := e.Sweep(ctx)
	require.Len(t, changed, 1)
	assert.Equal(t, models.ReconUnresolved, changed[0].Status)

	assert.Empty(t, e.Records(models.ReconPending))
	assert.Len(t, e.Records(models.ReconUnresolved), 1)

	// Sweeping again changes nothing; escalation is one-way.
	assert.Empty(t, e.Sweep(ctx))
}

func TestEngine_ConfirmationResolvesTracked(t *testing.T) {
	ctx := context.Background()
	store := processor.NewMemoryTxStore()
	seedTx(t, store, settledTx("tx-1", 5_000))
	e := NewEngine(store, time.Hour)

	e.Track(ctx, "tx-1", 5_000)

	rec, err := e.Ingest(ctx, models.Confirmation{Reference: "tx-1", ConfirmedAmount: 5_000, ConfirmedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, models.ReconMatched, rec.Status)
	assert.Empty(t, e.Records(models.ReconPending))
}
