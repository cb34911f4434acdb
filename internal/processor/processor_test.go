package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygrid/settlecore/internal/account"
	"github.com/paygrid/settlecore/internal/audit"
	"github.com/paygrid/settlecore/internal/channel"
	"github.com/paygrid/settlecore/internal/channel/mocks"
	"github.com/paygrid/settlecore/internal/config"
	"github.com/paygrid/settlecore/internal/idempotency"
	"github.com/paygrid/settlecore/internal/ledger"
	"github.com/paygrid/settlecore/internal/models"
	"github.com/paygrid/settlecore/internal/validate"
)

const (
	holdingAccount = "9000000001"
	upiNostro      = "9300000001"
	rtgsNostro     = "9200000001"
	neftNostro     = "9100000001"
)

type harness struct {
	proc     *Processor
	reg      *account.MemoryRegistry
	ledger   *ledger.MemoryStore
	txs      *MemoryTxStore
	guard    *idempotency.MemoryGuard
	auditMem *audit.MemoryStore
	recon    *fakeRecon
}

type fakeRecon struct {
	mu      sync.Mutex
	tracked map[string]int64
}

func (f *fakeRecon) Track(ctx context.Context, reference string, expected int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tracked == nil {
		f.tracked = make(map[string]int64)
	}
	f.tracked[reference] = expected
}

func (f *fakeRecon) has(reference string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tracked[reference]
	return ok
}

type fakeEnqueuer struct {
	batchID string
	err     error
	seen    []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, tx *models.Transaction) (string, error) {
	f.seen = append(f.seen, tx.TransactionID)
	if f.err != nil {
		return "", f.err
	}
	return f.batchID, nil
}

func clearingConfig() config.Ledger {
	return config.Ledger{
		HoldingAccount: holdingAccount,
		NostroAccounts: map[models.Channel]string{
			models.ChannelNEFT: neftNostro,
			models.ChannelRTGS: rtgsNostro,
			models.ChannelUPI:  upiNostro,
		},
	}
}

func testLimits() validate.Limits {
	return validate.Limits{
		UPIMaxAmount:  10_000_000,
		RTGSMinAmount: 20_000_000,
	}
}

// newHarness builds a processor over in-memory collaborators with the
// source account funded through an overdraft on a seed account.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	reg := account.NewMemoryRegistry()
	for _, id := range []string{holdingAccount, upiNostro, rtgsNostro, neftNostro} {
		require.NoError(t, reg.Create(ctx, &models.Account{AccountID: id, Currency: "INR"}))
	}
	require.NoError(t, reg.Create(ctx, &models.Account{AccountID: "SRC", Currency: "INR"}))
	require.NoError(t, reg.Create(ctx, &models.Account{AccountID: "DST", Currency: "INR"}))
	seed := &models.Account{AccountID: "SEED", Currency: "INR", OverdraftLimit: 1_000_000_000}
	require.NoError(t, reg.Create(ctx, seed))

	led := ledger.NewMemoryStore(reg)
	_, err := led.AppendEntries(ctx, "seed-src", []models.LedgerEntry{
		ledger.Entry("SEED", -100_000),
		ledger.Entry("SRC", 100_000),
	})
	require.NoError(t, err)

	txs := NewMemoryTxStore()
	guard := idempotency.NewMemoryGuard(time.Hour)
	auditMem := audit.NewMemoryStore()
	recon := &fakeRecon{}

	proc := New(txs, led, reg, guard, testLimits(), clearingConfig(), audit.NewLog(auditMem))
	proc.BindRecon(recon)

	return &harness{proc: proc, reg: reg, ledger: led, txs: txs, guard: guard, auditMem: auditMem, recon: recon}
}

func (h *harness) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	b, err := h.ledger.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func internalReq(key string, amount int64) SubmitRequest {
	return SubmitRequest{
		IdempotencyKey: key,
		Channel:        models.ChannelInternal,
		SourceAccount:  "SRC",
		DestinationRef: "DST",
		Amount:         amount,
		Currency:       "INR",
	}
}

func upiReq(key string, amount int64) SubmitRequest {
	return SubmitRequest{
		IdempotencyKey: key,
		Channel:        models.ChannelUPI,
		SourceAccount:  "SRC",
		DestinationRef: "payee@upi",
		Amount:         amount,
		Currency:       "INR",
	}
}

func TestProcessor_InternalTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.proc.Submit(ctx, internalReq("k1", 5_000))
	require.NoError(t, err)
	assert.Equal(t, models.StateSettled, result.State)
	assert.False(t, result.Replayed)

	assert.Equal(t, int64(95_000), h.balance(t, "SRC"))
	assert.Equal(t, int64(5_000), h.balance(t, "DST"))
	assert.Equal(t, int64(0), h.balance(t, holdingAccount), "holding account nets to zero once settled")

	// Full audit trail: INITIATED through SETTLED.
	records, err := h.auditMem.ForTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	states := make([]models.TransactionState, 0, len(records))
	for _, r := range records {
		states = append(states, r.NewState)
	}
	assert.Equal(t, []models.TransactionState{
		models.StateInitiated,
		models.StateValidated,
		models.StateReserved,
		models.StateSettled,
	}, states)

	// The transaction's ledger entries net to zero.
	entries, err := h.ledger.EntriesForTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	assert.Equal(t, int64(0), sum)
}

func TestProcessor_IdempotentReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.proc.Submit(ctx, internalReq("k1", 5_000))
	require.NoError(t, err)

	second, err := h.proc.Submit(ctx, internalReq("k1", 5_000))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, first.State, second.State)

	// No second movement happened.
	assert.Equal(t, int64(95_000), h.balance(t, "SRC"))
	assert.Equal(t, int64(5_000), h.balance(t, "DST"))
}

func TestProcessor_ValidationFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds fails before any posting", func(t *testing.T) {
		h := newHarness(t)

		result, err := h.proc.Submit(ctx, internalReq("k1", 200_000))
		require.NoError(t, err)
		assert.Equal(t, models.StateFailed, result.State)
		assert.Equal(t, models.KindInsufficientFunds, result.Reason)

		assert.Equal(t, int64(100_000), h.balance(t, "SRC"))
		assert.Equal(t, int64(0), h.balance(t, holdingAccount))
	})

	t.Run("frozen source account", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.reg.SetStatus(ctx, "SRC", models.AccountFrozen))

		result, err := h.proc.Submit(ctx, internalReq("k1", 5_000))
		require.NoError(t, err)
		assert.Equal(t, models.StateFailed, result.State)
		assert.Equal(t, models.KindAccountFrozen, result.Reason)
	})

	t.Run("unknown source account", func(t *testing.T) {
		h := newHarness(t)
		req := internalReq("k1", 5_000)
		req.SourceAccount = "GHOST"

		result, err := h.proc.Submit(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.StateFailed, result.State)
		assert.Equal(t, models.KindAccountNotFound, result.Reason)
	})

	t.Run("failed result replays on retry", func(t *testing.T) {
		h := newHarness(t)

		first, err := h.proc.Submit(ctx, internalReq("k1", 200_000))
		require.NoError(t, err)
		assert.Equal(t, models.StateFailed, first.State)

		second, err := h.proc.Submit(ctx, internalReq("k1", 200_000))
		require.NoError(t, err)
		assert.True(t, second.Replayed)
		assert.Equal(t, models.KindInsufficientFunds, second.Reason)
	})

	t.Run("missing idempotency key is refused outright", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.proc.Submit(ctx, internalReq("", 5_000))
		assert.Error(t, err)
	})
}

func TestProcessor_UPISettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().Channel().Return(models.ChannelUPI).AnyTimes()
	adapter.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(channel.SubmissionResult{ExternalRef: "UPI-REF-1", Settled: true}, nil)
	h.proc.RegisterAdapter(adapter)

	result, err := h.proc.Submit(ctx, upiReq("k1", 5_000))
	require.NoError(t, err)
	assert.Equal(t, models.StateSettled, result.State)
	assert.Equal(t, "UPI-REF-1", result.ExternalRef)

	assert.Equal(t, int64(95_000), h.balance(t, "SRC"))
	assert.Equal(t, int64(0), h.balance(t, holdingAccount))
	assert.Equal(t, int64(5_000), h.balance(t, upiNostro), "external settlement lands on the channel nostro")
}

func TestProcessor_ChannelRejectionReverses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().Channel().Return(models.ChannelUPI).AnyTimes()
	adapter.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(channel.SubmissionResult{
			Settled: false,
			Reason:  models.KindChannelRejected,
			Detail:  "payee VPA inactive",
		}, nil)
	h.proc.RegisterAdapter(adapter)

	result, err := h.proc.Submit(ctx, upiReq("k1", 5_000))
	require.NoError(t, err)
	assert.Equal(t, models.StateReversed, result.State)
	assert.Equal(t, models.KindChannelRejected, result.Reason)

	// Reversal restores the source exactly; the reservation entries remain
	// on the books alongside their compensation.
	assert.Equal(t, int64(100_000), h.balance(t, "SRC"))
	assert.Equal(t, int64(0), h.balance(t, holdingAccount))

	tx, err := h.txs.Get(ctx, result.TransactionID)
	require.NoError(t, err)
	entries, err := h.ledger.EntriesForTransaction(ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "reservation pair plus reversal pair")
	assert.False(t, h.recon.has(tx.TransactionID), "a clean rejection needs no reconciliation")
}

func TestProcessor_AmbiguousOutcomeTracksRecon(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().Channel().Return(models.ChannelUPI).AnyTimes()
	adapter.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(channel.SubmissionResult{
			Settled:       false,
			Reason:        models.KindChannelTimeout,
			Detail:        "retries exhausted",
			RequiresRecon: true,
		}, nil)
	h.proc.RegisterAdapter(adapter)

	result, err := h.proc.Submit(ctx, upiReq("k1", 5_000))
	require.NoError(t, err)
	assert.Equal(t, models.StateReversed, result.State)
	assert.Equal(t, models.KindChannelTimeout, result.Reason)

	assert.Equal(t, int64(100_000), h.balance(t, "SRC"))
	assert.True(t, h.recon.has(result.TransactionID), "ambiguous failures open a reconciliation record")
}

func TestProcessor_AdapterErrorReverses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().Channel().Return(models.ChannelUPI).AnyTimes()
	adapter.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(channel.SubmissionResult{}, errors.New("connection refused"))
	h.proc.RegisterAdapter(adapter)

	result, err := h.proc.Submit(ctx, upiReq("k1", 5_000))
	require.NoError(t, err)
	assert.Equal(t, models.StateReversed, result.State)
	assert.Equal(t, models.KindChannelUnavail, result.Reason)
	assert.Equal(t, int64(100_000), h.balance(t, "SRC"))
}

func TestProcessor_MissingAdapter(t *testing.T) {
	h := newHarness(t)

	result, err := h.proc.Submit(context.Background(), upiReq("k1", 5_000))
	require.NoError(t, err)
	assert.Equal(t, models.StateReversed, result.State)
	assert.Equal(t, models.KindChannelUnavail, result.Reason)
	assert.Equal(t, int64(100_000), h.balance(t, "SRC"))
}

func TestProcessor_NEFTEnqueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	enq := &fakeEnqueuer{batchID: "NEFT-b1"}
	h.proc.BindBatches(enq)

	req := SubmitRequest{
		IdempotencyKey: "k1",
		Channel:        models.ChannelNEFT,
		SourceAccount:  "SRC",
		DestinationRef: "BENE-ACCT-9",
		Amount:         5_000,
		Currency:       "INR",
	}
	result, err := h.proc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StateSubmittedToChannel, result.State, "batch members stay pending until the cycle closes")

	tx, err := h.txs.Get(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "NEFT-b1", tx.BatchID)
	assert.Equal(t, []string{tx.TransactionID}, enq.seen)

	// Funds are reserved while the batch is pending.
	assert.Equal(t, int64(95_000), h.balance(t, "SRC"))
	assert.Equal(t, int64(5_000), h.balance(t, holdingAccount))

	// A concurrent retry is rejected, not replayed, while in flight.
	_, err = h.proc.Submit(ctx, req)
	assert.ErrorIs(t, err, models.ErrTransactionInFlight)
}

func TestProcessor_FinalizeBatchItem(t *testing.T) {
	ctx := context.Background()

	submitNEFT := func(t *testing.T, h *harness) *models.Transaction {
		h.proc.BindBatches(&fakeEnqueuer{batchID: "NEFT-b1"})
		result, err := h.proc.Submit(ctx, SubmitRequest{
			IdempotencyKey: "k1",
			Channel:        models.ChannelNEFT,
			SourceAccount:  "SRC",
			DestinationRef: "BENE-ACCT-9",
			Amount:         5_000,
			Currency:       "INR",
		})
		require.NoError(t, err)
		tx, err := h.txs.Get(ctx, result.TransactionID)
		require.NoError(t, err)
		return tx
	}

	t.Run("settled outcome posts to the NEFT nostro", func(t *testing.T) {
		h := newHarness(t)
		tx := submitNEFT(t, h)

		h.proc.FinalizeBatchItem(ctx, models.BatchItemOutcome{
			TransactionID: tx.TransactionID,
			State:         models.StateSettled,
		})

		final, err := h.txs.Get(ctx, tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, models.StateSettled, final.State)
		assert.Equal(t, int64(5_000), h.balance(t, neftNostro))
		assert.Equal(t, int64(0), h.balance(t, holdingAccount))

		// The idempotency key now replays the terminal result.
		replay, err := h.proc.Submit(ctx, SubmitRequest{
			IdempotencyKey: "k1",
			Channel:        models.ChannelNEFT,
			SourceAccount:  "SRC",
			DestinationRef: "BENE-ACCT-9",
			Amount:         5_000,
			Currency:       "INR",
		})
		require.NoError(t, err)
		assert.True(t, replay.Replayed)
		assert.Equal(t, models.StateSettled, replay.State)
	})

	t.Run("failed outcome reverses the reservation", func(t *testing.T) {
		h := newHarness(t)
		tx := submitNEFT(t, h)

		h.proc.FinalizeBatchItem(ctx, models.BatchItemOutcome{
			TransactionID: tx.TransactionID,
			State:         models.StateFailed,
			Reason:        models.KindChannelRejected,
		})

		final, err := h.txs.Get(ctx, tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, models.StateReversed, final.State)
		assert.Equal(t, int64(100_000), h.balance(t, "SRC"))
	})

	t.Run("silent member is failed with reconciliation", func(t *testing.T) {
		h := newHarness(t)
		tx := submitNEFT(t, h)

		h.proc.FinalizeBatchItem(ctx, models.BatchItemOutcome{
			TransactionID: tx.TransactionID,
			State:         models.StateFailed,
			Reason:        models.KindChannelTimeout,
			RequiresRecon: true,
		})

		final, err := h.txs.Get(ctx, tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, models.StateReversed, final.State)
		assert.True(t, h.recon.has(tx.TransactionID))
	})

	t.Run("terminal transactions are left alone", func(t *testing.T) {
		h := newHarness(t)
		tx := submitNEFT(t, h)

		h.proc.FinalizeBatchItem(ctx, models.BatchItemOutcome{TransactionID: tx.TransactionID, State: models.StateSettled})
		h.proc.FinalizeBatchItem(ctx, models.BatchItemOutcome{TransactionID: tx.TransactionID, State: models.StateSettled})

		assert.Equal(t, int64(5_000), h.balance(t, neftNostro), "a duplicate outcome must not double-post")
	})
}

// Concurrent submissions against one funded account must never
// over-reserve, whatever the interleaving.
func TestProcessor_ConcurrentReservations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const workers = 40 // 40 x 5,000 = 200,000 attempted against 100,000 funded
	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := h.proc.Submit(ctx, internalReq(fmt.Sprintf("k-%d", n), 5_000))
			if err == nil && result.State == models.StateSettled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, settled, "exactly the funded amount settles")
	assert.Equal(t, int64(0), h.balance(t, "SRC"))
	assert.Equal(t, int64(100_000), h.balance(t, "DST"))
	assert.Equal(t, int64(0), h.balance(t, holdingAccount))
}

func TestProcessor_ConcurrentDuplicateKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const workers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh, replayed, inFlight := 0, 0, 0
	txIDs := make(map[string]bool)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.proc.Submit(ctx, internalReq("dup", 5_000))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, models.ErrTransactionInFlight):
				inFlight++
			case err == nil && result.Replayed:
				replayed++
				txIDs[result.TransactionID] = true
			case err == nil:
				fresh++
				txIDs[result.TransactionID] = true
			default:
				t.Errorf("unexpected submit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh, "exactly one submission wins the key")
	assert.Equal(t, workers, fresh+replayed+inFlight)
	assert.Len(t, txIDs, 1, "every successful result names the same transaction")

	// The ledger moved the money once.
	assert.Equal(t, int64(95_000), h.balance(t, "SRC"))
	assert.Equal(t, int64(5_000), h.balance(t, "DST"))
	assert.Equal(t, int64(0), h.balance(t, holdingAccount))

	for id := range txIDs {
		entries, err := h.ledger.EntriesForTransaction(ctx, id)
		require.NoError(t, err)
		assert.Len(t, entries, 4, "one reservation pair and one settlement pair")
	}
}

func TestProcessor_Query(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.proc.Submit(ctx, internalReq("k1", 5_000))
	require.NoError(t, err)

	byID, err := h.proc.Query(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, byID.TransactionID)

	byKey, err := h.proc.Query(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, byKey.TransactionID)

	_, err = h.proc.Query(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestProcessor_IllegalTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.proc.Submit(ctx, internalReq("k1", 5_000))
	require.NoError(t, err)

	tx, err := h.txs.Get(ctx, result.TransactionID)
	require.NoError(t, err)

	err = h.proc.transition(ctx, tx, models.StateInitiated, "")
	var cerr *models.ConsistencyError
	assert.ErrorAs(t, err, &cerr, "settled transactions never move again")
}
