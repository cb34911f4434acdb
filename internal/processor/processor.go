// Package processor orchestrates the lifecycle of a transaction:
// validate, reserve, post, settle or compensate. It is the only component
// that drives state transitions, and every transition emits an audit
// record.
package processor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/paygrid/settlecore/internal/audit"
	"github.com/paygrid/settlecore/internal/channel"
	"github.com/paygrid/settlecore/internal/config"
	"github.com/paygrid/settlecore/internal/idempotency"
	"github.com/paygrid/settlecore/internal/ledger"
	"github.com/paygrid/settlecore/internal/models"
	"github.com/paygrid/settlecore/internal/validate"
)

const actor = "processor"

// BatchEnqueuer registers a transaction with the current settlement cycle.
// Implemented by the batch scheduler.
type BatchEnqueuer interface {
	Enqueue(ctx context.Context, tx *models.Transaction) (string, error)
}

// ReconTracker opens a pending reconciliation expectation for ambiguous
// channel outcomes. Implemented by the reconciliation engine.
type ReconTracker interface {
	Track(ctx context.Context, reference string, expected int64)
}

// AccountSource is the registry view the processor snapshots for
// validation.
type AccountSource interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
}

// SubmitRequest is the caller-facing submission. DestinationRef is an
// internal account ID for INTERNAL transfers and an external beneficiary
// reference for the inter-bank rails.
type SubmitRequest struct {
	IdempotencyKey string
	Channel        models.Channel
	SourceAccount  string
	DestinationRef string
	Amount         int64
	Currency       string
	PurposeCode    string
}

type Processor struct {
	txs      TxStore
	ledger   ledger.Store
	accounts AccountSource
	guard    idempotency.Guard
	limits   validate.Limits
	adapters map[models.Channel]channel.Adapter
	batches  BatchEnqueuer
	recon    ReconTracker
	auditLog *audit.Log
	clearing config.Ledger
	locks    *accountLocks
	now      func() time.Time
}

func New(
	txs TxStore,
	ledgerStore ledger.Store,
	accounts AccountSource,
	guard idempotency.Guard,
	limits validate.Limits,
	clearing config.Ledger,
	auditLog *audit.Log,
) *Processor {
	return &Processor{
		txs:      txs,
		ledger:   ledgerStore,
		accounts: accounts,
		guard:    guard,
		limits:   limits,
		adapters: make(map[models.Channel]channel.Adapter),
		auditLog: auditLog,
		clearing: clearing,
		locks:    newAccountLocks(),
		now:      time.Now,
	}
}

// RegisterAdapter wires a synchronous channel adapter.
func (p *Processor) RegisterAdapter(a channel.Adapter) {
	p.adapters[a.Channel()] = a
}

// BindBatches wires the batch scheduler used by the NEFT path.
func (p *Processor) BindBatches(b BatchEnqueuer) { p.batches = b }

// BindRecon wires the reconciliation engine.
func (p *Processor) BindRecon(r ReconTracker) { p.recon = r }

// Submit runs one transaction through the state machine. Business
// rejections come back as a Result with a FAILED state and a reason, not
// as an error; errors are reserved for infrastructure failures and for
// duplicate in-flight submissions (models.ErrTransactionInFlight).
func (p *Processor) Submit(ctx context.Context, req SubmitRequest) (models.Result, error) {
	if req.IdempotencyKey == "" {
		return models.Result{}, fmt.Errorf("idempotency key is required")
	}

	isNew, existing, err := p.guard.Reserve(ctx, req.IdempotencyKey)
	if err != nil {
		return models.Result{}, err
	}
	if !isNew {
		if existing != nil {
			replay := *existing
			replay.Replayed = true
			return replay, nil
		}
		return models.Result{}, models.ErrTransactionInFlight
	}

	tx := &models.Transaction{
		TransactionID:   uuid.New().String(),
		IdempotencyKey:  req.IdempotencyKey,
		Channel:         req.Channel,
		State:           models.StateInitiated,
		SourceAccountID: req.SourceAccount,
		Amount:          req.Amount,
		Currency:        req.Currency,
		PurposeCode:     req.PurposeCode,
		CreatedAt:       p.now(),
	}
	if req.Channel == models.ChannelInternal {
		tx.DestinationAccountID = req.DestinationRef
	} else {
		tx.BeneficiaryRef = req.DestinationRef
	}

	if err := p.txs.Create(ctx, tx); err != nil {
		p.guard.Release(ctx, req.IdempotencyKey)
		return models.Result{}, err
	}
	p.auditLog.Transition(ctx, tx.TransactionID, "", models.StateInitiated, actor, "submission accepted")

	if verr := p.validateAndReserve(ctx, tx); verr != nil {
		return p.fail(ctx, tx, verr.Kind, verr.Detail)
	}

	switch tx.Channel {
	case models.ChannelInternal:
		return p.settleInternal(ctx, tx)
	case models.ChannelNEFT:
		return p.enqueueNEFT(ctx, tx)
	default:
		return p.submitSync(ctx, tx)
	}
}

// validateAndReserve snapshots the accounts, applies the pure validator,
// and appends the reservation posting. The per-account locks cover the
// balance read and the append together; they are released before any
// channel I/O; from there the reservation entry, not a lock, is what
// prevents double-spend.
func (p *Processor) validateAndReserve(ctx context.Context, tx *models.Transaction) *models.ValidationError {
	release := p.locks.acquire(tx.SourceAccountID, tx.DestinationAccountID)
	defer release()

	source, err := p.accounts.Get(ctx, tx.SourceAccountID)
	if err != nil {
		return &models.ValidationError{Kind: models.KindAccountNotFound, Detail: "source account"}
	}
	var dest *models.Account
	if tx.Internal() {
		dest, err = p.accounts.Get(ctx, tx.DestinationAccountID)
		if err != nil {
			return &models.ValidationError{Kind: models.KindAccountNotFound, Detail: "destination account"}
		}
	}

	balance, err := p.ledger.GetBalance(ctx, tx.SourceAccountID)
	if err != nil {
		return &models.ValidationError{Kind: models.KindValidationFailed, Detail: err.Error()}
	}

	if verr := validate.Check(validate.Input{
		Transaction:   *tx,
		Source:        source,
		Destination:   dest,
		SourceBalance: balance,
		Now:           p.now(),
	}, p.limits); verr != nil {
		return verr
	}
	if err := p.transition(ctx, tx, models.StateValidated, ""); err != nil {
		return &models.ValidationError{Kind: models.KindValidationFailed, Detail: err.Error()}
	}

	// Reservation: move the funds out of availability and park them on the
	// holding account until the channel resolves.
	_, err = p.ledger.AppendEntries(ctx, tx.TransactionID, []models.LedgerEntry{
		ledger.Entry(tx.SourceAccountID, -tx.Amount),
		ledger.Entry(p.clearing.HoldingAccount, tx.Amount),
	})
	if err != nil {
		return &models.ValidationError{Kind: models.KindForError(err), Detail: err.Error()}
	}
	if err := p.transition(ctx, tx, models.StateReserved, "reservation posted"); err != nil {
		return &models.ValidationError{Kind: models.KindValidationFailed, Detail: err.Error()}
	}
	return nil
}

func (p *Processor) settleInternal(ctx context.Context, tx *models.Transaction) (models.Result, error) {
	// Internal transfers skip the channel leg entirely.
	_, err := p.ledger.AppendEntries(ctx, tx.TransactionID, []models.LedgerEntry{
		ledger.Entry(p.clearing.HoldingAccount, -tx.Amount),
		ledger.Entry(tx.DestinationAccountID, tx.Amount),
	})
	if err != nil {
		res, ferr := p.fail(ctx, tx, models.KindForError(err), err.Error())
		if ferr != nil {
			return res, ferr
		}
		return res, nil
	}
	if err := p.transition(ctx, tx, models.StateSettled, "internal transfer posted"); err != nil {
		return models.Result{}, err
	}
	return p.complete(ctx, tx)
}

func (p *Processor) enqueueNEFT(ctx context.Context, tx *models.Transaction) (models.Result, error) {
	if p.batches == nil {
		return p.fail(ctx, tx, models.KindChannelUnavail, "batch scheduler not configured")
	}
	if err := p.transition(ctx, tx, models.StateSubmittedToChannel, "enqueued for next batch cycle"); err != nil {
		return models.Result{}, err
	}
	batchID, err := p.batches.Enqueue(ctx, tx)
	if err != nil {
		return p.fail(ctx, tx, models.KindChannelUnavail, err.Error())
	}
	tx.BatchID = batchID
	if err := p.txs.Update(ctx, tx); err != nil {
		return models.Result{}, err
	}
	// Not terminal: the guard keeps the key in flight until the batch
	// resolves, so concurrent retries are rejected rather than replayed.
	return models.Result{TransactionID: tx.TransactionID, State: tx.State}, nil
}

func (p *Processor) submitSync(ctx context.Context, tx *models.Transaction) (models.Result, error) {
	adapter, ok := p.adapters[tx.Channel]
	if !ok {
		return p.fail(ctx, tx, models.KindChannelUnavail, fmt.Sprintf("no adapter for channel %s", tx.Channel))
	}
	if err := p.transition(ctx, tx, models.StateSubmittedToChannel, ""); err != nil {
		return models.Result{}, err
	}

	res, err := adapter.Submit(ctx, *tx)
	if err != nil {
		log.Printf("[PROCESSOR] transaction %s: channel %s unavailable: %v", tx.TransactionID, tx.Channel, err)
		res = channel.SubmissionResult{Settled: false, Reason: models.KindChannelUnavail, Detail: err.Error()}
	}
	return p.finalizeChannelResult(ctx, tx, res)
}

func (p *Processor) finalizeChannelResult(ctx context.Context, tx *models.Transaction, res channel.SubmissionResult) (models.Result, error) {
	tx.ExternalRef = res.ExternalRef
	if res.Settled {
		_, err := p.ledger.AppendEntries(ctx, tx.TransactionID, []models.LedgerEntry{
			ledger.Entry(p.clearing.HoldingAccount, -tx.Amount),
			ledger.Entry(p.clearing.NostroAccounts[tx.Channel], tx.Amount),
		})
		if err != nil {
			// The channel settled but the final posting failed: this is a
			// consistency problem for reconciliation, never auto-corrected.
			log.Printf("[PROCESSOR] transaction %s: settlement posting failed: %v", tx.TransactionID, err)
			tx.RequiresRecon = true
			if p.recon != nil {
				p.recon.Track(ctx, tx.TransactionID, tx.Amount)
			}
			return p.fail(ctx, tx, models.KindValidationFailed, "settlement posting failed")
		}
		if err := p.transition(ctx, tx, models.StateSettled, "channel confirmed settlement"); err != nil {
			return models.Result{}, err
		}
		return p.complete(ctx, tx)
	}

	tx.RequiresRecon = tx.RequiresRecon || res.RequiresRecon
	return p.fail(ctx, tx, res.Reason, res.Detail)
}

// fail drives FAILED and, when a reservation is live, the compensating
// REVERSED transition that restores the source balance exactly.
func (p *Processor) fail(ctx context.Context, tx *models.Transaction, kind models.ErrorKind, detail string) (models.Result, error) {
	reserved := tx.State == models.StateReserved || tx.State == models.StateSubmittedToChannel

	tx.Reason = kind
	if err := p.transition(ctx, tx, models.StateFailed, detail); err != nil {
		return models.Result{}, err
	}

	if reserved {
		_, err := p.ledger.AppendEntries(ctx, tx.TransactionID, []models.LedgerEntry{
			ledger.Entry(p.clearing.HoldingAccount, -tx.Amount),
			ledger.Entry(tx.SourceAccountID, tx.Amount),
		})
		if err != nil {
			// Reversal must not fail for business reasons; anything here is
			// an infrastructure fault surfaced for operators.
			log.Printf("[PROCESSOR] transaction %s: reversal posting failed: %v", tx.TransactionID, err)
			return models.Result{}, err
		}
		if err := p.transition(ctx, tx, models.StateReversed, "reservation reversed"); err != nil {
			return models.Result{}, err
		}
	}

	if tx.RequiresRecon && p.recon != nil {
		p.recon.Track(ctx, tx.TransactionID, 0)
	}
	return p.complete(ctx, tx)
}

// complete records the terminal result against the idempotency key.
func (p *Processor) complete(ctx context.Context, tx *models.Transaction) (models.Result, error) {
	result := models.Result{
		TransactionID: tx.TransactionID,
		State:         tx.State,
		Reason:        tx.Reason,
		ExternalRef:   tx.ExternalRef,
	}
	if err := p.guard.Complete(ctx, tx.IdempotencyKey, result); err != nil {
		log.Printf("[PROCESSOR] transaction %s: recording idempotent result failed: %v", tx.TransactionID, err)
	}
	return result, nil
}

// FinalizeBatchItem resolves one member of a submitted batch. Called by
// the batch scheduler once the channel reports per-item outcomes.
func (p *Processor) FinalizeBatchItem(ctx context.Context, outcome models.BatchItemOutcome) {
	tx, err := p.txs.Get(ctx, outcome.TransactionID)
	if err != nil {
		log.Printf("[PROCESSOR] batch outcome for unknown transaction %s", outcome.TransactionID)
		return
	}
	if tx.State.Terminal() {
		return
	}

	if outcome.State == models.StateSettled {
		if _, err := p.finalizeChannelResult(ctx, tx, channel.SubmissionResult{Settled: true}); err != nil {
			log.Printf("[PROCESSOR] transaction %s: batch settlement failed: %v", tx.TransactionID, err)
		}
		return
	}
	tx.RequiresRecon = outcome.RequiresRecon
	if _, err := p.fail(ctx, tx, outcome.Reason, "batch item failed"); err != nil {
		log.Printf("[PROCESSOR] transaction %s: batch failure handling failed: %v", tx.TransactionID, err)
	}
}

// Get returns a transaction by ID. Satisfies the read-only views the
// scheduler and reconciliation engine depend on.
func (p *Processor) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return p.txs.Get(ctx, transactionID)
}

// Query resolves a transaction by ID or, failing that, by idempotency key.
func (p *Processor) Query(ctx context.Context, ref string) (*models.Transaction, error) {
	tx, err := p.txs.Get(ctx, ref)
	if err == nil {
		return tx, nil
	}
	return p.txs.GetByIdempotencyKey(ctx, ref)
}

// allowedTransitions is the closed transition relation; anything outside
// it is a consistency bug, not a recoverable condition.
var allowedTransitions = map[models.TransactionState][]models.TransactionState{
	models.StateInitiated:          {models.StateValidated, models.StateFailed},
	models.StateValidated:          {models.StateReserved, models.StateFailed},
	models.StateReserved:           {models.StateSubmittedToChannel, models.StateSettled, models.StateFailed},
	models.StateSubmittedToChannel: {models.StateSettled, models.StateFailed},
	models.StateFailed:             {models.StateReversed},
}

func (p *Processor) transition(ctx context.Context, tx *models.Transaction, next models.TransactionState, detail string) error {
	prev := tx.State
	legal := false
	for _, s := range allowedTransitions[prev] {
		if s == next {
			legal = true
			break
		}
	}
	if !legal {
		return &models.ConsistencyError{
			Op:     "transition",
			Detail: fmt.Sprintf("transaction %s: %s -> %s", tx.TransactionID, prev, next),
		}
	}

	tx.State = next
	if next.Terminal() {
		now := p.now()
		tx.FinalizedAt = &now
	}
	if err := p.txs.Update(ctx, tx); err != nil {
		return err
	}
	p.auditLog.Transition(ctx, tx.TransactionID, prev, next, actor, detail)
	return nil
}
