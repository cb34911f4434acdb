// Package api exposes the settlement core over HTTP. Handlers translate
// between JSON and the processor's domain types; no business rules live
// here.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paygrid/settlecore/internal/account"
	"github.com/paygrid/settlecore/internal/audit"
	"github.com/paygrid/settlecore/internal/batch"
	"github.com/paygrid/settlecore/internal/ledger"
	"github.com/paygrid/settlecore/internal/models"
	"github.com/paygrid/settlecore/internal/processor"
	"github.com/paygrid/settlecore/internal/reconcile"
)

const maxBodyBytes = 1_048_576 // 1 MB

type Handler struct {
	processor *processor.Processor
	ledger    ledger.Store
	accounts  account.Registry
	recon     *reconcile.Engine
	auditLog  *audit.Log
	batches   *batch.Scheduler
	validator *ValidationHelper
}

func NewHandler(
	p *processor.Processor,
	store ledger.Store,
	accounts account.Registry,
	recon *reconcile.Engine,
	auditLog *audit.Log,
	batches *batch.Scheduler,
) *Handler {
	return &Handler{
		processor: p,
		ledger:    store,
		accounts:  accounts,
		recon:     recon,
		auditLog:  auditLog,
		batches:   batches,
		validator: NewValidationHelper(),
	}
}

// SubmitRequest is the submission payload. DestinationRef is an internal
// account ID for INTERNAL transfers and an external beneficiary reference
// for NEFT, RTGS and UPI.
type SubmitRequest struct {
	IdempotencyKey  string `json:"idempotency_key" validate:"required,max=128"`
	Channel         string `json:"channel" validate:"required"`
	SourceAccountID string `json:"source_account_id" validate:"required"`
	DestinationRef  string `json:"destination_ref" validate:"required"`
	Amount          int64  `json:"amount" validate:"required,gt=0"` // minor units
	Currency        string `json:"currency" validate:"required,len=3"`
	PurposeCode     string `json:"purpose_code,omitempty" validate:"max=35"`
}

// decodeBody enforces the shared POST body discipline: bounded size, no
// unknown fields, exactly one JSON object.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBodyBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// SubmitTransaction handles transaction submission
// @Summary Submit a transaction
// @Description Validate, reserve and settle a payment over the requested channel
// @Tags transactions
// @Accept json
// @Produce json
// @Param transaction body SubmitRequest true "Transaction submission"
// @Success 200 {object} models.Result
// @Success 201 {object} models.Result
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} models.Result
// @Router /transactions [post]
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !models.ValidChannel(models.Channel(req.Channel)) {
		SendErrorResponse(w, "Unknown channel", http.StatusBadRequest, nil)
		return
	}

	result, err := h.processor.Submit(r.Context(), processor.SubmitRequest{
		IdempotencyKey: req.IdempotencyKey,
		Channel:        models.Channel(req.Channel),
		SourceAccount:  req.SourceAccountID,
		DestinationRef: req.DestinationRef,
		Amount:         req.Amount,
		Currency:       req.Currency,
		PurposeCode:    req.PurposeCode,
	})
	if err != nil {
		if errors.Is(err, models.ErrTransactionInFlight) {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:  "A submission with this idempotency key is still in flight",
				Reason: models.KindDuplicateInFlight,
			})
			return
		}
		log.Printf("[API] submission failed: %v", err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
		return
	}

	switch {
	case result.Replayed:
		writeJSON(w, http.StatusOK, result)
	case result.State == models.StateFailed || result.State == models.StateReversed:
		writeJSON(w, statusForKind(result.Reason), result)
	default:
		writeJSON(w, http.StatusCreated, result)
	}
}

// GetTransaction handles transaction lookup by ID
// @Summary Get a transaction
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")
	tx, err := h.processor.Get(r.Context(), txID)
	if err != nil {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// QueryTransactions handles lookup by idempotency key
// @Summary Find a transaction by idempotency key
// @Tags transactions
// @Produce json
// @Param idempotencyKey query string true "Idempotency key"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions [get]
func (h *Handler) QueryTransactions(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("idempotencyKey")
	if key == "" {
		SendErrorResponse(w, "idempotencyKey query parameter is required", http.StatusBadRequest, nil)
		return
	}
	tx, err := h.processor.Query(r.Context(), key)
	if err != nil {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetBalance handles account balance lookup
// @Summary Get an account balance
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	acct, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		log.Printf("[API] balance lookup failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to read balance", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": acct.AccountID,
		"currency":   acct.Currency,
		"status":     acct.Status,
		"balance":    balance,
	})
}

// FeedReconciliation handles one channel confirmation record
// @Summary Feed a settlement confirmation
// @Description Compare an external confirmation against the internally posted outcome
// @Tags reconciliation
// @Accept json
// @Produce json
// @Param confirmation body models.Confirmation true "Channel confirmation"
// @Success 200 {object} models.ReconciliationRecord
// @Failure 400 {object} ErrorResponse
// @Router /reconciliation/feed [post]
func (h *Handler) FeedReconciliation(w http.ResponseWriter, r *http.Request) {
	var c models.Confirmation
	if !decodeBody(w, r, &c) {
		return
	}
	if err := h.validator.ValidateStruct(&c); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	rec, err := h.recon.Ingest(r.Context(), c)
	if err != nil {
		log.Printf("[API] reconciliation feed failed: %v", err)
		SendErrorResponse(w, "Failed to ingest confirmation", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListReconciliation handles reconciliation record queries
// @Summary List reconciliation records
// @Tags reconciliation
// @Produce json
// @Param status query string false "Filter by status (PENDING, MATCHED, MISMATCHED, UNRESOLVED)"
// @Success 200 {array} models.ReconciliationRecord
// @Router /reconciliation/records [get]
func (h *Handler) ListReconciliation(w http.ResponseWriter, r *http.Request) {
	status := models.ReconStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, h.recon.Records(status))
}

// GetAuditTrail handles audit trail lookup
// @Summary Get the audit trail of a transaction
// @Tags audit
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {array} models.AuditRecord
// @Failure 404 {object} ErrorResponse
// @Router /audit/{txId} [get]
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")
	records, err := h.auditLog.ForTransaction(r.Context(), txID)
	if err != nil {
		log.Printf("[API] audit lookup failed for %s: %v", txID, err)
		SendErrorResponse(w, "Failed to read audit trail", http.StatusInternalServerError, nil)
		return
	}
	if len(records) == 0 {
		SendErrorResponse(w, "No audit records for transaction", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetBatch handles batch lookup
// @Summary Get a settlement batch
// @Tags batches
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} models.Batch
// @Failure 404 {object} ErrorResponse
// @Router /batches/{batchId} [get]
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		SendErrorResponse(w, "Batch settlement is not enabled", http.StatusNotFound, nil)
		return
	}
	b, err := h.batches.Get(chi.URLParam(r, "batchId"))
	if err != nil {
		SendErrorResponse(w, "Batch not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
