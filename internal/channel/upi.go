package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/paygrid/settlecore/internal/config"
	"github.com/paygrid/settlecore/internal/models"
)

// UPIAdapter talks to the instant-payment network over a synchronous JSON
// request/response. Transient failures are retried with exponential backoff;
// the caller's idempotency key is forwarded so network-side dedupe covers
// our retries too.
type UPIAdapter struct {
	client      *http.Client
	endpoint    string
	maxRetries  int
	backoffBase time.Duration
	sleep       func(time.Duration)
}

type upiRequest struct {
	TransactionID  string `json:"transactionId"`
	IdempotencyKey string `json:"idempotencyKey"`
	PayerAccount   string `json:"payerAccount"`
	PayeeAddress   string `json:"payeeAddress"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PurposeCode    string `json:"purposeCode,omitempty"`
}

type upiResponse struct {
	Status    string `json:"status"` // SUCCESS or FAILURE
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

func NewUPIAdapter(cfg config.UPIChannel) *UPIAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.BackoffBase
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &UPIAdapter{
		client:      &http.Client{Timeout: timeout},
		endpoint:    cfg.Endpoint,
		maxRetries:  retries,
		backoffBase: backoff,
		sleep:       time.Sleep,
	}
}

func (a *UPIAdapter) Channel() models.Channel { return models.ChannelUPI }

func (a *UPIAdapter) Submit(ctx context.Context, tx models.Transaction) (SubmissionResult, error) {
	payload, err := json.Marshal(upiRequest{
		TransactionID:  tx.TransactionID,
		IdempotencyKey: tx.IdempotencyKey,
		PayerAccount:   tx.SourceAccountID,
		PayeeAddress:   tx.BeneficiaryRef,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		PurposeCode:    tx.PurposeCode,
	})
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("upi: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := a.backoffBase << (attempt - 1)
			log.Printf("[UPI] transaction %s attempt %d after %s backoff", tx.TransactionID, attempt+1, backoff)
			a.sleep(backoff)
		}
		if ctx.Err() != nil {
			break
		}

		result, retryable, err := a.attempt(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	// Retries exhausted. The request may or may not have reached the
	// network, so the failure is flagged for reconciliation.
	log.Printf("[UPI] transaction %s failed after retries: %v", tx.TransactionID, lastErr)
	return SubmissionResult{
		Settled:       false,
		Reason:        models.KindChannelTimeout,
		Detail:        fmt.Sprintf("retries exhausted: %v", lastErr),
		RequiresRecon: true,
	}, nil
}

func (a *UPIAdapter) attempt(ctx context.Context, payload []byte) (SubmissionResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return SubmissionResult{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return SubmissionResult{}, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return SubmissionResult{}, true, fmt.Errorf("upi: network returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return SubmissionResult{
			Settled: false,
			Reason:  models.KindChannelRejected,
			Detail:  fmt.Sprintf("network rejected submission with status %d", resp.StatusCode),
		}, false, nil
	}

	var body upiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SubmissionResult{}, false, fmt.Errorf("upi: decode response: %w", err)
	}

	if body.Status == "SUCCESS" {
		return SubmissionResult{ExternalRef: body.Reference, Settled: true}, false, nil
	}
	return SubmissionResult{
		ExternalRef: body.Reference,
		Settled:     false,
		Reason:      models.KindChannelRejected,
		Detail:      body.Reason,
	}, false, nil
}
