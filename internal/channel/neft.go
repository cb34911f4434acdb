package channel

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/paygrid/settlecore/internal/batch"
	"github.com/paygrid/settlecore/internal/config"
	"github.com/paygrid/settlecore/internal/models"
)

// outboxQueue receives every outbound interchange file so downstream
// settlement tooling can replay submissions.
const outboxQueue = "neft:outbox"

// NEFTAdapter is the batch rail: it never submits individual transactions.
// The scheduler invokes it once per closed batch with the full ordered
// member list; the partner responds with a confirmation file carrying one
// outcome per item.
type NEFTAdapter struct {
	client    *http.Client
	endpoint  string
	partnerID string
	redis     *redis.Client // optional outbox mirror
}

func NewNEFTAdapter(cfg config.NEFTChannel, redisClient *redis.Client) *NEFTAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NEFTAdapter{
		client:    &http.Client{Timeout: timeout},
		endpoint:  cfg.PartnerEndpoint,
		partnerID: cfg.PartnerID,
		redis:     redisClient,
	}
}

func (a *NEFTAdapter) Channel() models.Channel { return models.ChannelNEFT }

// SubmitBatch encodes the member transactions as an interchange file, ships
// it to the partner, and maps the confirmation file back onto per-item
// outcomes. A member missing from the confirmation is failed with the
// reconciliation flag set; it is never left pending.
func (a *NEFTAdapter) SubmitBatch(ctx context.Context, b models.Batch, txs []models.Transaction) ([]models.BatchItemOutcome, error) {
	records := make([]batch.FileRecord, 0, len(txs))
	now := time.Now()
	for _, tx := range txs {
		records = append(records, batch.FileRecord{
			TransactionID: tx.TransactionID,
			PartnerID:     a.partnerID,
			Amount:        tx.Amount,
			Status:        "SUBMITTED",
			Timestamp:     now,
		})
	}

	file, err := batch.EncodeFileString(records)
	if err != nil {
		return nil, fmt.Errorf("neft: encode batch %s: %w", b.BatchID, err)
	}
	a.mirrorToOutbox(ctx, b.BatchID, file)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(file))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Batch-Id", b.BatchID)
	req.Header.Set("X-Partner-Id", a.partnerID)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("neft: submit batch %s: %w", b.BatchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("neft: partner returned status %d for batch %s", resp.StatusCode, b.BatchID)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("neft: read confirmation for batch %s: %w", b.BatchID, err)
	}
	confirmations, err := batch.DecodeFile(&buf)
	if err != nil {
		return nil, fmt.Errorf("neft: parse confirmation for batch %s: %w", b.BatchID, err)
	}

	confirmed := make(map[string]batch.FileRecord, len(confirmations))
	for _, rec := range confirmations {
		confirmed[rec.TransactionID] = rec
	}

	outcomes := make([]models.BatchItemOutcome, 0, len(txs))
	for _, tx := range txs {
		rec, ok := confirmed[tx.TransactionID]
		if !ok {
			outcomes = append(outcomes, models.BatchItemOutcome{
				TransactionID: tx.TransactionID,
				State:         models.StateFailed,
				Reason:        models.KindChannelTimeout,
				RequiresRecon: true,
			})
			continue
		}
		switch rec.Status {
		case "SETTLED", "SUCCESS":
			outcomes = append(outcomes, models.BatchItemOutcome{
				TransactionID: tx.TransactionID,
				State:         models.StateSettled,
			})
		default:
			outcomes = append(outcomes, models.BatchItemOutcome{
				TransactionID: tx.TransactionID,
				State:         models.StateFailed,
				Reason:        models.KindChannelRejected,
			})
		}
	}
	return outcomes, nil
}

func (a *NEFTAdapter) mirrorToOutbox(ctx context.Context, batchID, file string) {
	if a.redis == nil {
		return
	}
	payload := fmt.Sprintf("%s\n%s", batchID, file)
	if err := a.redis.RPush(ctx, outboxQueue, payload).Err(); err != nil {
		log.Printf("[NEFT] failed to mirror batch %s to outbox: %v", batchID, err)
	}
}
