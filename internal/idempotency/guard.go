// Package idempotency deduplicates retried submissions by caller-supplied
// key, with a bounded retention window after which keys may be recycled.
package idempotency

import (
	"context"

	"github.com/paygrid/settlecore/internal/models"
)

// Guard must be consulted before any validation work begins.
//
// Reserve atomically claims a key. It returns (true, nil) when the key is
// new, (false, result) when a terminal result was recorded for it, and
// (false, nil) when the key is claimed but still in flight; the caller maps
// that to models.ErrTransactionInFlight.
type Guard interface {
	Reserve(ctx context.Context, key string) (isNew bool, existing *models.Result, err error)
	Complete(ctx context.Context, key string, result models.Result) error
	Release(ctx context.Context, key string) error
}
