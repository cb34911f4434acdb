// Package channel translates internally posted transactions into the wire
// protocol of each external payment rail and reports settlement outcomes.
package channel

import (
	"context"

	"github.com/paygrid/settlecore/internal/models"
)

// SubmissionResult is the unambiguous outcome of one submission: either the
// channel settled the transaction or it did not. Ambiguous outcomes (a
// timeout after the request may have reached the network) come back as
// failures with RequiresRecon set so the reconciliation engine can resolve
// them against the channel's settlement report later.
type SubmissionResult struct {
	ExternalRef   string
	Settled       bool
	Reason        models.ErrorKind
	Detail        string
	RequiresRecon bool
}

// Adapter is the synchronous submission contract implemented by the UPI and
// RTGS rails. Submit returns an error only when the submission could not be
// attempted at all; a rejection by the network is a non-error result.
//
//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks -source=adapter.go Adapter
type Adapter interface {
	Channel() models.Channel
	Submit(ctx context.Context, tx models.Transaction) (SubmissionResult, error)
}
