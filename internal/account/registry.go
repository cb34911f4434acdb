// Package account holds the registry of account metadata consulted by every
// posting: currency, status and overdraft policy. Balances live in the
// ledger; the registry never computes them.
package account

import (
	"context"

	"github.com/paygrid/settlecore/internal/models"
)

// Registry is the account index. Accounts are created by an out-of-core
// collaborator and mutated only through explicit administrative action;
// CLOSED is terminal and rows are never deleted.
type Registry interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
	Create(ctx context.Context, acct *models.Account) error
	SetStatus(ctx context.Context, accountID string, status models.AccountStatus) error
}
