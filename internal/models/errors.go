package models

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates caller-visible business reasons. These are normal
// outcomes, not transport failures; handlers map them onto HTTP statuses.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInsufficientFunds ErrorKind = "INSUFFICIENT_FUNDS"
	KindAccountClosed     ErrorKind = "ACCOUNT_CLOSED"
	KindAccountFrozen     ErrorKind = "ACCOUNT_FROZEN"
	KindAccountNotFound   ErrorKind = "ACCOUNT_NOT_FOUND"
	KindCurrencyMismatch  ErrorKind = "CURRENCY_MISMATCH"
	KindInvalidAmount     ErrorKind = "INVALID_AMOUNT"
	KindValidationFailed  ErrorKind = "VALIDATION_FAILED"
	KindOutsideWindow     ErrorKind = "OUTSIDE_CUTOFF_WINDOW"
	KindChannelUnavail    ErrorKind = "CHANNEL_UNAVAILABLE"
	KindChannelRejected   ErrorKind = "CHANNEL_REJECTED"
	KindChannelTimeout    ErrorKind = "CHANNEL_TIMEOUT"
	KindDuplicateInFlight ErrorKind = "DUPLICATE_IN_FLIGHT"
)

// ValidationError is a caller-correctable rejection from the transaction
// validator. It is returned synchronously and never retried by the core.
type ValidationError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// ConsistencyError marks an internal invariant violation (unbalanced entry
// set, duplicate sequence number). These are bugs: the operation aborts with
// no partial writes and is never silently corrected.
type ConsistencyError struct {
	Op     string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation in %s: %s", e.Op, e.Detail)
}

var (
	ErrUnbalancedEntries   = errors.New("ledger: entry set does not sum to zero")
	ErrAccountClosed       = errors.New("account is closed")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateSequence   = errors.New("ledger: duplicate sequence number")
	ErrOptimisticLock      = errors.New("optimistic lock failed")
	ErrTransactionInFlight = errors.New("transaction with this idempotency key is in flight")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrBatchClosed         = errors.New("batch no longer accepts transactions")
)

// KindForError maps store-level sentinels onto caller-visible kinds.
func KindForError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrAccountClosed):
		return KindAccountClosed
	case errors.Is(err, ErrAccountNotFound):
		return KindAccountNotFound
	case errors.Is(err, ErrTransactionInFlight):
		return KindDuplicateInFlight
	default:
		return KindValidationFailed
	}
}
