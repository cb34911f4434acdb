package models

import (
	"time"
)

// Channel identifies the settlement rail a transaction moves over.
type Channel string

const (
	ChannelInternal Channel = "INTERNAL"
	ChannelNEFT     Channel = "NEFT"
	ChannelRTGS     Channel = "RTGS"
	ChannelUPI      Channel = "UPI"
)

// ValidChannel reports whether c is one of the supported channels.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelInternal, ChannelNEFT, ChannelRTGS, ChannelUPI:
		return true
	}
	return false
}

// TransactionState is a node in the processor's lifecycle state machine.
type TransactionState string

const (
	StateInitiated          TransactionState = "INITIATED"
	StateValidated          TransactionState = "VALIDATED"
	StateReserved           TransactionState = "RESERVED"
	StateSubmittedToChannel TransactionState = "SUBMITTED_TO_CHANNEL"
	StateSettled            TransactionState = "SETTLED"
	StateFailed             TransactionState = "FAILED"
	StateReversed           TransactionState = "REVERSED"
)

// Terminal reports whether the state machine has come to rest. A FAILED
// transaction whose reservation was never posted is terminal; one with a
// live reservation still has a REVERSED transition ahead of it, which the
// processor drives immediately.
func (s TransactionState) Terminal() bool {
	switch s {
	case StateSettled, StateFailed, StateReversed:
		return true
	}
	return false
}

// Transaction is owned exclusively by the processor; every other component
// reads it and never writes.
type Transaction struct {
	TransactionID        string           `json:"transaction_id" db:"transaction_id"`
	IdempotencyKey       string           `json:"idempotency_key" db:"idempotency_key"`
	Channel              Channel          `json:"channel" db:"channel"`
	State                TransactionState `json:"state" db:"state"`
	SourceAccountID      string           `json:"source_account_id" db:"source_account_id"`
	DestinationAccountID string           `json:"destination_account_id,omitempty" db:"destination_account_id"`
	BeneficiaryRef       string           `json:"beneficiary_ref,omitempty" db:"beneficiary_ref"` // external beneficiary for inter-bank rails
	Amount               int64            `json:"amount" db:"amount"`                             // minor units
	Currency             string           `json:"currency" db:"currency"`
	PurposeCode          string           `json:"purpose_code,omitempty" db:"purpose_code"`
	Reason               ErrorKind        `json:"reason,omitempty" db:"reason"`
	RequiresRecon        bool             `json:"requires_reconciliation" db:"requires_reconciliation"`
	ExternalRef          string           `json:"external_ref,omitempty" db:"external_ref"` // channel-assigned reference
	BatchID              string           `json:"batch_id,omitempty" db:"batch_id"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	FinalizedAt          *time.Time       `json:"finalized_at,omitempty" db:"finalized_at"`
}

// Internal reports whether settlement never leaves the ledger.
func (t *Transaction) Internal() bool { return t.Channel == ChannelInternal }

// Result is the caller-visible outcome recorded against an idempotency key.
// Replaying a key after a terminal state returns the stored Result verbatim.
type Result struct {
	TransactionID string           `json:"transaction_id"`
	State         TransactionState `json:"state"`
	Reason        ErrorKind        `json:"reason,omitempty"`
	ExternalRef   string           `json:"external_ref,omitempty"`
	Replayed      bool             `json:"replayed,omitempty"`
}
