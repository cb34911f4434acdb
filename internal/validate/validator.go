// Package validate holds the pure business checks applied to a proposed
// transaction before it is allowed to post. Nothing here mutates state,
// which keeps the rules exhaustively testable without a ledger.
package validate

import (
	"fmt"
	"time"

	"github.com/paygrid/settlecore/internal/config"
	"github.com/paygrid/settlecore/internal/models"
)

// Limits are the channel-specific constraints injected at construction.
type Limits struct {
	UPIMaxAmount  int64
	RTGSMinAmount int64
	RTGSWindow    config.Window
	NEFTWindow    config.Window
}

// LimitsFromConfig extracts validator limits from the channel configuration.
func LimitsFromConfig(ch config.Channels) Limits {
	return Limits{
		UPIMaxAmount:  ch.UPI.MaxAmount,
		RTGSMinAmount: ch.RTGS.MinAmount,
		RTGSWindow:    ch.RTGS.Window,
		NEFTWindow:    ch.NEFT.Window,
	}
}

// Input is the snapshot the validator judges. SourceBalance comes from the
// ledger, not from the registry row, so the check sees reservations.
type Input struct {
	Transaction   models.Transaction
	Source        *models.Account
	Destination   *models.Account // nil unless the transfer is internal
	SourceBalance int64
	Now           time.Time
}

// Check returns nil when the transaction may proceed, or the first failing
// reason in the documented order: account status, currency, amount, funds,
// channel constraints.
func Check(in Input, limits Limits) *models.ValidationError {
	tx := in.Transaction

	if err := checkAccount(in.Source, "source"); err != nil {
		return err
	}
	if tx.Internal() {
		if in.Destination == nil {
			return &models.ValidationError{Kind: models.KindAccountNotFound, Detail: "destination account required for internal transfer"}
		}
		if in.Destination.AccountID == in.Source.AccountID {
			return &models.ValidationError{Kind: models.KindValidationFailed, Detail: "source and destination are the same account"}
		}
		if err := checkAccount(in.Destination, "destination"); err != nil {
			return err
		}
	} else if tx.BeneficiaryRef == "" {
		return &models.ValidationError{Kind: models.KindValidationFailed, Detail: "beneficiary reference required for inter-bank transfer"}
	}

	if tx.Currency != in.Source.Currency {
		return &models.ValidationError{
			Kind:   models.KindCurrencyMismatch,
			Detail: fmt.Sprintf("transaction currency %s, account currency %s", tx.Currency, in.Source.Currency),
		}
	}
	if in.Destination != nil && tx.Currency != in.Destination.Currency {
		return &models.ValidationError{
			Kind:   models.KindCurrencyMismatch,
			Detail: fmt.Sprintf("transaction currency %s, destination currency %s", tx.Currency, in.Destination.Currency),
		}
	}

	if tx.Amount <= 0 {
		return &models.ValidationError{Kind: models.KindInvalidAmount, Detail: "amount must be positive"}
	}

	if in.SourceBalance+in.Source.OverdraftLimit < tx.Amount {
		return &models.ValidationError{Kind: models.KindInsufficientFunds}
	}

	return checkChannel(tx, in.Now, limits)
}

func checkAccount(acct *models.Account, role string) *models.ValidationError {
	switch acct.Status {
	case models.AccountActive:
		return nil
	case models.AccountFrozen:
		return &models.ValidationError{Kind: models.KindAccountFrozen, Detail: role + " account is frozen"}
	case models.AccountClosed:
		return &models.ValidationError{Kind: models.KindAccountClosed, Detail: role + " account is closed"}
	default:
		return &models.ValidationError{Kind: models.KindValidationFailed, Detail: fmt.Sprintf("%s account has unknown status %q", role, acct.Status)}
	}
}

func checkChannel(tx models.Transaction, now time.Time, limits Limits) *models.ValidationError {
	switch tx.Channel {
	case models.ChannelInternal:
		return nil
	case models.ChannelUPI:
		if limits.UPIMaxAmount > 0 && tx.Amount > limits.UPIMaxAmount {
			return &models.ValidationError{
				Kind:   models.KindInvalidAmount,
				Detail: fmt.Sprintf("amount %d exceeds UPI per-transaction ceiling %d", tx.Amount, limits.UPIMaxAmount),
			}
		}
		return nil
	case models.ChannelRTGS:
		if tx.Amount < limits.RTGSMinAmount {
			return &models.ValidationError{
				Kind:   models.KindInvalidAmount,
				Detail: fmt.Sprintf("amount %d below RTGS minimum %d", tx.Amount, limits.RTGSMinAmount),
			}
		}
		if !limits.RTGSWindow.Contains(now) {
			return &models.ValidationError{Kind: models.KindOutsideWindow, Detail: "RTGS submissions accepted only during business hours"}
		}
		return nil
	case models.ChannelNEFT:
		if !limits.NEFTWindow.Contains(now) {
			return &models.ValidationError{Kind: models.KindOutsideWindow, Detail: "NEFT channel past cutoff for today"}
		}
		return nil
	default:
		return &models.ValidationError{Kind: models.KindValidationFailed, Detail: fmt.Sprintf("unknown channel %q", tx.Channel)}
	}
}
