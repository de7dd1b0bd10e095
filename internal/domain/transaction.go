package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
)

type TransactionType string

const (
	TransactionTypeAccountCreation TransactionType = "account_creation"
	TransactionTypeTopup           TransactionType = "topup"
	TransactionTypePayment         TransactionType = "payment"
	TransactionTypeRefund          TransactionType = "refund"
	TransactionTypeAdjustment      TransactionType = "adjustment"
)

func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.Valid() {
		return "", errors.NewAppErrorf(errors.InvalidInput, "unknown transaction type %q", s)
	}
	return t, nil
}

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeAccountCreation, TransactionTypeTopup, TransactionTypePayment,
		TransactionTypeRefund, TransactionTypeAdjustment:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusReversed:
		return true
	}
	return false
}

// LedgerTransaction is the append-only record of one account mutation.
// Only Status and Metadata change after creation.
type LedgerTransaction struct {
	ID                    uuid.UUID
	AccountID             uuid.UUID
	TransactionID         TransactionID
	Type                  TransactionType
	Status                TransactionStatus
	Amount                Money
	Fee                   Money
	Tax                   Money
	BalanceAfter          Money
	MerchantID            string
	OriginalTransactionID TransactionID
	Description           string
	AdjustedBy            string
	Reason                string
	TransactionDate       time.Time
	Metadata              map[string]string
}

// Total is amount + fee + tax, the full effect on the customer balance.
func (t *LedgerTransaction) Total() Money {
	total, err := t.Amount.Add(t.Fee)
	if err == nil {
		total, err = total.Add(t.Tax)
	}
	if err != nil {
		// fee and tax are always built in the transaction currency
		panic(fmt.Sprintf("ledger transaction %s has mixed currencies: %v", t.ID, err))
	}
	return total
}

// SignedDelta is the change this transaction applied to the balance.
func (t *LedgerTransaction) SignedDelta() decimal.Decimal {
	switch t.Type {
	case TransactionTypePayment:
		return t.Total().Amount().Neg()
	case TransactionTypeTopup, TransactionTypeRefund, TransactionTypeAdjustment:
		return t.Total().Amount()
	case TransactionTypeAccountCreation:
		return decimal.Zero
	}
	return decimal.Zero
}

func (t *LedgerTransaction) MarkAsFailed(reason string) error {
	if t.Status != TransactionStatusPending && t.Status != TransactionStatusCompleted {
		return errors.NewAppErrorf(errors.InvalidState, "cannot fail transaction in status %s", t.Status)
	}
	t.Status = TransactionStatusFailed
	if reason != "" {
		t.SetMetadata("failure_reason", reason)
	}
	return nil
}

func (t *LedgerTransaction) MarkAsReversed() error {
	if t.Status != TransactionStatusCompleted {
		return errors.NewAppErrorf(errors.InvalidState, "cannot reverse transaction in status %s", t.Status)
	}
	t.Status = TransactionStatusReversed
	return nil
}

func (t *LedgerTransaction) SetMetadata(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}
