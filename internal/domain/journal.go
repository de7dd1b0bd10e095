package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
)

// SystemAccountID identifies the house ledger on the other side of every
// customer entry.
var SystemAccountID = uuid.Nil

type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

type JournalEntry struct {
	ID                  uuid.UUID
	LedgerTransactionID uuid.UUID
	AccountID           uuid.UUID
	EntryType           EntryType
	Amount              Money
	Description         string
	EntryDate           time.Time
}

// IsSystem reports whether the entry posts to the house ledger.
func (e JournalEntry) IsSystem() bool {
	return e.AccountID == SystemAccountID
}

// BuildJournalEntries creates the matched debit/credit set for tx. Zero fee
// and tax legs are omitted.
func BuildJournalEntries(tx *LedgerTransaction) ([]JournalEntry, error) {
	entry := func(accountID uuid.UUID, typ EntryType, amount Money, description string) JournalEntry {
		return JournalEntry{
			ID:                  uuid.New(),
			LedgerTransactionID: tx.ID,
			AccountID:           accountID,
			EntryType:           typ,
			Amount:              amount,
			Description:         description,
			EntryDate:           tx.TransactionDate,
		}
	}

	var entries []JournalEntry
	switch tx.Type {
	case TransactionTypeTopup:
		entries = append(entries,
			entry(tx.AccountID, EntryTypeDebit, tx.Amount, "topup"),
			entry(SystemAccountID, EntryTypeCredit, tx.Amount, "topup funding"),
		)
	case TransactionTypePayment:
		entries = append(entries,
			entry(tx.AccountID, EntryTypeCredit, tx.Total(), "payment"),
			entry(SystemAccountID, EntryTypeDebit, tx.Amount, fmt.Sprintf("payment to merchant %s", tx.MerchantID)),
		)
		if tx.Fee.IsPositive() {
			entries = append(entries, entry(SystemAccountID, EntryTypeDebit, tx.Fee, "payment fee"))
		}
		if tx.Tax.IsPositive() {
			entries = append(entries, entry(SystemAccountID, EntryTypeDebit, tx.Tax, "payment tax"))
		}
	case TransactionTypeRefund:
		entries = append(entries,
			entry(tx.AccountID, EntryTypeDebit, tx.Amount, fmt.Sprintf("refund of %s", tx.OriginalTransactionID)),
			entry(SystemAccountID, EntryTypeCredit, tx.Amount, "refund funding"),
		)
	case TransactionTypeAdjustment:
		entries = append(entries,
			entry(tx.AccountID, EntryTypeDebit, tx.Amount, fmt.Sprintf("adjustment by %s", tx.AdjustedBy)),
			entry(SystemAccountID, EntryTypeCredit, tx.Amount, "adjustment funding"),
		)
	case TransactionTypeAccountCreation:
		return nil, errors.ErrInvariantViolation.WithDetails("account creation carries no journal entries")
	default:
		return nil, errors.ErrInvariantViolation.WithDetails(fmt.Sprintf("unknown transaction type %q", tx.Type))
	}
	return entries, nil
}

// ValidateJournal checks that debits equal credits in one currency. A
// failure here is a programming error.
func ValidateJournal(entries []JournalEntry) error {
	if len(entries) < 2 {
		return errors.ErrInvariantViolation.WithDetails("journal needs at least one debit and one credit")
	}
	currency := entries[0].Amount.Currency()
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.Amount.Currency() != currency {
			return errors.ErrInvariantViolation.WithDetails("journal mixes currencies")
		}
		switch e.EntryType {
		case EntryTypeDebit:
			debits = debits.Add(e.Amount.Amount())
		case EntryTypeCredit:
			credits = credits.Add(e.Amount.Amount())
		default:
			return errors.ErrInvariantViolation.WithDetails(fmt.Sprintf("unknown entry type %q", e.EntryType))
		}
	}
	if !debits.Equal(credits) {
		return errors.ErrInvariantViolation.WithDetails(
			fmt.Sprintf("debits %s != credits %s", debits.StringFixed(2), credits.StringFixed(2)))
	}
	return nil
}
