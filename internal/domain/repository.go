package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByUserID(ctx context.Context, userID string) (*Account, error)
	// GetForUpdate acquires the exclusive lock on the account for the rest
	// of the enclosing unit of work.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)
	Update(ctx context.Context, account *Account) error
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *LedgerTransaction) error
	// GetByTransactionID returns nil, nil when no record exists.
	GetByTransactionID(ctx context.Context, txID TransactionID) (*LedgerTransaction, error)
	// SumRefunds totals completed refunds that reference originalTxID.
	SumRefunds(ctx context.Context, originalTxID TransactionID) (decimal.Decimal, error)
	List(ctx context.Context, filter HistoryFilter) ([]*LedgerTransaction, int, error)
}

type JournalRepository interface {
	CreateBatch(ctx context.Context, entries []JournalEntry) error
	ListByLedgerTransaction(ctx context.Context, ledgerTxID uuid.UUID) ([]JournalEntry, error)
}

// Store is the unit-of-work boundary. Repositories obtained from the Store
// passed to fn share one atomic transaction.
type Store interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Journal() JournalRepository
	WithTransaction(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
}

// HistoryFilter selects a page of an account's transactions. Type and the
// date range are mutually exclusive.
type HistoryFilter struct {
	AccountID uuid.UUID
	Type      *TransactionType
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Matches applies the filter to one transaction; stores without a query
// language use it directly.
func (f HistoryFilter) Matches(tx *LedgerTransaction) bool {
	if tx.AccountID != f.AccountID {
		return false
	}
	if f.Type != nil && tx.Type != *f.Type {
		return false
	}
	if f.From != nil && tx.TransactionDate.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.TransactionDate.After(*f.To) {
		return false
	}
	return true
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
