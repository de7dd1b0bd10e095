package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
)

// Mutating commands. Each one names itself and exposes its transaction id
// so the idempotency guard can key it without inspecting fields.

type TopupCommand struct {
	AccountID     uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	Description   string
}

func (TopupCommand) RequestName() string { return "TopupCommand" }
func (c TopupCommand) IdempotencyKey() string { return c.TransactionID }

type PaymentCommand struct {
	AccountID     uuid.UUID
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	Tax           decimal.Decimal
	Currency      string
	TransactionID string
	MerchantID    string
	Description   string
}

func (PaymentCommand) RequestName() string { return "PaymentCommand" }
func (c PaymentCommand) IdempotencyKey() string { return c.TransactionID }

type RefundCommand struct {
	AccountID             uuid.UUID
	Amount                decimal.Decimal
	Currency              string
	TransactionID         string
	OriginalTransactionID string
	Description           string
}

func (RefundCommand) RequestName() string { return "RefundCommand" }
func (c RefundCommand) IdempotencyKey() string { return c.TransactionID }

type AdjustmentCommand struct {
	AccountID     uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	Reason        string
	AdjustedBy    string
}

func (AdjustmentCommand) RequestName() string { return "AdjustmentCommand" }
func (c AdjustmentCommand) IdempotencyKey() string { return c.TransactionID }

// HistoryQuery selects one page of an account's transactions. Type and the
// From/To range cannot be combined.
type HistoryQuery struct {
	AccountID uuid.UUID
	Page      int
	PageSize  int
	Type      string
	From      *time.Time
	To        *time.Time
}

type AccountResponse struct {
	ID               uuid.UUID  `json:"id"`
	AccountNumber    string     `json:"account_number"`
	UserID           string     `json:"user_id"`
	Currency         string     `json:"currency"`
	Balance          string     `json:"balance"`
	AvailableBalance string     `json:"available_balance"`
	ReservedBalance  string     `json:"reserved_balance"`
	IsActive         bool       `json:"is_active"`
	LockedAt         *time.Time `json:"locked_at,omitempty"`
	LockedReason     string     `json:"locked_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type TransactionResponse struct {
	ID                    uuid.UUID         `json:"id"`
	AccountID             uuid.UUID         `json:"account_id"`
	TransactionID         string            `json:"transaction_id"`
	Type                  string            `json:"type"`
	Status                string            `json:"status"`
	Currency              string            `json:"currency"`
	Amount                string            `json:"amount"`
	Fee                   string            `json:"fee"`
	Tax                   string            `json:"tax"`
	TotalAmount           string            `json:"total_amount"`
	BalanceAfter          string            `json:"balance_after"`
	MerchantID            string            `json:"merchant_id,omitempty"`
	OriginalTransactionID string            `json:"original_transaction_id,omitempty"`
	Description           string            `json:"description,omitempty"`
	AdjustedBy            string            `json:"adjusted_by,omitempty"`
	Reason                string            `json:"reason,omitempty"`
	TransactionDate       time.Time         `json:"transaction_date"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

type JournalEntryResponse struct {
	ID                  uuid.UUID `json:"id"`
	LedgerTransactionID uuid.UUID `json:"ledger_transaction_id"`
	AccountID           uuid.UUID `json:"account_id"`
	IsSystem            bool      `json:"is_system"`
	EntryType           string    `json:"entry_type"`
	Amount              string    `json:"amount"`
	Currency            string    `json:"currency"`
	Description         string    `json:"description"`
	EntryDate           time.Time `json:"entry_date"`
}

type TransactionHistoryResponse struct {
	Items       []TransactionResponse `json:"items"`
	Page        int                   `json:"page"`
	PageSize    int                   `json:"page_size"`
	TotalCount  int                   `json:"total_count"`
	TotalPages  int                   `json:"total_pages"`
	HasNext     bool                  `json:"has_next"`
	HasPrevious bool                  `json:"has_previous"`
}

func toAccountResponse(a *domain.Account) *AccountResponse {
	return &AccountResponse{
		ID:               a.ID(),
		AccountNumber:    a.AccountNumber(),
		UserID:           a.UserID(),
		Currency:         a.Currency(),
		Balance:          a.Balance().Amount().StringFixed(2),
		AvailableBalance: a.AvailableBalance().Amount().StringFixed(2),
		ReservedBalance:  a.ReservedBalance().Amount().StringFixed(2),
		IsActive:         a.IsActive(),
		LockedAt:         a.LockedAt(),
		LockedReason:     a.LockedReason(),
		CreatedAt:        a.CreatedAt(),
		UpdatedAt:        a.UpdatedAt(),
	}
}

func toTransactionResponse(tx *domain.LedgerTransaction) *TransactionResponse {
	return &TransactionResponse{
		ID:                    tx.ID,
		AccountID:             tx.AccountID,
		TransactionID:         tx.TransactionID.String(),
		Type:                  string(tx.Type),
		Status:                string(tx.Status),
		Currency:              tx.Amount.Currency(),
		Amount:                tx.Amount.Amount().StringFixed(2),
		Fee:                   tx.Fee.Amount().StringFixed(2),
		Tax:                   tx.Tax.Amount().StringFixed(2),
		TotalAmount:           tx.Total().Amount().StringFixed(2),
		BalanceAfter:          tx.BalanceAfter.Amount().StringFixed(2),
		MerchantID:            tx.MerchantID,
		OriginalTransactionID: tx.OriginalTransactionID.String(),
		Description:           tx.Description,
		AdjustedBy:            tx.AdjustedBy,
		Reason:                tx.Reason,
		TransactionDate:       tx.TransactionDate,
		Metadata:              tx.Metadata,
	}
}

func toJournalEntryResponse(e domain.JournalEntry) JournalEntryResponse {
	return JournalEntryResponse{
		ID:                  e.ID,
		LedgerTransactionID: e.LedgerTransactionID,
		AccountID:           e.AccountID,
		IsSystem:            e.IsSystem(),
		EntryType:           string(e.EntryType),
		Amount:              e.Amount.Amount().StringFixed(2),
		Currency:            e.Amount.Currency(),
		Description:         e.Description,
		EntryDate:           e.EntryDate,
	}
}
