package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
)

type journalRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewJournalRepository(db SQLExecutor, logger *slog.Logger) domain.JournalRepository {
	return &journalRepository{
		db:     db,
		logger: logger,
	}
}

func (r *journalRepository) CreateBatch(ctx context.Context, entries []domain.JournalEntry) error {
	query := `
		INSERT INTO journal_entries
		(id, ledger_transaction_id, account_id, entry_type, currency, amount, description, entry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, e := range entries {
		_, err := r.db.ExecContext(ctx, query,
			e.ID,
			e.LedgerTransactionID,
			e.AccountID,
			string(e.EntryType),
			e.Amount.Currency(),
			e.Amount.Amount(),
			e.Description,
			e.EntryDate,
		)
		if err != nil {
			r.logger.Error("Failed to create journal entry",
				"ledger_transaction_id", e.LedgerTransactionID,
				"entry_type", e.EntryType,
				"error", err)
			return errors.NewAppError(errors.InternalError, "failed to create journal entry").WithDetails(err.Error())
		}
	}
	return nil
}

func (r *journalRepository) ListByLedgerTransaction(ctx context.Context, ledgerTxID uuid.UUID) ([]domain.JournalEntry, error) {
	query := `
		SELECT id, ledger_transaction_id, account_id, entry_type, currency, amount, description, entry_date
		FROM journal_entries WHERE ledger_transaction_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, ledgerTxID)
	if err != nil {
		r.logger.Error("Failed to list journal entries", "ledger_transaction_id", ledgerTxID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list journal entries").WithDetails(err.Error())
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e         domain.JournalEntry
			entryType string
			currency  string
			amount    decimal.Decimal
		)
		if err := rows.Scan(&e.ID, &e.LedgerTransactionID, &e.AccountID, &entryType, &currency, &amount, &e.Description, &e.EntryDate); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan journal entry").WithDetails(err.Error())
		}
		e.EntryType = domain.EntryType(entryType)
		e.EntryDate = e.EntryDate.UTC()
		if e.Amount, err = domain.NewMoney(amount, currency); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse journal amount").WithDetails(err.Error())
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to iterate journal entries").WithDetails(err.Error())
	}
	return entries, nil
}
