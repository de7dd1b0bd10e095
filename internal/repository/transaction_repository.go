package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
)

const transactionIDConstraint = "ledger_transactions_transaction_id_key"

const transactionColumns = `id, account_id, transaction_id, type, status, currency, amount, fee, tax,
	balance_after, merchant_id, original_transaction_id, description, adjusted_by, reason,
	transaction_date, metadata`

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *transactionRepository) Create(ctx context.Context, tx *domain.LedgerTransaction) error {
	query := `
		INSERT INTO ledger_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	var metadata interface{}
	if len(tx.Metadata) > 0 {
		raw, err := json.Marshal(tx.Metadata)
		if err != nil {
			return errors.NewAppError(errors.InternalError, "failed to encode metadata").WithDetails(err.Error())
		}
		metadata = string(raw)
	}

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.AccountID,
		tx.TransactionID.String(),
		string(tx.Type),
		string(tx.Status),
		tx.Amount.Currency(),
		tx.Amount.Amount(),
		tx.Fee.Amount(),
		tx.Tax.Amount(),
		tx.BalanceAfter.Amount(),
		nullString(tx.MerchantID),
		nullString(tx.OriginalTransactionID.String()),
		nullString(tx.Description),
		nullString(tx.AdjustedBy),
		nullString(tx.Reason),
		tx.TransactionDate,
		metadata,
	)

	if err != nil {
		if constraint := uniqueConstraint(err); constraint == transactionIDConstraint {
			r.logger.Warn("Duplicate transaction id", "transaction_id", tx.TransactionID)
			return errors.ErrDuplicateTransaction.WithDetails(tx.TransactionID.String())
		}
		r.logger.Error("Failed to create ledger transaction",
			"account_id", tx.AccountID,
			"transaction_id", tx.TransactionID,
			"type", tx.Type,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to create transaction").WithDetails(err.Error())
	}

	r.logger.Info("Ledger transaction created", "id", tx.ID, "transaction_id", tx.TransactionID, "type", tx.Type)
	return nil
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, txID domain.TransactionID) (*domain.LedgerTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions WHERE transaction_id = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, txID.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get transaction", "transaction_id", txID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get transaction").WithDetails(err.Error())
	}
	return tx, nil
}

func (r *transactionRepository) SumRefunds(ctx context.Context, originalTxID domain.TransactionID) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions
		WHERE original_transaction_id = $1 AND type = $2 AND status = $3
	`

	var total decimal.Decimal
	err := r.db.QueryRowContext(ctx, query,
		originalTxID.String(),
		string(domain.TransactionTypeRefund),
		string(domain.TransactionStatusCompleted),
	).Scan(&total)
	if err != nil {
		r.logger.Error("Failed to sum refunds", "original_transaction_id", originalTxID, "error", err)
		return decimal.Zero, errors.NewAppError(errors.InternalError, "failed to sum refunds").WithDetails(err.Error())
	}
	return total, nil
}

func (r *transactionRepository) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.LedgerTransaction, int, error) {
	where := []string{"account_id = $1"}
	args := []interface{}{filter.AccountID}

	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("transaction_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("transaction_date <= $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM ledger_transactions WHERE ` + clause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count transactions", "account_id", filter.AccountID, "error", err)
		return nil, 0, errors.NewAppError(errors.InternalError, "failed to count transactions").WithDetails(err.Error())
	}

	pageArgs := append(append([]interface{}{}, args...), filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM ledger_transactions
		WHERE %s
		ORDER BY transaction_date DESC, seq DESC
		LIMIT $%d OFFSET $%d
	`, transactionColumns, clause, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		r.logger.Error("Failed to list transactions", "account_id", filter.AccountID, "error", err)
		return nil, 0, errors.NewAppError(errors.InternalError, "failed to list transactions").WithDetails(err.Error())
	}
	defer rows.Close()

	items := make([]*domain.LedgerTransaction, 0, filter.Limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, errors.NewAppError(errors.InternalError, "failed to scan transaction").WithDetails(err.Error())
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewAppError(errors.InternalError, "failed to iterate transactions").WithDetails(err.Error())
	}
	return items, total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.LedgerTransaction, error) {
	var (
		tx                                    domain.LedgerTransaction
		txID, typ, status, currency           string
		amount, fee, tax, balanceAfter        decimal.Decimal
		merchantID, originalTxID, description sql.NullString
		adjustedBy, reason                    sql.NullString
		metadata                              []byte
	)

	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&txID,
		&typ,
		&status,
		&currency,
		&amount,
		&fee,
		&tax,
		&balanceAfter,
		&merchantID,
		&originalTxID,
		&description,
		&adjustedBy,
		&reason,
		&tx.TransactionDate,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	tx.TransactionID = domain.TransactionID(txID)
	tx.Type = domain.TransactionType(typ)
	tx.Status = domain.TransactionStatus(status)
	if !tx.Type.Valid() || !tx.Status.Valid() {
		return nil, fmt.Errorf("unknown type %q or status %q for transaction %s", typ, status, txID)
	}
	tx.MerchantID = merchantID.String
	tx.OriginalTransactionID = domain.TransactionID(originalTxID.String)
	tx.Description = description.String
	tx.AdjustedBy = adjustedBy.String
	tx.Reason = reason.String
	tx.TransactionDate = tx.TransactionDate.UTC()

	for _, f := range []struct {
		dst *domain.Money
		v   decimal.Decimal
	}{{&tx.Amount, amount}, {&tx.Fee, fee}, {&tx.Tax, tax}, {&tx.BalanceAfter, balanceAfter}} {
		m, err := domain.NewMoney(f.v, currency)
		if err != nil {
			return nil, err
		}
		*f.dst = m
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &tx, nil
}
