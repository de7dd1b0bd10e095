package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
)

const userIDConstraint = "accounts_user_id_key"

const accountColumns = `id, account_number, user_id, currency, balance, available_balance,
	reserved_balance, is_active, locked_at, locked_reason, created_at, updated_at`

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	st := account.State()
	_, err := r.db.ExecContext(ctx, query,
		st.ID,
		st.AccountNumber,
		st.UserID,
		st.Currency,
		st.Balance.Amount(),
		st.AvailableBalance.Amount(),
		st.ReservedBalance.Amount(),
		st.IsActive,
		nullTime(st.LockedAt),
		nullString(st.LockedReason),
		st.CreatedAt,
		st.UpdatedAt,
	)

	if err != nil {
		if uniqueConstraint(err) == userIDConstraint {
			r.logger.Warn("Duplicate account creation attempt", "user_id", st.UserID)
			return errors.ErrDuplicateAccount
		}
		r.logger.Error("Failed to create account", "account_id", st.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create account").WithDetails(err.Error())
	}

	r.logger.Info("Account created successfully", "account_id", st.ID, "account_number", st.AccountNumber)
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(ctx, query, id)
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	return r.scanAccount(ctx, query, userID)
}

// GetForUpdate locks the account row until the surrounding transaction ends.
func (r *accountRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return r.scanAccount(ctx, query, id)
}

func (r *accountRepository) scanAccount(ctx context.Context, query string, arg interface{}) (*domain.Account, error) {
	var (
		st                           domain.AccountState
		balance, available, reserved decimal.Decimal
		lockedAt                     sql.NullTime
		lockedReason                 sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&st.ID,
		&st.AccountNumber,
		&st.UserID,
		&st.Currency,
		&balance,
		&available,
		&reserved,
		&st.IsActive,
		&lockedAt,
		&lockedReason,
		&st.CreatedAt,
		&st.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("Account not found", "key", arg)
			return nil, errors.ErrAccountNotFound
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Error("Failed to get account", "key", arg, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get account").WithDetails(err.Error())
	}

	if st.Balance, err = domain.NewMoney(balance, st.Currency); err != nil {
		return nil, r.corrupt(st.ID, "balance", err)
	}
	if st.AvailableBalance, err = domain.NewMoney(available, st.Currency); err != nil {
		return nil, r.corrupt(st.ID, "available_balance", err)
	}
	if st.ReservedBalance, err = domain.NewMoney(reserved, st.Currency); err != nil {
		return nil, r.corrupt(st.ID, "reserved_balance", err)
	}
	if lockedAt.Valid {
		t := lockedAt.Time.UTC()
		st.LockedAt = &t
	}
	st.LockedReason = lockedReason.String
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()

	return domain.RestoreAccount(st), nil
}

func (r *accountRepository) corrupt(id uuid.UUID, field string, err error) error {
	r.logger.Error("Failed to parse stored money", "account_id", id, "field", field, "error", err)
	return errors.NewAppError(errors.InternalError, "failed to parse "+field).WithDetails(err.Error())
}

func (r *accountRepository) Update(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET balance = $1, available_balance = $2, reserved_balance = $3,
			is_active = $4, locked_at = $5, locked_reason = $6, updated_at = $7
		WHERE id = $8
	`

	st := account.State()
	result, err := r.db.ExecContext(ctx, query,
		st.Balance.Amount(),
		st.AvailableBalance.Amount(),
		st.ReservedBalance.Amount(),
		st.IsActive,
		nullTime(st.LockedAt),
		nullString(st.LockedReason),
		st.UpdatedAt,
		st.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update account", "account_id", st.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update account").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}

	if rowsAffected == 0 {
		r.logger.Warn("No account found to update", "account_id", st.ID)
		return errors.ErrAccountNotFound
	}

	r.logger.Info("Account updated", "account_id", st.ID, "balance", st.Balance.String())
	return nil
}
