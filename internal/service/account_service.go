package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
)

type AccountService struct {
	store           domain.Store
	clock           domain.Clock
	defaultCurrency string
	logger          *slog.Logger
}

func NewAccountService(store domain.Store, clock domain.Clock, defaultCurrency string, logger *slog.Logger) *AccountService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}
	return &AccountService{
		store:           store,
		clock:           clock,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// CreateAccount opens a zero-balance account. A user holds at most one.
func (s *AccountService) CreateAccount(ctx context.Context, userID, currency string) (*AccountResponse, error) {
	s.logger.Info("Creating account", "user_id", userID, "currency", currency)

	if currency == "" {
		currency = s.defaultCurrency
	}
	account, err := domain.NewAccount(userID, currency, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Accounts().GetByUserID(ctx, account.UserID()); err == nil {
		return nil, errors.ErrDuplicateAccount.WithDetails("user " + account.UserID())
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	if err := s.store.Accounts().Create(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("Account created successfully", "account_id", account.ID(), "account_number", account.AccountNumber())
	return toAccountResponse(account), nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID uuid.UUID) (*AccountResponse, error) {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return toAccountResponse(account), nil
}

func (s *AccountService) GetAccountByUserID(ctx context.Context, userID string) (*AccountResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.ErrInvalidInput.WithDetails("user id is required")
	}
	account, err := s.store.Accounts().GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toAccountResponse(account), nil
}

func (s *AccountService) LockAccount(ctx context.Context, accountID uuid.UUID, reason string) (*AccountResponse, error) {
	s.logger.Info("Locking account", "account_id", accountID, "reason", reason)
	return s.withLockedAccount(ctx, "lock", accountID, func(a *domain.Account, now time.Time) error {
		return a.Lock(reason, now)
	})
}

func (s *AccountService) UnlockAccount(ctx context.Context, accountID uuid.UUID) (*AccountResponse, error) {
	s.logger.Info("Unlocking account", "account_id", accountID)
	return s.withLockedAccount(ctx, "unlock", accountID, func(a *domain.Account, now time.Time) error {
		return a.Unlock(now)
	})
}

func (s *AccountService) ReserveBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, currency string) (*AccountResponse, error) {
	s.logger.Info("Reserving balance", "account_id", accountID, "amount", amount)
	return s.withLockedAccount(ctx, "reserve", accountID, func(a *domain.Account, now time.Time) error {
		m, err := accountMoney(a, amount, currency)
		if err != nil {
			return err
		}
		return a.ReserveBalance(m, now)
	})
}

func (s *AccountService) ReleaseReservedBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, currency string) (*AccountResponse, error) {
	s.logger.Info("Releasing reserved balance", "account_id", accountID, "amount", amount)
	return s.withLockedAccount(ctx, "release", accountID, func(a *domain.Account, now time.Time) error {
		m, err := accountMoney(a, amount, currency)
		if err != nil {
			return err
		}
		return a.ReleaseReservedBalance(m, now)
	})
}

// accountMoney builds an amount for the account. A missing currency means
// the account's own.
func accountMoney(a *domain.Account, amount decimal.Decimal, currency string) (domain.Money, error) {
	if currency == "" {
		currency = a.Currency()
	}
	return domain.NewMoney(amount, currency)
}

// withLockedAccount applies fn under the same exclusive account lock the
// ledger mutations use.
func (s *AccountService) withLockedAccount(ctx context.Context, op string, accountID uuid.UUID, fn func(*domain.Account, time.Time) error) (*AccountResponse, error) {
	var updated *domain.Account
	err := s.store.WithTransaction(ctx, func(tx domain.Store) error {
		account, err := tx.Accounts().GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if err := fn(account, s.clock.Now()); err != nil {
			return err
		}
		if err := tx.Accounts().Update(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		s.logger.Warn("Account operation failed", "operation", op, "account_id", accountID, "error", err)
		return nil, err
	}
	return toAccountResponse(updated), nil
}
