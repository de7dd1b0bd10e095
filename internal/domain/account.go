package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
)

const accountNumberPrefix = "ACC"

// Account is the aggregate root owning a customer balance. State changes
// only through its methods; every balance mutation returns the
// LedgerTransaction it produced so the caller can persist both together.
type Account struct {
	id               uuid.UUID
	accountNumber    string
	userID           string
	currency         string
	balance          Money
	availableBalance Money
	reservedBalance  Money
	isActive         bool
	lockedAt         *time.Time
	lockedReason     string
	createdAt        time.Time
	updatedAt        time.Time
}

// AccountState is the persisted shape of an Account.
type AccountState struct {
	ID               uuid.UUID
	AccountNumber    string
	UserID           string
	Currency         string
	Balance          Money
	AvailableBalance Money
	ReservedBalance  Money
	IsActive         bool
	LockedAt         *time.Time
	LockedReason     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewAccount opens an active account with zero balances.
func NewAccount(userID, currency string, now time.Time) (*Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "user id is required")
	}
	zero, err := ZeroMoney(currency)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Account{
		id:               uuid.New(),
		accountNumber:    GenerateAccountNumber(now),
		userID:           userID,
		currency:         zero.Currency(),
		balance:          zero,
		availableBalance: zero,
		reservedBalance:  zero,
		isActive:         true,
		createdAt:        now,
		updatedAt:        now,
	}, nil
}

// GenerateAccountNumber builds a human-legible number: prefix, UTC
// timestamp, random suffix.
func GenerateAccountNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("%s%s%s", accountNumberPrefix, now.UTC().Format("20060102150405"), suffix)
}

// RestoreAccount rebuilds an Account from storage.
func RestoreAccount(s AccountState) *Account {
	return &Account{
		id:               s.ID,
		accountNumber:    s.AccountNumber,
		userID:           s.UserID,
		currency:         s.Currency,
		balance:          s.Balance,
		availableBalance: s.AvailableBalance,
		reservedBalance:  s.ReservedBalance,
		isActive:         s.IsActive,
		lockedAt:         s.LockedAt,
		lockedReason:     s.LockedReason,
		createdAt:        s.CreatedAt,
		updatedAt:        s.UpdatedAt,
	}
}

// State returns a copy of the account's persisted fields.
func (a *Account) State() AccountState {
	var lockedAt *time.Time
	if a.lockedAt != nil {
		t := *a.lockedAt
		lockedAt = &t
	}
	return AccountState{
		ID:               a.id,
		AccountNumber:    a.accountNumber,
		UserID:           a.userID,
		Currency:         a.currency,
		Balance:          a.balance,
		AvailableBalance: a.availableBalance,
		ReservedBalance:  a.reservedBalance,
		IsActive:         a.isActive,
		LockedAt:         lockedAt,
		LockedReason:     a.lockedReason,
		CreatedAt:        a.createdAt,
		UpdatedAt:        a.updatedAt,
	}
}

func (a *Account) ID() uuid.UUID { return a.id }
func (a *Account) AccountNumber() string { return a.accountNumber }
func (a *Account) UserID() string { return a.userID }
func (a *Account) Currency() string { return a.currency }
func (a *Account) Balance() Money { return a.balance }
func (a *Account) AvailableBalance() Money { return a.availableBalance }
func (a *Account) ReservedBalance() Money { return a.reservedBalance }
func (a *Account) IsActive() bool { return a.isActive }
func (a *Account) LockedReason() string { return a.lockedReason }
func (a *Account) CreatedAt() time.Time { return a.createdAt }
func (a *Account) UpdatedAt() time.Time { return a.updatedAt }
func (a *Account) LockedAt() *time.Time { return a.lockedAt }

func (a *Account) ensureActive() error {
	if !a.isActive {
		return &errors.AccountLockedError{AccountID: a.id, Reason: a.lockedReason}
	}
	return nil
}

func (a *Account) ensureCurrency(amounts ...Money) error {
	for _, m := range amounts {
		if m.Currency() != a.currency {
			return errors.ErrCurrencyMismatch.WithDetails(
				fmt.Sprintf("account %s holds %s, got %s", a.id, a.currency, m.Currency()))
		}
	}
	return nil
}

func ensurePositive(m Money, field string) error {
	if !m.IsPositive() {
		return errors.ErrInvalidMoney.WithDetails(field + " must be greater than zero")
	}
	return nil
}

func (a *Account) newTransaction(txID TransactionID, typ TransactionType, amount Money, now time.Time) *LedgerTransaction {
	zero := Money{amount: decimal.Zero, currency: a.currency}
	return &LedgerTransaction{
		ID:              uuid.New(),
		AccountID:       a.id,
		TransactionID:   txID,
		Type:            typ,
		Status:          TransactionStatusCompleted,
		Amount:          amount,
		Fee:             zero,
		Tax:             zero,
		BalanceAfter:    a.balance,
		TransactionDate: now.UTC(),
	}
}

// credit adds amount to balance and available balance.
func (a *Account) credit(amount Money, now time.Time) error {
	balance, err := a.balance.Add(amount)
	if err != nil {
		return err
	}
	available, err := a.availableBalance.Add(amount)
	if err != nil {
		return err
	}
	a.balance = balance
	a.availableBalance = available
	a.updatedAt = now.UTC()
	return nil
}

func (a *Account) Topup(amount Money, txID TransactionID, description string, now time.Time) (*LedgerTransaction, error) {
	if err := a.ensureActive(); err != nil {
		return nil, err
	}
	if err := a.ensureCurrency(amount); err != nil {
		return nil, err
	}
	if err := ensurePositive(amount, "topup amount"); err != nil {
		return nil, err
	}
	if err := a.credit(amount, now); err != nil {
		return nil, err
	}
	tx := a.newTransaction(txID, TransactionTypeTopup, amount, now)
	tx.Description = description
	return tx, nil
}

// ProcessPayment debits amount+fee+tax from the available balance.
func (a *Account) ProcessPayment(amount, fee, tax Money, txID TransactionID, merchantID, description string, now time.Time) (*LedgerTransaction, error) {
	if err := a.ensureActive(); err != nil {
		return nil, err
	}
	if err := a.ensureCurrency(amount, fee, tax); err != nil {
		return nil, err
	}
	if err := ensurePositive(amount, "payment amount"); err != nil {
		return nil, err
	}
	total, err := amount.Add(fee)
	if err != nil {
		return nil, err
	}
	if total, err = total.Add(tax); err != nil {
		return nil, err
	}

	short, err := a.availableBalance.IsLessThan(total)
	if err != nil {
		return nil, err
	}
	if short {
		return nil, &errors.InsufficientBalanceError{
			AccountID: a.id,
			Currency:  a.currency,
			Required:  total.Amount(),
			Available: a.availableBalance.Amount(),
		}
	}

	balance, err := a.balance.Subtract(total)
	if err != nil {
		return nil, err
	}
	available, err := a.availableBalance.Subtract(total)
	if err != nil {
		return nil, err
	}
	a.balance = balance
	a.availableBalance = available
	a.updatedAt = now.UTC()

	tx := a.newTransaction(txID, TransactionTypePayment, amount, now)
	tx.Fee = fee
	tx.Tax = tax
	tx.MerchantID = merchantID
	tx.Description = description
	return tx, nil
}

// ProcessRefund credits amount back. The original transaction is checked by
// the caller, not here.
func (a *Account) ProcessRefund(amount Money, txID, originalTxID TransactionID, description string, now time.Time) (*LedgerTransaction, error) {
	if err := a.ensureActive(); err != nil {
		return nil, err
	}
	if err := a.ensureCurrency(amount); err != nil {
		return nil, err
	}
	if err := ensurePositive(amount, "refund amount"); err != nil {
		return nil, err
	}
	if err := a.credit(amount, now); err != nil {
		return nil, err
	}
	tx := a.newTransaction(txID, TransactionTypeRefund, amount, now)
	tx.OriginalTransactionID = originalTxID
	tx.Description = description
	return tx, nil
}

// ApplyAdjustment is increase-only.
func (a *Account) ApplyAdjustment(amount Money, txID TransactionID, reason, adjustedBy string, now time.Time) (*LedgerTransaction, error) {
	if err := a.ensureActive(); err != nil {
		return nil, err
	}
	if err := a.ensureCurrency(amount); err != nil {
		return nil, err
	}
	if err := ensurePositive(amount, "adjustment amount"); err != nil {
		return nil, err
	}
	if err := a.credit(amount, now); err != nil {
		return nil, err
	}
	tx := a.newTransaction(txID, TransactionTypeAdjustment, amount, now)
	tx.Reason = reason
	tx.AdjustedBy = adjustedBy
	tx.Description = fmt.Sprintf("adjustment: %s", reason)
	return tx, nil
}

// ReserveBalance moves amount from available to reserved.
func (a *Account) ReserveBalance(amount Money, now time.Time) error {
	if err := a.ensureActive(); err != nil {
		return err
	}
	if err := a.ensureCurrency(amount); err != nil {
		return err
	}
	if err := ensurePositive(amount, "reserve amount"); err != nil {
		return err
	}
	short, err := a.availableBalance.IsLessThan(amount)
	if err != nil {
		return err
	}
	if short {
		return &errors.InsufficientBalanceError{
			AccountID: a.id,
			Currency:  a.currency,
			Required:  amount.Amount(),
			Available: a.availableBalance.Amount(),
		}
	}
	available, err := a.availableBalance.Subtract(amount)
	if err != nil {
		return err
	}
	reserved, err := a.reservedBalance.Add(amount)
	if err != nil {
		return err
	}
	a.availableBalance = available
	a.reservedBalance = reserved
	a.updatedAt = now.UTC()
	return nil
}

// ReleaseReservedBalance moves amount from reserved back to available.
func (a *Account) ReleaseReservedBalance(amount Money, now time.Time) error {
	if err := a.ensureActive(); err != nil {
		return err
	}
	if err := a.ensureCurrency(amount); err != nil {
		return err
	}
	if err := ensurePositive(amount, "release amount"); err != nil {
		return err
	}
	short, err := a.reservedBalance.IsLessThan(amount)
	if err != nil {
		return err
	}
	if short {
		return errors.ErrInvalidState.WithDetails(
			fmt.Sprintf("cannot release %s, only %s reserved", amount, a.reservedBalance))
	}
	reserved, err := a.reservedBalance.Subtract(amount)
	if err != nil {
		return err
	}
	available, err := a.availableBalance.Add(amount)
	if err != nil {
		return err
	}
	a.reservedBalance = reserved
	a.availableBalance = available
	a.updatedAt = now.UTC()
	return nil
}

func (a *Account) Lock(reason string, now time.Time) error {
	if !a.isActive {
		return errors.ErrInvalidState.WithDetails("account is already locked")
	}
	t := now.UTC()
	a.isActive = false
	a.lockedAt = &t
	a.lockedReason = reason
	a.updatedAt = t
	return nil
}

func (a *Account) Unlock(now time.Time) error {
	if a.isActive {
		return errors.ErrInvalidState.WithDetails("account is not locked")
	}
	a.isActive = true
	a.lockedAt = nil
	a.lockedReason = ""
	a.updatedAt = now.UTC()
	return nil
}
