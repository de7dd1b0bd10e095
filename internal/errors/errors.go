package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ErrorCode string

const (
	InvalidMoney         ErrorCode = "invalid_money"
	CurrencyMismatch     ErrorCode = "currency_mismatch"
	InsufficientBalance  ErrorCode = "insufficient_balance"
	AccountLocked        ErrorCode = "account_locked"
	DuplicateTransaction ErrorCode = "duplicate_transaction"
	AccountNotFound      ErrorCode = "account_not_found"
	TransactionNotFound  ErrorCode = "transaction_not_found"
	DuplicateAccount     ErrorCode = "duplicate_account"
	InvariantViolation   ErrorCode = "invariant_violation"
	InvalidInput         ErrorCode = "invalid_input"
	InvalidState         ErrorCode = "invalid_state"
	InvalidRefund        ErrorCode = "invalid_refund"
	InternalError        ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AppError carrying the same code, so freshly built errors
// compare equal to the predefined sentinels below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy carrying details; sentinels are never mutated.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// HTTPStatus maps the error code onto a transport status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidMoney, CurrencyMismatch, InvalidInput:
		return http.StatusBadRequest
	case AccountNotFound, TransactionNotFound:
		return http.StatusNotFound
	case DuplicateAccount, DuplicateTransaction:
		return http.StatusConflict
	case InsufficientBalance, AccountLocked, InvalidState, InvalidRefund:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// IsDomain reports whether the code is an expected business outcome rather
// than a fault of the system.
func (e *AppError) IsDomain() bool {
	switch e.Code {
	case InternalError, InvariantViolation:
		return false
	default:
		return true
	}
}

// Predefined errors for common cases
var (
	ErrInvalidMoney         = NewAppError(InvalidMoney, "invalid money")
	ErrCurrencyMismatch     = NewAppError(CurrencyMismatch, "currency mismatch")
	ErrInsufficientBalance  = NewAppError(InsufficientBalance, "insufficient balance")
	ErrAccountLocked        = NewAppError(AccountLocked, "account is locked")
	ErrDuplicateTransaction = NewAppError(DuplicateTransaction, "transaction already processed")
	ErrAccountNotFound      = NewAppError(AccountNotFound, "account not found")
	ErrTransactionNotFound  = NewAppError(TransactionNotFound, "transaction not found")
	ErrDuplicateAccount     = NewAppError(DuplicateAccount, "account already exists")
	ErrInvariantViolation   = NewAppError(InvariantViolation, "ledger invariant violated")
	ErrInvalidInput         = NewAppError(InvalidInput, "invalid input")
	ErrInvalidState         = NewAppError(InvalidState, "invalid state")
	ErrInvalidRefund        = NewAppError(InvalidRefund, "invalid refund")
	ErrInternal             = NewAppError(InternalError, "an unexpected error occurred")
	ErrCannotBeginTx        = NewAppError(InternalError, "cannot begin transaction")
)

// InsufficientBalanceError carries the amounts behind a rejected debit.
type InsufficientBalanceError struct {
	AccountID uuid.UUID
	Currency  string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: required %s %s, available %s %s",
		e.AccountID, e.Required.StringFixed(2), e.Currency, e.Available.StringFixed(2), e.Currency)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// AccountLockedError is returned when a mutation hits an inactive account.
type AccountLockedError struct {
	AccountID uuid.UUID
	Reason    string
}

func (e *AccountLockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("account %s is locked", e.AccountID)
	}
	return fmt.Sprintf("account %s is locked: %s", e.AccountID, e.Reason)
}

func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}

// AsAppError finds the AppError in err's chain. Errors outside the taxonomy
// are reported as internal errors.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrTransactionNotFound)
}

func IsDuplicateTransaction(err error) bool {
	return errors.Is(err, ErrDuplicateTransaction)
}
