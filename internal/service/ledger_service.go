package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
	"ledger-core/internal/idempotency"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// LedgerService runs the balance-mutating operations. Every mutation locks
// its account, applies the change, writes the account, the ledger
// transaction and its journal entries, and commits them as one unit.
type LedgerService struct {
	store  domain.Store
	guard  *idempotency.Guard
	clock  domain.Clock
	logger *slog.Logger
}

func NewLedgerService(store domain.Store, guard *idempotency.Guard, clock domain.Clock, logger *slog.Logger) *LedgerService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &LedgerService{
		store:  store,
		guard:  guard,
		clock:  clock,
		logger: logger,
	}
}

// mutation runs under the account lock. It validates the request payload
// and applies it to the locked account.
type mutation func(ctx context.Context, tx domain.Store, account *domain.Account, txID domain.TransactionID, now time.Time) (*domain.LedgerTransaction, error)

func (s *LedgerService) Topup(ctx context.Context, cmd TopupCommand) (*TransactionResponse, error) {
	return idempotency.Execute(ctx, s.guard, cmd, func(ctx context.Context) idempotency.Result[*TransactionResponse] {
		return result(s.topup(ctx, cmd))
	}).Unwrap()
}

func (s *LedgerService) topup(ctx context.Context, cmd TopupCommand) (*TransactionResponse, error) {
	s.logger.Info("Processing topup",
		"account_id", cmd.AccountID,
		"amount", cmd.Amount,
		"transaction_id", cmd.TransactionID)

	return s.execute(ctx, "topup", cmd.AccountID, cmd.TransactionID,
		func(_ context.Context, _ domain.Store, account *domain.Account, txID domain.TransactionID, now time.Time) (*domain.LedgerTransaction, error) {
			amount, err := accountMoney(account, cmd.Amount, cmd.Currency)
			if err != nil {
				return nil, err
			}
			return account.Topup(amount, txID, cmd.Description, now)
		})
}

func (s *LedgerService) ProcessPayment(ctx context.Context, cmd PaymentCommand) (*TransactionResponse, error) {
	return idempotency.Execute(ctx, s.guard, cmd, func(ctx context.Context) idempotency.Result[*TransactionResponse] {
		return result(s.processPayment(ctx, cmd))
	}).Unwrap()
}

func (s *LedgerService) processPayment(ctx context.Context, cmd PaymentCommand) (*TransactionResponse, error) {
	s.logger.Info("Processing payment",
		"account_id", cmd.AccountID,
		"amount", cmd.Amount,
		"fee", cmd.Fee,
		"tax", cmd.Tax,
		"merchant_id", cmd.MerchantID,
		"transaction_id", cmd.TransactionID)

	return s.execute(ctx, "payment", cmd.AccountID, cmd.TransactionID,
		func(_ context.Context, _ domain.Store, account *domain.Account, txID domain.TransactionID, now time.Time) (*domain.LedgerTransaction, error) {
			amount, err := accountMoney(account, cmd.Amount, cmd.Currency)
			if err != nil {
				return nil, err
			}
			fee, err := accountMoney(account, cmd.Fee, cmd.Currency)
			if err != nil {
				return nil, err
			}
			tax, err := accountMoney(account, cmd.Tax, cmd.Currency)
			if err != nil {
				return nil, err
			}
			return account.ProcessPayment(amount, fee, tax, txID, cmd.MerchantID, cmd.Description, now)
		})
}

func (s *LedgerService) ProcessRefund(ctx context.Context, cmd RefundCommand) (*TransactionResponse, error) {
	return idempotency.Execute(ctx, s.guard, cmd, func(ctx context.Context) idempotency.Result[*TransactionResponse] {
		return result(s.processRefund(ctx, cmd))
	}).Unwrap()
}

// processRefund validates the original payment under the account lock. A
// replayed refund returns before that, so later refunds using up the
// original payment never turn a replay into a failure.
func (s *LedgerService) processRefund(ctx context.Context, cmd RefundCommand) (*TransactionResponse, error) {
	s.logger.Info("Processing refund",
		"account_id", cmd.AccountID,
		"amount", cmd.Amount,
		"original_transaction_id", cmd.OriginalTransactionID,
		"transaction_id", cmd.TransactionID)

	return s.execute(ctx, "refund", cmd.AccountID, cmd.TransactionID,
		func(ctx context.Context, tx domain.Store, account *domain.Account, txID domain.TransactionID, now time.Time) (*domain.LedgerTransaction, error) {
			amount, err := accountMoney(account, cmd.Amount, cmd.Currency)
			if err != nil {
				return nil, err
			}
			originalID, err := domain.NewTransactionID(cmd.OriginalTransactionID)
			if err != nil {
				return nil, err
			}

			original, err := tx.Transactions().GetByTransactionID(ctx, originalID)
			if err != nil {
				return nil, err
			}
			if original == nil {
				return nil, errors.ErrTransactionNotFound.WithDetails("original transaction " + originalID.String())
			}
			if err := checkRefundable(original, account.ID()); err != nil {
				return nil, err
			}

			refunded, err := tx.Transactions().SumRefunds(ctx, originalID)
			if err != nil {
				return nil, err
			}
			limit := original.Total().Amount()
			if refunded.Add(amount.Amount()).GreaterThan(limit) {
				return nil, errors.ErrInvalidRefund.WithDetails(
					"refund exceeds remaining amount " + limit.Sub(refunded).StringFixed(2))
			}

			return account.ProcessRefund(amount, txID, originalID, cmd.Description, now)
		})
}

// checkRefundable accepts only completed payments made from the refunded
// account.
func checkRefundable(original *domain.LedgerTransaction, accountID uuid.UUID) error {
	if original.AccountID != accountID {
		return errors.ErrInvalidRefund.WithDetails("original transaction belongs to another account")
	}
	if original.Type != domain.TransactionTypePayment {
		return errors.ErrInvalidRefund.WithDetails("only payments can be refunded")
	}
	if original.Status != domain.TransactionStatusCompleted {
		return errors.ErrInvalidRefund.WithDetails("original payment is " + string(original.Status))
	}
	return nil
}

func (s *LedgerService) ApplyAdjustment(ctx context.Context, cmd AdjustmentCommand) (*TransactionResponse, error) {
	return idempotency.Execute(ctx, s.guard, cmd, func(ctx context.Context) idempotency.Result[*TransactionResponse] {
		return result(s.applyAdjustment(ctx, cmd))
	}).Unwrap()
}

func (s *LedgerService) applyAdjustment(ctx context.Context, cmd AdjustmentCommand) (*TransactionResponse, error) {
	s.logger.Info("Applying adjustment",
		"account_id", cmd.AccountID,
		"amount", cmd.Amount,
		"adjusted_by", cmd.AdjustedBy,
		"transaction_id", cmd.TransactionID)

	return s.execute(ctx, "adjustment", cmd.AccountID, cmd.TransactionID,
		func(_ context.Context, _ domain.Store, account *domain.Account, txID domain.TransactionID, now time.Time) (*domain.LedgerTransaction, error) {
			if cmd.Reason == "" || cmd.AdjustedBy == "" {
				return nil, errors.ErrInvalidInput.WithDetails("reason and adjusted_by are required")
			}
			amount, err := accountMoney(account, cmd.Amount, cmd.Currency)
			if err != nil {
				return nil, err
			}
			return account.ApplyAdjustment(amount, txID, cmd.Reason, cmd.AdjustedBy, now)
		})
}

// execute is the shared mutation protocol. A transaction id that was
// already processed returns the stored transaction before the payload is
// looked at, whatever the retry carries.
func (s *LedgerService) execute(ctx context.Context, op string, accountID uuid.UUID, rawTxID string, mutate mutation) (*TransactionResponse, error) {
	txID, err := s.transactionID(rawTxID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.Transactions().GetByTransactionID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replayed(existing), nil
	}

	var created *domain.LedgerTransaction
	err = s.store.WithTransaction(ctx, func(tx domain.Store) error {
		account, err := tx.Accounts().GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		// A concurrent request with the same id may have committed while we
		// waited for the lock.
		dup, err := tx.Transactions().GetByTransactionID(ctx, txID)
		if err != nil {
			return err
		}
		if dup != nil {
			return errors.ErrDuplicateTransaction.WithDetails(txID.String())
		}

		ledgerTx, err := mutate(ctx, tx, account, txID, s.clock.Now())
		if err != nil {
			return err
		}

		if err := tx.Accounts().Update(ctx, account); err != nil {
			return err
		}
		if err := tx.Transactions().Create(ctx, ledgerTx); err != nil {
			return err
		}

		entries, err := domain.BuildJournalEntries(ledgerTx)
		if err != nil {
			return err
		}
		if err := domain.ValidateJournal(entries); err != nil {
			s.logger.Error("Unbalanced journal, rolling back",
				"transaction_id", txID,
				"type", ledgerTx.Type,
				"error", err)
			return err
		}
		if err := tx.Journal().CreateBatch(ctx, entries); err != nil {
			return err
		}

		created = ledgerTx
		return nil
	})

	if err != nil {
		if errors.IsDuplicateTransaction(err) {
			return s.replay(ctx, txID)
		}
		s.logFailure(op, accountID, txID, err)
		return nil, err
	}

	s.logger.Info("Ledger operation completed",
		"operation", op,
		"account_id", accountID,
		"transaction_id", txID,
		"balance_after", created.BalanceAfter.String())
	return toTransactionResponse(created), nil
}

func (s *LedgerService) replay(ctx context.Context, txID domain.TransactionID) (*TransactionResponse, error) {
	existing, err := s.store.Transactions().GetByTransactionID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.NewAppError(errors.InternalError, "duplicate transaction could not be loaded").WithDetails(txID.String())
	}
	return s.replayed(existing), nil
}

func (s *LedgerService) replayed(tx *domain.LedgerTransaction) *TransactionResponse {
	s.logger.Info("Transaction already processed, returning original",
		"transaction_id", tx.TransactionID,
		"id", tx.ID)
	return toTransactionResponse(tx)
}

func (s *LedgerService) logFailure(op string, accountID uuid.UUID, txID domain.TransactionID, err error) {
	attrs := []any{"operation", op, "account_id", accountID, "transaction_id", txID, "error", err}
	if IsCanceled(err) {
		s.logger.Warn("Ledger operation cancelled", attrs...)
		return
	}
	if appErr := errors.AsAppError(err); appErr.IsDomain() {
		s.logger.Warn("Ledger operation rejected", attrs...)
		return
	}
	s.logger.Error("Ledger operation failed", attrs...)
}

// transactionID uses the caller's id, or generates one when none is given.
func (s *LedgerService) transactionID(value string) (domain.TransactionID, error) {
	if value == "" {
		return domain.GenerateTransactionID(), nil
	}
	return domain.NewTransactionID(value)
}

func (s *LedgerService) GetTransaction(ctx context.Context, transactionID string) (*TransactionResponse, error) {
	tx, err := s.lookup(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return toTransactionResponse(tx), nil
}

func (s *LedgerService) GetJournalEntries(ctx context.Context, transactionID string) ([]JournalEntryResponse, error) {
	tx, err := s.lookup(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Journal().ListByLedgerTransaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	out := make([]JournalEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toJournalEntryResponse(e))
	}
	return out, nil
}

func (s *LedgerService) lookup(ctx context.Context, transactionID string) (*domain.LedgerTransaction, error) {
	txID, err := domain.NewTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	tx, err := s.store.Transactions().GetByTransactionID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.ErrTransactionNotFound.WithDetails(txID.String())
	}
	return tx, nil
}

// GetTransactionHistory returns one page of the account's transactions,
// newest first. It takes no locks.
func (s *LedgerService) GetTransactionHistory(ctx context.Context, q HistoryQuery) (*TransactionHistoryResponse, error) {
	filter, page, pageSize, err := historyFilter(q)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Accounts().GetByID(ctx, q.AccountID); err != nil {
		return nil, err
	}

	items, total, err := s.store.Transactions().List(ctx, filter)
	if err != nil {
		return nil, err
	}

	resp := &TransactionHistoryResponse{
		Items:      make([]TransactionResponse, 0, len(items)),
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
	for _, tx := range items {
		resp.Items = append(resp.Items, *toTransactionResponse(tx))
	}
	resp.HasNext = page < resp.TotalPages
	resp.HasPrevious = page > 1
	return resp, nil
}

func historyFilter(q HistoryQuery) (domain.HistoryFilter, int, int, error) {
	page, pageSize := q.Page, q.PageSize
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if page < 0 || pageSize < 0 || pageSize > MaxPageSize {
		return domain.HistoryFilter{}, 0, 0, errors.ErrInvalidInput.WithDetails("page must be >= 1 and page_size between 1 and 100")
	}

	if page > math.MaxInt/pageSize {
		return domain.HistoryFilter{}, 0, 0, errors.ErrInvalidInput.WithDetails("page is out of range")
	}

	filter := domain.HistoryFilter{
		AccountID: q.AccountID,
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}

	if q.Type != "" {
		if q.From != nil || q.To != nil {
			return domain.HistoryFilter{}, 0, 0, errors.ErrInvalidInput.WithDetails("type and date range filters cannot be combined")
		}
		typ, err := domain.ParseTransactionType(q.Type)
		if err != nil {
			return domain.HistoryFilter{}, 0, 0, err
		}
		filter.Type = &typ
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return domain.HistoryFilter{}, 0, 0, errors.ErrInvalidInput.WithDetails("from must not be after to")
	}
	filter.From = q.From
	filter.To = q.To
	return filter, page, pageSize, nil
}

func result[T any](v T, err error) idempotency.Result[T] {
	if err != nil {
		return idempotency.Failure[T](err)
	}
	return idempotency.Success(v)
}

// IsCanceled reports whether err came from a cancelled or expired context.
func IsCanceled(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
