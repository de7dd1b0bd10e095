package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ledger-core/internal/errors"
	"ledger-core/internal/service"
)

// IdempotencyKeyHeader supplies the transaction id when the body omits it.
const IdempotencyKeyHeader = "Idempotency-Key"

type LedgerHandler struct {
	ledgerService *service.LedgerService
	logger        *slog.Logger
}

func NewLedgerHandler(ledgerService *service.LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledgerService: ledgerService,
		logger:        logger,
	}
}

type TopupRequest struct {
	Amount        string `json:"amount" validate:"required,decimal_amount"`
	Currency      string `json:"currency" validate:"omitempty,len=3,alpha"`
	TransactionID string `json:"transaction_id" validate:"max=100"`
	Description   string `json:"description" validate:"max=500"`
}

type PaymentRequest struct {
	Amount        string `json:"amount" validate:"required,decimal_amount"`
	Fee           string `json:"fee" validate:"decimal_amount"`
	Tax           string `json:"tax" validate:"decimal_amount"`
	Currency      string `json:"currency" validate:"omitempty,len=3,alpha"`
	TransactionID string `json:"transaction_id" validate:"max=100"`
	MerchantID    string `json:"merchant_id" validate:"required,max=100"`
	Description   string `json:"description" validate:"max=500"`
}

type RefundRequest struct {
	Amount                string `json:"amount" validate:"required,decimal_amount"`
	Currency              string `json:"currency" validate:"omitempty,len=3,alpha"`
	TransactionID         string `json:"transaction_id" validate:"max=100"`
	OriginalTransactionID string `json:"original_transaction_id" validate:"required,max=100"`
	Description           string `json:"description" validate:"max=500"`
}

type AdjustmentRequest struct {
	Amount        string `json:"amount" validate:"required,decimal_amount"`
	Currency      string `json:"currency" validate:"omitempty,len=3,alpha"`
	TransactionID string `json:"transaction_id" validate:"max=100"`
	Reason        string `json:"reason" validate:"required,max=500"`
	AdjustedBy    string `json:"adjusted_by" validate:"required,max=100"`
}

func transactionID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(IdempotencyKeyHeader)
}

func (h *LedgerHandler) Topup(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	var req TopupRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	tx, err := h.ledgerService.Topup(r.Context(), service.TopupCommand{
		AccountID:     accountID,
		Amount:        parseAmount(req.Amount),
		Currency:      req.Currency,
		TransactionID: transactionID(r, req.TransactionID),
		Description:   req.Description,
	})
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

func (h *LedgerHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	var req PaymentRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	tx, err := h.ledgerService.ProcessPayment(r.Context(), service.PaymentCommand{
		AccountID:     accountID,
		Amount:        parseAmount(req.Amount),
		Fee:           parseAmount(req.Fee),
		Tax:           parseAmount(req.Tax),
		Currency:      req.Currency,
		TransactionID: transactionID(r, req.TransactionID),
		MerchantID:    req.MerchantID,
		Description:   req.Description,
	})
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

func (h *LedgerHandler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	var req RefundRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	tx, err := h.ledgerService.ProcessRefund(r.Context(), service.RefundCommand{
		AccountID:             accountID,
		Amount:                parseAmount(req.Amount),
		Currency:              req.Currency,
		TransactionID:         transactionID(r, req.TransactionID),
		OriginalTransactionID: req.OriginalTransactionID,
		Description:           req.Description,
	})
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

func (h *LedgerHandler) ApplyAdjustment(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	var req AdjustmentRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	tx, err := h.ledgerService.ApplyAdjustment(r.Context(), service.AdjustmentCommand{
		AccountID:     accountID,
		Amount:        parseAmount(req.Amount),
		Currency:      req.Currency,
		TransactionID: transactionID(r, req.TransactionID),
		Reason:        req.Reason,
		AdjustedBy:    req.AdjustedBy,
	})
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// GetTransactionHistory serves
// ?page=&page_size=&type= or ?page=&page_size=&from=&to= (RFC 3339).
func (h *LedgerHandler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	q := r.URL.Query()
	query := service.HistoryQuery{
		AccountID: accountID,
		Type:      q.Get("type"),
	}
	if query.Page, err = queryInt(q.Get("page")); err != nil {
		handleError(w, r, h.logger, errors.ErrInvalidInput.WithDetails("page must be an integer"))
		return
	}
	if query.PageSize, err = queryInt(q.Get("page_size")); err != nil {
		handleError(w, r, h.logger, errors.ErrInvalidInput.WithDetails("page_size must be an integer"))
		return
	}
	if query.From, err = queryTime(q.Get("from")); err != nil {
		handleError(w, r, h.logger, errors.ErrInvalidInput.WithDetails("from must be an RFC 3339 timestamp"))
		return
	}
	if query.To, err = queryTime(q.Get("to")); err != nil {
		handleError(w, r, h.logger, errors.ErrInvalidInput.WithDetails("to must be an RFC 3339 timestamp"))
		return
	}

	history, err := h.ledgerService.GetTransactionHistory(r.Context(), query)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledgerService.GetTransaction(r.Context(), mux.Vars(r)["transaction_id"])
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

func (h *LedgerHandler) GetJournalEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledgerService.GetJournalEntries(r.Context(), mux.Vars(r)["transaction_id"])
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func queryTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
