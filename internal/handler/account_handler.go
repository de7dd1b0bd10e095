package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"ledger-core/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
	logger         *slog.Logger
}

func NewAccountHandler(accountService *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

type CreateAccountRequest struct {
	UserID   string `json:"user_id" validate:"required,max=100"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
}

type LockAccountRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type BalanceRequest struct {
	Amount   string `json:"amount" validate:"required,decimal_amount"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	account, err := h.accountService.CreateAccount(r.Context(), req.UserID, req.Currency)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	account, err := h.accountService.GetAccount(r.Context(), accountID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) GetAccountByUser(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccountByUserID(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) LockAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	var req LockAccountRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	account, err := h.accountService.LockAccount(r.Context(), accountID, req.Reason)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	account, err := h.accountService.UnlockAccount(r.Context(), accountID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) ReserveBalance(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := h.balanceRequest(w, r)
	if !ok {
		return
	}

	account, err := h.accountService.ReserveBalance(r.Context(), accountID, parseAmount(req.Amount), req.Currency)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) ReleaseBalance(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := h.balanceRequest(w, r)
	if !ok {
		return
	}

	account, err := h.accountService.ReleaseReservedBalance(r.Context(), accountID, parseAmount(req.Amount), req.Currency)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) balanceRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, BalanceRequest, bool) {
	var req BalanceRequest
	accountID, err := pathUUID(r, "account_id")
	if err != nil {
		handleError(w, r, h.logger, err)
		return uuid.Nil, req, false
	}
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return uuid.Nil, req, false
	}
	return accountID, req, true
}
