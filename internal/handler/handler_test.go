package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"ledger-core/internal/domain"
	"ledger-core/internal/idempotency"
	"ledger-core/internal/repository/memory"
	"ledger-core/internal/service"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *Error          `json:"error"`
}

type HandlerTestSuite struct {
	suite.Suite
	router *mux.Router
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), idempotency.DefaultTTL, logger)

	accounts := service.NewAccountService(store, domain.SystemClock{}, "VND", logger)
	ledger := service.NewLedgerService(store, guard, domain.SystemClock{}, logger)

	s.router = mux.NewRouter()
	RegisterRoutes(s.router, NewAccountHandler(accounts, logger), NewLedgerHandler(ledger, logger))
}

func (s *HandlerTestSuite) do(method, path string, body interface{}, headers ...string) (int, envelope) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal("application/json", rec.Header().Get("Content-Type"))
	var env envelope
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *HandlerTestSuite) createAccount(userID string) service.AccountResponse {
	status, env := s.do(http.MethodPost, "/accounts", map[string]string{"user_id": userID})
	s.Require().Equal(http.StatusCreated, status)
	var acc service.AccountResponse
	s.Require().NoError(json.Unmarshal(env.Data, &acc))
	return acc
}

func (s *HandlerTestSuite) account(id uuid.UUID) service.AccountResponse {
	status, env := s.do(http.MethodGet, "/accounts/"+id.String(), nil)
	s.Require().Equal(http.StatusOK, status)
	var acc service.AccountResponse
	s.Require().NoError(json.Unmarshal(env.Data, &acc))
	return acc
}

func (s *HandlerTestSuite) TestAccountLifecycle() {
	acc := s.createAccount("user-1")
	s.Equal("VND", acc.Currency)
	s.Equal("0.00", acc.Balance)

	status, env := s.do(http.MethodPost, "/accounts", map[string]string{"user_id": "user-1"})
	s.Equal(http.StatusConflict, status)
	s.Equal("duplicate_account", env.Error.Code)

	status, env = s.do(http.MethodGet, "/users/user-1/account", nil)
	s.Equal(http.StatusOK, status)
	var byUser service.AccountResponse
	s.Require().NoError(json.Unmarshal(env.Data, &byUser))
	s.Equal(acc.ID, byUser.ID)

	base := "/accounts/" + acc.ID.String()
	status, _ = s.do(http.MethodPost, base+"/lock", map[string]string{"reason": "review"})
	s.Equal(http.StatusOK, status)
	s.False(s.account(acc.ID).IsActive)

	status, env = s.do(http.MethodPost, base+"/topup", map[string]string{"amount": "10", "transaction_id": "T1"})
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("account_locked", env.Error.Code)

	status, _ = s.do(http.MethodPost, base+"/unlock", nil)
	s.Equal(http.StatusOK, status)
	s.True(s.account(acc.ID).IsActive)
}

func (s *HandlerTestSuite) TestReserveAndRelease() {
	acc := s.createAccount("user-1")
	base := "/accounts/" + acc.ID.String()

	status, _ := s.do(http.MethodPost, base+"/topup", map[string]string{"amount": "100", "transaction_id": "T1"})
	s.Require().Equal(http.StatusCreated, status)

	status, env := s.do(http.MethodPost, base+"/reserve", map[string]string{"amount": "40"})
	s.Equal(http.StatusOK, status)
	var reserved service.AccountResponse
	s.Require().NoError(json.Unmarshal(env.Data, &reserved))
	s.Equal("60.00", reserved.AvailableBalance)
	s.Equal("40.00", reserved.ReservedBalance)

	status, env = s.do(http.MethodPost, base+"/release", map[string]string{"amount": "50"})
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("invalid_state", env.Error.Code)

	status, _ = s.do(http.MethodPost, base+"/release", map[string]string{"amount": "40"})
	s.Equal(http.StatusOK, status)
	s.Equal("100.00", s.account(acc.ID).AvailableBalance)
}

func (s *HandlerTestSuite) TestPaymentFlow() {
	acc := s.createAccount("user-1")
	base := "/accounts/" + acc.ID.String()

	status, _ := s.do(http.MethodPost, base+"/topup", map[string]string{"amount": "100000", "transaction_id": "TXN-1"})
	s.Require().Equal(http.StatusCreated, status)

	status, env := s.do(http.MethodPost, base+"/payments", map[string]string{
		"amount":         "50000",
		"fee":            "1000",
		"tax":            "500",
		"merchant_id":    "M1",
		"transaction_id": "TXN-2",
	})
	s.Require().Equal(http.StatusCreated, status)
	var payment service.TransactionResponse
	s.Require().NoError(json.Unmarshal(env.Data, &payment))
	s.Equal("payment", payment.Type)
	s.Equal("completed", payment.Status)
	s.Equal("48500.00", payment.BalanceAfter)

	status, env = s.do(http.MethodGet, "/transactions/TXN-2", nil)
	s.Equal(http.StatusOK, status)

	status, env = s.do(http.MethodGet, "/transactions/TXN-2/journal", nil)
	s.Equal(http.StatusOK, status)
	var entries []service.JournalEntryResponse
	s.Require().NoError(json.Unmarshal(env.Data, &entries))
	s.Len(entries, 4)

	status, env = s.do(http.MethodPost, base+"/refunds", map[string]string{
		"amount":                  "1500",
		"original_transaction_id": "TXN-2",
		"transaction_id":          "TXN-3",
	})
	s.Equal(http.StatusCreated, status)

	status, env = s.do(http.MethodPost, base+"/refunds", map[string]string{
		"amount":                  "1500",
		"original_transaction_id": "TXN-404",
		"transaction_id":          "TXN-4",
	})
	s.Equal(http.StatusNotFound, status)
	s.Equal("transaction_not_found", env.Error.Code)

	status, env = s.do(http.MethodPost, base+"/payments", map[string]string{
		"amount": "1000000", "merchant_id": "M1", "transaction_id": "TXN-5",
	})
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("insufficient_balance", env.Error.Code)
	s.Contains(env.Error.Details, "required 1000000.00")

	s.Equal("50000.00", s.account(acc.ID).Balance)
}

func (s *HandlerTestSuite) TestIdempotencyKeyHeader() {
	acc := s.createAccount("user-1")
	path := "/accounts/" + acc.ID.String() + "/topup"

	status, first := s.do(http.MethodPost, path, map[string]string{"amount": "10"}, IdempotencyKeyHeader, "KEY-1")
	s.Require().Equal(http.StatusCreated, status)
	status, second := s.do(http.MethodPost, path, map[string]string{"amount": "10"}, IdempotencyKeyHeader, "KEY-1")
	s.Require().Equal(http.StatusCreated, status)

	s.JSONEq(string(first.Data), string(second.Data))
	s.Equal("10.00", s.account(acc.ID).Balance)
}

func (s *HandlerTestSuite) TestAdjustment() {
	acc := s.createAccount("user-1")
	path := "/accounts/" + acc.ID.String() + "/adjustments"

	status, env := s.do(http.MethodPost, path, map[string]string{"amount": "25", "transaction_id": "ADJ-1"})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("invalid_input", env.Error.Code)
	s.Equal("'reason' is required", env.Error.Details)

	status, env = s.do(http.MethodPost, path, map[string]string{
		"amount": "-10", "reason": "fix", "adjusted_by": "ops", "transaction_id": "ADJ-2",
	})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("invalid_money", env.Error.Code)

	status, _ = s.do(http.MethodPost, path, map[string]string{
		"amount": "25", "reason": "goodwill", "adjusted_by": "ops", "transaction_id": "ADJ-3",
	})
	s.Equal(http.StatusCreated, status)
	s.Equal("25.00", s.account(acc.ID).Balance)
}

func (s *HandlerTestSuite) TestTransactionHistory() {
	acc := s.createAccount("user-1")
	base := "/accounts/" + acc.ID.String()
	for _, id := range []string{"T1", "T2", "T3"} {
		status, _ := s.do(http.MethodPost, base+"/topup", map[string]string{"amount": "5", "transaction_id": id})
		s.Require().Equal(http.StatusCreated, status)
	}

	status, env := s.do(http.MethodGet, base+"/transactions?page=1&page_size=2", nil)
	s.Require().Equal(http.StatusOK, status)
	var history service.TransactionHistoryResponse
	s.Require().NoError(json.Unmarshal(env.Data, &history))
	s.Equal(3, history.TotalCount)
	s.Equal(2, history.TotalPages)
	s.True(history.HasNext)
	s.Len(history.Items, 2)

	status, env = s.do(http.MethodGet, base+"/transactions?type=topup&from=2024-01-01T00:00:00Z", nil)
	s.Equal(http.StatusBadRequest, status)
	s.Equal("invalid_input", env.Error.Code)

	status, _ = s.do(http.MethodGet, base+"/transactions?page_size=abc", nil)
	s.Equal(http.StatusBadRequest, status)

	status, _ = s.do(http.MethodGet, base+"/transactions?from=yesterday", nil)
	s.Equal(http.StatusBadRequest, status)

	status, env = s.do(http.MethodGet, base+"/transactions?page=4611686018427387904&page_size=20", nil)
	s.Equal(http.StatusBadRequest, status)
	s.Equal("invalid_input", env.Error.Code)

	status, env = s.do(http.MethodGet, "/accounts/"+uuid.NewString()+"/transactions", nil)
	s.Equal(http.StatusNotFound, status)
	s.Equal("account_not_found", env.Error.Code)
}

func (s *HandlerTestSuite) TestRequestValidation() {
	tests := []struct {
		name    string
		method  string
		path    string
		body    interface{}
		status  int
		code    string
		details string
	}{
		{"malformed json", http.MethodPost, "/accounts", "{", http.StatusBadRequest, "invalid_input", ""},
		{"missing user", http.MethodPost, "/accounts", map[string]string{}, http.StatusBadRequest, "invalid_input", "'user_id' is required"},
		{"bad currency", http.MethodPost, "/accounts", map[string]string{"user_id": "u", "currency": "US"}, http.StatusBadRequest, "invalid_input", "'currency' must be exactly 3 characters"},
		{"bad account id", http.MethodGet, "/accounts/not-a-uuid", nil, http.StatusBadRequest, "invalid_input", ""},
		{"unknown account", http.MethodGet, "/accounts/" + uuid.NewString(), nil, http.StatusNotFound, "account_not_found", ""},
		{"unknown transaction", http.MethodGet, "/transactions/NOPE", nil, http.StatusNotFound, "transaction_not_found", ""},
		{"amount not a number", http.MethodPost, "/accounts/" + uuid.NewString() + "/topup", map[string]string{"amount": "ten"}, http.StatusBadRequest, "invalid_input", "'amount' must be a decimal number"},
		{"payment without merchant", http.MethodPost, "/accounts/" + uuid.NewString() + "/payments", map[string]string{"amount": "1"}, http.StatusBadRequest, "invalid_input", "'merchant_id' is required"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			status, env := s.do(tt.method, tt.path, tt.body)
			s.Equal(tt.status, status)
			s.Require().NotNil(env.Error)
			s.Equal(tt.code, env.Error.Code)
			if tt.details != "" {
				s.Equal(tt.details, env.Error.Details)
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "user_id", toSnakeCase("UserID"))
	assert.Equal(t, "original_transaction_id", toSnakeCase("OriginalTransactionID"))
	assert.Equal(t, "amount", toSnakeCase("Amount"))
}

func TestParseAmount(t *testing.T) {
	assert.True(t, parseAmount("").IsZero())
	assert.Equal(t, "12.5", parseAmount("12.5").String())
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, validateStruct(&TopupRequest{Amount: "1.00"}))

	err := validateStruct(&PaymentRequest{Amount: "1", Fee: "x", MerchantID: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'fee' must be a decimal number")
}

func TestHandleErrorCancelledRequest(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	rec := httptest.NewRecorder()

	handleError(rec, req, logger, fmt.Errorf("load account: %w", context.Canceled))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "internal_error", env.Error.Code)
	assert.Equal(t, "request cancelled", env.Error.Message)
}
