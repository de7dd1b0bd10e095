package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"ledger-core/internal/config"
	"ledger-core/internal/server"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer *tcpostgres.PostgresContainer
	serverInstance    *server.Server
	baseURL           string
	client            *http.Client
	accountID         string
	paymentTxID       string
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = postgresContainer

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get container host: %s", err)
	}
	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		suite.T().Fatalf("Failed to get mapped port: %s", err)
	}

	// Migrations run on startup; the server owns the schema
	cfg := &config.Config{
		ServerPort:         "0",
		DBHost:             host,
		DBPort:             port.Port(),
		DBUser:             "postgres",
		DBPassword:         "password",
		DBName:             "ledger",
		DBSSLMode:          "disable",
		StoreDriver:        config.StoreDriverPostgres,
		IdempotencyBackend: config.IdempotencyBackendPostgres,
		IdempotencyTTL:     24 * time.Hour,
		DefaultCurrency:    "VND",
		RunMigrations:      true,
	}

	serverInstance, serverPort, err := server.StartServer(cfg)
	if err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}
	suite.serverInstance = serverInstance
	suite.baseURL = "http://localhost:" + serverPort

	suite.client = &http.Client{
		Timeout: 30 * time.Second,
	}

	if err := suite.waitForServerReady(); err != nil {
		suite.T().Fatalf("Server not ready: %s", err)
	}
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
	}

	if suite.postgresContainer != nil {
		testcontainers.TerminateContainer(suite.postgresContainer)
	}
}

// call sends a JSON request and returns the status code with the decoded
// envelope.
func (suite *IntegrationTestSuite) call(method, path string, body interface{}, headers ...string) (int, map[string]interface{}) {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, suite.baseURL+path, reader)
	suite.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := suite.client.Do(req)
	suite.Require().NoError(err)
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	suite.T().Logf("%s %s -> %d %s", method, path, resp.StatusCode, respBody)

	var response map[string]interface{}
	if err := json.Unmarshal(respBody, &response); err != nil {
		suite.T().Logf("Failed to parse response: %s", respBody)
	}
	return resp.StatusCode, response
}

func (suite *IntegrationTestSuite) data(response map[string]interface{}) map[string]interface{} {
	data, ok := response["data"].(map[string]interface{})
	suite.Require().True(ok, "Response should have 'data' object")
	return data
}

func (suite *IntegrationTestSuite) errorCode(response map[string]interface{}) string {
	errorInfo, ok := response["error"].(map[string]interface{})
	suite.Require().True(ok, "Response should have 'error' field for error cases")
	return errorInfo["code"].(string)
}

func (suite *IntegrationTestSuite) balance() string {
	status, response := suite.call(http.MethodGet, "/accounts/"+suite.accountID, nil)
	suite.Require().Equal(http.StatusOK, status)
	return suite.data(response)["balance"].(string)
}

// Helper to compare decimal values properly
func (suite *IntegrationTestSuite) assertDecimalEqual(expected, actual string) {
	expectedDec, err := decimal.NewFromString(expected)
	if err != nil {
		suite.T().Fatalf("Invalid expected decimal: %s", expected)
	}

	actualDec, err := decimal.NewFromString(actual)
	if err != nil {
		suite.T().Fatalf("Invalid actual decimal: %s", actual)
	}

	assert.True(suite.T(), expectedDec.Equal(actualDec),
		"Decimal values not equal: expected %s, got %s", expected, actual)
}

// ------------------------------------------------------------------
// Steps run in the order TestFlow invokes them; each builds on the
// balance left by the previous one.
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) stepHealthCheck() {
	status, response := suite.call(http.MethodGet, "/health", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "healthy", response["status"])
}

func (suite *IntegrationTestSuite) stepCreateAccount() {
	status, response := suite.call(http.MethodPost, "/accounts", map[string]string{"user_id": "user-123"})
	suite.Require().Equal(http.StatusCreated, status)

	account := suite.data(response)
	suite.accountID = account["id"].(string)
	assert.Equal(suite.T(), "VND", account["currency"])
	suite.assertDecimalEqual("0", account["balance"].(string))

	status, response = suite.call(http.MethodPost, "/accounts", map[string]string{"user_id": "user-123"})
	assert.Equal(suite.T(), http.StatusConflict, status)
	assert.Equal(suite.T(), "duplicate_account", suite.errorCode(response))
}

func (suite *IntegrationTestSuite) stepTopupAndPayment() {
	path := "/accounts/" + suite.accountID
	status, _ := suite.call(http.MethodPost, path+"/topup", map[string]string{
		"amount": "100000", "transaction_id": "TXN-TOPUP-1",
	})
	suite.Require().Equal(http.StatusCreated, status)

	status, response := suite.call(http.MethodPost, path+"/payments", map[string]string{
		"amount":         "50000",
		"fee":            "1000",
		"tax":            "500",
		"merchant_id":    "MERCHANT-1",
		"transaction_id": "TXN-PAY-1",
	})
	suite.Require().Equal(http.StatusCreated, status)
	payment := suite.data(response)
	assert.Equal(suite.T(), "completed", payment["status"])
	suite.assertDecimalEqual("48500", payment["balance_after"].(string))
	suite.paymentTxID = payment["transaction_id"].(string)

	suite.assertDecimalEqual("48500", suite.balance())

	status, response = suite.call(http.MethodGet, "/transactions/TXN-PAY-1/journal", nil)
	suite.Require().Equal(http.StatusOK, status)
	entries := response["data"].([]interface{})
	assert.Len(suite.T(), entries, 4)
}

func (suite *IntegrationTestSuite) stepIdempotentPayment() {
	path := "/accounts/" + suite.accountID + "/payments"
	key := uuid.NewString()
	body := map[string]string{"amount": "100", "merchant_id": "MERCHANT-1"}

	status, first := suite.call(http.MethodPost, path, body, "Idempotency-Key", key)
	suite.Require().Equal(http.StatusCreated, status)
	status, second := suite.call(http.MethodPost, path, body, "Idempotency-Key", key)
	suite.Require().Equal(http.StatusCreated, status)

	assert.Equal(suite.T(), suite.data(first)["id"], suite.data(second)["id"])
	// 48500 - 100, applied once
	suite.assertDecimalEqual("48400", suite.balance())
}

func (suite *IntegrationTestSuite) stepInsufficientBalance() {
	status, response := suite.call(http.MethodPost, "/accounts/"+suite.accountID+"/payments", map[string]string{
		"amount": "1000000", "merchant_id": "MERCHANT-1", "transaction_id": "TXN-PAY-BIG",
	})
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "insufficient_balance", suite.errorCode(response))
	suite.assertDecimalEqual("48400", suite.balance())
}

func (suite *IntegrationTestSuite) stepRefunds() {
	path := "/accounts/" + suite.accountID + "/refunds"

	status, response := suite.call(http.MethodPost, path, map[string]string{
		"amount": "1500", "original_transaction_id": suite.paymentTxID, "transaction_id": "TXN-REF-1",
	})
	suite.Require().Equal(http.StatusCreated, status)
	assert.Equal(suite.T(), "refund", suite.data(response)["type"])

	status, response = suite.call(http.MethodPost, path, map[string]string{
		"amount": "60000", "original_transaction_id": suite.paymentTxID, "transaction_id": "TXN-REF-2",
	})
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "invalid_refund", suite.errorCode(response))

	status, response = suite.call(http.MethodPost, path, map[string]string{
		"amount": "10", "original_transaction_id": "TXN-UNKNOWN", "transaction_id": "TXN-REF-3",
	})
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "transaction_not_found", suite.errorCode(response))

	suite.assertDecimalEqual("49900", suite.balance())
}

func (suite *IntegrationTestSuite) stepAdjustment() {
	path := "/accounts/" + suite.accountID + "/adjustments"

	status, response := suite.call(http.MethodPost, path, map[string]string{
		"amount": "-10", "reason": "correction", "adjusted_by": "ops", "transaction_id": "TXN-ADJ-0",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	assert.Equal(suite.T(), "invalid_money", suite.errorCode(response))

	status, _ = suite.call(http.MethodPost, path, map[string]string{
		"amount": "100", "reason": "goodwill", "adjusted_by": "ops", "transaction_id": "TXN-ADJ-1",
	})
	assert.Equal(suite.T(), http.StatusCreated, status)
	suite.assertDecimalEqual("50000", suite.balance())
}

func (suite *IntegrationTestSuite) stepConcurrentPayments() {
	path := "/accounts/" + suite.accountID + "/payments"

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, _ := json.Marshal(map[string]string{
				"amount":         "5000",
				"merchant_id":    "MERCHANT-1",
				"transaction_id": fmt.Sprintf("TXN-CONC-%d", i),
			})
			resp, err := suite.client.Post(suite.baseURL+path, "application/json", bytes.NewReader(raw))
			if err == nil {
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	// 50000 covers exactly ten payments of 5000
	suite.assertDecimalEqual("0", suite.balance())
}

func (suite *IntegrationTestSuite) stepHistory() {
	path := "/accounts/" + suite.accountID + "/transactions"

	status, response := suite.call(http.MethodGet, path+"?page=1&page_size=5", nil)
	suite.Require().Equal(http.StatusOK, status)
	history := suite.data(response)
	// topup, two payments, refund, adjustment, ten concurrent payments
	assert.Equal(suite.T(), float64(15), history["total_count"])
	assert.Equal(suite.T(), float64(3), history["total_pages"])
	assert.Equal(suite.T(), true, history["has_next"])
	assert.Len(suite.T(), history["items"], 5)

	status, response = suite.call(http.MethodGet, path+"?type=refund", nil)
	suite.Require().Equal(http.StatusOK, status)
	assert.Equal(suite.T(), float64(1), suite.data(response)["total_count"])

	status, response = suite.call(http.MethodGet, path+"?type=refund&from=2020-01-01T00:00:00Z", nil)
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	assert.Equal(suite.T(), "invalid_input", suite.errorCode(response))
}

func (suite *IntegrationTestSuite) stepLockedAccount() {
	path := "/accounts/" + suite.accountID

	status, _ := suite.call(http.MethodPost, path+"/lock", map[string]string{"reason": "fraud review"})
	suite.Require().Equal(http.StatusOK, status)

	status, response := suite.call(http.MethodPost, path+"/topup", map[string]string{
		"amount": "10", "transaction_id": "TXN-LOCKED",
	})
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "account_locked", suite.errorCode(response))

	status, _ = suite.call(http.MethodPost, path+"/unlock", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
}

func (suite *IntegrationTestSuite) stepAccountNotFound() {
	status, response := suite.call(http.MethodGet, "/accounts/"+uuid.NewString(), nil)
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "account_not_found", suite.errorCode(response))
}

func (suite *IntegrationTestSuite) TestFlow() {
	if testing.Short() {
		suite.T().Skip("Skipping integration test in short mode")
	}

	suite.stepHealthCheck()
	suite.stepCreateAccount()
	suite.stepTopupAndPayment()
	suite.stepIdempotentPayment()
	suite.stepInsufficientBalance()
	suite.stepRefunds()
	suite.stepAdjustment()
	suite.stepConcurrentPayments()
	suite.stepHistory()
	suite.stepLockedAccount()
	suite.stepAccountNotFound()
}

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
