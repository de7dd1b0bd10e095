package handler

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the account and ledger endpoints on router.
func RegisterRoutes(router *mux.Router, accounts *AccountHandler, ledger *LedgerHandler) {
	router.HandleFunc("/accounts", accounts.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}", accounts.GetAccount).Methods("GET")
	router.HandleFunc("/users/{user_id}/account", accounts.GetAccountByUser).Methods("GET")
	router.HandleFunc("/accounts/{account_id}/lock", accounts.LockAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/unlock", accounts.UnlockAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/reserve", accounts.ReserveBalance).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/release", accounts.ReleaseBalance).Methods("POST")

	router.HandleFunc("/accounts/{account_id}/topup", ledger.Topup).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/payments", ledger.ProcessPayment).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/refunds", ledger.ProcessRefund).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/adjustments", ledger.ApplyAdjustment).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/transactions", ledger.GetTransactionHistory).Methods("GET")
	router.HandleFunc("/transactions/{transaction_id}", ledger.GetTransaction).Methods("GET")
	router.HandleFunc("/transactions/{transaction_id}/journal", ledger.GetJournalEntries).Methods("GET")
}
