package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"ledger-core/internal/errors"
)

const maxTransactionIDLength = 100

// TransactionID is the caller-supplied dedup and correlation key of a
// ledger mutation.
type TransactionID string

func NewTransactionID(value string) (TransactionID, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", errors.NewAppError(errors.InvalidInput, "transaction id is required")
	}
	if utf8.RuneCountInString(v) > maxTransactionIDLength {
		return "", errors.NewAppErrorf(errors.InvalidInput,
			"transaction id must be at most %d characters", maxTransactionIDLength)
	}
	return TransactionID(v), nil
}

// GenerateTransactionID returns a random id for callers that do not supply one.
func GenerateTransactionID() TransactionID {
	return TransactionID(fmt.Sprintf("TXN-%s", strings.ToUpper(uuid.NewString())))
}

func (t TransactionID) String() string {
	return string(t)
}
