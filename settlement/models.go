// Package settlement defines the payout request model and its typed
// validation errors.
package settlement

import (
	"fmt"

	"github.com/xraph/treasury/types"
)

// Code is a machine-readable validation failure reason. Callers map codes
// to transport-level responses; this package never decides HTTP status.
type Code string

const (
	CodeMissingDestinationAccount       Code = "missing_destination_account_id"
	CodeInvalidDestinationAccountFormat Code = "invalid_destination_account_id_format"
	CodeInvalidAmount                   Code = "invalid_amount"
)

// ValidationError is a settlement input rejection with a reason code.
type ValidationError struct {
	Code    Code
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settlement: validation failed (%s): %s", e.Code, e.Message)
}

// Request is a validated, converted payout request ready for the provider.
type Request struct {
	AppID                string
	DestinationAccountID string
	Amount               types.Money // minor units
	CorrelationID        string
}

// Result reports the outcome of a processed settlement.
type Result struct {
	TransactionID string      `json:"transaction_id"`
	TransferID    string      `json:"transfer_id"`
	Amount        types.Money `json:"amount"`
	CorrelationID string      `json:"correlation_id"`
}
