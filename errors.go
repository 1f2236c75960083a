package treasury

import (
	"errors"
	"fmt"

	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/provider"
	"github.com/xraph/treasury/settlement"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("treasury: not found")
	ErrAlreadyExists = errors.New("treasury: already exists")
	ErrInvalidInput  = errors.New("treasury: invalid input")
	ErrUnauthorized  = errors.New("treasury: unauthorized")

	// Transaction errors
	ErrTransactionNotFound = errors.New("treasury: transaction not found")
	ErrStatusConflict      = errors.New("treasury: transaction status conflict")
	ErrTerminalStatus      = errors.New("treasury: transaction is in a terminal status")
	ErrNotRefundable       = errors.New("treasury: transaction is not refundable")
	ErrMissingIntent       = errors.New("treasury: transaction has no provider intent")

	// Wallet errors
	ErrWalletNotFound = errors.New("treasury: wallet not found")
	ErrWalletExists   = errors.New("treasury: wallet already exists")
	ErrWalletDrift    = errors.New("treasury: wallet balance drift detected")

	// Entry errors, re-exported from the entry package so callers can match
	// them without importing it.
	ErrUnbalancedBatch = entry.ErrUnbalanced
	ErrEmptyBatch      = entry.ErrEmptyBatch

	// Event errors
	ErrEventInvalid     = errors.New("treasury: event envelope invalid")
	ErrEventAppMismatch = errors.New("treasury: event app does not match envelope source")

	// Webhook errors
	ErrWebhookSignature = errors.New("treasury: webhook validation failed")

	// Settlement errors
	ErrSettlementFailed = errors.New("treasury: settlement transfer failed")

	// Provider errors
	ErrProviderNotConfigured = errors.New("treasury: provider not configured")
	ErrProviderUnavailable   = errors.New("treasury: provider unavailable")

	// Store errors
	ErrStoreNotReady   = errors.New("treasury: store not ready")
	ErrStoreClosed     = errors.New("treasury: store is closed")
	ErrMigrationFailed = errors.New("treasury: migration failed")

	// Engine errors
	ErrAlreadyStarted = errors.New("treasury: already started")
	ErrNotStarted     = errors.New("treasury: not started")
)

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "treasury: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("treasury: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrWalletNotFound)
}

// IsConflict returns true if the error indicates a concurrent writer won.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrWalletExists)
}

// IsValidation returns true if the error is a settlement request validation
// failure. The typed *settlement.ValidationError is available via errors.As
// when callers need the machine-readable code.
func IsValidation(err error) bool {
	var ve *settlement.ValidationError
	return errors.As(err, &ve)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrProviderUnavailable) ||
		provider.IsRetryable(err)
}
