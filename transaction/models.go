// Package transaction defines the payment-processor transaction model.
//
// A Transaction records a single payment-processor operation — a payment
// intent, a settlement payout or a refund — and carries the status machine
// that webhook reconciliation and the refund worker drive.
package transaction

import (
	"time"

	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/types"
)

// Type classifies what kind of money movement a transaction represents.
type Type string

const (
	TypePlatformSubscriptionContract Type = "platform_subscription_contract"
	TypeAppSubscriptionContract      Type = "app_subscription_contract"
	TypePlatformSubscriptionPayment  Type = "platform_subscription_payment"
	TypeAppSubscriptionPayment       Type = "app_subscription_payment"
	TypeSettlement                   Type = "settlement"
	TypeRefund                       Type = "refund"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending       Status = "pending"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
	StatusRefundFailed  Status = "refund_failed"
)

// IsTerminal reports whether the status admits no further automated
// transition. RefundFailed requires a manual re-queue, which is outside the
// automated lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusRefunded, StatusRefundFailed:
		return true
	default:
		return false
	}
}

// RevenueShare allocates a fraction of a payment to an investor.
type RevenueShare struct {
	InvestorID string `json:"investor_id"`
	ShareBps   int64  `json:"share_bps"`
}

// Metadata carries the payment-context block attached to a transaction.
type Metadata struct {
	PayerID            string         `json:"payer_id,omitempty"`
	BeneficiaryID      string         `json:"beneficiary_id,omitempty"`
	InvestorShares     []RevenueShare `json:"investor_shares,omitempty"`
	SubscriptionID     string         `json:"subscription_id,omitempty"`
	SubscriptionPeriod string         `json:"subscription_period,omitempty"`
	PlatformFeeBps     int64          `json:"platform_fee_bps,omitempty"`
	PlatformFeeAmount  int64          `json:"platform_fee_amount,omitempty"`
}

// Transaction is one payment-processor operation.
type Transaction struct {
	types.Entity
	ID               id.TransactionID `json:"id"`
	Type             Type             `json:"type"`
	Status           Status           `json:"status"`
	Amount           types.Money      `json:"amount"`
	UserID           string           `json:"user_id,omitempty"`
	AppID            string           `json:"app_id,omitempty"`
	WalletID         id.WalletID      `json:"wallet_id,omitempty"`
	ProviderIntentID string           `json:"provider_intent_id,omitempty"`
	Metadata         Metadata         `json:"metadata"`

	// Failure and retry bookkeeping. RefundAttempts and the claim fields
	// belong to the refund worker; LastError also records settlement
	// transfer failures.
	RefundAttempts int        `json:"refund_attempts,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
}

// ListOpts filters transaction listings.
type ListOpts struct {
	Status Status
	Type   Type
	AppID  string
	UserID string
	Limit  int
	Offset int
}

// StatusFields carries the optional fields a status transition may set
// alongside the new status.
type StatusFields struct {
	ProviderIntentID string
	RefundAttempts   *int
	LastError        *string
}
