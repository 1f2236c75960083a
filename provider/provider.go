// Package provider defines the payment-provider contract the billing core
// depends on, plus the built-in implementations.
//
// Implementations are interchangeable: the core never branches on provider
// identity except for a log field. Any conforming backend must satisfy the
// same result and error contract — errors are typed (*Error) with a Kind
// enum so callers branch without string matching.
package provider

import (
	"context"
	"time"

	"github.com/xraph/treasury/types"
)

// Scope selects whether an operation targets the platform subscription or
// an app-level subscription.
type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeApp      Scope = "app"
)

// Mode selects the checkout mode.
type Mode string

const (
	ModeSubscription Mode = "subscription"
	ModePayment      Mode = "payment"
)

// CheckoutRequest describes a checkout session to create.
type CheckoutRequest struct {
	UserID     string            `json:"user_id"`
	Scope      Scope             `json:"scope"`
	AppID      string            `json:"app_id,omitempty"`
	PlanID     string            `json:"plan_id,omitempty"`
	Mode       Mode              `json:"mode"`
	Amount     *types.Money      `json:"amount,omitempty"`
	SuccessURL string            `json:"success_url,omitempty"`
	CancelURL  string            `json:"cancel_url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CheckoutResult is the created checkout session.
type CheckoutResult struct {
	SessionID    string     `json:"session_id"`
	IntentID     string     `json:"intent_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	CheckoutURL  string     `json:"checkout_url,omitempty"`
	Status       string     `json:"status"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// TokenBudget describes usage-budget enforcement attached to a subscription.
type TokenBudget struct {
	Period      string `json:"period,omitempty"`
	Limit       int64  `json:"limit"`
	Used        int64  `json:"used"`
	Enforcement string `json:"enforcement,omitempty"`
}

// SubscriptionStatus is the normalized subscription state for a user/scope.
type SubscriptionStatus struct {
	Active            bool        `json:"active"`
	Plan              string      `json:"plan,omitempty"`
	Tier              string      `json:"tier,omitempty"`
	Features          []string    `json:"features,omitempty"`
	TokenBudget       TokenBudget `json:"token_budget"`
	PeriodStart       *time.Time  `json:"period_start,omitempty"`
	PeriodEnd         *time.Time  `json:"period_end,omitempty"`
	CancelAtPeriodEnd bool        `json:"cancel_at_period_end,omitempty"`
}

// InactiveStatus returns the explicit free/inactive status used when the
// provider knows nothing about the user. A not-found is a status, not an
// error.
func InactiveStatus() *SubscriptionStatus {
	return &SubscriptionStatus{Active: false, Plan: "free", Tier: "free"}
}

// UnlimitedStatus returns the fail-open status: every feature granted, no
// budget enforced. Only returned when fail-open is explicitly configured.
func UnlimitedStatus() *SubscriptionStatus {
	return &SubscriptionStatus{
		Active:      true,
		Plan:        "unlimited",
		Features:    []string{"*"},
		TokenBudget: TokenBudget{Limit: -1, Enforcement: "none"},
	}
}

// CancelResult reports a subscription cancellation.
type CancelResult struct {
	Canceled    bool       `json:"canceled"`
	Message     string     `json:"message,omitempty"`
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
	Immediate   bool       `json:"immediate"`
}

// WebhookEvent is one normalized event extracted from a webhook payload.
type WebhookEvent struct {
	Type           string         `json:"type"`
	UserID         string         `json:"user_id,omitempty"`
	AppID          string         `json:"app_id,omitempty"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	IntentID       string         `json:"intent_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Data           map[string]any `json:"data,omitempty"`
}

// WebhookResult is the outcome of webhook validation and normalization.
// An invalid signature is a structured failure (Valid false), not an error:
// the caller decides how to respond without any state having changed.
type WebhookResult struct {
	Valid  bool           `json:"valid"`
	Reason string         `json:"reason,omitempty"`
	Events []WebhookEvent `json:"events,omitempty"`
}

// RefundRequest asks the provider to refund a completed payment.
type RefundRequest struct {
	IntentID      string       `json:"intent_id"`
	Amount        *types.Money `json:"amount,omitempty"` // nil = full refund
	Reason        string       `json:"reason,omitempty"`
	CorrelationID string       `json:"correlation_id,omitempty"`
}

// RefundResult reports a provider refund.
type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// TransferRequest asks the provider to pay out to a destination account.
type TransferRequest struct {
	DestinationAccountID string            `json:"destination_account_id"`
	Amount               types.Money       `json:"amount"`
	CorrelationID        string            `json:"correlation_id,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// TransferResult reports a provider transfer.
type TransferResult struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
}

// Provider is the capability set any payment backend must implement.
// All operations are cancellable through ctx.
type Provider interface {
	// Name identifies the implementation for logging only.
	Name() string

	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	GetSubscriptionStatus(ctx context.Context, userID string, scope Scope, appID string) (*SubscriptionStatus, error)
	CancelSubscription(ctx context.Context, userID string, scope Scope, appID string) (*CancelResult, error)
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}
