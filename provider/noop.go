package provider

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Noop is a provider for environments without a billing backend: local
// development, tests, self-hosted deployments. Checkouts and transfers
// succeed with synthetic identifiers, subscription checks grant unlimited
// access, and webhooks are accepted unconditionally unless a secret is
// configured.
type Noop struct {
	seq           atomic.Int64
	webhookSecret []byte
}

var _ Provider = (*Noop)(nil)

// NewNoop returns a provider that accepts everything.
func NewNoop() *Noop { return &Noop{} }

// NewNoopWithSecret returns a noop provider that still enforces webhook
// signatures, for exercising the signed-webhook path without a backend.
func NewNoopWithSecret(secret string) *Noop {
	return &Noop{webhookSecret: []byte(secret)}
}

func (n *Noop) Name() string { return "noop" }

func (n *Noop) next(prefix string) string {
	return fmt.Sprintf("%s_noop_%06d", prefix, n.seq.Add(1))
}

func (n *Noop) CreateCheckout(_ context.Context, _ CheckoutRequest) (*CheckoutResult, error) {
	return &CheckoutResult{
		SessionID: n.next("cs"),
		IntentID:  n.next("pi"),
		Status:    "complete",
	}, nil
}

func (n *Noop) GetSubscriptionStatus(_ context.Context, _ string, _ Scope, _ string) (*SubscriptionStatus, error) {
	return UnlimitedStatus(), nil
}

func (n *Noop) CancelSubscription(_ context.Context, _ string, _ Scope, _ string) (*CancelResult, error) {
	return &CancelResult{Canceled: true, Immediate: true, Message: "no active billing backend"}, nil
}

func (n *Noop) ProcessWebhook(_ context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if len(n.webhookSecret) > 0 && !verifySignature(n.webhookSecret, payload, signature) {
		return &WebhookResult{Valid: false, Reason: "signature mismatch"}, nil
	}
	return &WebhookResult{Valid: true}, nil
}

func (n *Noop) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	if req.IntentID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "refund", Err: fmt.Errorf("intent_id is required")}
	}
	return &RefundResult{RefundID: n.next("re"), Status: "succeeded"}, nil
}

func (n *Noop) Transfer(_ context.Context, req TransferRequest) (*TransferResult, error) {
	if req.DestinationAccountID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "transfer", Err: fmt.Errorf("destination_account_id is required")}
	}
	return &TransferResult{TransferID: n.next("tr"), Status: "paid"}, nil
}
