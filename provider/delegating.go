package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config configures the delegating provider.
type Config struct {
	// BaseURL is the root of the upstream billing API, without trailing slash.
	BaseURL string

	// APIKey is sent as a bearer token on every request.
	APIKey string

	// WebhookSecret signs inbound webhook payloads (HMAC-SHA256).
	WebhookSecret string

	// FailOpen controls behavior when the upstream is unreachable during a
	// subscription status check: true grants unlimited access, false
	// surfaces the outage to the caller.
	FailOpen bool

	// Timeout bounds each upstream call. Zero means 15s.
	Timeout time.Duration

	// HTTPClient overrides the transport. Nil means a client built from
	// Timeout.
	HTTPClient *http.Client
}

// Delegating forwards every operation to an upstream billing API over HTTP.
// It performs no retries of its own: synchronous paths surface failures to
// the caller, and the refund worker owns retry policy for async paths.
type Delegating struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

var _ Provider = (*Delegating)(nil)

// NewDelegating builds a provider that delegates to cfg.BaseURL.
func NewDelegating(cfg Config, logger *slog.Logger) (*Delegating, error) {
	if cfg.BaseURL == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "configure", Err: fmt.Errorf("base URL is required")}
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Delegating{cfg: cfg, client: client, logger: logger.With("component", "provider")}, nil
}

func (d *Delegating) Name() string { return "delegating" }

// CreateCheckout creates a checkout session upstream.
func (d *Delegating) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.UserID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "create_checkout", Err: fmt.Errorf("user_id is required")}
	}
	if req.Scope == ScopeApp && req.AppID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "create_checkout", Err: fmt.Errorf("app_id is required for app scope")}
	}
	var out CheckoutResult
	if err := d.do(ctx, http.MethodPost, "/v1/checkout", req, &out, "create_checkout"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSubscriptionStatus fetches the normalized subscription state. A 404
// upstream means no subscription and maps to the inactive free status. An
// unreachable upstream maps to the configured outage policy.
func (d *Delegating) GetSubscriptionStatus(ctx context.Context, userID string, scope Scope, appID string) (*SubscriptionStatus, error) {
	if userID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "subscription_status", Err: fmt.Errorf("user_id is required")}
	}
	q := url.Values{"scope": {string(scope)}}
	if appID != "" {
		q.Set("app_id", appID)
	}
	path := "/v1/subscriptions/" + url.PathEscape(userID) + "?" + q.Encode()

	var out SubscriptionStatus
	err := d.do(ctx, http.MethodGet, path, nil, &out, "subscription_status")
	if err == nil {
		return &out, nil
	}
	switch KindOf(err) {
	case KindNotFound:
		return InactiveStatus(), nil
	case KindUnavailable, KindUnknown:
		if d.cfg.FailOpen {
			d.logger.Warn("billing upstream unreachable, failing open",
				"user_id", userID, "scope", scope)
			return UnlimitedStatus(), nil
		}
		return nil, err
	default:
		return nil, err
	}
}

// CancelSubscription cancels upstream at period end.
func (d *Delegating) CancelSubscription(ctx context.Context, userID string, scope Scope, appID string) (*CancelResult, error) {
	if userID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "cancel_subscription", Err: fmt.Errorf("user_id is required")}
	}
	q := url.Values{"scope": {string(scope)}}
	if appID != "" {
		q.Set("app_id", appID)
	}
	path := "/v1/subscriptions/" + url.PathEscape(userID) + "?" + q.Encode()

	var out CancelResult
	if err := d.do(ctx, http.MethodDelete, path, nil, &out, "cancel_subscription"); err != nil {
		return nil, err
	}
	return &out, nil
}

// webhookBody is the wire shape of an upstream webhook payload.
type webhookBody struct {
	Events []WebhookEvent `json:"events"`
}

// ProcessWebhook verifies the payload signature and normalizes the events.
// A bad signature yields an invalid result, never an error: nothing has
// changed and the caller chooses the response.
func (d *Delegating) ProcessWebhook(_ context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if d.cfg.WebhookSecret == "" {
		return &WebhookResult{Valid: false, Reason: "webhook secret not configured"}, nil
	}
	if !verifySignature([]byte(d.cfg.WebhookSecret), payload, signature) {
		return &WebhookResult{Valid: false, Reason: "signature mismatch"}, nil
	}
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return &WebhookResult{Valid: false, Reason: "malformed payload"}, nil
	}
	return &WebhookResult{Valid: true, Events: body.Events}, nil
}

// Refund requests a refund upstream. Callers must not retry KindInvalidRequest
// or KindUnauthorized failures.
func (d *Delegating) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.IntentID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "refund", Err: fmt.Errorf("intent_id is required")}
	}
	var out RefundResult
	if err := d.do(ctx, http.MethodPost, "/v1/refunds", req, &out, "refund"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer pays out to a destination account upstream.
func (d *Delegating) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.DestinationAccountID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "transfer", Err: fmt.Errorf("destination_account_id is required")}
	}
	var out TransferResult
	if err := d.do(ctx, http.MethodPost, "/v1/transfers", req, &out, "transfer"); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues one HTTP request and decodes the JSON response into out.
func (d *Delegating) do(ctx context.Context, method, path string, body, out any, op string) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindInvalidRequest, Op: op, Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.cfg.BaseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &Error{Kind: KindUnavailable, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if kind, ok := kindForStatus(resp.StatusCode); ok {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Kind: kind, Op: op, Err: fmt.Errorf("upstream status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindUnknown, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// kindForStatus maps an upstream HTTP status to an error Kind. The second
// return is false for success statuses.
func kindForStatus(status int) (Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return KindUnknown, false
	case status == http.StatusNotFound:
		return KindNotFound, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized, true
	case status == http.StatusTooManyRequests:
		return KindUnavailable, true
	case status >= 400 && status < 500:
		return KindInvalidRequest, true
	case status >= 500:
		return KindUnavailable, true
	default:
		return KindUnknown, true
	}
}
