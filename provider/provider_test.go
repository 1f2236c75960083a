package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec_test")
	payload := []byte(`{"events":[]}`)
	good := computeSignature(secret, payload)

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"valid", good, true},
		{"valid with prefix", "sha256=" + good, true},
		{"wrong signature", "deadbeef", false},
		{"empty signature", "", false},
		{"truncated", good[:10], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verifySignature(secret, payload, tt.signature); got != tt.want {
				t.Errorf("verifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelegatingProcessWebhook(t *testing.T) {
	d, err := NewDelegating(Config{BaseURL: "http://unused", WebhookSecret: "whsec_test"}, nil)
	if err != nil {
		t.Fatalf("NewDelegating() error = %v", err)
	}
	payload := []byte(`{"events":[{"type":"payment.succeeded","intent_id":"pi_1"}]}`)
	sig := computeSignature([]byte("whsec_test"), payload)

	res, err := d.ProcessWebhook(context.Background(), payload, sig)
	if err != nil {
		t.Fatalf("ProcessWebhook() error = %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid result, got reason %q", res.Reason)
	}
	if len(res.Events) != 1 || res.Events[0].IntentID != "pi_1" {
		t.Errorf("unexpected events: %+v", res.Events)
	}

	// Tampered payload must come back invalid with no error.
	res, err = d.ProcessWebhook(context.Background(), append(payload, ' '), sig)
	if err != nil {
		t.Fatalf("ProcessWebhook() error = %v", err)
	}
	if res.Valid {
		t.Error("tampered payload accepted")
	}
}

func TestDelegatingSubscriptionStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d, err := NewDelegating(Config{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewDelegating() error = %v", err)
	}
	st, err := d.GetSubscriptionStatus(context.Background(), "user_1", ScopePlatform, "")
	if err != nil {
		t.Fatalf("GetSubscriptionStatus() error = %v", err)
	}
	if st.Active || st.Plan != "free" {
		t.Errorf("expected inactive free status, got %+v", st)
	}
}

func TestDelegatingSubscriptionStatusOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Run("fail closed", func(t *testing.T) {
		d, _ := NewDelegating(Config{BaseURL: srv.URL}, nil)
		_, err := d.GetSubscriptionStatus(context.Background(), "user_1", ScopePlatform, "")
		if err == nil {
			t.Fatal("expected error with fail-closed config")
		}
		if KindOf(err) != KindUnavailable {
			t.Errorf("KindOf() = %v, want %v", KindOf(err), KindUnavailable)
		}
		if !IsRetryable(err) {
			t.Error("unavailable error should be retryable")
		}
	})

	t.Run("fail open", func(t *testing.T) {
		d, _ := NewDelegating(Config{BaseURL: srv.URL, FailOpen: true}, nil)
		st, err := d.GetSubscriptionStatus(context.Background(), "user_1", ScopePlatform, "")
		if err != nil {
			t.Fatalf("GetSubscriptionStatus() error = %v", err)
		}
		if !st.Active || st.TokenBudget.Limit != -1 {
			t.Errorf("expected unlimited status, got %+v", st)
		}
	})
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status  int
		want    Kind
		failure bool
	}{
		{200, KindUnknown, false},
		{204, KindUnknown, false},
		{400, KindInvalidRequest, true},
		{401, KindUnauthorized, true},
		{403, KindUnauthorized, true},
		{404, KindNotFound, true},
		{422, KindInvalidRequest, true},
		{429, KindUnavailable, true},
		{500, KindUnavailable, true},
		{503, KindUnavailable, true},
	}
	for _, tt := range tests {
		kind, failure := kindForStatus(tt.status)
		if failure != tt.failure || (failure && kind != tt.want) {
			t.Errorf("kindForStatus(%d) = (%v, %v), want (%v, %v)",
				tt.status, kind, failure, tt.want, tt.failure)
		}
	}
}

func TestDelegatingRefundErrorKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d, _ := NewDelegating(Config{BaseURL: srv.URL}, nil)
	_, err := d.Refund(context.Background(), RefundRequest{IntentID: "pi_1"})
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("error is not *Error: %v", err)
	}
	if pe.Kind != KindInvalidRequest {
		t.Errorf("Kind = %v, want %v", pe.Kind, KindInvalidRequest)
	}
	if pe.Retryable() {
		t.Error("invalid request must not be retryable")
	}
}

func TestDelegatingSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(TransferResult{TransferID: "tr_1", Status: "paid"})
	}))
	defer srv.Close()

	d, _ := NewDelegating(Config{BaseURL: srv.URL, APIKey: "sk_test"}, nil)
	res, err := d.Transfer(context.Background(), TransferRequest{DestinationAccountID: "acct_1"})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if res.TransferID != "tr_1" {
		t.Errorf("TransferID = %q", res.TransferID)
	}
}

func TestNoopProvider(t *testing.T) {
	n := NewNoop()
	ctx := context.Background()

	st, err := n.GetSubscriptionStatus(ctx, "u", ScopePlatform, "")
	if err != nil || !st.Active {
		t.Fatalf("noop status = %+v, err = %v", st, err)
	}
	res, err := n.ProcessWebhook(ctx, []byte("anything"), "no-signature")
	if err != nil || !res.Valid {
		t.Fatalf("noop webhook = %+v, err = %v", res, err)
	}
	r1, _ := n.Refund(ctx, RefundRequest{IntentID: "pi_1"})
	r2, _ := n.Refund(ctx, RefundRequest{IntentID: "pi_2"})
	if r1.RefundID == r2.RefundID {
		t.Error("noop refund ids must be unique")
	}
	if _, err := n.Refund(ctx, RefundRequest{}); err == nil {
		t.Error("refund without intent id must fail")
	}
}
