package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	treasury "github.com/xraph/treasury"
	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/event"
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/provider"
	"github.com/xraph/treasury/settlement"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/types"
)

// maxWebhookBody caps webhook payload reads.
const maxWebhookBody = 1 << 20

// signatureHeader carries the provider's HMAC signature on webhook deliveries.
const signatureHeader = "X-Webhook-Signature"

// ──────────────────────────────────────────────────
// Checkout and Subscriptions
// ──────────────────────────────────────────────────

func (s *Server) handleCreateCheckout(w http.ResponseWriter, req *http.Request) {
	var cr provider.CheckoutRequest
	if err := json.NewDecoder(req.Body).Decode(&cr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, txn, err := s.core.CreateCheckout(req.Context(), cr)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"checkout":    result,
		"transaction": txn,
	})
}

func (s *Server) handleSubscriptionStatus(w http.ResponseWriter, req *http.Request) {
	userID := chi.URLParam(req, "userID")
	scope := provider.Scope(req.URL.Query().Get("scope"))
	if scope == "" {
		scope = provider.ScopePlatform
	}
	appID := req.URL.Query().Get("app_id")

	status, err := s.core.GetSubscriptionStatus(req.Context(), userID, scope, appID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, req *http.Request) {
	userID := chi.URLParam(req, "userID")
	scope := provider.Scope(req.URL.Query().Get("scope"))
	if scope == "" {
		scope = provider.ScopePlatform
	}
	appID := req.URL.Query().Get("app_id")

	result, err := s.core.CancelSubscription(req.Context(), userID, scope, appID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ──────────────────────────────────────────────────
// Webhooks
// ──────────────────────────────────────────────────

func (s *Server) handleWebhook(w http.ResponseWriter, req *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := s.core.HandleWebhook(req.Context(), payload, req.Header.Get(signatureHeader))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !result.Valid {
		// Rejected deliveries get 400 so the provider does not retry with
		// the same bad signature forever.
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ──────────────────────────────────────────────────
// Transactions and Refunds
// ──────────────────────────────────────────────────

func (s *Server) handleListTransactions(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	opts := transaction.ListOpts{
		Status: transaction.Status(q.Get("status")),
		Type:   transaction.Type(q.Get("type")),
		AppID:  q.Get("app_id"),
		UserID: q.Get("user_id"),
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	}

	txns, err := s.core.ListTransactions(req.Context(), opts)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, req *http.Request) {
	txnID, err := id.ParseTransactionID(chi.URLParam(req, "txnID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	txn, err := s.core.GetTransaction(req.Context(), txnID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) handleRequestRefund(w http.ResponseWriter, req *http.Request) {
	txnID, err := id.ParseTransactionID(chi.URLParam(req, "txnID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.core.RequestRefund(req.Context(), txnID, body.Reason); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"transaction_id": txnID.String(),
		"status":         string(transaction.StatusRefundPending),
	})
}

// ──────────────────────────────────────────────────
// Wallets
// ──────────────────────────────────────────────────

func (s *Server) handleCreateWallet(w http.ResponseWriter, req *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
		AppID  string `json:"app_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	wlt, err := s.core.CreateWallet(req.Context(), body.UserID, body.AppID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wlt)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, req *http.Request) {
	walletID, err := id.ParseWalletID(chi.URLParam(req, "walletID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}

	wlt, err := s.core.GetWallet(req.Context(), walletID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wlt)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	balance, err := s.core.WalletBalance(req.Context(), userID, q.Get("app_id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *Server) handleWalletEntries(w http.ResponseWriter, req *http.Request) {
	walletID, err := id.ParseWalletID(chi.URLParam(req, "walletID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}

	q := req.URL.Query()
	opts := entry.ListOpts{
		Type:   entry.EntryType(q.Get("type")),
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	}

	entries, err := s.core.WalletEntries(req.Context(), walletID, opts)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleReconcileWallet(w http.ResponseWriter, req *http.Request) {
	walletID, err := id.ParseWalletID(chi.URLParam(req, "walletID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}

	rec, err := s.core.ReconcileWallet(req.Context(), walletID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ──────────────────────────────────────────────────
// Economic Events
// ──────────────────────────────────────────────────

func (s *Server) handleIngestEvents(w http.ResponseWriter, req *http.Request) {
	var body struct {
		AppID  string           `json:"app_id"`
		Events []event.Envelope `json:"events"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accepted, err := s.core.IngestEvents(req.Context(), body.AppID, body.Events)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"received": len(body.Events),
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, req *http.Request) {
	doc, err := s.core.GetEvent(req.Context(), chi.URLParam(req, "eventID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListEvents(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	opts := event.ListOpts{
		EventType:     q.Get("event_type"),
		TransactionID: q.Get("transaction_id"),
		CampaignID:    q.Get("campaign_id"),
		UserID:        q.Get("user_id"),
		Limit:         queryInt(q.Get("limit")),
		Offset:        queryInt(q.Get("offset")),
	}

	docs, err := s.core.ListEvents(req.Context(), opts)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": docs})
}

// ──────────────────────────────────────────────────
// Settlements
// ──────────────────────────────────────────────────

func (s *Server) handleProcessSettlement(w http.ResponseWriter, req *http.Request) {
	var body struct {
		AppID                string `json:"app_id"`
		DestinationAccountID string `json:"destination_account_id"`
		Amount               string `json:"amount"`
		Currency             string `json:"currency"`
		CorrelationID        string `json:"correlation_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := types.ParseMajor(body.Amount, body.Currency)
	if err != nil {
		s.writeEngineError(w, &settlement.ValidationError{
			Code:    settlement.CodeInvalidAmount,
			Message: err.Error(),
		})
		return
	}

	result, err := s.core.ProcessSettlement(req.Context(), settlement.Request{
		AppID:                body.AppID,
		DestinationAccountID: body.DestinationAccountID,
		Amount:               amount,
		CorrelationID:        body.CorrelationID,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ──────────────────────────────────────────────────
// Error Mapping
// ──────────────────────────────────────────────────

// writeEngineError maps engine errors to HTTP statuses. Settlement
// validation errors carry their machine-readable code through to the body.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var verr *settlement.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": map[string]any{
				"code":    string(verr.Code),
				"message": verr.Message,
			},
		})
		return
	}

	switch {
	case treasury.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, treasury.ErrStatusConflict),
		errors.Is(err, treasury.ErrTerminalStatus),
		errors.Is(err, treasury.ErrNotRefundable),
		errors.Is(err, treasury.ErrMissingIntent),
		errors.Is(err, treasury.ErrAlreadyExists),
		errors.Is(err, treasury.ErrWalletExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, treasury.ErrInvalidInput),
		errors.Is(err, treasury.ErrEventInvalid),
		errors.Is(err, treasury.ErrEventAppMismatch),
		errors.Is(err, treasury.ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, treasury.ErrWebhookSignature):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, treasury.ErrSettlementFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, treasury.ErrProviderUnavailable),
		errors.Is(err, treasury.ErrProviderNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
