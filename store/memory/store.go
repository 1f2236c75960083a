// Package memory provides an in-memory Store implementation for testing
// and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/treasury"
	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/event"
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/store"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/wallet"
)

// Store is an in-memory implementation of store.Store, safe for concurrent
// use. State is lost on process exit.
type Store struct {
	mu sync.RWMutex

	transactions map[string]*transaction.Transaction // by transaction ID
	byIntent     map[string]string                   // provider intent ID -> transaction ID
	entries      []*entry.Entry
	wallets      map[string]*wallet.Wallet // by wallet ID
	walletOwners map[string]string         // ownerKey -> wallet ID
	events       map[string]*event.Document
	eventOrder   []string

	closed bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		transactions: make(map[string]*transaction.Transaction),
		byIntent:     make(map[string]string),
		wallets:      make(map[string]*wallet.Wallet),
		walletOwners: make(map[string]string),
		events:       make(map[string]*event.Document),
	}
}

func ownerKey(userID, appID string) string { return userID + "\x00" + appID }

// Transaction methods

func (s *Store) CreateTransaction(_ context.Context, txn *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return treasury.ErrStoreClosed
	}
	key := txn.ID.String()
	if _, exists := s.transactions[key]; exists {
		return treasury.ErrAlreadyExists
	}
	if txn.ProviderIntentID != "" {
		if _, exists := s.byIntent[txn.ProviderIntentID]; exists {
			return treasury.ErrAlreadyExists
		}
		s.byIntent[txn.ProviderIntentID] = key
	}
	cp := *txn
	s.transactions[key] = &cp
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.transactions[txnID.String()]
	if !ok {
		return nil, treasury.ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (s *Store) GetTransactionByIntent(_ context.Context, providerIntentID string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byIntent[providerIntentID]
	if !ok {
		return nil, treasury.ErrTransactionNotFound
	}
	cp := *s.transactions[key]
	return &cp, nil
}

func (s *Store) ListTransactions(_ context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*transaction.Transaction
	for _, txn := range s.transactions {
		if opts.Status != "" && txn.Status != opts.Status {
			continue
		}
		if opts.Type != "" && txn.Type != opts.Type {
			continue
		}
		if opts.AppID != "" && txn.AppID != opts.AppID {
			continue
		}
		if opts.UserID != "" && txn.UserID != opts.UserID {
			continue
		}
		cp := *txn
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateStatus(_ context.Context, txnID id.TransactionID, from []transaction.Status, to transaction.Status, fields transaction.StatusFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[txnID.String()]
	if !ok {
		return treasury.ErrTransactionNotFound
	}
	allowed := false
	for _, st := range from {
		if txn.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return treasury.ErrStatusConflict
	}

	txn.Status = to
	if fields.ProviderIntentID != "" {
		if txn.ProviderIntentID == "" {
			s.byIntent[fields.ProviderIntentID] = txnID.String()
		}
		txn.ProviderIntentID = fields.ProviderIntentID
	}
	if fields.RefundAttempts != nil {
		txn.RefundAttempts = *fields.RefundAttempts
	}
	if fields.LastError != nil {
		txn.LastError = *fields.LastError
	}
	txn.ClaimedBy = ""
	txn.ClaimExpiresAt = nil
	txn.Touch()
	return nil
}

func (s *Store) ClaimRefundPending(_ context.Context, claimant string, limit int, deadline time.Time) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, treasury.ErrStoreClosed
	}

	now := time.Now()
	var candidates []*transaction.Transaction
	for _, txn := range s.transactions {
		if txn.Status != transaction.StatusRefundPending {
			continue
		}
		if txn.ClaimedBy != "" && txn.ClaimExpiresAt != nil && txn.ClaimExpiresAt.After(now) {
			continue
		}
		candidates = append(candidates, txn)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*transaction.Transaction, 0, len(candidates))
	for _, txn := range candidates {
		d := deadline
		txn.ClaimedBy = claimant
		txn.ClaimExpiresAt = &d
		cp := *txn
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *Store) CountByStatus(_ context.Context, status transaction.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, txn := range s.transactions {
		if txn.Status == status {
			n++
		}
	}
	return n, nil
}

// Entry methods

func (s *Store) RecordBatch(_ context.Context, batch *entry.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return treasury.ErrStoreClosed
	}

	deltas := batch.WalletDeltas()
	for wid := range deltas {
		if _, ok := s.wallets[wid.String()]; !ok {
			return treasury.ErrWalletNotFound
		}
	}

	for _, e := range batch.Entries() {
		cp := e
		s.entries = append(s.entries, &cp)
		w := s.wallets[e.WalletID.String()]
		w.EntryCount++
	}
	for wid, delta := range deltas {
		w := s.wallets[wid.String()]
		w.Balance.Amount += delta
		w.Touch()
	}
	return nil
}

func (s *Store) ListEntriesByWallet(_ context.Context, walletID id.WalletID, opts entry.ListOpts) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*entry.Entry
	for _, e := range s.entries {
		if e.WalletID != walletID {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, opts.Offset, opts.Limit), nil
}

func (s *Store) ListEntriesByTransaction(_ context.Context, txnID id.TransactionID) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*entry.Entry
	for _, e := range s.entries {
		if e.TransactionID == txnID {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

func (s *Store) SumByWallet(_ context.Context, walletID id.WalletID) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum, count int64
	for _, e := range s.entries {
		if e.WalletID == walletID {
			sum += e.Signed()
			count++
		}
	}
	return sum, count, nil
}

// Wallet methods

func (s *Store) CreateWallet(_ context.Context, w *wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return treasury.ErrStoreClosed
	}
	key := ownerKey(w.UserID, w.AppID)
	if _, exists := s.walletOwners[key]; exists {
		return treasury.ErrWalletExists
	}
	cp := *w
	s.wallets[w.ID.String()] = &cp
	s.walletOwners[key] = w.ID.String()
	return nil
}

func (s *Store) GetWallet(_ context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[walletID.String()]
	if !ok {
		return nil, treasury.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) GetWalletByOwner(_ context.Context, userID, appID string) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.walletOwners[ownerKey(userID, appID)]
	if !ok {
		return nil, treasury.ErrWalletNotFound
	}
	cp := *s.wallets[key]
	return &cp, nil
}

// Event methods

func (s *Store) InsertEvents(_ context.Context, docs []*event.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, treasury.ErrStoreClosed
	}

	inserted := 0
	for _, doc := range docs {
		if _, exists := s.events[doc.EventID]; exists {
			continue
		}
		cp := *doc
		s.events[doc.EventID] = &cp
		s.eventOrder = append(s.eventOrder, doc.EventID)
		inserted++
	}
	return inserted, nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (*event.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.events[eventID]
	if !ok {
		return nil, treasury.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*event.Document
	for i := len(s.eventOrder) - 1; i >= 0; i-- {
		doc := s.events[s.eventOrder[i]]
		if opts.EventType != "" && doc.EventType != opts.EventType {
			continue
		}
		if opts.TransactionID != "" && doc.Correlation.TransactionID != opts.TransactionID {
			continue
		}
		if opts.CampaignID != "" && doc.Correlation.CampaignID != opts.CampaignID {
			continue
		}
		if opts.UserID != "" && doc.Correlation.UserID != opts.UserID {
			continue
		}
		cp := *doc
		matched = append(matched, &cp)
	}
	return paginate(matched, opts.Offset, opts.Limit), nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return treasury.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func paginate[T any](items []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
