// Package mongo implements the Treasury store on MongoDB via the Grove ORM.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	treasury "github.com/xraph/treasury"
	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/event"
	"github.com/xraph/treasury/id"
	treasurystore "github.com/xraph/treasury/store"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/wallet"
)

// Collection name constants.
const (
	colTransactions = "treasury_transactions"
	colEntries      = "treasury_entries"
	colWallets      = "treasury_wallets"
	colEvents       = "treasury_events"
)

// compile-time interface check
var _ treasurystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all treasury collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("treasury/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, txn *transaction.Transaction) error {
	m := toTransactionModel(txn)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return treasury.ErrAlreadyExists
		}
		return fmt.Errorf("treasury/mongo: create transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": txnID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, treasury.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("treasury/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) GetTransactionByIntent(ctx context.Context, providerIntentID string) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"provider_intent_id": providerIntentID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, treasury.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("treasury/mongo: get transaction by intent: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.AppID != "" {
		filter["app_id"] = opts.AppID
	}
	if opts.UserID != "" {
		filter["user_id"] = opts.UserID
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("treasury/mongo: list transactions: %w", err)
	}

	result := make([]*transaction.Transaction, len(models))
	for i := range models {
		txn, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = txn
	}
	return result, nil
}

// UpdateStatus performs a compare-and-set on the status field: the update
// matches only when the current status is one of from, so a concurrent
// writer that already moved the transaction causes ErrStatusConflict
// instead of a double transition.
func (s *Store) UpdateStatus(ctx context.Context, txnID id.TransactionID, from []transaction.Status, to transaction.Status, fields transaction.StatusFields) error {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	set := bson.M{
		"status":     string(to),
		"updated_at": now(),
	}
	if fields.ProviderIntentID != "" {
		set["provider_intent_id"] = fields.ProviderIntentID
	}
	if fields.RefundAttempts != nil {
		set["refund_attempts"] = *fields.RefundAttempts
	}
	if fields.LastError != nil {
		set["last_error"] = *fields.LastError
	}

	res, err := s.mdb.NewUpdate((*transactionModel)(nil)).
		Filter(bson.M{
			"_id":    txnID.String(),
			"status": bson.M{"$in": fromStrs},
		}).
		SetUpdate(bson.M{
			"$set":   set,
			"$unset": bson.M{"claimed_by": "", "claim_expires_at": ""},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("treasury/mongo: update status: %w", err)
	}
	if res.MatchedCount() == 0 {
		// Distinguish a lost race from a missing document.
		if _, getErr := s.GetTransaction(ctx, txnID); getErr != nil {
			return getErr
		}
		return treasury.ErrStatusConflict
	}
	return nil
}

// ClaimRefundPending leases refund_pending transactions to claimant. Each
// candidate is claimed with a conditional update, so two workers scanning
// the same backlog never hold the same transaction.
func (s *Store) ClaimRefundPending(ctx context.Context, claimant string, limit int, deadline time.Time) ([]*transaction.Transaction, error) {
	var models []transactionModel

	freeFilter := bson.A{
		bson.M{"claimed_by": bson.M{"$exists": false}},
		bson.M{"claimed_by": ""},
		bson.M{"claim_expires_at": bson.M{"$lte": now()}},
	}
	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status": string(transaction.StatusRefundPending),
			"$or":    freeFilter,
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("treasury/mongo: scan refund backlog: %w", err)
	}

	claimed := make([]*transaction.Transaction, 0, len(models))
	for i := range models {
		res, err := s.mdb.NewUpdate((*transactionModel)(nil)).
			Filter(bson.M{
				"_id":    models[i].ID,
				"status": string(transaction.StatusRefundPending),
				"$or":    freeFilter,
			}).
			Set("claimed_by", claimant).
			Set("claim_expires_at", deadline).
			Set("updated_at", now()).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("treasury/mongo: claim refund: %w", err)
		}
		if res.MatchedCount() == 0 {
			// Another worker won this one.
			continue
		}
		txn, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		txn.ClaimedBy = claimant
		d := deadline
		txn.ClaimExpiresAt = &d
		claimed = append(claimed, txn)
	}
	return claimed, nil
}

func (s *Store) CountByStatus(ctx context.Context, status transaction.Status) (int64, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"status": string(status)}},
		bson.M{"$count": "n"},
	}
	cursor, err := s.mdb.Collection(colTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("treasury/mongo: count by status: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		N int64 `bson:"n"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("treasury/mongo: count decode: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].N, nil
}

// ==================== Entry Store ====================

// RecordBatch inserts all batch entries, then applies the wallet deltas.
// The write is not a multi-document transaction: a crash between the two
// phases leaves the balance cache behind the entries, which wallet
// reconciliation detects and reports as drift.
func (s *Store) RecordBatch(ctx context.Context, batch *entry.Batch) error {
	entries := batch.Entries()
	for i := range entries {
		m := toEntryModel(&entries[i])
		_, err := s.mdb.NewInsert(m).Exec(ctx)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return fmt.Errorf("treasury/mongo: record entry: %w", err)
		}
	}

	for walletID, delta := range batch.WalletDeltas() {
		res, err := s.mdb.NewUpdate((*walletModel)(nil)).
			Filter(bson.M{"_id": walletID.String()}).
			SetUpdate(bson.M{
				"$inc": bson.M{"balance_cents": delta, "entry_count": countForWallet(batch, walletID)},
				"$set": bson.M{"updated_at": now()},
			}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("treasury/mongo: apply wallet delta: %w", err)
		}
		if res.MatchedCount() == 0 {
			return treasury.ErrWalletNotFound
		}
	}
	return nil
}

func countForWallet(batch *entry.Batch, walletID id.WalletID) int64 {
	var n int64
	for _, e := range batch.Entries() {
		if e.WalletID == walletID {
			n++
		}
	}
	return n
}

func (s *Store) ListEntriesByWallet(ctx context.Context, walletID id.WalletID, opts entry.ListOpts) ([]*entry.Entry, error) {
	var models []entryModel

	filter := bson.M{"wallet_id": walletID.String()}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("treasury/mongo: list entries by wallet: %w", err)
	}

	result := make([]*entry.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) ListEntriesByTransaction(ctx context.Context, txnID id.TransactionID) ([]*entry.Entry, error) {
	var models []entryModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"transaction_id": txnID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("treasury/mongo: list entries by transaction: %w", err)
	}

	result := make([]*entry.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) SumByWallet(ctx context.Context, walletID id.WalletID) (int64, int64, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"wallet_id": walletID.String()}},
		bson.M{"$group": bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$signed_cents"},
			"n":     bson.M{"$sum": 1},
		}},
	}
	cursor, err := s.mdb.Collection(colEntries).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("treasury/mongo: sum by wallet: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
		N     int64 `bson:"n"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, 0, fmt.Errorf("treasury/mongo: sum decode: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, nil
	}
	return results[0].Total, results[0].N, nil
}

// ==================== Wallet Store ====================

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	m := toWalletModel(w)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return treasury.ErrWalletExists
		}
		return fmt.Errorf("treasury/mongo: create wallet: %w", err)
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	var m walletModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": walletID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, treasury.ErrWalletNotFound
		}
		return nil, fmt.Errorf("treasury/mongo: get wallet: %w", err)
	}
	return fromWalletModel(&m)
}

func (s *Store) GetWalletByOwner(ctx context.Context, userID, appID string) (*wallet.Wallet, error) {
	var m walletModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID, "app_id": appID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, treasury.ErrWalletNotFound
		}
		return nil, fmt.Errorf("treasury/mongo: get wallet by owner: %w", err)
	}
	return fromWalletModel(&m)
}

// ==================== Event Store ====================

func (s *Store) InsertEvents(ctx context.Context, docs []*event.Document) (int, error) {
	inserted := 0
	for _, doc := range docs {
		m := toEventModel(doc)
		_, err := s.mdb.NewInsert(m).Exec(ctx)
		if err != nil {
			// Skip duplicates for idempotency
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return inserted, fmt.Errorf("treasury/mongo: insert event: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*event.Document, error) {
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"event_id": eventID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, treasury.ErrNotFound
		}
		return nil, fmt.Errorf("treasury/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Document, error) {
	var models []eventModel

	filter := bson.M{}
	if opts.EventType != "" {
		filter["event_type"] = opts.EventType
	}
	if opts.TransactionID != "" {
		filter["correlation.transaction_id"] = opts.TransactionID
	}
	if opts.CampaignID != "" {
		filter["correlation.campaign_id"] = opts.CampaignID
	}
	if opts.UserID != "" {
		filter["correlation.user_id"] = opts.UserID
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "ingested_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("treasury/mongo: list events: %w", err)
	}

	result := make([]*event.Document, len(models))
	for i := range models {
		doc, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = doc
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all treasury collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{
				Keys:    bson.D{{Key: "provider_intent_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "app_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colEntries: {
			{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "transaction_id", Value: 1}}},
		},
		colWallets: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "app_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colEvents: {
			{
				Keys:    bson.D{{Key: "event_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "event_type", Value: 1}, {Key: "ingested_at", Value: -1}}},
			{Keys: bson.D{{Key: "correlation.transaction_id", Value: 1}}},
		},
	}
}
