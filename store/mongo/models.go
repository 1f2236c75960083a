package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/event"
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/types"
	"github.com/xraph/treasury/wallet"
)

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:treasury_transactions"`

	ID               string              `grove:"id,pk"              bson:"_id"`
	Type             string              `grove:"type"               bson:"type"`
	Status           string              `grove:"status"             bson:"status"`
	AmountCents      int64               `grove:"amount_cents"       bson:"amount_cents"`
	AmountCurrency   string              `grove:"amount_currency"    bson:"amount_currency"`
	UserID           string              `grove:"user_id"            bson:"user_id,omitempty"`
	AppID            string              `grove:"app_id"             bson:"app_id,omitempty"`
	WalletID         string              `grove:"wallet_id"          bson:"wallet_id,omitempty"`
	ProviderIntentID string              `grove:"provider_intent_id" bson:"provider_intent_id,omitempty"`
	Metadata         txnMetadataModel    `grove:"metadata"           bson:"metadata"`
	RefundAttempts   int                 `grove:"refund_attempts"    bson:"refund_attempts"`
	LastError        string              `grove:"last_error"         bson:"last_error,omitempty"`
	ClaimedBy        string              `grove:"claimed_by"         bson:"claimed_by,omitempty"`
	ClaimExpiresAt   *time.Time          `grove:"claim_expires_at"   bson:"claim_expires_at,omitempty"`
	CreatedAt        time.Time           `grove:"created_at"         bson:"created_at"`
	UpdatedAt        time.Time           `grove:"updated_at"         bson:"updated_at"`
}

type txnMetadataModel struct {
	PayerID            string              `bson:"payer_id,omitempty"`
	BeneficiaryID      string              `bson:"beneficiary_id,omitempty"`
	InvestorShares     []revenueShareModel `bson:"investor_shares,omitempty"`
	SubscriptionID     string              `bson:"subscription_id,omitempty"`
	SubscriptionPeriod string              `bson:"subscription_period,omitempty"`
	PlatformFeeBps     int64               `bson:"platform_fee_bps,omitempty"`
	PlatformFeeAmount  int64               `bson:"platform_fee_amount,omitempty"`
}

type revenueShareModel struct {
	InvestorID string `bson:"investor_id"`
	ShareBps   int64  `bson:"share_bps"`
}

func toTransactionModel(txn *transaction.Transaction) *transactionModel {
	shares := make([]revenueShareModel, len(txn.Metadata.InvestorShares))
	for i, sh := range txn.Metadata.InvestorShares {
		shares[i] = revenueShareModel{InvestorID: sh.InvestorID, ShareBps: sh.ShareBps}
	}
	return &transactionModel{
		ID:               txn.ID.String(),
		Type:             string(txn.Type),
		Status:           string(txn.Status),
		AmountCents:      txn.Amount.Amount,
		AmountCurrency:   txn.Amount.Currency,
		UserID:           txn.UserID,
		AppID:            txn.AppID,
		WalletID:         txn.WalletID.String(),
		ProviderIntentID: txn.ProviderIntentID,
		Metadata: txnMetadataModel{
			PayerID:            txn.Metadata.PayerID,
			BeneficiaryID:      txn.Metadata.BeneficiaryID,
			InvestorShares:     shares,
			SubscriptionID:     txn.Metadata.SubscriptionID,
			SubscriptionPeriod: txn.Metadata.SubscriptionPeriod,
			PlatformFeeBps:     txn.Metadata.PlatformFeeBps,
			PlatformFeeAmount:  txn.Metadata.PlatformFeeAmount,
		},
		RefundAttempts: txn.RefundAttempts,
		LastError:      txn.LastError,
		ClaimedBy:      txn.ClaimedBy,
		ClaimExpiresAt: txn.ClaimExpiresAt,
		CreatedAt:      txn.CreatedAt,
		UpdatedAt:      txn.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("treasury/mongo: parse transaction id: %w", err)
	}
	var walletID id.WalletID
	if m.WalletID != "" {
		walletID, err = id.ParseWalletID(m.WalletID)
		if err != nil {
			return nil, fmt.Errorf("treasury/mongo: parse wallet id: %w", err)
		}
	}
	shares := make([]transaction.RevenueShare, len(m.Metadata.InvestorShares))
	for i, sh := range m.Metadata.InvestorShares {
		shares[i] = transaction.RevenueShare{InvestorID: sh.InvestorID, ShareBps: sh.ShareBps}
	}
	return &transaction.Transaction{
		Entity:           types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:               txnID,
		Type:             transaction.Type(m.Type),
		Status:           transaction.Status(m.Status),
		Amount:           types.Money{Amount: m.AmountCents, Currency: m.AmountCurrency},
		UserID:           m.UserID,
		AppID:            m.AppID,
		WalletID:         walletID,
		ProviderIntentID: m.ProviderIntentID,
		Metadata: transaction.Metadata{
			PayerID:            m.Metadata.PayerID,
			BeneficiaryID:      m.Metadata.BeneficiaryID,
			InvestorShares:     shares,
			SubscriptionID:     m.Metadata.SubscriptionID,
			SubscriptionPeriod: m.Metadata.SubscriptionPeriod,
			PlatformFeeBps:     m.Metadata.PlatformFeeBps,
			PlatformFeeAmount:  m.Metadata.PlatformFeeAmount,
		},
		RefundAttempts: m.RefundAttempts,
		LastError:      m.LastError,
		ClaimedBy:      m.ClaimedBy,
		ClaimExpiresAt: m.ClaimExpiresAt,
	}, nil
}

// ==================== Entry models ====================

type entryModel struct {
	grove.BaseModel `grove:"table:treasury_entries"`

	ID               string    `grove:"id,pk"              bson:"_id"`
	UserID           string    `grove:"user_id"            bson:"user_id,omitempty"`
	AppID            string    `grove:"app_id"             bson:"app_id,omitempty"`
	WalletID         string    `grove:"wallet_id"          bson:"wallet_id"`
	TransactionID    string    `grove:"transaction_id"     bson:"transaction_id"`
	ProviderIntentID string    `grove:"provider_intent_id" bson:"provider_intent_id,omitempty"`
	Type             string    `grove:"type"               bson:"type"`
	Source           string    `grove:"source"             bson:"source"`
	Reason           string    `grove:"reason"             bson:"reason,omitempty"`
	AmountCents      int64     `grove:"amount_cents"       bson:"amount_cents"`
	AmountCurrency   string    `grove:"amount_currency"    bson:"amount_currency"`
	SignedCents      int64     `grove:"signed_cents"       bson:"signed_cents"`
	CreatedAt        time.Time `grove:"created_at"         bson:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"         bson:"updated_at"`
}

func toEntryModel(e *entry.Entry) *entryModel {
	return &entryModel{
		ID:               e.ID.String(),
		UserID:           e.UserID,
		AppID:            e.AppID,
		WalletID:         e.WalletID.String(),
		TransactionID:    e.TransactionID.String(),
		ProviderIntentID: e.ProviderIntentID,
		Type:             string(e.Type),
		Source:           string(e.Source),
		Reason:           e.Reason,
		AmountCents:      e.Amount.Amount,
		AmountCurrency:   e.Amount.Currency,
		SignedCents:      e.Signed(),
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("treasury/mongo: parse entry id: %w", err)
	}
	walletID, err := id.ParseWalletID(m.WalletID)
	if err != nil {
		return nil, fmt.Errorf("treasury/mongo: parse wallet id: %w", err)
	}
	txnID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("treasury/mongo: parse transaction id: %w", err)
	}
	return &entry.Entry{
		Entity:           types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:               entryID,
		UserID:           m.UserID,
		AppID:            m.AppID,
		WalletID:         walletID,
		TransactionID:    txnID,
		ProviderIntentID: m.ProviderIntentID,
		Type:             entry.EntryType(m.Type),
		Source:           entry.Source(m.Source),
		Reason:           m.Reason,
		Amount:           types.Money{Amount: m.AmountCents, Currency: m.AmountCurrency},
	}, nil
}

// ==================== Wallet models ====================

type walletModel struct {
	grove.BaseModel `grove:"table:treasury_wallets"`

	ID              string    `grove:"id,pk"            bson:"_id"`
	UserID          string    `grove:"user_id"          bson:"user_id"`
	AppID           string    `grove:"app_id"           bson:"app_id"`
	BalanceCents    int64     `grove:"balance_cents"    bson:"balance_cents"`
	BalanceCurrency string    `grove:"balance_currency" bson:"balance_currency"`
	EntryCount      int64     `grove:"entry_count"      bson:"entry_count"`
	CreatedAt       time.Time `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time `grove:"updated_at"       bson:"updated_at"`
}

func toWalletModel(w *wallet.Wallet) *walletModel {
	return &walletModel{
		ID:              w.ID.String(),
		UserID:          w.UserID,
		AppID:           w.AppID,
		BalanceCents:    w.Balance.Amount,
		BalanceCurrency: w.Balance.Currency,
		EntryCount:      w.EntryCount,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}
}

func fromWalletModel(m *walletModel) (*wallet.Wallet, error) {
	walletID, err := id.ParseWalletID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("treasury/mongo: parse wallet id: %w", err)
	}
	return &wallet.Wallet{
		Entity:     types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         walletID,
		UserID:     m.UserID,
		AppID:      m.AppID,
		Balance:    types.Money{Amount: m.BalanceCents, Currency: m.BalanceCurrency},
		EntryCount: m.EntryCount,
	}, nil
}

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:treasury_events"`

	ID            string                `grove:"id,pk"          bson:"_id"`
	EventID       string                `grove:"event_id"       bson:"event_id"`
	EventType     string                `grove:"event_type"     bson:"event_type"`
	SchemaVersion string                `grove:"schema_version" bson:"schema_version,omitempty"`
	OccurredAt    time.Time             `grove:"occurred_at"    bson:"occurred_at"`
	Source        eventSourceModel      `grove:"source"         bson:"source"`
	Actor         eventActorModel       `grove:"actor"          bson:"actor,omitempty"`
	Correlation   eventCorrelationModel `grove:"correlation"    bson:"correlation,omitempty"`
	Raw           []byte                `grove:"raw"            bson:"raw"`
	IngestedAt    time.Time             `grove:"ingested_at"    bson:"ingested_at"`
}

type eventSourceModel struct {
	Producer    string `bson:"producer,omitempty"`
	Service     string `bson:"service,omitempty"`
	AppID       string `bson:"app_id,omitempty"`
	Environment string `bson:"environment,omitempty"`
}

type eventActorModel struct {
	Kind string `bson:"kind,omitempty"`
	ID   string `bson:"id,omitempty"`
}

type eventCorrelationModel struct {
	CampaignID    string `bson:"campaign_id,omitempty"`
	RoundID       string `bson:"round_id,omitempty"`
	CommitmentID  string `bson:"commitment_id,omitempty"`
	AllocationID  string `bson:"allocation_id,omitempty"`
	TransactionID string `bson:"transaction_id,omitempty"`
	UserID        string `bson:"user_id,omitempty"`
}

func toEventModel(doc *event.Document) *eventModel {
	return &eventModel{
		ID:            doc.ID.String(),
		EventID:       doc.EventID,
		EventType:     doc.EventType,
		SchemaVersion: doc.SchemaVersion,
		OccurredAt:    doc.OccurredAt,
		Source: eventSourceModel{
			Producer:    doc.Source.Producer,
			Service:     doc.Source.Service,
			AppID:       doc.Source.AppID,
			Environment: doc.Source.Environment,
		},
		Actor: eventActorModel{Kind: string(doc.Actor.Kind), ID: doc.Actor.ID},
		Correlation: eventCorrelationModel{
			CampaignID:    doc.Correlation.CampaignID,
			RoundID:       doc.Correlation.RoundID,
			CommitmentID:  doc.Correlation.CommitmentID,
			AllocationID:  doc.Correlation.AllocationID,
			TransactionID: doc.Correlation.TransactionID,
			UserID:        doc.Correlation.UserID,
		},
		Raw:        doc.Raw,
		IngestedAt: doc.IngestedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Document, error) {
	docID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("treasury/mongo: parse event id: %w", err)
	}
	return &event.Document{
		ID:            docID,
		EventID:       m.EventID,
		EventType:     m.EventType,
		SchemaVersion: m.SchemaVersion,
		OccurredAt:    m.OccurredAt,
		Source: event.SourceBlock{
			Producer:    m.Source.Producer,
			Service:     m.Source.Service,
			AppID:       m.Source.AppID,
			Environment: m.Source.Environment,
		},
		Actor: event.ActorBlock{Kind: event.ActorKind(m.Actor.Kind), ID: m.Actor.ID},
		Correlation: event.CorrelationBlock{
			CampaignID:    m.Correlation.CampaignID,
			RoundID:       m.Correlation.RoundID,
			CommitmentID:  m.Correlation.CommitmentID,
			AllocationID:  m.Correlation.AllocationID,
			TransactionID: m.Correlation.TransactionID,
			UserID:        m.Correlation.UserID,
		},
		Raw:        m.Raw,
		IngestedAt: m.IngestedAt,
	}, nil
}
