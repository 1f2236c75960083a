// Package event defines the cross-service economic event envelope and its
// stored document form.
//
// Economic events are an append-only, schema-versioned audit trail, distinct
// from the ledger: they exist for replay and cross-entity joins, never for
// balance computation. The raw envelope JSON is preserved verbatim so that
// schema evolution cannot lose producer-side fields.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/treasury/id"
)

// ActorKind identifies what kind of principal produced an event.
type ActorKind string

const (
	ActorSystem ActorKind = "system"
	ActorUser   ActorKind = "user"
	ActorApp    ActorKind = "app"
)

// SourceBlock identifies the producing service of an event.
type SourceBlock struct {
	Producer    string `json:"producer,omitempty"`
	Service     string `json:"service,omitempty"`
	AppID       string `json:"app_id,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// ActorBlock identifies the principal the event is attributed to.
type ActorBlock struct {
	Kind ActorKind `json:"kind,omitempty"`
	ID   string    `json:"id,omitempty"`
}

// CorrelationBlock carries optional cross-entity references used for joins.
type CorrelationBlock struct {
	CampaignID    string `json:"campaign_id,omitempty"`
	RoundID       string `json:"round_id,omitempty"`
	CommitmentID  string `json:"commitment_id,omitempty"`
	AllocationID  string `json:"allocation_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

// Envelope is the wire form of an economic event as produced by services.
type Envelope struct {
	EventID       string           `json:"event_id"`
	EventType     string           `json:"event_type"`
	SchemaVersion string           `json:"schema_version,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Source        SourceBlock      `json:"source"`
	Actor         ActorBlock       `json:"actor,omitempty"`
	Correlation   CorrelationBlock `json:"correlation,omitempty"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
}

// Valid reports whether the envelope carries the minimum required fields.
// Invalid envelopes are skipped during batch ingestion, not errored.
func (e Envelope) Valid() bool {
	return e.EventID != "" && e.EventType != ""
}

// ErrAppMismatch is returned when an envelope in a batch declares a source
// app id that differs from the batch's app id. The whole batch is rejected.
var ErrAppMismatch = errors.New("event: envelope app id differs from request app id")

// Document is the stored form of an accepted envelope: the raw envelope
// preserved verbatim plus projected correlation columns for indexed lookup.
// Documents are immutable; uniqueness is enforced on EventID and duplicate
// inserts are suppressed.
type Document struct {
	ID            id.EventID       `json:"id"`
	EventID       string           `json:"event_id"`
	EventType     string           `json:"event_type"`
	SchemaVersion string           `json:"schema_version,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Source        SourceBlock      `json:"source"`
	Actor         ActorBlock       `json:"actor,omitempty"`
	Correlation   CorrelationBlock `json:"correlation,omitempty"`
	Raw           []byte           `json:"raw"`
	IngestedAt    time.Time        `json:"ingested_at"`
}

// NewDocument projects an envelope into its stored form. The envelope is
// serialized into Raw as received (after environment defaulting) so replay
// sees exactly what ingestion accepted.
func NewDocument(env Envelope) (*Document, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	return &Document{
		ID:            id.NewEventID(),
		EventID:       env.EventID,
		EventType:     env.EventType,
		SchemaVersion: env.SchemaVersion,
		OccurredAt:    env.OccurredAt,
		Source:        env.Source,
		Actor:         env.Actor,
		Correlation:   env.Correlation,
		Raw:           raw,
		IngestedAt:    time.Now().UTC(),
	}, nil
}

// ListOpts filters event listings by correlation references.
type ListOpts struct {
	EventType     string
	TransactionID string
	CampaignID    string
	UserID        string
	Limit         int
	Offset        int
}
