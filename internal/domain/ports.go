package domain

import "context"

// EventBuilder turns mutation intents into validated events.
// Single-event builders return a *ValidationError on rejection.
type EventBuilder interface {
	BuildRecipientCreated(ctx context.Context, cmd CreateRecipient) (Event, error)
	BuildRecipientUpdated(ctx context.Context, cmd UpdateRecipient) (Event, error)
	BuildRecipientDeleted(ctx context.Context, cmd DeleteRecipient) (Event, error)
	// BuildRecipientImported returns one result per recipient, in batch order.
	BuildRecipientImported(ctx context.Context, batch ImportBatch) []Result[Event]
}

// EventLog is the append-only recipient event stream.
type EventLog interface {
	Write(ctx context.Context, topic Topic, stream string, event Event) (Ack, error)
	// BatchWrite appends all events in order, or none of them.
	BatchWrite(ctx context.Context, topic Topic, stream string, events []Event) (Ack, error)
}

// RecipientStore is the primary record store. Every method is idempotent
// with respect to re-delivery of the same events.
type RecipientStore interface {
	CreateBatchFromEvents(ctx context.Context, events []Event) ([]Recipient, error)
	UpdateBatchFromEvents(ctx context.Context, events []Event) ([]Recipient, error)
	ImportFromEvents(ctx context.Context, events []Event) ([]Recipient, error)
	DeleteFromEvents(ctx context.Context, events []Event) ([]Recipient, error)
	Find(ctx context.Context, listID, recipientID string) (Recipient, error)
}

// SearchIndex answers recipient queries. Documents are addressed by global id.
type SearchIndex interface {
	Index(ctx context.Context, recipient Recipient) error
	Remove(ctx context.Context, globalID string) error
	Search(ctx context.Context, listID string, conditions Conditions, options SearchOptions) (SearchResult, error)
}

// ListAggregator maintains per-list metadata and import progress.
// Increments must be applied atomically per list.
type ListAggregator interface {
	UpdateMetadataAttrsAndImportStatusFromEvents(ctx context.Context, events []Event) ([]ListImportStatus, error)
	// MarkImportFailed records a terminal failure, creating the import when
	// no batch of it has been aggregated yet.
	MarkImportFailed(ctx context.Context, listID, importID string, total int, reason string) (ListImportStatus, error)
	GetImportStatus(ctx context.Context, listID, importID string) (ListImportStatus, error)
	All(ctx context.Context) ([]List, error)
}

// ImportStatusListener observes import progress after it has been persisted.
type ImportStatusListener interface {
	OnStatusUpdated(ctx context.Context, status ListImportStatus) error
}

// TransitionValidator checks import lifecycle transitions.
type TransitionValidator interface {
	Apply(ctx context.Context, current ImportState, event ImportEvent) (ImportState, error)
}

// RecipientParser maps an uploaded recipients file to raw inputs.
type RecipientParser interface {
	Parse(ctx context.Context, data string) ([]RecipientInput, error)
}
