package domain

import "time"

// Topic names the kind of a recipient domain event.
type Topic string

const (
	TopicRecipientCreated  Topic = "list.recipient.created"
	TopicRecipientUpdated  Topic = "list.recipient.updated"
	TopicRecipientDeleted  Topic = "list.recipient.deleted"
	TopicRecipientImported Topic = "list.recipient.imported"
)

// Topics lists every topic a recipient stream may carry.
var Topics = []Topic{
	TopicRecipientCreated,
	TopicRecipientUpdated,
	TopicRecipientDeleted,
	TopicRecipientImported,
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// RecipientPayload is the recipient state carried by an event. For updates
// only the changed fields are set.
type RecipientPayload struct {
	Email    string            `json:"email,omitempty"`
	Status   RecipientStatus   `json:"status,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Event is an immutable record appended to the recipient stream.
// RecipientIndex and Total are only meaningful for imported events.
type Event struct {
	ID                 string             `json:"id"`
	Topic              Topic              `json:"topic"`
	ListID             string             `json:"listId"`
	UserID             string             `json:"userId"`
	RecipientID        string             `json:"recipientId"`
	Recipient          RecipientPayload   `json:"recipient"`
	SubscriptionOrigin SubscriptionOrigin `json:"subscriptionOrigin,omitempty"`
	ImportID           string             `json:"importId,omitempty"`
	RecipientIndex     int                `json:"recipientIndex"`
	Total              int                `json:"total"`
	CreatedAt          time.Time          `json:"createdAt"`

	// Position is where the event sits in the log it was read from. It is
	// set by the reader, is never serialized, and positions from one log
	// compare as strings in append order. Empty means unknown.
	Position string `json:"-"`
}

// GlobalID returns the search-index address of the recipient the event refers to.
func (e Event) GlobalID() string {
	return GlobalID(e.ListID, e.RecipientID)
}

// Ack acknowledges a durable append. IDs are the log-assigned entry ids in
// append order.
type Ack struct {
	Stream string
	IDs    []string
}

// CreateRecipient is the intent to add a recipient to a list.
type CreateRecipient struct {
	ListID             string
	UserID             string
	Recipient          RecipientInput
	SubscriptionOrigin SubscriptionOrigin
}

// UpdateRecipient is the intent to change an existing recipient.
type UpdateRecipient struct {
	ListID      string
	UserID      string
	RecipientID string
	Changes     RecipientChanges
}

// DeleteRecipient is the intent to remove a recipient from a list.
type DeleteRecipient struct {
	ListID      string
	UserID      string
	RecipientID string
}

// ImportBatch is one contiguous slice of an import job. Recipient i of the
// batch is recipient BatchFirstIndex+i of the job.
type ImportBatch struct {
	ListID          string
	UserID          string
	ImportID        string
	BatchFirstIndex int
	Total           int
	Recipients      []RecipientInput
}
