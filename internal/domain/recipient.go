package domain

import (
	"encoding/base64"
	"strings"
	"time"
)

// RecipientStatus represents the subscription state of a recipient within a list.
type RecipientStatus string

const (
	StatusSubscribed           RecipientStatus = "subscribed"
	StatusAwaitingConfirmation RecipientStatus = "awaitingConfirmation"
	StatusUnsubscribed         RecipientStatus = "unsubscribed"
	StatusBounced              RecipientStatus = "bounced"
	StatusComplained           RecipientStatus = "complained"
)

// SubscriptionOrigin records how a recipient got into a list.
type SubscriptionOrigin string

const (
	OriginListImport SubscriptionOrigin = "listImport"
	OriginSignupForm SubscriptionOrigin = "signupForm"
	OriginAPI        SubscriptionOrigin = "api"
)

// RecipientInput is the raw, caller-supplied shape of a recipient before
// validation and normalization.
type RecipientInput struct {
	Email    string            `json:"email" validate:"required,email,max=254"`
	Status   RecipientStatus   `json:"status,omitempty" validate:"omitempty,oneof=subscribed awaitingConfirmation unsubscribed bounced complained"`
	Metadata map[string]string `json:"metadata,omitempty" validate:"omitempty,max=50,dive,keys,required,max=64,endkeys,max=1024"`
}

// RecipientChanges is the partial payload of an update. Empty fields are left untouched.
type RecipientChanges struct {
	Status   RecipientStatus   `json:"status,omitempty" validate:"omitempty,oneof=subscribed awaitingConfirmation unsubscribed bounced complained"`
	Metadata map[string]string `json:"metadata,omitempty" validate:"omitempty,max=50,dive,keys,required,max=64,endkeys,max=1024"`
}

// Recipient is the projected, current-state record of a list member.
type Recipient struct {
	ID                 string
	ListID             string
	UserID             string
	Email              string
	Status             RecipientStatus
	SubscriptionOrigin SubscriptionOrigin
	Metadata           map[string]string
	ImportID           string
	RecipientIndex     *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GlobalID returns the search-index address of the recipient.
func (r Recipient) GlobalID() string {
	return GlobalID(r.ListID, r.ID)
}

// NormalizeEmail trims and lowercases an address so the same mailbox always
// maps to the same recipient id.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RecipientID derives the recipient identifier from its email address.
func RecipientID(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(NormalizeEmail(email)))
}

// GlobalID identifies a recipient across lists.
func GlobalID(listID, recipientID string) string {
	return listID + ":" + recipientID
}
