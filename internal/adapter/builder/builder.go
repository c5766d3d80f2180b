// Package builder turns recipient mutation intents into validated domain events.
package builder

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Compile-time check: Builder implements domain.EventBuilder.
var _ domain.EventBuilder = (*Builder)(nil)

// Builder validates inputs with go-playground/validator and stamps events
// with a time-ordered id.
type Builder struct {
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithIDGenerator overrides the event id source.
func WithIDGenerator(newID func() string) Option {
	return func(b *Builder) { b.newID = newID }
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	b := &Builder{
		validate: v,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    newEventID,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (b *Builder) BuildRecipientCreated(ctx context.Context, cmd domain.CreateRecipient) (domain.Event, error) {
	if err := requireOwner(cmd.ListID, cmd.UserID); err != nil {
		return domain.Event{}, err
	}

	origin := cmd.SubscriptionOrigin
	if origin == "" {
		origin = domain.OriginAPI
	}
	if !validOrigin(origin) {
		return domain.Event{}, &domain.ValidationError{Field: "subscriptionOrigin", Reason: fmt.Sprintf("unknown origin %q", origin)}
	}

	in, err := b.recipient(ctx, cmd.Recipient)
	if err != nil {
		return domain.Event{}, err
	}
	if in.Status == "" {
		in.Status = defaultStatus(origin)
	}

	return domain.Event{
		ID:                 b.newID(),
		Topic:              domain.TopicRecipientCreated,
		ListID:             cmd.ListID,
		UserID:             cmd.UserID,
		RecipientID:        domain.RecipientID(in.Email),
		Recipient:          payload(in),
		SubscriptionOrigin: origin,
		CreatedAt:          b.now(),
	}, nil
}

func (b *Builder) BuildRecipientUpdated(ctx context.Context, cmd domain.UpdateRecipient) (domain.Event, error) {
	if err := requireOwner(cmd.ListID, cmd.UserID); err != nil {
		return domain.Event{}, err
	}
	if strings.TrimSpace(cmd.RecipientID) == "" {
		return domain.Event{}, &domain.ValidationError{Field: "recipientId", Reason: "is required"}
	}
	if cmd.Changes.Status == "" && len(cmd.Changes.Metadata) == 0 {
		return domain.Event{}, &domain.ValidationError{Reason: "nothing to update"}
	}
	if err := b.validate.StructCtx(ctx, cmd.Changes); err != nil {
		return domain.Event{}, toValidationError(err)
	}

	return domain.Event{
		ID:          b.newID(),
		Topic:       domain.TopicRecipientUpdated,
		ListID:      cmd.ListID,
		UserID:      cmd.UserID,
		RecipientID: cmd.RecipientID,
		Recipient: domain.RecipientPayload{
			Status:   cmd.Changes.Status,
			Metadata: cmd.Changes.Metadata,
		},
		CreatedAt: b.now(),
	}, nil
}

func (b *Builder) BuildRecipientDeleted(_ context.Context, cmd domain.DeleteRecipient) (domain.Event, error) {
	if err := requireOwner(cmd.ListID, cmd.UserID); err != nil {
		return domain.Event{}, err
	}
	if strings.TrimSpace(cmd.RecipientID) == "" {
		return domain.Event{}, &domain.ValidationError{Field: "recipientId", Reason: "is required"}
	}

	return domain.Event{
		ID:          b.newID(),
		Topic:       domain.TopicRecipientDeleted,
		ListID:      cmd.ListID,
		UserID:      cmd.UserID,
		RecipientID: cmd.RecipientID,
		CreatedAt:   b.now(),
	}, nil
}

// BuildRecipientImported returns one result per recipient. A batch-level
// problem (missing import id, indices past the job total) fails every result.
func (b *Builder) BuildRecipientImported(ctx context.Context, batch domain.ImportBatch) []domain.Result[domain.Event] {
	results := make([]domain.Result[domain.Event], len(batch.Recipients))

	if err := checkBatch(batch); err != nil {
		for i := range results {
			results[i] = domain.Fail[domain.Event](err)
		}
		return results
	}

	now := b.now()
	for i, raw := range batch.Recipients {
		in, err := b.recipient(ctx, raw)
		if err != nil {
			results[i] = domain.Fail[domain.Event](err)
			continue
		}
		if in.Status == "" {
			in.Status = domain.StatusSubscribed
		}
		results[i] = domain.Ok(domain.Event{
			ID:                 b.newID(),
			Topic:              domain.TopicRecipientImported,
			ListID:             batch.ListID,
			UserID:             batch.UserID,
			RecipientID:        domain.RecipientID(in.Email),
			Recipient:          payload(in),
			SubscriptionOrigin: domain.OriginListImport,
			ImportID:           batch.ImportID,
			RecipientIndex:     batch.BatchFirstIndex + i,
			Total:              batch.Total,
			CreatedAt:          now,
		})
	}
	return results
}

func (b *Builder) recipient(ctx context.Context, in domain.RecipientInput) (domain.RecipientInput, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	if err := b.validate.StructCtx(ctx, in); err != nil {
		return domain.RecipientInput{}, toValidationError(err)
	}
	return in, nil
}

func checkBatch(batch domain.ImportBatch) error {
	if err := requireOwner(batch.ListID, batch.UserID); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(batch.ImportID) == "":
		return &domain.ValidationError{Field: "importId", Reason: "is required"}
	case batch.Total <= 0:
		return &domain.ValidationError{Field: "total", Reason: "must be positive"}
	case batch.BatchFirstIndex < 0:
		return &domain.ValidationError{Field: "batchFirstIndex", Reason: "must not be negative"}
	case batch.BatchFirstIndex > batch.Total-len(batch.Recipients):
		return &domain.ValidationError{
			Field:  "batchFirstIndex",
			Reason: fmt.Sprintf("batch of %d starting at %d runs past total %d", len(batch.Recipients), batch.BatchFirstIndex, batch.Total),
		}
	}
	return nil
}

func requireOwner(listID, userID string) error {
	if strings.TrimSpace(listID) == "" {
		return &domain.ValidationError{Field: "listId", Reason: "is required"}
	}
	if strings.TrimSpace(userID) == "" {
		return &domain.ValidationError{Field: "userId", Reason: "is required"}
	}
	return nil
}

func validOrigin(o domain.SubscriptionOrigin) bool {
	switch o {
	case domain.OriginAPI, domain.OriginListImport, domain.OriginSignupForm:
		return true
	}
	return false
}

// Signup forms are double opt-in.
func defaultStatus(o domain.SubscriptionOrigin) domain.RecipientStatus {
	if o == domain.OriginSignupForm {
		return domain.StatusAwaitingConfirmation
	}
	return domain.StatusSubscribed
}

func payload(in domain.RecipientInput) domain.RecipientPayload {
	return domain.RecipientPayload{Email: in.Email, Status: in.Status, Metadata: in.Metadata}
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &domain.ValidationError{Reason: err.Error()}
	}

	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), structName(fe)+".")
	return &domain.ValidationError{Field: field, Reason: reason(fe)}
}

func structName(fe validator.FieldError) string {
	name, _, _ := strings.Cut(fe.Namespace(), ".")
	return name
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
