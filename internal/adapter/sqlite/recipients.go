package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Compile-time check: RecipientRepository implements domain.RecipientStore.
var _ domain.RecipientStore = (*RecipientRepository)(nil)

// RecipientRepository is the primary recipient record store. Each batch is
// applied in one transaction and rows are keyed by (list_id, id).
//
// Rows remember the log position of the last event applied to them, so
// replays and events that arrive after a later one converge on the state
// the log order implies:
//   - an event older than the row's position is ignored;
//   - a delete leaves a tombstone, so an older create cannot bring the
//     recipient back;
//   - updates seen before their create are held in a row that is not
//     visible yet, and the create is merged underneath them.
//
// Events without a position are applied in arrival order.
type RecipientRepository struct {
	db *sql.DB
}

// NewRecipientRepository wraps a migrated database.
func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

const recipientColumns = `list_id, id, user_id, email, status, subscription_origin, metadata,
	import_id, recipient_index, created_at, updated_at`

const stateColumns = recipientColumns + `, position, materialized, deleted`

const saveState = `INSERT INTO recipients (` + stateColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (list_id, id) DO UPDATE SET
		user_id = excluded.user_id,
		email = excluded.email,
		status = excluded.status,
		subscription_origin = excluded.subscription_origin,
		metadata = excluded.metadata,
		import_id = excluded.import_id,
		recipient_index = excluded.recipient_index,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		position = excluded.position,
		materialized = excluded.materialized,
		deleted = excluded.deleted`

// state is a stored row together with its ordering bookkeeping.
type state struct {
	rec          domain.Recipient
	position     string
	materialized bool
	deleted      bool
}

func (s state) visible() bool { return s.materialized && !s.deleted }

// applyFunc derives the next state of a row from an event. found is false
// when no row exists yet.
type applyFunc func(cur state, found bool, e domain.Event) (next state, changed bool)

func (r *RecipientRepository) CreateBatchFromEvents(ctx context.Context, events []domain.Event) ([]domain.Recipient, error) {
	return r.apply(ctx, events, applyUpsert)
}

func (r *RecipientRepository) ImportFromEvents(ctx context.Context, events []domain.Event) ([]domain.Recipient, error) {
	return r.apply(ctx, events, applyUpsert)
}

// UpdateBatchFromEvents merges changes into recipients and returns the ones
// that are visible afterwards.
func (r *RecipientRepository) UpdateBatchFromEvents(ctx context.Context, events []domain.Event) ([]domain.Recipient, error) {
	return r.apply(ctx, events, applyUpdate)
}

// DeleteFromEvents removes recipients and returns the ones that were visible.
func (r *RecipientRepository) DeleteFromEvents(ctx context.Context, events []domain.Event) ([]domain.Recipient, error) {
	var out []domain.Recipient
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, e := range events {
			cur, found, err := loadState(ctx, tx, e.ListID, e.RecipientID)
			if err != nil {
				return err
			}
			next, changed := applyDelete(cur, found, e)
			if !changed {
				continue
			}
			if err := storeState(ctx, tx, next); err != nil {
				return err
			}
			if found && cur.visible() {
				out = append(out, cur.rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// apply runs fn for every event and returns the visible state of each
// recipient touched, in first-touched order.
func (r *RecipientRepository) apply(ctx context.Context, events []domain.Event, fn applyFunc) ([]domain.Recipient, error) {
	var out []domain.Recipient
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		latest := make(map[string]state, len(events))
		var order []string
		for _, e := range events {
			cur, found, err := loadState(ctx, tx, e.ListID, e.RecipientID)
			if err != nil {
				return err
			}
			next, changed := fn(cur, found, e)
			if changed {
				if err := storeState(ctx, tx, next); err != nil {
					return err
				}
			}

			key := e.GlobalID()
			if _, seen := latest[key]; !seen {
				order = append(order, key)
			}
			latest[key] = next
		}

		for _, key := range order {
			if s := latest[key]; s.visible() {
				out = append(out, s.rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyUpsert(cur state, found bool, e domain.Event) (state, bool) {
	next := state{rec: fromEvent(e), position: e.Position, materialized: true}
	switch {
	case !found:
		return next, true
	case newer(e, cur):
		if cur.visible() {
			next.rec.CreatedAt = cur.rec.CreatedAt
		}
		next.position = max(cur.position, e.Position)
		return next, true
	case cur.materialized || cur.deleted:
		return cur, false
	default:
		// Updates logged after this event were applied first.
		next.position = cur.position
		merge(&next.rec, cur.rec)
		return next, true
	}
}

func applyUpdate(cur state, found bool, e domain.Event) (state, bool) {
	changes := domain.Recipient{
		Status:    e.Recipient.Status,
		Metadata:  maps.Clone(e.Recipient.Metadata),
		UpdatedAt: e.CreatedAt,
	}
	switch {
	case !found:
		changes.ID, changes.ListID, changes.UserID = e.RecipientID, e.ListID, e.UserID
		changes.CreatedAt = e.CreatedAt
		return state{rec: changes, position: e.Position}, true
	case cur.deleted:
		return cur, false
	case newer(e, cur):
		merge(&cur.rec, changes)
		cur.position = max(cur.position, e.Position)
		return cur, true
	case !cur.materialized:
		// Held updates are newer than this one.
		merge(&changes, cur.rec)
		cur.rec.Status, cur.rec.Metadata, cur.rec.UpdatedAt = changes.Status, changes.Metadata, changes.UpdatedAt
		return cur, true
	default:
		return cur, false
	}
}

func applyDelete(cur state, found bool, e domain.Event) (state, bool) {
	switch {
	case !found:
		return state{
			rec: domain.Recipient{
				ID:        e.RecipientID,
				ListID:    e.ListID,
				UserID:    e.UserID,
				CreatedAt: e.CreatedAt,
				UpdatedAt: e.CreatedAt,
			},
			position: e.Position,
			deleted:  true,
		}, true
	case cur.deleted:
		return cur, false
	case newer(e, cur) || !cur.materialized:
		cur.deleted = true
		cur.position = max(cur.position, e.Position)
		if e.CreatedAt.After(cur.rec.UpdatedAt) {
			cur.rec.UpdatedAt = e.CreatedAt
		}
		return cur, true
	default:
		return cur, false
	}
}

func newer(e domain.Event, cur state) bool {
	return e.Position == "" || e.Position > cur.position
}

// merge applies the status and metadata of changes on top of rec.
func merge(rec *domain.Recipient, changes domain.Recipient) {
	rec.Status = cmp.Or(changes.Status, rec.Status)
	if len(changes.Metadata) > 0 {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string, len(changes.Metadata))
		}
		maps.Copy(rec.Metadata, changes.Metadata)
	}
	if changes.UpdatedAt.After(rec.UpdatedAt) {
		rec.UpdatedAt = changes.UpdatedAt
	}
}

func (r *RecipientRepository) Find(ctx context.Context, listID, recipientID string) (domain.Recipient, error) {
	return scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients
		 WHERE list_id = ? AND id = ? AND materialized = 1 AND deleted = 0`, listID, recipientID))
}

func fromEvent(e domain.Event) domain.Recipient {
	rec := domain.Recipient{
		ID:                 e.RecipientID,
		ListID:             e.ListID,
		UserID:             e.UserID,
		Email:              e.Recipient.Email,
		Status:             e.Recipient.Status,
		SubscriptionOrigin: e.SubscriptionOrigin,
		Metadata:           maps.Clone(e.Recipient.Metadata),
		ImportID:           e.ImportID,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.CreatedAt,
	}
	if e.Topic == domain.TopicRecipientImported {
		idx := e.RecipientIndex
		rec.RecipientIndex = &idx
	}
	return rec
}

func loadState(ctx context.Context, tx *sql.Tx, listID, recipientID string) (state, bool, error) {
	var s state
	rec, err := scanRecipient(tx.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM recipients WHERE list_id = ? AND id = ?`, listID, recipientID),
		&s.position, &s.materialized, &s.deleted)
	if errors.Is(err, domain.ErrRecipientNotFound) {
		return state{}, false, nil
	}
	if err != nil {
		return state{}, false, err
	}
	s.rec = rec
	return s, true, nil
}

func storeState(ctx context.Context, tx *sql.Tx, s state) error {
	metadata, err := json.Marshal(s.rec.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if s.rec.Metadata == nil {
		metadata = []byte("{}")
	}
	if _, err := tx.ExecContext(ctx, saveState,
		s.rec.ListID, s.rec.ID, s.rec.UserID, s.rec.Email, string(s.rec.Status),
		string(s.rec.SubscriptionOrigin), string(metadata), s.rec.ImportID, s.rec.RecipientIndex,
		formatTime(s.rec.CreatedAt), formatTime(s.rec.UpdatedAt),
		s.position, s.materialized, s.deleted,
	); err != nil {
		return fmt.Errorf("saving recipient %s: %w", s.rec.GlobalID(), err)
	}
	return nil
}

// scanRecipient scans a single row from QueryRow into a domain.Recipient.
// extra receives any columns selected after the recipient columns.
func scanRecipient(row *sql.Row, extra ...any) (domain.Recipient, error) {
	var (
		rec                      domain.Recipient
		status, origin, metadata string
		index                    sql.NullInt64
		createdAt, updatedAt     string
	)

	dest := append([]any{&rec.ListID, &rec.ID, &rec.UserID, &rec.Email, &status, &origin, &metadata,
		&rec.ImportID, &index, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Recipient{}, domain.ErrRecipientNotFound
		}
		return domain.Recipient{}, fmt.Errorf("scanning recipient: %w", err)
	}

	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return domain.Recipient{}, fmt.Errorf("decoding metadata: %w", err)
	}
	rec.Status = domain.RecipientStatus(status)
	rec.SubscriptionOrigin = domain.SubscriptionOrigin(origin)
	if index.Valid {
		idx := int(index.Int64)
		rec.RecipientIndex = &idx
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	return rec, nil
}
