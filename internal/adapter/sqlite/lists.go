package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Compile-time check: ListRepository implements domain.ListAggregator.
var _ domain.ListAggregator = (*ListRepository)(nil)

// ListRepository maintains list metadata and import progress. Processed
// counts are derived from the set of recipient positions seen, which makes
// them independent of batch order and redelivery.
type ListRepository struct {
	db        *sql.DB
	validator domain.TransitionValidator
}

// NewListRepository wraps a migrated database. The validator guards every
// import state change.
func NewListRepository(db *sql.DB, validator domain.TransitionValidator) *ListRepository {
	return &ListRepository{db: db, validator: validator}
}

type importKey struct {
	listID   string
	importID string
}

type importGroup struct {
	key     importKey
	total   int
	indices []int
}

type listGroup struct {
	listID string
	userID string
	keys   []string
}

// UpdateMetadataAttrsAndImportStatusFromEvents applies a run of imported
// events in one transaction and returns the resulting status of every
// import they touch.
func (r *ListRepository) UpdateMetadataAttrsAndImportStatusFromEvents(ctx context.Context, events []domain.Event) ([]domain.ListImportStatus, error) {
	lists, imports := group(events)
	now := time.Now().UTC()

	var statuses []domain.ListImportStatus
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, l := range lists {
			if err := mergeMetadataAttrs(ctx, tx, l, now); err != nil {
				return err
			}
		}
		for _, g := range imports {
			status, err := r.applyImport(ctx, tx, g, now)
			if err != nil {
				return err
			}
			statuses = append(statuses, status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

func group(events []domain.Event) ([]*listGroup, []*importGroup) {
	var (
		lists    []*listGroup
		imports  []*importGroup
		byList   = make(map[string]*listGroup)
		byImport = make(map[importKey]*importGroup)
	)

	for _, e := range events {
		l, ok := byList[e.ListID]
		if !ok {
			l = &listGroup{listID: e.ListID, userID: e.UserID}
			byList[e.ListID] = l
			lists = append(lists, l)
		}
		for k := range e.Recipient.Metadata {
			l.keys = append(l.keys, k)
		}

		if e.ImportID == "" {
			continue
		}
		k := importKey{listID: e.ListID, importID: e.ImportID}
		g, ok := byImport[k]
		if !ok {
			g = &importGroup{key: k}
			byImport[k] = g
			imports = append(imports, g)
		}
		g.total = max(g.total, e.Total)
		g.indices = append(g.indices, e.RecipientIndex)
	}
	return lists, imports
}

func mergeMetadataAttrs(ctx context.Context, tx *sql.Tx, l *listGroup, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lists (id, user_id, metadata_attributes, created_at, updated_at)
		 VALUES (?, ?, '[]', ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		l.listID, l.userID, formatTime(now), formatTime(now),
	); err != nil {
		return fmt.Errorf("ensuring list %s: %w", l.listID, err)
	}
	if len(l.keys) == 0 {
		return nil
	}

	var raw string
	if err := tx.QueryRowContext(ctx,
		`SELECT metadata_attributes FROM lists WHERE id = ?`, l.listID,
	).Scan(&raw); err != nil {
		return fmt.Errorf("reading list %s: %w", l.listID, err)
	}
	var attrs []string
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return fmt.Errorf("decoding metadata attributes: %w", err)
	}

	merged := append(attrs, l.keys...)
	slices.Sort(merged)
	merged = slices.Compact(merged)
	if len(merged) == len(attrs) {
		return nil
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encoding metadata attributes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE lists SET metadata_attributes = ?, updated_at = ? WHERE id = ?`,
		string(encoded), formatTime(now), l.listID,
	); err != nil {
		return fmt.Errorf("updating list %s: %w", l.listID, err)
	}
	return nil
}

func (r *ListRepository) applyImport(ctx context.Context, tx *sql.Tx, g *importGroup, now time.Time) (domain.ListImportStatus, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO list_imports (list_id, import_id, total, processed, state, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT (list_id, import_id) DO NOTHING`,
		g.key.listID, g.key.importID, g.total, string(domain.ImportPending), formatTime(now), formatTime(now),
	); err != nil {
		return domain.ListImportStatus{}, fmt.Errorf("ensuring import %s: %w", g.key.importID, err)
	}

	for _, idx := range g.indices {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_import_recipients (list_id, import_id, recipient_index)
			 VALUES (?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			g.key.listID, g.key.importID, idx,
		); err != nil {
			return domain.ListImportStatus{}, fmt.Errorf("recording recipient %d of import %s: %w", idx, g.key.importID, err)
		}
	}

	status, err := scanImportStatus(tx.QueryRowContext(ctx, selectImport, g.key.listID, g.key.importID))
	if err != nil {
		return domain.ListImportStatus{}, err
	}
	if status.Terminal() {
		return status, nil
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM list_import_recipients WHERE list_id = ? AND import_id = ?`,
		g.key.listID, g.key.importID,
	).Scan(&status.Processed); err != nil {
		return domain.ListImportStatus{}, fmt.Errorf("counting import %s: %w", g.key.importID, err)
	}
	status.Total = max(status.Total, g.total)

	// Apply implied events until the counters no longer call for one.
	for {
		event, ok := status.NextEvent()
		if !ok {
			break
		}
		next, err := r.validator.Apply(ctx, status.State, event)
		if err != nil {
			return domain.ListImportStatus{}, err
		}
		status.State = next
	}
	status.UpdatedAt = now
	if status.Terminal() {
		status.FinishedAt = &now
	}

	if err := saveImportStatus(ctx, tx, status); err != nil {
		return domain.ListImportStatus{}, err
	}
	return status, nil
}

// MarkImportFailed moves an import to failed. An import none of whose
// batches were aggregated is created as pending first. Marking an already
// failed import again is a no-op; a completed import yields a
// *domain.TransitionError.
func (r *ListRepository) MarkImportFailed(ctx context.Context, listID, importID string, total int, reason string) (domain.ListImportStatus, error) {
	var status domain.ListImportStatus
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_imports (list_id, import_id, total, processed, state, created_at, updated_at)
			 VALUES (?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT (list_id, import_id) DO NOTHING`,
			listID, importID, total, string(domain.ImportPending), formatTime(now), formatTime(now),
		); err != nil {
			return fmt.Errorf("ensuring import %s: %w", importID, err)
		}

		var err error
		status, err = scanImportStatus(tx.QueryRowContext(ctx, selectImport, listID, importID))
		if err != nil {
			return err
		}
		if status.State == domain.ImportFailed {
			return nil
		}

		next, err := r.validator.Apply(ctx, status.State, domain.ImportEventFail)
		if err != nil {
			return err
		}
		status.State = next
		status.Total = max(status.Total, total)
		status.FailureReason = reason
		status.UpdatedAt = now
		status.FinishedAt = &now
		return saveImportStatus(ctx, tx, status)
	})
	if err != nil {
		return domain.ListImportStatus{}, err
	}
	return status, nil
}

func (r *ListRepository) GetImportStatus(ctx context.Context, listID, importID string) (domain.ListImportStatus, error) {
	return scanImportStatus(r.db.QueryRowContext(ctx, selectImport, listID, importID))
}

// All returns every list, newest first, with its current recipient count.
func (r *ListRepository) All(ctx context.Context) ([]domain.List, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT l.id, l.user_id, l.metadata_attributes, l.created_at, l.updated_at,
		        (SELECT COUNT(*) FROM recipients rc
		          WHERE rc.list_id = l.id AND rc.materialized = 1 AND rc.deleted = 0)
		 FROM lists l
		 ORDER BY l.created_at DESC, l.id`)
	if err != nil {
		return nil, fmt.Errorf("listing lists: %w", err)
	}
	defer rows.Close()

	var lists []domain.List
	for rows.Next() {
		var (
			l                         domain.List
			attrs, createdAt, updated string
		)
		if err := rows.Scan(&l.ID, &l.UserID, &attrs, &createdAt, &updated, &l.RecipientCount); err != nil {
			return nil, fmt.Errorf("scanning list row: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &l.MetadataAttributes); err != nil {
			return nil, fmt.Errorf("decoding metadata attributes: %w", err)
		}
		l.CreatedAt = parseTime(createdAt)
		l.UpdatedAt = parseTime(updated)
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

const selectImport = `SELECT list_id, import_id, total, processed, state, failure_reason,
	created_at, updated_at, finished_at
	FROM list_imports WHERE list_id = ? AND import_id = ?`

func scanImportStatus(row *sql.Row) (domain.ListImportStatus, error) {
	var (
		s                    domain.ListImportStatus
		state                string
		createdAt, updatedAt string
		finishedAt           sql.NullString
	)

	err := row.Scan(&s.ListID, &s.ImportID, &s.Total, &s.Processed, &state, &s.FailureReason,
		&createdAt, &updatedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ListImportStatus{}, domain.ErrImportNotFound
		}
		return domain.ListImportStatus{}, fmt.Errorf("scanning import status: %w", err)
	}

	s.State = domain.ImportState(state)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		s.FinishedAt = &t
	}
	return s, nil
}

func saveImportStatus(ctx context.Context, tx *sql.Tx, s domain.ListImportStatus) error {
	var finishedAt any
	if s.FinishedAt != nil {
		finishedAt = formatTime(*s.FinishedAt)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_imports
		 SET total = ?, processed = ?, state = ?, failure_reason = ?, updated_at = ?, finished_at = ?
		 WHERE list_id = ? AND import_id = ?`,
		s.Total, s.Processed, string(s.State), s.FailureReason, formatTime(s.UpdatedAt), finishedAt,
		s.ListID, s.ImportID,
	); err != nil {
		return fmt.Errorf("saving import %s: %w", s.ImportID, err)
	}
	return nil
}
