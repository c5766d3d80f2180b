package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/neomorfeo/listiq/internal/adapter/fsm"
	"github.com/neomorfeo/listiq/internal/adapter/sqlite"
	"github.com/neomorfeo/listiq/internal/domain"
)

func newListRepo(t *testing.T) (*sqlite.ListRepository, *sqlite.RecipientRepository) {
	t.Helper()
	db := newTestDB(t)
	return sqlite.NewListRepository(db, fsm.New()), sqlite.NewRecipientRepository(db)
}

func batch(importID string, first, n, total int) []domain.Event {
	events := make([]domain.Event, n)
	for i := range events {
		events[i] = importedEvent("L", importID, fmt.Sprintf("r%d@x.io", first+i), first+i, total)
	}
	return events
}

func TestUpdateImportStatus_Progresses(t *testing.T) {
	lists, _ := newListRepo(t)
	ctx := context.Background()

	statuses, err := lists.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, batch("J1", 0, 3, 5))
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
	s := statuses[0]
	if s.Processed != 3 || s.Total != 5 || s.State != domain.ImportImporting {
		t.Errorf("after first batch = (%d/%d, %q), want (3/5, importing)", s.Processed, s.Total, s.State)
	}

	statuses, err = lists.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, batch("J1", 3, 2, 5))
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	s = statuses[0]
	if s.Processed != 5 || s.State != domain.ImportCompleted {
		t.Errorf("after second batch = (%d, %q), want (5, completed)", s.Processed, s.State)
	}
	if s.FinishedAt == nil {
		t.Error("FinishedAt should be set once the import completes")
	}
}

func TestUpdateImportStatus_SingleBatchCompletes(t *testing.T) {
	lists, _ := newListRepo(t)

	statuses, err := lists.UpdateMetadataAttrsAndImportStatusFromEvents(context.Background(), batch("J1", 0, 3, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statuses[0].State != domain.ImportCompleted {
		t.Errorf("State = %q, want completed", statuses[0].State)
	}
}

func TestUpdateImportStatus_ReplayDoesNotDoubleCount(t *testing.T) {
	lists, _ := newListRepo(t)
	ctx := context.Background()

	events := batch("J1", 0, 2, 10)
	for range 3 {
		if _, err := lists.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, events); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := lists.GetImportStatus(ctx, "L", "J1")
	if err != nil {
		t.Fatalf("GetImportStatus failed: %v", err)
	}
	if got.Processed != 2 {
		t.Errorf("Processed = %d, want 2", got.Processed)
	}
}

func TestUpdateImportStatus_OrderIndependent(t *testing.T) {
	forward, _ := newListRepo(t)
	backward, _ := newListRepo(t)
	ctx := context.Background()

	batches := [][]domain.Event{batch("J1", 0, 2, 6), batch("J1", 2, 2, 6), batch("J1", 4, 2, 6)}
	for i := range batches {
		if _, err := forward.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, batches[i]); err != nil {
			t.Fatal(err)
		}
		if _, err := backward.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, batches[len(batches)-1-i]); err != nil {
			t.Fatal(err)
		}
	}

	a, _ := forward.GetImportStatus(ctx, "L", "J1")
	b, _ := backward.GetImportStatus(ctx, "L", "J1")
	if a.Processed != b.Processed || a.State != b.State {
		t.Errorf("forward = (%d, %q), backward = (%d, %q)", a.Processed, a.State, b.Processed, b.State)
	}
	if a.State != domain.ImportCompleted {
		t.Errorf("State = %q, want completed", a.State)
	}
}

func TestUpdateImportStatus_MergesMetadataAttributes(t *testing.T) {
	lists, recipients := newListRepo(t)
	ctx := context.Background()

	events := batch("J1", 0, 2, 4)
	events[1].Recipient.Metadata = map[string]string{"plan": "pro", "city": "Porto"}
	if _, err := recipients.ImportFromEvents(ctx, events); err != nil {
		t.Fatalf("import records: %v", err)
	}
	if _, err := lists.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, err := lists.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d lists, want 1", len(all))
	}
	l := all[0]
	if !slices.Equal(l.MetadataAttributes, []string{"city", "plan"}) {
		t.Errorf("MetadataAttributes = %v, want [city plan]", l.MetadataAttributes)
	}
	if l.RecipientCount != 2 {
		t.Errorf("RecipientCount = %d, want 2", l.RecipientCount)
	}
	if l.UserID != "U" {
		t.Errorf("UserID = %q, want U", l.UserID)
	}
}

func TestMarkImportFailed(t *testing.T) {
	lists, _ := newListRepo(t)
	ctx := context.Background()

	if _, err := lists.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, batch("J1", 0, 1, 5)); err != nil {
		t.Fatal(err)
	}

	s, err := lists.MarkImportFailed(ctx, "L", "J1", 5, "store unavailable")
	if err != nil {
		t.Fatalf("MarkImportFailed failed: %v", err)
	}
	if s.State != domain.ImportFailed || s.FailureReason != "store unavailable" {
		t.Errorf("status = (%q, %q)", s.State, s.FailureReason)
	}

	// Marking again is a no-op.
	if _, err := lists.MarkImportFailed(ctx, "L", "J1", 5, "again"); err != nil {
		t.Fatalf("second MarkImportFailed: %v", err)
	}
	got, _ := lists.GetImportStatus(ctx, "L", "J1")
	if got.FailureReason != "store unavailable" {
		t.Errorf("FailureReason = %q, want the first reason", got.FailureReason)
	}

	// A failed import no longer counts progress.
	statuses, err := lists.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, batch("J1", 1, 4, 5))
	if err != nil {
		t.Fatal(err)
	}
	if statuses[0].State != domain.ImportFailed {
		t.Errorf("State = %q, want failed", statuses[0].State)
	}
}

func TestMarkImportFailed_CompletedImport(t *testing.T) {
	lists, _ := newListRepo(t)
	ctx := context.Background()

	if _, err := lists.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, batch("J1", 0, 2, 2)); err != nil {
		t.Fatal(err)
	}

	_, err := lists.MarkImportFailed(ctx, "L", "J1", 2, "late failure")
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if trErr.Current != domain.ImportCompleted {
		t.Errorf("Current = %q, want completed", trErr.Current)
	}
}

func TestGetImportStatus_NotFound(t *testing.T) {
	lists, _ := newListRepo(t)

	_, err := lists.GetImportStatus(context.Background(), "L", "nope")
	if !errors.Is(err, domain.ErrImportNotFound) {
		t.Errorf("expected ErrImportNotFound, got %v", err)
	}
}

func TestMarkImportFailed_BeforeAnyBatchLanded(t *testing.T) {
	lists, _ := newListRepo(t)
	ctx := context.Background()

	s, err := lists.MarkImportFailed(ctx, "L", "J1", 40, "store unavailable")
	if err != nil {
		t.Fatalf("MarkImportFailed failed: %v", err)
	}
	if s.State != domain.ImportFailed || s.Total != 40 || s.Processed != 0 {
		t.Errorf("status = %+v, want failed with total 40 and nothing processed", s)
	}
	if s.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}

	got, err := lists.GetImportStatus(ctx, "L", "J1")
	if err != nil {
		t.Fatalf("GetImportStatus failed: %v", err)
	}
	if got.State != domain.ImportFailed || got.FailureReason != "store unavailable" {
		t.Errorf("stored status = (%q, %q), want failed", got.State, got.FailureReason)
	}
}
