package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/neomorfeo/listiq/internal/app"
	"github.com/neomorfeo/listiq/internal/domain"
)

// --- Mocks ---

type fakeBuilder struct{}

func (fakeBuilder) BuildRecipientCreated(_ context.Context, cmd domain.CreateRecipient) (domain.Event, error) {
	if cmd.Recipient.Email == "" {
		return domain.Event{}, &domain.ValidationError{Field: "email", Reason: "is required"}
	}
	return domain.Event{
		Topic:       domain.TopicRecipientCreated,
		ListID:      cmd.ListID,
		UserID:      cmd.UserID,
		RecipientID: domain.RecipientID(cmd.Recipient.Email),
		Recipient:   domain.RecipientPayload{Email: cmd.Recipient.Email},
	}, nil
}

func (fakeBuilder) BuildRecipientUpdated(_ context.Context, cmd domain.UpdateRecipient) (domain.Event, error) {
	return domain.Event{Topic: domain.TopicRecipientUpdated, ListID: cmd.ListID, RecipientID: cmd.RecipientID}, nil
}

func (fakeBuilder) BuildRecipientDeleted(_ context.Context, cmd domain.DeleteRecipient) (domain.Event, error) {
	return domain.Event{Topic: domain.TopicRecipientDeleted, ListID: cmd.ListID, RecipientID: cmd.RecipientID}, nil
}

func (fakeBuilder) BuildRecipientImported(_ context.Context, batch domain.ImportBatch) []domain.Result[domain.Event] {
	out := make([]domain.Result[domain.Event], len(batch.Recipients))
	for i, in := range batch.Recipients {
		if in.Email == "" {
			out[i] = domain.Fail[domain.Event](&domain.ValidationError{Field: "email", Reason: "is required"})
			continue
		}
		out[i] = domain.Ok(domain.Event{
			Topic:          domain.TopicRecipientImported,
			ListID:         batch.ListID,
			UserID:         batch.UserID,
			RecipientID:    domain.RecipientID(in.Email),
			Recipient:      domain.RecipientPayload{Email: in.Email, Metadata: in.Metadata},
			ImportID:       batch.ImportID,
			RecipientIndex: batch.BatchFirstIndex + i,
			Total:          batch.Total,
		})
	}
	return out
}

type writeCall struct {
	topic  domain.Topic
	stream string
	events []domain.Event
}

type mockLog struct {
	writes      []writeCall
	batchWrites []writeCall
	err         error
}

func (m *mockLog) Write(_ context.Context, topic domain.Topic, stream string, e domain.Event) (domain.Ack, error) {
	m.writes = append(m.writes, writeCall{topic: topic, stream: stream, events: []domain.Event{e}})
	if m.err != nil {
		return domain.Ack{}, m.err
	}
	return domain.Ack{Stream: stream, IDs: []string{"1-0"}}, nil
}

func (m *mockLog) BatchWrite(_ context.Context, topic domain.Topic, stream string, events []domain.Event) (domain.Ack, error) {
	m.batchWrites = append(m.batchWrites, writeCall{topic: topic, stream: stream, events: events})
	if m.err != nil {
		return domain.Ack{}, m.err
	}
	ids := make([]string, len(events))
	for i := range events {
		ids[i] = "id"
	}
	return domain.Ack{Stream: stream, IDs: ids}, nil
}

type mockStore struct {
	records map[string]domain.Recipient
	calls   []string
	err     error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]domain.Recipient)}
}

func (m *mockStore) upsert(name string, events []domain.Event) ([]domain.Recipient, error) {
	m.calls = append(m.calls, name)
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Recipient, 0, len(events))
	for _, e := range events {
		r := domain.Recipient{ID: e.RecipientID, ListID: e.ListID, Email: e.Recipient.Email, ImportID: e.ImportID}
		m.records[r.GlobalID()] = r
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) CreateBatchFromEvents(_ context.Context, events []domain.Event) ([]domain.Recipient, error) {
	return m.upsert("create", events)
}

func (m *mockStore) UpdateBatchFromEvents(_ context.Context, events []domain.Event) ([]domain.Recipient, error) {
	return m.upsert("update", events)
}

func (m *mockStore) ImportFromEvents(_ context.Context, events []domain.Event) ([]domain.Recipient, error) {
	return m.upsert("import", events)
}

func (m *mockStore) DeleteFromEvents(_ context.Context, events []domain.Event) ([]domain.Recipient, error) {
	m.calls = append(m.calls, "delete")
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Recipient
	for _, e := range events {
		if r, ok := m.records[e.GlobalID()]; ok {
			out = append(out, r)
			delete(m.records, e.GlobalID())
		}
	}
	return out, nil
}

func (m *mockStore) Find(_ context.Context, listID, recipientID string) (domain.Recipient, error) {
	m.calls = append(m.calls, "find")
	r, ok := m.records[domain.GlobalID(listID, recipientID)]
	if !ok {
		return domain.Recipient{}, domain.ErrRecipientNotFound
	}
	return r, nil
}

type mockIndex struct {
	docs        map[string]domain.Recipient
	lastOptions domain.SearchOptions
	err         error
}

func newMockIndex() *mockIndex {
	return &mockIndex{docs: make(map[string]domain.Recipient)}
}

func (m *mockIndex) Index(_ context.Context, r domain.Recipient) error {
	if m.err != nil {
		return m.err
	}
	m.docs[r.GlobalID()] = r
	return nil
}

func (m *mockIndex) Remove(_ context.Context, globalID string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.docs, globalID)
	return nil
}

func (m *mockIndex) Search(_ context.Context, _ string, _ domain.Conditions, opts domain.SearchOptions) (domain.SearchResult, error) {
	m.lastOptions = opts
	return domain.SearchResult{Total: len(m.docs)}, nil
}

type mockLists struct {
	updates  [][]domain.Event
	failed   []string
	totals   []int
	statuses []domain.ListImportStatus
	err      error
}

func (m *mockLists) UpdateMetadataAttrsAndImportStatusFromEvents(_ context.Context, events []domain.Event) ([]domain.ListImportStatus, error) {
	m.updates = append(m.updates, events)
	if m.err != nil {
		return nil, m.err
	}
	return m.statuses, nil
}

func (m *mockLists) MarkImportFailed(_ context.Context, listID, importID string, total int, reason string) (domain.ListImportStatus, error) {
	m.failed = append(m.failed, importID)
	m.totals = append(m.totals, total)
	return domain.ListImportStatus{ListID: listID, ImportID: importID, Total: total, State: domain.ImportFailed, FailureReason: reason}, nil
}

func (m *mockLists) GetImportStatus(_ context.Context, _, _ string) (domain.ListImportStatus, error) {
	return domain.ListImportStatus{}, domain.ErrImportNotFound
}

func (m *mockLists) All(_ context.Context) ([]domain.List, error) {
	return []domain.List{{ID: "list-1"}}, nil
}

type mockListener struct {
	received []domain.ListImportStatus
	err      error
}

func (m *mockListener) OnStatusUpdated(_ context.Context, s domain.ListImportStatus) error {
	m.received = append(m.received, s)
	return m.err
}

type mockParser struct{}

func (mockParser) Parse(_ context.Context, data string) ([]domain.RecipientInput, error) {
	if data == "" {
		return nil, &domain.ValidationError{Field: "csv", Reason: "is empty"}
	}
	return []domain.RecipientInput{{Email: data}}, nil
}

type fixture struct {
	svc   *app.RecipientService
	log   *mockLog
	store *mockStore
	index *mockIndex
	lists *mockLists
}

func newFixture() fixture {
	f := fixture{
		log:   &mockLog{},
		store: newMockStore(),
		index: newMockIndex(),
		lists: &mockLists{},
	}
	f.svc = app.NewRecipientService(app.Config{StreamName: "list-recipients"}, app.Dependencies{
		Builder: fakeBuilder{},
		Log:     f.log,
		Store:   f.store,
		Index:   f.index,
		Lists:   f.lists,
		Parser:  mockParser{},
	})
	return f
}

func importBatch(emails ...string) domain.ImportBatch {
	batch := domain.ImportBatch{
		ListID:          "L",
		UserID:          "U",
		ImportID:        "J1",
		BatchFirstIndex: 10,
		Total:           100,
	}
	for _, e := range emails {
		batch.Recipients = append(batch.Recipients, domain.RecipientInput{Email: e})
	}
	return batch
}

// --- Mutation ---

func TestPublishRecipientCreated_WritesOnce(t *testing.T) {
	f := newFixture()

	ack, err := f.svc.PublishRecipientCreated(context.Background(), domain.CreateRecipient{
		ListID:    "L",
		UserID:    "U",
		Recipient: domain.RecipientInput{Email: "a@x.io"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Stream != "list-recipients" {
		t.Errorf("ack stream = %q, want list-recipients", ack.Stream)
	}
	if len(f.log.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(f.log.writes))
	}
	w := f.log.writes[0]
	if w.topic != domain.TopicRecipientCreated || w.stream != "list-recipients" {
		t.Errorf("write = (%q, %q), want (%q, list-recipients)", w.topic, w.stream, domain.TopicRecipientCreated)
	}
	if len(f.log.batchWrites) != 0 {
		t.Errorf("expected no batch writes, got %d", len(f.log.batchWrites))
	}
}

func TestPublishRecipientCreated_InvalidDoesNotWrite(t *testing.T) {
	f := newFixture()

	_, err := f.svc.PublishRecipientCreated(context.Background(), domain.CreateRecipient{ListID: "L", UserID: "U"})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(f.log.writes) != 0 {
		t.Errorf("expected no writes, got %d", len(f.log.writes))
	}
}

func TestPublishRecipientUpdated_AndDeleted_UseTheirTopics(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.PublishRecipientUpdated(ctx, domain.UpdateRecipient{ListID: "L", UserID: "U", RecipientID: "r1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.svc.PublishRecipientDeleted(ctx, domain.DeleteRecipient{ListID: "L", UserID: "U", RecipientID: "r1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(f.log.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(f.log.writes))
	}
	if f.log.writes[0].topic != domain.TopicRecipientUpdated {
		t.Errorf("first topic = %q, want %q", f.log.writes[0].topic, domain.TopicRecipientUpdated)
	}
	if f.log.writes[1].topic != domain.TopicRecipientDeleted {
		t.Errorf("second topic = %q, want %q", f.log.writes[1].topic, domain.TopicRecipientDeleted)
	}
}

func TestPublish_LogFailureIsLogWriteError(t *testing.T) {
	f := newFixture()
	cause := errors.New("connection refused")
	f.log.err = cause

	_, err := f.svc.PublishRecipientCreated(context.Background(), domain.CreateRecipient{
		ListID:    "L",
		UserID:    "U",
		Recipient: domain.RecipientInput{Email: "a@x.io"},
	})
	var lwErr *domain.LogWriteError
	if !errors.As(err, &lwErr) {
		t.Fatalf("expected LogWriteError, got %v", err)
	}
	if lwErr.Topic != domain.TopicRecipientCreated || lwErr.Stream != "list-recipients" {
		t.Errorf("LogWriteError = %+v", lwErr)
	}
	if !errors.Is(err, cause) {
		t.Error("LogWriteError should wrap the log failure")
	}
}

// --- Import ---

func TestPublishRecipientImported_SingleBatchWriteWithIndices(t *testing.T) {
	f := newFixture()

	ack, err := f.svc.PublishRecipientImported(context.Background(), importBatch("a@x.io", "b@x.io", "c@x.io"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ack.IDs) != 3 {
		t.Errorf("ack ids = %d, want 3", len(ack.IDs))
	}
	if len(f.log.batchWrites) != 1 {
		t.Fatalf("expected 1 batch write, got %d", len(f.log.batchWrites))
	}
	if len(f.log.writes) != 0 {
		t.Errorf("expected no single writes, got %d", len(f.log.writes))
	}

	w := f.log.batchWrites[0]
	if w.topic != domain.TopicRecipientImported {
		t.Errorf("topic = %q, want %q", w.topic, domain.TopicRecipientImported)
	}
	for i, want := range []int{10, 11, 12} {
		e := w.events[i]
		if e.RecipientIndex != want {
			t.Errorf("event %d index = %d, want %d", i, e.RecipientIndex, want)
		}
		if e.Total != 100 || e.ImportID != "J1" {
			t.Errorf("event %d = (total %d, import %q), want (100, J1)", i, e.Total, e.ImportID)
		}
	}
}

func TestPublishRecipientImported_InvalidRecipientRejectsBatch(t *testing.T) {
	f := newFixture()

	_, err := f.svc.PublishRecipientImported(context.Background(), importBatch("a@x.io", "", "c@x.io"))

	var ivErr *domain.ImportValidationError
	if !errors.As(err, &ivErr) {
		t.Fatalf("expected ImportValidationError, got %v", err)
	}
	if len(ivErr.Failures) != 1 || ivErr.Failures[0].RecipientIndex != 11 {
		t.Errorf("failures = %+v, want one at index 11", ivErr.Failures)
	}
	if ivErr.BatchFirstIndex != 10 {
		t.Errorf("BatchFirstIndex = %d, want 10", ivErr.BatchFirstIndex)
	}
	if len(f.log.batchWrites) != 0 || len(f.log.writes) != 0 {
		t.Errorf("expected no writes, got %d batch and %d single", len(f.log.batchWrites), len(f.log.writes))
	}
}

func TestPublishRecipientImported_EmptyBatchDoesNotWrite(t *testing.T) {
	f := newFixture()

	ack, err := f.svc.PublishRecipientImported(context.Background(), importBatch())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ack.IDs) != 0 {
		t.Errorf("ack ids = %v, want none", ack.IDs)
	}
	if len(f.log.batchWrites) != 0 {
		t.Errorf("expected no batch writes, got %d", len(f.log.batchWrites))
	}
}

func TestPublishRecipientImported_LogFailure(t *testing.T) {
	f := newFixture()
	f.log.err = errors.New("log unavailable")

	_, err := f.svc.PublishRecipientImported(context.Background(), importBatch("a@x.io"))
	var lwErr *domain.LogWriteError
	if !errors.As(err, &lwErr) {
		t.Fatalf("expected LogWriteError, got %v", err)
	}
	if lwErr.Topic != domain.TopicRecipientImported {
		t.Errorf("topic = %q, want %q", lwErr.Topic, domain.TopicRecipientImported)
	}
}

func importedEvents(n int) []domain.Event {
	events := make([]domain.Event, n)
	for i := range events {
		events[i] = domain.Event{
			Topic:          domain.TopicRecipientImported,
			ListID:         "L",
			RecipientID:    string(rune('a' + i)),
			ImportID:       "J1",
			RecipientIndex: i,
			Total:          n,
		}
	}
	return events
}

func TestImportRecipientsBatch_StoresThenAggregates(t *testing.T) {
	f := newFixture()
	f.lists.statuses = []domain.ListImportStatus{{ListID: "L", ImportID: "J1", Processed: 3, Total: 3, State: domain.ImportCompleted}}
	listener := &mockListener{}

	if err := f.svc.ImportRecipientsBatch(context.Background(), importedEvents(3), listener); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.store.records) != 3 {
		t.Errorf("stored = %d, want 3", len(f.store.records))
	}
	if len(f.index.docs) != 3 {
		t.Errorf("indexed = %d, want 3", len(f.index.docs))
	}
	if len(f.lists.updates) != 1 || len(f.lists.updates[0]) != 3 {
		t.Fatalf("aggregator updates = %v, want one call with 3 events", f.lists.updates)
	}
	if len(listener.received) != 1 || listener.received[0].State != domain.ImportCompleted {
		t.Errorf("listener received %+v", listener.received)
	}
}

func TestImportRecipientsBatch_StoreFailureSkipsAggregation(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("disk full")

	err := f.svc.ImportRecipientsBatch(context.Background(), importedEvents(2), nil)

	var pErr *domain.ProjectionError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected ProjectionError, got %v", err)
	}
	if pErr.Stage != domain.StageRecords {
		t.Errorf("stage = %q, want %q", pErr.Stage, domain.StageRecords)
	}
	if len(f.lists.updates) != 0 {
		t.Errorf("aggregator should not run, got %d calls", len(f.lists.updates))
	}
}

func TestImportRecipientsBatch_AggregatorFailure(t *testing.T) {
	f := newFixture()
	f.lists.err = errors.New("locked")

	err := f.svc.ImportRecipientsBatch(context.Background(), importedEvents(2), nil)

	var pErr *domain.ProjectionError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected ProjectionError, got %v", err)
	}
	if pErr.Stage != domain.StageListMetadata {
		t.Errorf("stage = %q, want %q", pErr.Stage, domain.StageListMetadata)
	}
}

func TestImportRecipientsBatch_ListenerFailureIsIsolated(t *testing.T) {
	f := newFixture()
	f.lists.statuses = []domain.ListImportStatus{{ListID: "L", ImportID: "J1", Processed: 1, Total: 2}}
	listener := &mockListener{err: errors.New("subscriber gone")}

	if err := f.svc.ImportRecipientsBatch(context.Background(), importedEvents(1), listener); err != nil {
		t.Fatalf("listener failure should not propagate, got %v", err)
	}
	if len(listener.received) != 1 {
		t.Errorf("listener calls = %d, want 1", len(listener.received))
	}
}

// --- Projection ---

func TestDeleteRecipientsBatch_RemovesFromIndexEvenWhenStoreMisses(t *testing.T) {
	f := newFixture()
	f.index.docs["L:r1"] = domain.Recipient{ID: "r1", ListID: "L"}

	err := f.svc.DeleteRecipientsBatch(context.Background(), []domain.Event{{ListID: "L", RecipientID: "r1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.index.docs["L:r1"]; ok {
		t.Error("document should have been removed from the index")
	}
}

func TestCreateRecipientsBatch_IndexFailure(t *testing.T) {
	f := newFixture()
	f.index.err = errors.New("index down")

	err := f.svc.CreateRecipientsBatch(context.Background(), []domain.Event{{ListID: "L", RecipientID: "r1"}})
	var pErr *domain.ProjectionError
	if !errors.As(err, &pErr) || pErr.Stage != domain.StageSearchIndex {
		t.Fatalf("expected search index ProjectionError, got %v", err)
	}
}

// --- Query ---

func TestGetRecipient_NotFoundDoesNotMutate(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GetRecipient(context.Background(), "L", "missing")
	if !errors.Is(err, domain.ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
	if len(f.store.calls) != 1 || f.store.calls[0] != "find" {
		t.Errorf("store calls = %v, want only find", f.store.calls)
	}
	if len(f.log.writes)+len(f.log.batchWrites) != 0 {
		t.Error("a query must not write to the log")
	}
}

func TestListRecipients_OmitsEmptyOptions(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ListRecipients(context.Background(), "L", domain.Conditions{}, domain.SearchOptions{
		domain.OptionLimit: 20,
		domain.OptionSort:  "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.index.lastOptions[domain.OptionSort]; ok {
		t.Error("empty sort should not reach the index")
	}
	if f.index.lastOptions[domain.OptionLimit] != 20 {
		t.Errorf("limit = %v, want 20", f.index.lastOptions[domain.OptionLimit])
	}
}

func TestGetImportStatus_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GetImportStatus(context.Background(), "L", "J9")
	if !errors.Is(err, domain.ErrImportNotFound) {
		t.Fatalf("expected ErrImportNotFound, got %v", err)
	}
}

func TestMapCSVToRecipients(t *testing.T) {
	f := newFixture()

	inputs, err := f.svc.MapCSVToRecipients(context.Background(), "a@x.io")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inputs) != 1 || inputs[0].Email != "a@x.io" {
		t.Errorf("inputs = %+v", inputs)
	}

	_, err = f.svc.MapCSVToRecipients(context.Background(), "")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
