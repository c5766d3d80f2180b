package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrImportNotFound    = errors.New("import not found")
)

// ValidationError is returned when an input violates a shape or business rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// IndexedError ties a validation failure to a recipient position in an import job.
type IndexedError struct {
	RecipientIndex int
	Err            error
}

// ImportValidationError is returned when any recipient of an import batch is
// invalid. The whole batch is rejected.
type ImportValidationError struct {
	ImportID string
	// BatchFirstIndex is the job index of the batch's first recipient.
	BatchFirstIndex int
	Failures        []IndexedError
}

func (e *ImportValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("#%d: %v", f.RecipientIndex, f.Err))
	}
	return fmt.Sprintf("import %q rejected, %d invalid recipient(s): %s",
		e.ImportID, len(e.Failures), strings.Join(parts, "; "))
}

// LogWriteError is returned when an append to the event log fails.
// Nothing was recorded; the whole call is safe to retry.
type LogWriteError struct {
	Topic  Topic
	Stream string
	Err    error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("writing %q to stream %q: %v", e.Topic, e.Stream, e.Err)
}

func (e *LogWriteError) Unwrap() error { return e.Err }

// Projection stages reported by ProjectionError.
const (
	StageRecords      = "records"
	StageSearchIndex  = "search_index"
	StageListMetadata = "list_metadata"
)

// ProjectionError is returned when events already in the log could not be
// reflected in a read model. Recover by re-driving projection from the log,
// never by publishing the events again.
type ProjectionError struct {
	Stage string
	Err   error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projecting %s: %v", e.Stage, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// TransitionError is returned when an import lifecycle transition is not allowed.
type TransitionError struct {
	Event   ImportEvent
	Current ImportState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}
