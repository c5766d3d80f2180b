package domain

import "time"

// ImportState represents the lifecycle state of a list import job.
type ImportState string

const (
	ImportPending   ImportState = "pending"
	ImportImporting ImportState = "importing"
	ImportCompleted ImportState = "completed"
	ImportFailed    ImportState = "failed"
)

// ImportEvent represents an action that moves an import to another state.
type ImportEvent string

const (
	ImportEventStart    ImportEvent = "start"
	ImportEventComplete ImportEvent = "complete"
	ImportEventFail     ImportEvent = "fail"
)

// Transition defines a valid state change: an event moves an import from Src to Dst.
type Transition struct {
	Event ImportEvent
	Src   ImportState
	Dst   ImportState
}

// Transitions defines all valid state changes in the import lifecycle.
// Completed and failed are terminal.
var Transitions = []Transition{
	{Event: ImportEventStart, Src: ImportPending, Dst: ImportImporting},
	{Event: ImportEventComplete, Src: ImportPending, Dst: ImportCompleted},
	{Event: ImportEventComplete, Src: ImportImporting, Dst: ImportCompleted},
	{Event: ImportEventFail, Src: ImportPending, Dst: ImportFailed},
	{Event: ImportEventFail, Src: ImportImporting, Dst: ImportFailed},
}

// ListImportStatus aggregates the progress of one import job into one list.
type ListImportStatus struct {
	ListID        string
	ImportID      string
	Total         int
	Processed     int
	State         ImportState
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time
}

// NewListImportStatus creates the status of an import that has not seen any batch yet.
func NewListImportStatus(listID, importID string, total int) ListImportStatus {
	now := time.Now().UTC()
	return ListImportStatus{
		ListID:    listID,
		ImportID:  importID,
		Total:     total,
		State:     ImportPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the import can no longer change state.
func (s ListImportStatus) Terminal() bool {
	return s.State == ImportCompleted || s.State == ImportFailed
}

// NextEvent returns the lifecycle event implied by the current counters, if any.
func (s ListImportStatus) NextEvent() (ImportEvent, bool) {
	switch {
	case s.Terminal():
		return "", false
	case s.Total > 0 && s.Processed >= s.Total:
		return ImportEventComplete, true
	case s.State == ImportPending && s.Processed > 0:
		return ImportEventStart, true
	default:
		return "", false
	}
}

// List is the aggregate metadata of a recipient list.
type List struct {
	ID                 string
	UserID             string
	MetadataAttributes []string
	RecipientCount     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
