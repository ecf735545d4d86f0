package librarysync

import (
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-sync-service/internal/domain"
)

// Skip reasons.
const (
	ReasonNoIdentifier = "no identifier"
	ReasonNotFound     = "no remote record"
	ReasonNoMatch      = "no resolver match"
	ReasonCancelled    = "cancelled"
)

// Task is the per-paper unit of work. Paper holds the enriched copy; the
// caller's paper is never modified.
type Task struct {
	Paper      *domain.Paper            `json:"paper"`
	ExternalID string                   `json:"external_id,omitempty"`
	Outcome    domain.SyncOutcome       `json:"outcome"`
	Reason     string                   `json:"reason,omitempty"`
	Err        error                    `json:"-"`
	PDFError   string                   `json:"pdf_error,omitempty"`
	References []domain.CandidateRecord `json:"-"`
	Citations  []domain.CandidateRecord `json:"-"`

	linksFetched bool
}

func (t *Task) done() bool { return t.Outcome != "" }

func (t *Task) markUpdated() { t.Outcome = domain.SyncOutcomeUpdated }

func (t *Task) markSkipped(reason string) {
	t.Outcome = domain.SyncOutcomeSkipped
	t.Reason = reason
}

func (t *Task) markFailed(err error) {
	t.Outcome = domain.SyncOutcomeFailed
	t.Err = err
}

// ErrorMessage returns the failure message, if any.
func (t *Task) ErrorMessage() string {
	if t.Err == nil {
		return ""
	}
	return t.Err.Error()
}

// TaskError is one entry of the summary's error list.
type TaskError struct {
	PaperTitle string `json:"paper_title"`
	Message    string `json:"message"`
}

// Summary is the result of one Sync call. Updated+Failed+Skipped always
// equals Total.
type Summary struct {
	RunID      uuid.UUID   `json:"run_id"`
	Total      int         `json:"total"`
	Updated    int         `json:"updated"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
	Errors     []TaskError `json:"errors"`
	Tasks      []*Task     `json:"-"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// SyncRun converts the summary into its persisted form.
func (s *Summary) SyncRun(status domain.SyncRunStatus) *domain.SyncRun {
	run := &domain.SyncRun{
		ID:         s.RunID,
		Status:     status,
		Total:      s.Total,
		Updated:    s.Updated,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
		ErrorCount: len(s.Errors),
		StartedAt:  s.StartedAt,
	}
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		run.FinishedAt = &finished
	}
	return run
}

// Progress is emitted after every window and every individually processed paper.
type Progress struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Description string `json:"description"`
}
