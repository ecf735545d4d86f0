// Package events publishes sync lifecycle events to Kafka and consumes
// sync requests from it.
package events

import (
	"context"
	"time"
)

// SyncCompletedEvent is published once per finished sync run.
type SyncCompletedEvent struct {
	RunID      string       `json:"run_id"`
	Status     string       `json:"status"`
	Total      int          `json:"total"`
	Updated    int          `json:"updated"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Errors     []EventError `json:"errors,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// EventError is one failed paper in a completed run.
type EventError struct {
	PaperTitle string `json:"paper_title"`
	Message    string `json:"message"`
}

// SyncRequested asks a worker to sync the listed papers. An empty PaperIDs
// with MissingPDFOnly unset means the whole library.
type SyncRequested struct {
	PaperIDs       []string `json:"paper_ids,omitempty"`
	MissingPDFOnly bool     `json:"missing_pdf_only,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	DownloadPDFs   *bool    `json:"download_pdfs,omitempty"`
	RequestedBy    string   `json:"requested_by,omitempty"`
}

// Publisher emits sync lifecycle events.
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, event SyncCompletedEvent) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// PublishSyncCompleted implements Publisher.
func (NopPublisher) PublishSyncCompleted(context.Context, SyncCompletedEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
