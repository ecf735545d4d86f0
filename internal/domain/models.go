// Package domain provides domain models and business logic for the paper sync service.
package domain

import (
	"fmt"
	"strings"
)

// SourceType is the category of PDF origin. The set is closed: every value
// has exactly one acquisition strategy.
// These values must match the database enum pdf_source.
type SourceType string

const (
	SourceTypePreprint     SourceType = "PREPRINT"
	SourceTypePublisher    SourceType = "PUBLISHER"
	SourceTypeArchiveScan  SourceType = "ARCHIVE_SCAN"
	SourceTypeAuthorHosted SourceType = "AUTHOR_HOSTED"
)

// AllSourceTypes returns every source type in default priority order.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceTypePreprint,
		SourceTypePublisher,
		SourceTypeArchiveScan,
		SourceTypeAuthorHosted,
	}
}

// IsValid returns true if the source type is one of the known values.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypePreprint, SourceTypePublisher, SourceTypeArchiveScan, SourceTypeAuthorHosted:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (s SourceType) String() string {
	return string(s)
}

// ParseSourceType parses a case-insensitive source type tag.
// Accepts both the enum form ("ARCHIVE_SCAN") and lower-case aliases ("archive").
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PREPRINT", "ARXIV":
		return SourceTypePreprint, nil
	case "PUBLISHER", "PUB":
		return SourceTypePublisher, nil
	case "ARCHIVE_SCAN", "ARCHIVE", "ADS":
		return SourceTypeArchiveScan, nil
	case "AUTHOR_HOSTED", "AUTHOR":
		return SourceTypeAuthorHosted, nil
	default:
		return "", NewValidationError("source_type", fmt.Sprintf("unknown source type %q", s))
	}
}

// ParseSourceTypes parses an ordered list of source type tags.
func ParseSourceTypes(tags []string) ([]SourceType, error) {
	out := make([]SourceType, 0, len(tags))
	for _, tag := range tags {
		st, err := ParseSourceType(tag)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// DownloadSource is a resolved location for a paper's PDF.
type DownloadSource struct {
	SourceType    SourceType `json:"source_type"`
	URL           string     `json:"url"`
	RequiresProxy bool       `json:"requires_proxy"`
}

// SyncOutcome is the terminal state of one paper within a sync batch.
type SyncOutcome string

const (
	SyncOutcomeUpdated SyncOutcome = "updated"
	SyncOutcomeSkipped SyncOutcome = "skipped"
	SyncOutcomeFailed  SyncOutcome = "failed"
)

// SyncRunStatus represents the lifecycle of a sync run.
// These values must match the database enum sync_run_status.
type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
	SyncRunStatusCancelled SyncRunStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s SyncRunStatus) IsTerminal() bool {
	switch s {
	case SyncRunStatusCompleted, SyncRunStatusFailed, SyncRunStatusCancelled:
		return true
	default:
		return false
	}
}
