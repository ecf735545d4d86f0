package httpserver

import (
	"time"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/papersources"
	"github.com/helixir/paper-sync-service/internal/repository"
)

// Response types for JSON serialization.

type paperResponse struct {
	ID            string             `json:"id"`
	Identifiers   domain.Identifiers `json:"identifiers"`
	Title         string             `json:"title"`
	Authors       []string           `json:"authors,omitempty"`
	Year          int                `json:"year,omitempty"`
	Journal       string             `json:"journal,omitempty"`
	Abstract      string             `json:"abstract,omitempty"`
	CitationCount int                `json:"citation_count"`
	BibTeX        string             `json:"bibtex,omitempty"`
	HasPDF        bool               `json:"has_pdf"`
	PDFSource     string             `json:"pdf_source,omitempty"`
	LastSyncedAt  *time.Time         `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type listPapersResponse struct {
	Papers        []paperResponse `json:"papers"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type linksResponse struct {
	PaperID string                   `json:"paper_id"`
	Kind    repository.LinkKind      `json:"kind"`
	Records []domain.CandidateRecord `json:"records"`
	Count   int                      `json:"count"`
}

type startSyncResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

type syncRunResponse struct {
	RunID      string                  `json:"run_id"`
	Status     string                  `json:"status"`
	Active     bool                    `json:"active"`
	Total      int                     `json:"total"`
	Updated    int                     `json:"updated"`
	Failed     int                     `json:"failed"`
	Skipped    int                     `json:"skipped"`
	ErrorCount int                     `json:"error_count"`
	Errors     []librarysync.TaskError `json:"errors,omitempty"`
	Progress   *librarysync.Progress   `json:"progress,omitempty"`
	Error      string                  `json:"error,omitempty"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
}

type listSyncRunsResponse struct {
	Runs []syncRunResponse `json:"runs"`
}

type cancelSyncResponse struct {
	RunID   string `json:"run_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type listSourcesResponse struct {
	Sources []papersources.ProbeResult `json:"sources"`
}

// Converter functions

func domainPaperToResponse(p *domain.Paper, withBibTeX bool) paperResponse {
	resp := paperResponse{
		ID:            p.ID.String(),
		Identifiers:   p.Identifiers,
		Title:         p.Title,
		Authors:       p.Authors,
		Year:          p.Year,
		Journal:       p.Journal,
		Abstract:      p.Abstract,
		CitationCount: p.CitationCount,
		HasPDF:        p.HasPDF(),
		PDFSource:     string(p.PDFSource),
		LastSyncedAt:  p.LastSyncedAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if withBibTeX {
		resp.BibTeX = p.BibTeX
	}
	return resp
}

// runStateToResponse converts the runner's in-memory view of a run.
func runStateToResponse(st librarysync.RunState) syncRunResponse {
	resp := syncRunResponse{
		RunID:  st.RunID.String(),
		Status: string(st.Status),
		Active: !st.Status.IsTerminal(),
		Total:  st.Progress.Total,
		Error:  st.Error,
	}
	if resp.Active {
		progress := st.Progress
		resp.Progress = &progress
	}
	if sum := st.Summary; sum != nil {
		resp.Total = sum.Total
		resp.Updated = sum.Updated
		resp.Failed = sum.Failed
		resp.Skipped = sum.Skipped
		resp.ErrorCount = len(sum.Errors)
		resp.Errors = sum.Errors
		if !sum.StartedAt.IsZero() {
			started := sum.StartedAt
			resp.StartedAt = &started
		}
		if !sum.FinishedAt.IsZero() {
			finished := sum.FinishedAt
			resp.FinishedAt = &finished
		}
	}
	return resp
}

// domainRunToResponse converts a persisted run record.
func domainRunToResponse(run *domain.SyncRun) syncRunResponse {
	started := run.StartedAt
	return syncRunResponse{
		RunID:      run.ID.String(),
		Status:     string(run.Status),
		Active:     !run.Status.IsTerminal(),
		Total:      run.Total,
		Updated:    run.Updated,
		Failed:     run.Failed,
		Skipped:    run.Skipped,
		ErrorCount: run.ErrorCount,
		StartedAt:  &started,
		FinishedAt: run.FinishedAt,
	}
}
