package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/repository"
)

// listPapers handles GET /papers.
// It returns a page of library papers, newest first. missing_pdf=true limits
// the page to papers without a stored PDF.
func (s *Server) listPapers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.PaperFilter{
		MissingPDF: r.URL.Query().Get("missing_pdf") == "true",
		Limit:      limit,
		Offset:     offset,
	}

	papers, err := s.deps.Papers.ListPapers(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]paperResponse, len(papers))
	for i, p := range papers {
		responses[i] = domainPaperToResponse(p, false)
	}

	writeJSON(w, http.StatusOK, listPapersResponse{
		Papers:        responses,
		NextPageToken: encodeHTTPPageToken(offset, limit, len(papers)),
	})
}

// getPaper handles GET /papers/{paperID}.
func (s *Server) getPaper(w http.ResponseWriter, r *http.Request) {
	paperID, ok := parseUUID(w, chi.URLParam(r, "paperID"), "paper_id")
	if !ok {
		return
	}

	paper, err := s.deps.Papers.GetPaper(r.Context(), paperID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainPaperToResponse(paper, true))
}

// listPaperLinks returns the handler for GET /papers/{paperID}/references
// and /citations.
func (s *Server) listPaperLinks(kind repository.LinkKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		paperID, ok := parseUUID(w, chi.URLParam(r, "paperID"), "paper_id")
		if !ok {
			return
		}

		// Verify the paper exists so an unknown id is a 404, not an empty list.
		if _, err := s.deps.Papers.GetPaper(ctx, paperID); err != nil {
			writeDomainError(w, err)
			return
		}

		records, err := s.deps.Papers.ListLinks(ctx, paperID, kind)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if records == nil {
			records = []domain.CandidateRecord{}
		}

		writeJSON(w, http.StatusOK, linksResponse{
			PaperID: paperID.String(),
			Kind:    kind,
			Records: records,
			Count:   len(records),
		})
	}
}
