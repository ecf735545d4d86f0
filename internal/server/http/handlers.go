package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/papersources"
)

// Pagination constants.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// resolvePaper handles POST /resolve.
func (s *Server) resolvePaper(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	match, err := s.deps.Resolver.Resolve(r.Context(), req.query())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if match == nil {
		writeError(w, http.StatusNotFound, "no matching record")
		return
	}
	writeJSON(w, http.StatusOK, match)
}

// previewPDF handles POST /preview. The PDF comes from the ephemeral cache
// and is never written to the library.
func (s *Server) previewPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req previewRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	paper := &domain.Paper{Identifiers: req.identifiers()}
	if req.PaperID != "" {
		id, _ := uuid.Parse(req.PaperID)
		stored, err := s.deps.Papers.GetPaper(ctx, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		paper = stored
	}
	if paper.Identifiers.IsEmpty() {
		writeError(w, http.StatusBadRequest, "one of paper_id, bibcode, doi or arxiv_id is required")
		return
	}

	res, err := s.deps.Cache.DownloadForPaper(ctx, paper, s.proxyPrefix, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	cacheStatus := "MISS"
	if res.Cached {
		cacheStatus = "HIT"
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-PDF-Source", string(res.Source))
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

// cacheStats handles GET /cache/stats.
func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

// clearCache handles DELETE /cache.
func (s *Server) clearCache(w http.ResponseWriter, _ *http.Request) {
	s.deps.Cache.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// listSources handles GET /sources by probing every configured service.
func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	results := s.deps.Sources.ProbeAll(r.Context())
	if results == nil {
		results = []papersources.ProbeResult{}
	}
	writeJSON(w, http.StatusOK, listSourcesResponse{Sources: results})
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	// Aggregate failures wrap each source's cause, so they are matched first.
	switch {
	case errors.Is(err, domain.ErrAllSourcesFailed):
		writeError(w, http.StatusBadGateway, "no source yielded a valid PDF")
	case errors.Is(err, domain.ErrNotFound):
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, nf.Entity+" not found")
		} else {
			writeError(w, http.StatusNotFound, "resource not found")
		}
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrNoIdentifier):
		writeError(w, http.StatusBadRequest, "paper has no identifier")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusBadGateway, "upstream service rejected credentials")
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, librarysync.ErrRunnerClosed):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, "operation cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "operation timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token. A
// short page means there is nothing more to fetch.
func encodeHTTPPageToken(offset, limit, returned int) string {
	if returned < limit {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset + limit)))
}
