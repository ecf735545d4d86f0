package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/repository"
	"github.com/helixir/paper-sync-service/internal/resolver"
)

// maxRequestBodySize caps JSON request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// resolveRequest is the JSON body of POST /resolve.
type resolveRequest struct {
	Title       string `json:"title" validate:"required_without=FirstAuthor,max=2000"`
	FirstAuthor string `json:"first_author" validate:"max=500"`
	Year        int    `json:"year" validate:"omitempty,min=1000,max=3000"`
	Journal     string `json:"journal" validate:"max=500"`
}

func (r resolveRequest) query() resolver.Query {
	return resolver.Query{
		Title:       strings.TrimSpace(r.Title),
		FirstAuthor: strings.TrimSpace(r.FirstAuthor),
		Year:        r.Year,
		Journal:     strings.TrimSpace(r.Journal),
	}
}

// syncRequest is the JSON body of POST /sync. An empty PaperIDs list
// selects from the whole library.
type syncRequest struct {
	PaperIDs       []string `json:"paper_ids" validate:"max=1000,dive,uuid"`
	MissingPDFOnly bool     `json:"missing_pdf_only"`
	Limit          int      `json:"limit" validate:"omitempty,min=1,max=1000"`
	DownloadPDFs   *bool    `json:"download_pdfs"`
}

func (r syncRequest) selection() (repository.SyncSelection, error) {
	ids, err := repository.ParsePaperIDs(r.PaperIDs)
	if err != nil {
		return repository.SyncSelection{}, err
	}
	return repository.SyncSelection{
		PaperIDs:       ids,
		MissingPDFOnly: r.MissingPDFOnly,
		Limit:          r.Limit,
	}, nil
}

// previewRequest is the JSON body of POST /preview. Either a stored paper
// or at least one identifier must be given.
type previewRequest struct {
	PaperID string `json:"paper_id" validate:"omitempty,uuid"`
	Bibcode string `json:"bibcode" validate:"max=64"`
	DOI     string `json:"doi" validate:"max=256"`
	ArXivID string `json:"arxiv_id" validate:"max=64"`
}

func (r previewRequest) identifiers() domain.Identifiers {
	return domain.Identifiers{Bibcode: r.Bibcode, DOI: r.DOI, ArXivID: r.ArXivID}.Normalize()
}

// newValidator returns a validator that reports JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads, decodes and validates a JSON request body into dst,
// writing a 400 response and returning false on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage renders the first field error without echoing the value.
func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required_without":
		return fmt.Sprintf("%s is required when %s is empty", field, jsonName(fe.Param()))
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// jsonName maps a Go field name used in a validator param to its JSON key.
func jsonName(goName string) string {
	var b strings.Builder
	for i, r := range goName {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
