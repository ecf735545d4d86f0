package ads

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SearchResponse is the envelope returned by /search/query.
type SearchResponse struct {
	Response struct {
		NumFound int   `json:"numFound"`
		Start    int   `json:"start"`
		Docs     []Doc `json:"docs"`
	} `json:"response"`
}

// Doc is one record in a search response. Only the fields the service
// consumes are decoded.
type Doc struct {
	Bibcode       string   `json:"bibcode"`
	Title         []string `json:"title"`
	Author        []string `json:"author"`
	Year          string   `json:"year"`
	Pub           string   `json:"pub"`
	DOI           []string `json:"doi"`
	Identifier    []string `json:"identifier"`
	CitationCount int      `json:"citation_count"`
	Abstract      string   `json:"abstract"`
}

// ExportRequest is the body sent to /export/bibtex.
type ExportRequest struct {
	Bibcode []string `json:"bibcode"`
}

// ExportResponse is returned by /export/bibtex.
type ExportResponse struct {
	Msg    string `json:"msg"`
	Export string `json:"export"`
}

// ResolverResponse is returned by /resolver/{bibcode}/esource. A single
// link comes back as a redirect; several come back as a display list.
type ResolverResponse struct {
	Action   string `json:"action"`
	Link     string `json:"link"`
	LinkType string `json:"link_type"`
	Links    struct {
		Count   int `json:"count"`
		Records []struct {
			Title    string `json:"title"`
			URL      string `json:"url"`
			LinkType string `json:"link_type"`
		} `json:"records"`
	} `json:"links"`
}

// errorResponse covers both {"error": "msg"} and {"error": {"msg": "..."}}.
type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

func (e errorResponse) message() string {
	if len(e.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(e.Error, &obj); err == nil {
		return obj.Msg
	}
	return ""
}

// year parses the string year ADS returns. Unparseable years become 0.
func (d Doc) year() int {
	y, err := strconv.Atoi(strings.TrimSpace(d.Year))
	if err != nil {
		return 0
	}
	return y
}

// arXivID extracts the preprint id from the identifier list ("arXiv:1905.01234").
func (d Doc) arXivID() string {
	for _, id := range d.Identifier {
		if len(id) > 6 && strings.EqualFold(id[:6], "arxiv:") {
			return id[6:]
		}
	}
	return ""
}
