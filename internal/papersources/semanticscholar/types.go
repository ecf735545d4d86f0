// Package semanticscholar locates open-access PDFs through the Semantic
// Scholar Graph API.
//
// API Documentation: https://api.semanticscholar.org/api-docs/
package semanticscholar

// PaperResult is the subset of a Graph API paper record the locator reads.
type PaperResult struct {
	// PaperID is the Semantic Scholar unique identifier for the paper.
	PaperID string `json:"paperId"`

	// Title is the title of the paper.
	Title string `json:"title"`

	// IsOpenAccess indicates whether the paper is open access.
	IsOpenAccess bool `json:"isOpenAccess"`

	// OpenAccessPDF contains information about the open access PDF if available.
	OpenAccessPDF *OpenAccessPDF `json:"openAccessPdf,omitempty"`

	// ExternalIDs contains external identifiers for the paper.
	ExternalIDs *ExternalIDs `json:"externalIds,omitempty"`
}

// ExternalIDs contains external identifiers for a paper.
type ExternalIDs struct {
	DOI   string `json:"DOI,omitempty"`
	ArXiv string `json:"ArXiv,omitempty"`
}

// OpenAccessPDF describes the open access copy Semantic Scholar knows about.
type OpenAccessPDF struct {
	// URL is the direct link to the PDF. May be empty even when the record exists.
	URL string `json:"url"`

	// Status is the open access status (e.g., "GREEN", "GOLD", "HYBRID").
	Status string `json:"status"`
}

// ErrorResponse is the error body returned by the API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
