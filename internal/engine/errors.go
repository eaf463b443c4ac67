package engine

import "errors"

var (
	// ErrDuplicateContent means the tenant already ingested this source.
	ErrDuplicateContent = errors.New("content already exists")
	// ErrQuotaExceeded means the tenant is at its content limit.
	ErrQuotaExceeded = errors.New("content quota exceeded")
	// ErrExtractionFailed means no usable text came out of the source.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrNotFound means the referenced content does not exist for the tenant.
	ErrNotFound = errors.New("content not found")
)

// User-facing rejection and fallback texts.
const (
	DuplicatePDFMessage = "PDF already exists."
	DuplicateURLMessage = "URL already exists."
	FallbackAnswer      = "I can't help with your question."
)
