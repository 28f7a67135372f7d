package intake

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned for documents that are neither a PDF nor
	// a supported image.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrDocumentTooLarge is returned when the document exceeds MaxDocumentSizeBytes.
	ErrDocumentTooLarge = errors.New("document exceeds maximum size limit")

	// ErrEmptyDocument is returned when no text could be read.
	ErrEmptyDocument = errors.New("document contains no readable text")

	// ErrProcessingFailed is returned when the extraction service fails.
	ErrProcessingFailed = errors.New("document processing failed")

	// ErrMissingCredentials is returned when Google Cloud credentials are not configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials")

	// ErrInvalidCredentials is returned when credentials lack permissions.
	ErrInvalidCredentials = errors.New("invalid Google Cloud credentials")

	// ErrInvalidConfiguration is returned when the Document AI configuration is incomplete.
	ErrInvalidConfiguration = errors.New("invalid Document AI configuration")

	// ErrProcessorNotFound is returned when the processor cannot be found.
	ErrProcessorNotFound = errors.New("Document AI processor not found")

	// ErrQuotaExceeded is returned when API quota limits are exceeded.
	ErrQuotaExceeded = errors.New("API quota exceeded")

	// ErrIncompleteDraft is returned when a draft lacks fields needed for a
	// create request.
	ErrIncompleteDraft = errors.New("draft is missing required fields")

	// ErrInvalidAmount is returned when an amount cannot be represented in
	// base units.
	ErrInvalidAmount = errors.New("invalid amount")
)

// ExtractionError wraps errors with the operation that failed.
type ExtractionError struct {
	Op      string
	Err     error
	Details string
}

func (e *ExtractionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func wrapError(op string, err error, details string) error {
	return &ExtractionError{Op: op, Err: err, Details: details}
}
