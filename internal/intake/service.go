// Package intake drafts new invoices from bill documents.
//
// An Extractor reads a PDF or image of a bill and returns a Draft holding the
// invoice number, parties, total, currency and due date it could find. The
// operator completes the draft with on-chain addresses and the token's
// decimals before it becomes a CreateInvoiceRequest.
//
// Two extractors are provided:
//   - DocumentAIExtractor sends the document to a Document AI invoice
//     processor and reads its typed entities.
//   - VisionExtractor runs Cloud Vision text detection and pattern-matches the
//     text. It needs no processor and works on any bill layout, with lower
//     confidence.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - DOCUMENT_AI_PROJECT_ID, DOCUMENT_AI_LOCATION, DOCUMENT_AI_PROCESSOR_ID
//     (Document AI only)
//
// Limits: documents up to 20MB; Vision processes at most 5 PDF pages
// synchronously.
package intake

import (
	"context"
	"io"
	"os"
	"time"

	"google.golang.org/api/option"
)

// Extractor drafts an invoice from a bill document.
type Extractor interface {
	Extract(ctx context.Context, document io.Reader) (*Draft, error)
	Close() error
}

// DocumentAIConfig holds configuration for Document AI processing.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location ("us", "eu").
	Location string

	// ProcessorID is the invoice processor ID.
	ProcessorID string

	// ProcessorVersion pins a processor version. Empty uses the default.
	ProcessorVersion string

	// Timeout bounds one processing call. Default: 60 seconds.
	Timeout time.Duration
}

// DefaultConfig returns a DocumentAIConfig with defaults applied.
func DefaultConfig() DocumentAIConfig {
	return DocumentAIConfig{
		Location: "us",
		Timeout:  60 * time.Second,
	}
}

// credentialOptions returns client options for the credentials found in the
// environment. Empty means application default credentials.
func credentialOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}
