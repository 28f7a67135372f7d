package intake

import (
	"context"
	"fmt"
	"io"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"invoicechain/internal/logger"
)

// MaxPagesSync is the most PDF pages Vision annotates synchronously.
const MaxPagesSync = 5

// VisionExtractor drafts invoices from Cloud Vision text detection.
type VisionExtractor struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewVisionExtractor connects to Cloud Vision. Credentials come from the
// environment unless opts supplies them.
func NewVisionExtractor(ctx context.Context, opts ...option.ClientOption) (*VisionExtractor, error) {
	const op = "NewVisionExtractor"

	client, err := vision.NewImageAnnotatorClient(ctx, append(credentialOptions(), opts...)...)
	if err != nil {
		return nil, wrapError(op, ErrMissingCredentials, err.Error())
	}
	return &VisionExtractor{client: client, log: logger.WithComponent("vision")}, nil
}

// Extract detects the document text and pattern-matches invoice fields.
func (v *VisionExtractor) Extract(ctx context.Context, document io.Reader) (*Draft, error) {
	const op = "Extract"

	content, mimeType, err := readDocument(op, document)
	if err != nil {
		return nil, err
	}

	var text string
	if mimeType == "application/pdf" {
		text, err = v.annotatePDF(ctx, content)
	} else {
		text, err = v.annotateImage(ctx, content)
	}
	if err != nil {
		return nil, wrapError(op, err, mimeType)
	}
	if strings.TrimSpace(text) == "" {
		return nil, wrapError(op, ErrEmptyDocument, mimeType)
	}

	draft := draftFromText(text)
	draft.Source = "vision"
	v.log.Info().
		Str("invoice_number", draft.InvoiceNumber).
		Str("total", draft.Total).
		Strs("missing", draft.Missing()).
		Int("text_length", len(text)).
		Msg("Vision extraction completed")
	return draft, nil
}

func (v *VisionExtractor) annotatePDF(ctx context.Context, content []byte) (string, error) {
	resp, err := v.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{Content: content, MimeType: "application/pdf"},
			Features:    []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	if len(resp.GetResponses()) == 0 {
		return "", fmt.Errorf("%w: no response from Vision API", ErrProcessingFailed)
	}

	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil {
		return "", fmt.Errorf("%w: %s", ErrProcessingFailed, fileResp.GetError().GetMessage())
	}
	if n := len(fileResp.GetResponses()); n > MaxPagesSync {
		return "", fmt.Errorf("%w: document has %d pages", ErrUnsupportedFormat, n)
	}

	var text strings.Builder
	for i, page := range fileResp.GetResponses() {
		if page.GetError() != nil {
			return "", fmt.Errorf("%w: page %d: %s", ErrProcessingFailed, i+1, page.GetError().GetMessage())
		}
		if i > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(page.GetFullTextAnnotation().GetText())
	}
	return text.String(), nil
}

func (v *VisionExtractor) annotateImage(ctx context.Context, content []byte) (string, error) {
	resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: content},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	if len(resp.GetResponses()) == 0 {
		return "", fmt.Errorf("%w: no response from Vision API", ErrProcessingFailed)
	}
	imgResp := resp.GetResponses()[0]
	if imgResp.GetError() != nil {
		return "", fmt.Errorf("%w: %s", ErrProcessingFailed, imgResp.GetError().GetMessage())
	}
	return imgResp.GetFullTextAnnotation().GetText(), nil
}

// Close closes the underlying client.
func (v *VisionExtractor) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
