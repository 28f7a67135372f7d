package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"invoicechain/internal/logger"
)

// DocumentAIExtractor drafts invoices with a Document AI invoice processor.
type DocumentAIExtractor struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIExtractor connects to Document AI. Credentials come from the
// environment unless opts supplies them.
func NewDocumentAIExtractor(ctx context.Context, config DocumentAIConfig, opts ...option.ClientOption) (*DocumentAIExtractor, error) {
	const op = "NewDocumentAIExtractor"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, wrapError(op, ErrInvalidConfiguration, "project id and processor id are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	clientOptions := credentialOptions()
	if config.Location != "us" {
		clientOptions = append(clientOptions, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)))
	}
	clientOptions = append(clientOptions, opts...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, wrapError(op, ErrMissingCredentials, err.Error())
	}

	return &DocumentAIExtractor{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}, nil
}

// Extract processes the document and reads the invoice entities.
func (p *DocumentAIExtractor) Extract(ctx context.Context, document io.Reader) (*Draft, error) {
	const op = "Extract"

	content, mimeType, err := readDocument(op, document)
	if err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.ProcessDocument(processCtx, &documentaipb.ProcessRequest{
		Name: p.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return nil, p.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, wrapError(op, ErrProcessingFailed, "no document in response")
	}

	draft := draftFromDocument(resp.GetDocument(), p.log)
	p.log.Info().
		Str("invoice_number", draft.InvoiceNumber).
		Str("total", draft.Total).
		Str("currency", draft.Currency).
		Strs("missing", draft.Missing()).
		Msg("Document AI extraction completed")
	return draft, nil
}

func (p *DocumentAIExtractor) processorName() string {
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
	if p.config.ProcessorVersion != "" {
		name += "/processorVersions/" + p.config.ProcessorVersion
	}
	return name
}

func (p *DocumentAIExtractor) handleProcessingError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return wrapError(op, err, "processing interrupted")
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return wrapError(op, ErrInvalidCredentials, err.Error())
	case codes.ResourceExhausted:
		return wrapError(op, ErrQuotaExceeded, err.Error())
	case codes.NotFound:
		return wrapError(op, ErrProcessorNotFound, p.config.ProcessorID)
	case codes.InvalidArgument:
		return wrapError(op, ErrUnsupportedFormat, err.Error())
	case codes.DeadlineExceeded:
		return wrapError(op, context.DeadlineExceeded, "processing timeout")
	default:
		return wrapError(op, ErrProcessingFailed, err.Error())
	}
}

// Close closes the underlying client.
func (p *DocumentAIExtractor) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// draftFromDocument reads invoice entities. Fields the processor missed are
// looked up in the document text.
func draftFromDocument(doc *documentaipb.Document, log zerolog.Logger) *Draft {
	draft := &Draft{Source: "document-ai", Confidence: make(map[string]float32)}

	for _, entity := range doc.GetEntities() {
		value := strings.TrimSpace(entity.GetMentionText())
		log.Debug().
			Str("entity_type", entity.GetType()).
			Str("value", value).
			Float32("confidence", entity.GetConfidence()).
			Msg("Processing Document AI entity")

		switch entity.GetType() {
		case "invoice_id", "invoice_number":
			draft.InvoiceNumber = value
		case "supplier_name", "vendor_name":
			draft.Supplier = value
		case "receiver_name", "buyer_name", "customer_name":
			draft.Customer = value
		case "invoice_date":
			if date, err := entityDate(entity); err == nil {
				draft.IssueDate = date
			}
		case "due_date":
			if date, err := entityDate(entity); err == nil {
				draft.DueDate = date
			}
		case "total_amount", "gross_amount":
			total, currency, err := entityMoney(entity)
			if err != nil {
				log.Warn().Err(err).Str("raw_value", value).Msg("Failed to read total amount")
				continue
			}
			draft.Total = total
			if currency != "" && draft.Currency == "" {
				draft.Currency = currency
			}
		case "currency":
			if c := normalizeCurrency(value); c != "" {
				draft.Currency = c
			}
		default:
			continue
		}
		draft.Confidence[entity.GetType()] = entity.GetConfidence()
	}

	if text := doc.GetText(); text != "" {
		fallback := draftFromText(text)
		if draft.InvoiceNumber == "" && fallback.InvoiceNumber != "" {
			draft.InvoiceNumber = fallback.InvoiceNumber
			draft.Confidence["invoice_number_fallback"] = textConfidence
		}
		if draft.Total == "" && fallback.Total != "" {
			draft.Total = fallback.Total
			draft.Confidence["total_amount_fallback"] = textConfidence
		}
		if draft.DueDate.IsZero() && !fallback.DueDate.IsZero() {
			draft.DueDate = fallback.DueDate
			draft.Confidence["due_date_fallback"] = textConfidence
		}
		if draft.Currency == "" {
			draft.Currency = fallback.Currency
		}
	}
	return draft
}

func entityDate(entity *documentaipb.Document_Entity) (time.Time, error) {
	if d := entity.GetNormalizedValue().GetDateValue(); d != nil && d.GetYear() > 0 {
		return time.Date(int(d.GetYear()), time.Month(d.GetMonth()), int(d.GetDay()), 0, 0, 0, 0, time.UTC), nil
	}
	return parseDate(entity.GetMentionText())
}

func entityMoney(entity *documentaipb.Document_Entity) (string, string, error) {
	if m := entity.GetNormalizedValue().GetMoneyValue(); m != nil {
		total, err := moneyToDecimal(m.GetUnits(), m.GetNanos())
		return total, normalizeCurrency(m.GetCurrencyCode()), err
	}
	total, err := normalizeAmount(entity.GetMentionText())
	return total, normalizeCurrency(currencyPattern.FindString(entity.GetMentionText())), err
}
