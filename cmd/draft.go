package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoicechain/internal/config"
	"invoicechain/internal/intake"
	"invoicechain/internal/logger"
)

var draftCmd = &cobra.Command{
	Use:   "draft [bill-file]",
	Short: "Draft an invoice from a bill PDF or image",
	Long: `Read a bill document and extract the invoice number, total, currency and
due date. With --payer and --payee the draft is completed into a create
request; add --create to register it with the backend.

Amounts are converted to base units with TOKEN_DECIMALS (default 18).

Extractors:
  document-ai - Document AI invoice processor (needs DOCUMENT_AI_PROJECT_ID
                and DOCUMENT_AI_PROCESSOR_ID)
  vision      - Cloud Vision text detection with pattern matching

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string`,
	Example: `  # Show what can be read from a bill
  invoicechain invoices draft bill.pdf

  # Use Cloud Vision instead of Document AI
  invoicechain invoices draft bill.jpg --extractor vision

  # Complete and register the invoice
  invoicechain invoices draft bill.pdf --payer 0xb2... --payee 0xa1... --create`,
	Args: cobra.ExactArgs(1),
	RunE: runDraft,
}

type draftOutput struct {
	Draft   *intake.Draft `json:"draft"`
	Missing []string      `json:"missing,omitempty"`
	Request interface{}   `json:"request,omitempty"`
	Created interface{}   `json:"created,omitempty"`
}

func init() {
	invoicesCmd.AddCommand(draftCmd)

	draftCmd.Flags().String("extractor", "document-ai", "Extractor to use: document-ai or vision")
	draftCmd.Flags().String("payer", "", "Payer address")
	draftCmd.Flags().String("payee", "", "Payee address")
	draftCmd.Flags().Bool("create", false, "Create the invoice in the backend")
}

func runDraft(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("draft")

	extractorName, _ := cmd.Flags().GetString("extractor")
	payer, _ := cmd.Flags().GetString("payer")
	payee, _ := cmd.Flags().GetString("payee")
	create, _ := cmd.Flags().GetBool("create")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	if create && (payer == "" || payee == "") {
		return fmt.Errorf("--create requires --payer and --payee")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open bill: %w", err)
	}
	defer file.Close()

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	extractor, err := newExtractor(ctx, cfg, extractorName)
	if err != nil {
		return handleIntakeError(err, log)
	}
	defer func() {
		if closeErr := extractor.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close extractor")
		}
	}()

	draft, err := extractor.Extract(ctx, file)
	if err != nil {
		return handleIntakeError(err, log)
	}
	out := draftOutput{Draft: draft, Missing: draft.Missing()}

	if payer != "" && payee != "" {
		req, err := draft.Request(payer, payee, int(cfg.TokenDecimals))
		if err != nil {
			_ = printJSON(out)
			return handleIntakeError(err, log)
		}
		out.Request = req

		if create {
			if err := cfg.ValidateBackend(); err != nil {
				return err
			}
			client, err := newBackendClient(cfg)
			if err != nil {
				return err
			}
			created, err := client.Create(ctx, req)
			if err != nil {
				return handlePipelineError(err, log)
			}
			out.Created = created
			log.Info().Str("invoice_id", created.ID).Str("invoice_number", created.InvoiceNumber).Msg("Invoice created from bill")
		}
	}

	return printJSON(out)
}

func newExtractor(ctx context.Context, cfg *config.Config, name string) (intake.Extractor, error) {
	switch name {
	case "document-ai":
		if err := cfg.ValidateDocumentAI(); err != nil {
			return nil, err
		}
		return intake.NewDocumentAIExtractor(ctx, intake.DocumentAIConfig{
			ProjectID:   cfg.DocumentAIProjectID,
			Location:    cfg.DocumentAILocation,
			ProcessorID: cfg.DocumentAIProcessorID,
			Timeout:     intake.DefaultConfig().Timeout,
		})
	case "vision":
		return intake.NewVisionExtractor(ctx)
	default:
		return nil, fmt.Errorf("unknown extractor %q (use document-ai or vision)", name)
	}
}

// handleIntakeError provides user-friendly messages for extraction failures.
func handleIntakeError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Bill intake failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("processing timed out. Try increasing --timeout")
	case errors.Is(err, intake.ErrMissingCredentials):
		return fmt.Errorf("missing Google Cloud credentials. Please set one of:\n" +
			"  GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n" +
			"  GOOGLE_CREDENTIALS='<json-credentials>'\n" +
			"Original error: %w", err)
	case errors.Is(err, intake.ErrInvalidCredentials):
		return fmt.Errorf("permission denied. Please ensure your service account can use the API")
	case errors.Is(err, intake.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported bill format. Use a PDF (up to 5 pages for vision) or PNG/JPEG/GIF/WEBP image")
	case errors.Is(err, intake.ErrDocumentTooLarge):
		return fmt.Errorf("bill is too large (maximum 20MB)")
	case errors.Is(err, intake.ErrProcessorNotFound):
		return fmt.Errorf("Document AI processor not found. Please check DOCUMENT_AI_PROCESSOR_ID")
	case errors.Is(err, intake.ErrQuotaExceeded):
		return fmt.Errorf("API quota exceeded. Check your project quotas in Google Cloud Console")
	case errors.Is(err, intake.ErrIncompleteDraft), errors.Is(err, intake.ErrInvalidAmount):
		return fmt.Errorf("the draft cannot be completed: %w", err)
	default:
		return fmt.Errorf("bill intake failed: %w", err)
	}
}
