package sheets

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"invoicechain/internal/journal"
	"invoicechain/internal/logger"
	"invoicechain/pkg/models"
)

// Service handles Google Sheets operations
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	log           zerolog.Logger
}

var (
	divergenceHeaders = []interface{}{
		"Correlation ID", "Kind", "Invoice ID", "Invoice Number", "Tx Hash",
		"Backend Status", "Error", "Recorded At", "Retries", "Last Error",
	}
	invoiceHeaders = []interface{}{
		"Invoice ID", "Invoice Number", "Payer", "Payee", "Amount",
		"Currency", "Due Date", "Status", "Token Batch", "Exported At",
	}
)

// NewSheetsService creates a new Google Sheets service
func NewSheetsService(ctx context.Context, sheetURL string) (*Service, error) {
	const op = "NewSheetsService"

	// Get Google credentials
	var creds []byte
	var err error
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	return NewSheetsServiceWithOptions(ctx, sheetURL, option.WithHTTPClient(config.Client(ctx)))
}

// NewSheetsServiceWithOptions creates a service with explicit client options.
func NewSheetsServiceWithOptions(ctx context.Context, sheetURL string, opts ...option.ClientOption) (*Service, error) {
	const op = "NewSheetsServiceWithOptions"

	log := logger.WithComponent("sheets")

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}
	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	sheetsService, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		log:           log,
	}, nil
}

// extractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
func extractSpreadsheetID(url string) (string, error) {
	re := regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)
	matches := re.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// WriteDivergences appends journal entries to sheetName.
func (s *Service) WriteDivergences(ctx context.Context, entries []journal.Entry, sheetName string) error {
	const op = "WriteDivergences"

	values := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		values = append(values, divergenceToValues(e))
	}
	if err := s.appendRows(ctx, sheetName, divergenceHeaders, values); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// WriteInvoices appends an invoice snapshot to sheetName.
func (s *Service) WriteInvoices(ctx context.Context, invoices []models.Invoice, sheetName string) error {
	const op = "WriteInvoices"

	exportedAt := time.Now().UTC().Format(time.RFC3339)
	values := make([][]interface{}, 0, len(invoices))
	for _, inv := range invoices {
		values = append(values, invoiceToValues(inv, exportedAt))
	}
	if err := s.appendRows(ctx, sheetName, invoiceHeaders, values); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ExportedIDs returns the values of column A below the header, so callers can
// skip rows already exported.
func (s *Service) ExportedIDs(ctx context.Context, sheetName string) (map[string]bool, error) {
	const op = "ExportedIDs"

	if err := s.ensureSheetWithHeaders(ctx, sheetName, divergenceHeaders); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	values, err := s.ReadRange(ctx, sheetName+"!A:A")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids := make(map[string]bool, len(values))
	for i, row := range values {
		if i == 0 || len(row) == 0 {
			continue
		}
		ids[fmt.Sprint(row[0])] = true
	}
	return ids, nil
}

func (s *Service) appendRows(ctx context.Context, sheetName string, headers []interface{}, values [][]interface{}) error {
	s.log.Info().
		Str("sheet", sheetName).
		Int("rows", len(values)).
		Msg("Writing rows to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx, sheetName, headers); err != nil {
		return fmt.Errorf("failed to ensure sheet exists: %w", err)
	}
	if len(values) == 0 {
		return nil
	}

	valueRange := &sheets.ValueRange{Values: values}
	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		fmt.Sprintf("%s!A:%s", sheetName, columnLetter(len(headers))),
		valueRange,
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append values to sheet: %w", err)
	}

	s.log.Info().
		Int("rows_written", len(values)).
		Msg("Successfully wrote rows to Google Sheet")
	return nil
}

func divergenceToValues(e journal.Entry) []interface{} {
	return []interface{}{
		e.ID,                                    // A: Correlation ID
		string(e.Kind),                          // B: Kind
		e.InvoiceID,                             // C: Invoice ID
		e.InvoiceNumber,                         // D: Invoice Number
		e.TxHash,                                // E: Tx Hash
		e.BackendStatus,                         // F: Backend Status
		e.Error,                                 // G: Error
		e.RecordedAt.UTC().Format(time.RFC3339), // H: Recorded At
		e.Retries,                               // I: Retries
		e.LastError,                             // J: Last Error
	}
}

func invoiceToValues(inv models.Invoice, exportedAt string) []interface{} {
	due := ""
	if t := inv.DueTime(); !t.IsZero() {
		due = t.Format("2006-01-02")
	}
	return []interface{}{
		inv.ID,
		inv.InvoiceNumber,
		inv.Payer,
		inv.Payee,
		// Amounts exceed float precision; keep them as text.
		inv.Amount.String(),
		inv.Currency,
		due,
		string(inv.Status),
		inv.TokenBatch,
		exportedAt,
	}
}

// ensureSheetWithHeaders ensures the sheet exists and has proper headers
func (s *Service) ensureSheetWithHeaders(ctx context.Context, sheetName string, headers []interface{}) error {
	const op = "ensureSheetWithHeaders"

	sheetID, err := s.sheetID(ctx, sheetName)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", sheetName, columnLetter(len(headers)))
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}

	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		s.log.Info().Str("sheet", sheetName).Msg("Adding headers to sheet")

		valueRange := &sheets.ValueRange{Values: [][]interface{}{headers}}
		_, err = s.sheetsService.Spreadsheets.Values.Update(
			s.spreadsheetID,
			headerRange,
			valueRange,
		).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to add headers: %w", op, err)
		}

		if err := s.formatHeaders(ctx, sheetID, int64(len(headers))); err != nil {
			s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
		}
	}

	return nil
}

// sheetID returns the id of the worksheet titled sheetName, adding it when
// the spreadsheet has none.
func (s *Service) sheetID(ctx context.Context, sheetName string) (int64, error) {
	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get spreadsheet: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == sheetName {
			return sheet.Properties.SheetId, nil
		}
	}

	s.log.Info().Str("sheet", sheetName).Msg("Creating worksheet")
	add := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{
		{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
	}}
	resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, add).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to create sheet %q: %w", sheetName, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil {
		return 0, fmt.Errorf("no reply for new sheet %q", sheetName)
	}
	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}

// formatHeaders makes the header row bold and resizes the columns
func (s *Service) formatHeaders(ctx context.Context, sheetID, columns int64) error {
	const op = "formatHeaders"

	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
	if _, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}
	return nil
}

// ReadRange reads values from a specified range in the spreadsheet
func (s *Service) ReadRange(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	const op = "ReadRange"

	s.log.Debug().Str("range", rangeSpec).Msg("Reading range from spreadsheet")

	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, rangeSpec).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read range %s: %w", op, rangeSpec, err)
	}

	s.log.Debug().
		Int("rows", len(resp.Values)).
		Str("range", rangeSpec).
		Msg("Successfully read range from spreadsheet")

	return resp.Values, nil
}

// columnLetter maps 1 to A, 26 to Z.
func columnLetter(n int) string {
	if n < 1 {
		n = 1
	}
	if n > 26 {
		n = 26
	}
	return string(rune('A' + n - 1))
}
