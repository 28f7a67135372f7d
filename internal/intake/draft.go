package intake

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"invoicechain/pkg/models"
)

// MaxDocumentSizeBytes is the largest document accepted for synchronous processing.
const MaxDocumentSizeBytes = 20 * 1024 * 1024

// Draft is what an extractor could read from a bill.
type Draft struct {
	InvoiceNumber string             `json:"invoice_number,omitempty"`
	Supplier      string             `json:"supplier,omitempty"`
	Customer      string             `json:"customer,omitempty"`
	IssueDate     time.Time          `json:"issue_date,omitempty"`
	DueDate       time.Time          `json:"due_date,omitempty"`
	Total         string             `json:"total,omitempty"` // decimal, e.g. "1234.50"
	Currency      string             `json:"currency,omitempty"`
	Confidence    map[string]float32 `json:"confidence,omitempty"`
	Source        string             `json:"source"`
}

// Missing lists the fields a create request needs that the draft lacks.
func (d *Draft) Missing() []string {
	var missing []string
	if d.Total == "" {
		missing = append(missing, "total")
	}
	if d.DueDate.IsZero() {
		missing = append(missing, "due_date")
	}
	if d.Currency == "" {
		missing = append(missing, "currency")
	}
	return missing
}

// Request completes the draft into a create request. The total is scaled to
// base units using decimals.
func (d *Draft) Request(payer, payee string, decimals int) (models.CreateInvoiceRequest, error) {
	const op = "Request"

	if missing := d.Missing(); len(missing) > 0 {
		return models.CreateInvoiceRequest{}, fmt.Errorf("%s: %w: %s", op, ErrIncompleteDraft, strings.Join(missing, ", "))
	}
	if !common.IsHexAddress(payer) || !common.IsHexAddress(payee) {
		return models.CreateInvoiceRequest{}, fmt.Errorf("%s: payer and payee must be hex addresses", op)
	}
	amount, err := ToBaseUnits(d.Total, decimals)
	if err != nil {
		return models.CreateInvoiceRequest{}, fmt.Errorf("%s: %w", op, err)
	}
	return models.CreateInvoiceRequest{
		Payee:    payee,
		Payer:    payer,
		Amount:   amount,
		DueDate:  d.DueDate.Unix(),
		Currency: d.Currency,
	}, nil
}

var decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ToBaseUnits converts a decimal amount to integer base units. Fractions finer
// than decimals are rejected rather than rounded.
func ToBaseUnits(value string, decimals int) (models.Amount, error) {
	value = strings.TrimSpace(value)
	if !decimalPattern.MatchString(value) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if decimals < 0 || decimals > 36 {
		return "", fmt.Errorf("%w: unsupported decimals %d", ErrInvalidAmount, decimals)
	}

	whole, frac, _ := strings.Cut(value, ".")
	frac = strings.TrimRight(frac, "0")
	if len(frac) > decimals {
		return "", fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, value, decimals)
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", decimals-len(frac)), "0")
	if digits == "" {
		digits = "0"
	}

	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return models.Amount(v.Dec()), nil
}

// normalizeAmount turns a printed amount ("1.234,50 €", "$1,234.50") into a
// plain decimal string.
func normalizeAmount(text string) (string, error) {
	cleaned := strings.TrimSpace(text)
	for _, s := range []string{" ", "\u00a0", "€", "$", "£", "EUR", "USD", "GBP"} {
		cleaned = strings.ReplaceAll(cleaned, s, "")
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		// The separator that appears last is the decimal one.
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	if !decimalPattern.MatchString(cleaned) {
		return "", fmt.Errorf("%w: cannot parse %q", ErrInvalidAmount, text)
	}
	return cleaned, nil
}

// moneyToDecimal renders units plus nanos as a decimal string.
func moneyToDecimal(units int64, nanos int32) (string, error) {
	if units < 0 || nanos < 0 {
		return "", fmt.Errorf("%w: negative amount", ErrInvalidAmount)
	}
	if nanos == 0 {
		return fmt.Sprintf("%d", units), nil
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", nanos), "0")
	return fmt.Sprintf("%d.%s", units, frac), nil
}

func normalizeCurrency(currency string) string {
	normalized := strings.ToUpper(strings.TrimSpace(currency))
	switch normalized {
	case "":
		return ""
	case "€", "EURO", "EUROS":
		return "EUR"
	case "$", "US$", "DOLLAR", "DOLLARS":
		return "USD"
	case "£", "POUND", "POUNDS":
		return "GBP"
	case "¥", "YEN", "RMB", "YUAN", "元":
		return "CNY"
	}
	if len(normalized) >= 3 && len(normalized) <= 5 && strings.IndexFunc(normalized, func(r rune) bool { return r < 'A' || r > 'Z' }) < 0 {
		return normalized
	}
	return ""
}

var dateFormats = []string{
	"2006-01-02",
	"02.01.2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

func parseDate(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	for _, format := range dateFormats {
		if date, err := time.Parse(format, text); err == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", text)
}

// readDocument reads a document and reports its MIME type.
func readDocument(op string, r io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSizeBytes+1))
	if err != nil {
		return nil, "", wrapError(op, err, "failed to read document")
	}
	if len(data) > MaxDocumentSizeBytes {
		return nil, "", wrapError(op, ErrDocumentTooLarge, fmt.Sprintf("limit is %d bytes", MaxDocumentSizeBytes))
	}
	if len(data) == 0 {
		return nil, "", wrapError(op, ErrEmptyDocument, "empty input")
	}

	mimeType := http.DetectContentType(data)
	switch mimeType {
	case "application/pdf", "image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp":
		return data, mimeType, nil
	default:
		return nil, "", wrapError(op, ErrUnsupportedFormat, mimeType)
	}
}
