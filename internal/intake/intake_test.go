package intake

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/type/date"
	"google.golang.org/genproto/googleapis/type/money"

	"invoicechain/pkg/models"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		value    string
		decimals int
		want     models.Amount
		wantErr  bool
	}{
		{"1234.50", 6, "1234500000", false},
		{"0.5", 18, "500000000000000000", false},
		{"100", 0, "100", false},
		{"1.230", 2, "123", false},
		{"0", 6, "0", false},
		{"1.234", 2, "", true},
		{"-1", 6, "", true},
		{"1e3", 6, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ToBaseUnits(tt.value, tt.decimals)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAmount(t *testing.T) {
	cases := map[string]string{
		"7.303,08 €": "7303.08",
		"$1,234.50":  "1234.50",
		"1234,5":     "1234.5",
		"1,234,567":  "1234567",
		"EUR 99":     "99",
	}
	for in, want := range cases {
		got, err := normalizeAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := normalizeAmount("n/a")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDraftFromDocument(t *testing.T) {
	doc := &documentaipb.Document{
		Entities: []*documentaipb.Document_Entity{
			{Type: "invoice_id", MentionText: "INV-1001", Confidence: 0.98},
			{Type: "supplier_name", MentionText: "Acme Trading", Confidence: 0.9},
			{
				Type:        "total_amount",
				MentionText: "1.234,50 €",
				Confidence:  0.95,
				NormalizedValue: &documentaipb.Document_Entity_NormalizedValue{
					StructuredValue: &documentaipb.Document_Entity_NormalizedValue_MoneyValue{
						MoneyValue: &money.Money{CurrencyCode: "EUR", Units: 1234, Nanos: 500000000},
					},
				},
			},
			{
				Type:        "due_date",
				MentionText: "31.12.2025",
				Confidence:  0.9,
				NormalizedValue: &documentaipb.Document_Entity_NormalizedValue{
					StructuredValue: &documentaipb.Document_Entity_NormalizedValue_DateValue{
						DateValue: &date.Date{Year: 2025, Month: 12, Day: 31},
					},
				},
			},
		},
	}

	draft := draftFromDocument(doc, zerolog.Nop())
	assert.Equal(t, "INV-1001", draft.InvoiceNumber)
	assert.Equal(t, "Acme Trading", draft.Supplier)
	assert.Equal(t, "1234.5", draft.Total)
	assert.Equal(t, "EUR", draft.Currency)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), draft.DueDate)
	assert.Empty(t, draft.Missing())
	assert.InDelta(t, 0.98, draft.Confidence["invoice_id"], 0.001)
}

func TestDraftFromDocumentFallsBackToText(t *testing.T) {
	doc := &documentaipb.Document{
		Text: "ACME\nInvoice No: 2025-0042\nDue date: 2026-01-15\n",
		Entities: []*documentaipb.Document_Entity{
			{Type: "total_amount", MentionText: "USD 500.00"},
		},
	}

	draft := draftFromDocument(doc, zerolog.Nop())
	assert.Equal(t, "2025-0042", draft.InvoiceNumber)
	assert.Equal(t, "500.00", draft.Total)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), draft.DueDate)
	assert.Equal(t, "USD", draft.Currency)
	assert.Contains(t, draft.Confidence, "invoice_number_fallback")
}

func TestDraftFromText(t *testing.T) {
	text := `Acme Trading Ltd.
Invoice Number: INV-1001
Subtotal: 1,000.00
VAT: 190.00
Total due: USD 1,190.00
Due date: 31.12.2025`

	draft := draftFromText(text)
	assert.Equal(t, "INV-1001", draft.InvoiceNumber)
	assert.Equal(t, "1190.00", draft.Total)
	assert.Equal(t, "USD", draft.Currency)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), draft.DueDate)
}

func TestDraftRequest(t *testing.T) {
	draft := &Draft{Total: "12.5", Currency: "USDC", DueDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	req, err := draft.Request(
		"0x00000000000000000000000000000000000000b2",
		"0x00000000000000000000000000000000000000a1",
		6,
	)
	require.NoError(t, err)
	assert.Equal(t, models.Amount("12500000"), req.Amount)
	assert.EqualValues(t, 1767225600, req.DueDate)
	assert.Equal(t, "USDC", req.Currency)

	_, err = (&Draft{Total: "1"}).Request("0xb2", "0xa1", 6)
	assert.ErrorIs(t, err, ErrIncompleteDraft)
}

func TestReadDocumentRejectsUnsupportedFormats(t *testing.T) {
	_, _, err := readDocument("Extract", bytes.NewReader([]byte("plain text, not a bill")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, mimeType, err := readDocument("Extract", bytes.NewReader([]byte("%PDF-1.7\n%fake")))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mimeType)

	_, _, err = readDocument("Extract", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmptyDocument)
}
