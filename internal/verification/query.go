package verification

import (
	"strings"

	"invoicechain/pkg/models"
)

// Filter returns the invoices whose id, invoice number or status contains
// text, ignoring case. Empty text returns all invoices.
func Filter(invoices []models.Invoice, text string) []models.Invoice {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return append([]models.Invoice(nil), invoices...)
	}

	matched := make([]models.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if strings.Contains(strings.ToLower(inv.ID), needle) ||
			strings.Contains(strings.ToLower(inv.InvoiceNumber), needle) ||
			strings.Contains(strings.ToLower(string(inv.Status)), needle) {
			matched = append(matched, inv)
		}
	}
	return matched
}
