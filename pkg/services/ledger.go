package services

import (
	"context"

	"invoicechain/pkg/models"
)

// InvoiceRepository is the backend ledger that owns invoice records.
type InvoiceRepository interface {
	// List returns all invoices visible to the caller.
	List(ctx context.Context) ([]models.Invoice, error)

	// Detail returns the invoices matching invoiceNumber. An empty slice means not found.
	Detail(ctx context.Context, invoiceNumber string) ([]models.Invoice, error)

	// Create registers a new invoice in PENDING.
	Create(ctx context.Context, req models.CreateInvoiceRequest) (*models.Invoice, error)

	// Verify asks the backend to confirm the on-chain anchoring of an invoice.
	// The returned string is the verification status reported by the backend.
	Verify(ctx context.Context, id string) (string, error)

	// Issue moves the given VERIFIED invoices to ISSUED in a single call.
	Issue(ctx context.Context, ids []string) error

	// Delete removes an invoice.
	Delete(ctx context.Context, id, invoiceNumber string) error
}

// VerificationResult is the data block returned by the backend verify endpoint.
type VerificationResult struct {
	Verified string `json:"verified"`
}
