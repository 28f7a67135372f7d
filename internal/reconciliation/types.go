package reconciliation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"invoicechain/internal/chain"
	"invoicechain/internal/journal"
)

// Confirmer checks that a transaction anchored an invoice.
type Confirmer interface {
	Confirm(ctx context.Context, txHash common.Hash, invoiceNumber string) (*chain.Receipt, error)
}

// Verifier re-runs the backend verification for an invoice.
type Verifier interface {
	Verify(ctx context.Context, id string) (string, error)
}

// Exporter writes divergences to an external report.
type Exporter interface {
	ExportedIDs(ctx context.Context, sheetName string) (map[string]bool, error)
	WriteDivergences(ctx context.Context, entries []journal.Entry, sheetName string) error
}

// RetryResult is the outcome of one retry.
type RetryResult struct {
	ID            string         `json:"id"`
	InvoiceID     string         `json:"invoice_id"`
	InvoiceNumber string         `json:"invoice_number"`
	Receipt       *chain.Receipt `json:"receipt,omitempty"`
	BackendStatus string         `json:"backend_status,omitempty"`
	Resolved      bool           `json:"resolved"`
	Err           error          `json:"-"`
}
