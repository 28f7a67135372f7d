// Package reconciliation lets an operator resolve divergences between the
// chain and the backend that were journaled during settlement. Nothing here
// runs automatically; every retry is an explicit operator request.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"invoicechain/internal/journal"
	"invoicechain/internal/logger"
	"invoicechain/pkg/models"
)

// ErrStillDiverged is returned when the backend still does not report VERIFIED.
var ErrStillDiverged = errors.New("reconciliation: backend has not confirmed the invoice")

// Reconciler retries journaled divergences.
type Reconciler struct {
	journal   *journal.Journal
	verifier  Verifier
	confirmer Confirmer
	clock     func() time.Time
	log       zerolog.Logger
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithConfirmer checks the receipt on chain before asking the backend again.
func WithConfirmer(c Confirmer) Option {
	return func(r *Reconciler) {
		r.confirmer = c
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewReconciler creates a reconciler over j.
func NewReconciler(j *journal.Journal, verifier Verifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		journal:  j,
		verifier: verifier,
		clock:    time.Now,
		log:      logger.WithComponent("reconciliation"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns the open divergences.
func (r *Reconciler) List(ctx context.Context) ([]journal.Entry, error) {
	return r.journal.List(ctx)
}

// Retry re-runs verification for one entry. The entry is removed once the
// backend reports VERIFIED; otherwise the failed retry is recorded on it.
func (r *Reconciler) Retry(ctx context.Context, id string) (*RetryResult, error) {
	const op = "Retry"

	entry, err := r.journal.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log := logger.WithInvoice("reconciliation", entry.InvoiceID, entry.InvoiceNumber).
		With().Str("correlation_id", entry.ID).Logger()
	result := &RetryResult{ID: entry.ID, InvoiceID: entry.InvoiceID, InvoiceNumber: entry.InvoiceNumber}

	if r.confirmer != nil && entry.TxHash != "" {
		receipt, err := r.confirmer.Confirm(ctx, common.HexToHash(entry.TxHash), entry.InvoiceNumber)
		result.Receipt = receipt
		if err != nil {
			log.Warn().Err(err).Msg("On-chain confirmation failed")
			return r.fail(ctx, result, fmt.Errorf("%s: %w", op, err))
		}
	}

	status, err := r.verifier.Verify(ctx, entry.InvoiceID)
	if err != nil {
		log.Warn().Err(err).Msg("Backend verification failed again")
		return r.fail(ctx, result, fmt.Errorf("%s: %w", op, err))
	}
	result.BackendStatus = status

	if models.Status(status) != models.StatusVerified {
		log.Warn().Str("backend_status", status).Msg("Backend still not confirmed")
		return r.fail(ctx, result, fmt.Errorf("%s: %w (status %q)", op, ErrStillDiverged, status))
	}

	if err := r.journal.Resolve(ctx, entry.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.Resolved = true
	log.Info().Msg("Divergence resolved")
	return result, nil
}

// RetryAll retries every open entry and reports each result. Individual
// failures are carried in the results, not returned.
func (r *Reconciler) RetryAll(ctx context.Context) ([]RetryResult, error) {
	const op = "RetryAll"

	entries, err := r.journal.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	results := make([]RetryResult, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := r.Retry(ctx, entry.ID)
		if result == nil {
			result = &RetryResult{ID: entry.ID, InvoiceID: entry.InvoiceID, InvoiceNumber: entry.InvoiceNumber}
		}
		result.Err = err
		results = append(results, *result)
	}
	return results, nil
}

// Export appends entries not yet present in sheetName and returns how many
// were written.
func (r *Reconciler) Export(ctx context.Context, exporter Exporter, sheetName string) (int, error) {
	const op = "Export"

	entries, err := r.journal.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	exported, err := exporter.ExportedIDs(ctx, sheetName)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	fresh := make([]journal.Entry, 0, len(entries))
	for _, e := range entries {
		if !exported[e.ID] {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		r.log.Info().Str("sheet", sheetName).Msg("Nothing new to export")
		return 0, nil
	}

	if err := exporter.WriteDivergences(ctx, fresh, sheetName); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	r.log.Info().Str("sheet", sheetName).Int("entries", len(fresh)).Msg("Divergences exported")
	return len(fresh), nil
}

func (r *Reconciler) fail(ctx context.Context, result *RetryResult, cause error) (*RetryResult, error) {
	if err := r.journal.MarkRetried(ctx, result.ID, r.clock(), cause); err != nil {
		r.log.Error().Err(err).Str("correlation_id", result.ID).Msg("Failed to record retry")
	}
	result.Err = cause
	return result, cause
}
