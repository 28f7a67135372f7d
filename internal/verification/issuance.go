package verification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoicechain/internal/logger"
	"invoicechain/pkg/models"
	"invoicechain/pkg/services"
)

// Issuer batches verified invoices into a single issue request.
type Issuer struct {
	repo     services.InvoiceRepository
	store    *Store
	guard    *ProcessingSet
	notifier Notifier
	clock    func() time.Time
	metrics  *VerificationMetrics
	log      zerolog.Logger

	mu       sync.Mutex
	selected map[string]struct{}
}

// NewIssuer returns an issuer with an empty selection.
func NewIssuer(repo services.InvoiceRepository, store *Store, guard *ProcessingSet, opts ...Option) *Issuer {
	s := applyOptions(opts)
	return &Issuer{
		repo:     repo,
		store:    store,
		guard:    guard,
		notifier: s.notifier,
		clock:    s.clock,
		metrics:  Metrics(),
		log:      logger.WithComponent("issuer"),
		selected: make(map[string]struct{}),
	}
}

// Select adds id to the selection. Only verified invoices with nothing in
// flight can be selected.
func (i *Issuer) Select(id string) error {
	const op = "Select"

	if err := i.checkIssuable(op, id); err != nil {
		return err
	}
	i.mu.Lock()
	i.selected[id] = struct{}{}
	i.mu.Unlock()
	return nil
}

// Deselect removes id from the selection.
func (i *Issuer) Deselect(id string) {
	i.mu.Lock()
	delete(i.selected, id)
	i.mu.Unlock()
}

// Selected returns the selected ids, sorted.
func (i *Issuer) Selected() []string {
	i.mu.Lock()
	ids := make([]string, 0, len(i.selected))
	for id := range i.selected {
		ids = append(ids, id)
	}
	i.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// ClearSelection empties the selection.
func (i *Issuer) ClearSelection() {
	i.mu.Lock()
	i.selected = make(map[string]struct{})
	i.mu.Unlock()
}

// IssueSelected issues the current selection. On success the selection is
// cleared; on failure it is left intact.
func (i *Issuer) IssueSelected(ctx context.Context) error {
	if err := i.Issue(ctx, i.Selected()); err != nil {
		return err
	}
	i.ClearSelection()
	return nil
}

// Issue moves ids from VERIFIED to ISSUED with one repository call.
func (i *Issuer) Issue(ctx context.Context, ids []string) error {
	const op = "Issue"

	if len(ids) == 0 {
		i.notify(LevelWarning, "", "Select at least one verified invoice to issue")
		i.metrics.recordIssuance(KindName(ErrEmptySelection))
		return newError(op, "", ErrEmptySelection, nil)
	}
	for _, id := range ids {
		if err := i.checkIssuable(op, id); err != nil {
			i.notify(LevelWarning, id, fmt.Sprintf("Invoice %s cannot be issued: %v", id, err))
			i.metrics.recordIssuance(KindName(err))
			return err
		}
	}

	acquired := make([]string, 0, len(ids))
	defer func() {
		for _, id := range acquired {
			i.guard.Release(id)
		}
	}()
	for _, id := range ids {
		if !i.guard.Acquire(id) {
			i.metrics.recordIssuance(KindName(ErrInProgress))
			return newError(op, id, ErrInProgress, nil)
		}
		acquired = append(acquired, id)
	}

	if err := i.repo.Issue(ctx, ids); err != nil {
		i.log.Error().Err(err).Strs("invoice_ids", ids).Msg("Issue request failed")
		i.notify(LevelError, "", fmt.Sprintf("Issuing %d invoice(s) failed: %v", len(ids), err))
		kind := classifyRepo(err, ErrBackendRejected)
		i.metrics.recordIssuance(KindName(kind))
		return newError(op, "", kind, err)
	}

	for _, id := range ids {
		i.store.MarkStatus(id, models.StatusIssued)
	}
	i.mu.Lock()
	for _, id := range ids {
		delete(i.selected, id)
	}
	i.mu.Unlock()

	i.log.Info().Strs("invoice_ids", ids).Msg("Invoices issued")
	i.notify(LevelSuccess, "", fmt.Sprintf("Issued %d invoice(s)", len(ids)))
	i.metrics.recordIssuance(outcomeSuccess)

	if err := i.store.Refresh(ctx); err != nil {
		i.log.Warn().Err(err).Msg("List refresh failed")
	}
	return nil
}

func (i *Issuer) checkIssuable(op, id string) error {
	if status := i.store.Status(id); status != models.StatusVerified {
		return newError(op, id, ErrNotVerified, fmt.Errorf("status is %q", status))
	}
	if i.guard.Contains(id) {
		return newError(op, id, ErrInProgress, nil)
	}
	return nil
}

func (i *Issuer) notify(level Level, id, message string) {
	i.notifier.Notify(Notice{Level: level, InvoiceID: id, Message: message, At: i.clock()})
}
