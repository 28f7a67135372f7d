package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoicechain/internal/logger"
	"invoicechain/pkg/models"
	"invoicechain/pkg/services"
)

// Store keeps the last repository snapshot plus locally confirmed status
// transitions. Refresh replaces the snapshot only; confirmed transitions stay
// until the backend catches up, so a stale list never moves an invoice back.
type Store struct {
	repo services.InvoiceRepository
	log  zerolog.Logger

	mu          sync.RWMutex
	snapshot    []models.Invoice
	deltas      map[string]models.Status
	refreshedAt time.Time
}

// NewStore returns an empty store reading from repo.
func NewStore(repo services.InvoiceRepository) *Store {
	return &Store{
		repo:   repo,
		log:    logger.WithComponent("store"),
		deltas: make(map[string]models.Status),
	}
}

// Refresh reloads the snapshot from the repository.
func (s *Store) Refresh(ctx context.Context) error {
	const op = "Refresh"

	invoices, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = invoices
	s.refreshedAt = time.Now()
	for _, inv := range invoices {
		if delta, ok := s.deltas[inv.ID]; ok && inv.Status.Rank() >= delta.Rank() {
			delete(s.deltas, inv.ID)
		}
	}

	s.log.Debug().Int("invoices", len(invoices)).Int("overlay", len(s.deltas)).Msg("Snapshot refreshed")
	return nil
}

// Replace installs invoices as the snapshot without a repository call.
func (s *Store) Replace(invoices []models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = append([]models.Invoice(nil), invoices...)
	s.refreshedAt = time.Now()
}

// MarkStatus records a confirmed transition. Transitions that would not move
// the invoice forward are ignored.
func (s *Store) MarkStatus(id string, status models.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.effectiveLocked(id)
	if status.Rank() <= current.Rank() {
		return false
	}
	s.deltas[id] = status
	return true
}

// List returns the snapshot with confirmed transitions applied.
func (s *Store) List() []models.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Invoice, len(s.snapshot))
	for i, inv := range s.snapshot {
		if delta, ok := s.deltas[inv.ID]; ok && delta.Rank() > inv.Status.Rank() {
			inv.Status = delta
		}
		out[i] = inv
	}
	return out
}

// Search filters List by text.
func (s *Store) Search(text string) []models.Invoice {
	return Filter(s.List(), text)
}

// Get returns one invoice with transitions applied.
func (s *Store) Get(id string) (models.Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.snapshot {
		if inv.ID != id {
			continue
		}
		if delta, ok := s.deltas[id]; ok && delta.Rank() > inv.Status.Rank() {
			inv.Status = delta
		}
		return inv, true
	}
	return models.Invoice{}, false
}

// Status returns the effective status of id, empty when unknown.
func (s *Store) Status(id string) models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effectiveLocked(id)
}

// RefreshedAt returns the time of the last snapshot.
func (s *Store) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

func (s *Store) effectiveLocked(id string) models.Status {
	var status models.Status
	for _, inv := range s.snapshot {
		if inv.ID == id {
			status = inv.Status
			break
		}
	}
	if delta, ok := s.deltas[id]; ok && delta.Rank() > status.Rank() {
		status = delta
	}
	return status
}
