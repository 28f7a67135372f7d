package verification

import (
	"invoicechain/pkg/services"
)

// Service bundles the components that share one ProcessingSet and Store.
type Service struct {
	Guard        *ProcessingSet
	Store        *Store
	Watcher      *Watcher
	Orchestrator *Orchestrator
	Issuer       *Issuer
}

// NewService builds the full verification and issuance pipeline.
func NewService(repo services.InvoiceRepository, chainClient ChainClient, opts ...Option) (*Service, error) {
	guard := NewProcessingSet()
	store := NewStore(repo)
	watcher := NewWatcher(repo, store, guard, opts...)

	orchestrator, err := NewOrchestrator(repo, chainClient, guard, watcher, opts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		Guard:        guard,
		Store:        store,
		Watcher:      watcher,
		Orchestrator: orchestrator,
		Issuer:       NewIssuer(repo, store, guard, opts...),
	}, nil
}

// Close stops the watcher.
func (s *Service) Close() {
	s.Watcher.Close()
}
