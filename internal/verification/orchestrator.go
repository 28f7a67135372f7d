// Package verification keeps the backend ledger and the chain consistent while
// invoices are anchored and issued.
//
// A verification runs in two halves. Orchestrator.Verify claims the invoice in
// the ProcessingSet, loads its detail, builds the on-chain payload and submits
// it; it returns as soon as the transaction is broadcast. The Watcher then
// waits for the transaction handle, asks the backend to verify, refreshes the
// Store and releases the claim. Settlement is matched to its invoice by the
// attempt's correlation id, so concurrent attempts never cross.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"invoicechain/internal/chain"
	"invoicechain/internal/logger"
	"invoicechain/pkg/models"
	"invoicechain/pkg/services"
)

// ChainClient submits invoice payloads and returns a pending handle once the
// transaction is broadcast.
type ChainClient interface {
	Submit(ctx context.Context, invoices []models.ChainInvoice) (*chain.Handle, error)
}

// Attempt is one submitted verification awaiting settlement.
type Attempt struct {
	CorrelationID string
	InvoiceID     string
	InvoiceNumber string
	Payload       models.ChainInvoice
	Handle        *chain.Handle
	StartedAt     time.Time
}

// AttemptView is the serialisable state of an Attempt.
type AttemptView struct {
	CorrelationID string            `json:"correlation_id"`
	InvoiceID     string            `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	StartedAt     time.Time         `json:"started_at"`
	State         chain.HandleState `json:"state"`
}

// View snapshots the attempt.
func (a *Attempt) View() AttemptView {
	return AttemptView{
		CorrelationID: a.CorrelationID,
		InvoiceID:     a.InvoiceID,
		InvoiceNumber: a.InvoiceNumber,
		StartedAt:     a.StartedAt,
		State:         a.Handle.Snapshot(),
	}
}

// Orchestrator starts verifications.
type Orchestrator struct {
	repo     services.InvoiceRepository
	chain    ChainClient
	guard    *ProcessingSet
	watcher  *Watcher
	notifier Notifier
	clock    func() time.Time
	metrics  *VerificationMetrics
}

// NewOrchestrator wires the collaborators of Verify.
func NewOrchestrator(repo services.InvoiceRepository, chainClient ChainClient, guard *ProcessingSet, watcher *Watcher, opts ...Option) (*Orchestrator, error) {
	const op = "NewOrchestrator"

	if repo == nil || chainClient == nil || guard == nil || watcher == nil {
		return nil, fmt.Errorf("%s: repository, chain client, guard and watcher are required", op)
	}
	s := applyOptions(opts)
	return &Orchestrator{
		repo:     repo,
		chain:    chainClient,
		guard:    guard,
		watcher:  watcher,
		notifier: s.notifier,
		clock:    s.clock,
		metrics:  Metrics(),
	}, nil
}

// Verify anchors invoice id on chain. It returns once the transaction is
// broadcast; settlement continues in the Watcher. When id already has an
// operation in flight Verify does nothing and returns (nil, nil).
func (o *Orchestrator) Verify(ctx context.Context, invoiceNumber, id string) (*Attempt, error) {
	log := logger.WithInvoice("orchestrator", id, invoiceNumber)

	if !o.guard.Acquire(id) {
		log.Debug().Msg("Verification already in progress, ignoring")
		o.metrics.recordAttempt(outcomeSkipped)
		return nil, nil
	}

	attempt, err := o.submit(ctx, log, invoiceNumber, id)
	if err != nil {
		o.guard.Release(id)
		o.metrics.recordAttempt(KindName(err))
		return nil, err
	}

	o.watcher.Track(attempt)
	o.metrics.recordAttempt(outcomeSubmitted)
	return attempt, nil
}

func (o *Orchestrator) submit(ctx context.Context, log zerolog.Logger, invoiceNumber, id string) (*Attempt, error) {
	const op = "Verify"

	details, err := o.repo.Detail(ctx, invoiceNumber)
	if err != nil {
		kind := classifyRepo(err, ErrNotFound)
		log.Error().Err(err).Str("kind", KindName(kind)).Msg("Failed to load invoice detail")
		o.notify(LevelError, id, fmt.Sprintf("Could not load invoice %s: %v", invoiceNumber, err))
		return nil, newError(op, id, kind, err)
	}
	detail, ok := pickDetail(details, id)
	if !ok {
		log.Warn().Msg("Invoice detail is empty")
		o.notify(LevelError, id, fmt.Sprintf("Invoice %s not found", invoiceNumber))
		return nil, newError(op, id, ErrNotFound, nil)
	}

	payload := models.PayloadFromInvoice(detail, o.clock())
	startedAt := o.clock()

	handle, err := o.chain.Submit(ctx, []models.ChainInvoice{payload})
	if err != nil {
		kind := classifySubmit(err)
		if kind == ErrUserCancellation {
			log.Info().Msg("Operator cancelled the transaction")
			o.notify(LevelInfo, id, fmt.Sprintf("Verification of %s cancelled", invoiceNumber))
		} else {
			log.Error().Err(err).Str("kind", KindName(kind)).Msg("Submission failed")
			o.notify(LevelError, id, fmt.Sprintf("Verification of %s failed: %v", invoiceNumber, err))
		}
		return nil, newError(op, id, kind, err)
	}

	log.Info().
		Str("correlation_id", handle.CorrelationID()).
		Str("tx_hash", handle.Hash().Hex()).
		Msg("Verification submitted")
	o.notify(LevelInfo, id, fmt.Sprintf("Transaction for %s submitted, waiting for confirmation", invoiceNumber))

	return &Attempt{
		CorrelationID: handle.CorrelationID(),
		InvoiceID:     id,
		InvoiceNumber: invoiceNumber,
		Payload:       payload,
		Handle:        handle,
		StartedAt:     startedAt,
	}, nil
}

func (o *Orchestrator) notify(level Level, id, message string) {
	o.notifier.Notify(Notice{Level: level, InvoiceID: id, Message: message, At: o.clock()})
}

// pickDetail prefers the record whose id matches; the invoice number is the
// unique key, so the first record stands in otherwise.
func pickDetail(details []models.Invoice, id string) (models.Invoice, bool) {
	if len(details) == 0 {
		return models.Invoice{}, false
	}
	for _, d := range details {
		if d.ID == id {
			return d, true
		}
	}
	return details[0], true
}
