package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoicechain/internal/journal"
	"invoicechain/internal/logger"
	"invoicechain/pkg/models"
	"invoicechain/pkg/services"
)

// Result is the terminal result of a settled attempt.
type Result string

const (
	ResultVerified    Result = "verified"
	ResultUnconfirmed Result = "unconfirmed"
	ResultChainFailed Result = "chain_failed"
	ResultDiverged    Result = "diverged"
)

// Outcome reports how an attempt settled.
type Outcome struct {
	CorrelationID string        `json:"correlation_id"`
	InvoiceID     string        `json:"invoice_id"`
	InvoiceNumber string        `json:"invoice_number"`
	TxHash        string        `json:"tx_hash,omitempty"`
	Result        Result        `json:"result"`
	Status        models.Status `json:"status,omitempty"`
	Err           error         `json:"-"`
	Error         string        `json:"error,omitempty"`
	SettledAt     time.Time     `json:"settled_at"`
}

// Watcher settles submitted attempts once their transaction handle resolves.
type Watcher struct {
	repo     services.InvoiceRepository
	store    *Store
	guard    *ProcessingSet
	notifier Notifier
	journal  Journal
	clock    func() time.Time
	timeout  time.Duration
	history  int
	metrics  *VerificationMetrics
	log      zerolog.Logger

	mu          sync.Mutex
	attempts    map[string]*Attempt
	outcomes    []Outcome
	subscribers map[int]chan Outcome
	nextSub     int
	unsettled   int
	idle        chan struct{}

	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// NewWatcher returns a watcher that verifies against repo and refreshes store.
func NewWatcher(repo services.InvoiceRepository, store *Store, guard *ProcessingSet, opts ...Option) *Watcher {
	s := applyOptions(opts)
	return &Watcher{
		repo:        repo,
		store:       store,
		guard:       guard,
		notifier:    s.notifier,
		journal:     s.journal,
		clock:       s.clock,
		timeout:     s.backendTimeout,
		history:     s.historySize,
		metrics:     Metrics(),
		log:         logger.WithComponent("watcher"),
		attempts:    make(map[string]*Attempt),
		subscribers: make(map[int]chan Outcome),
		quit:        make(chan struct{}),
	}
}

// Track registers attempt and waits for its handle in the background.
func (w *Watcher) Track(attempt *Attempt) {
	w.mu.Lock()
	w.attempts[attempt.CorrelationID] = attempt
	if w.unsettled == 0 {
		w.idle = make(chan struct{})
	}
	w.unsettled++
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-attempt.Handle.Done():
			w.settle(attempt.CorrelationID)
		case <-w.quit:
		}
	}()
}

// Pending lists attempts that have not settled.
func (w *Watcher) Pending() []AttemptView {
	w.mu.Lock()
	defer w.mu.Unlock()

	views := make([]AttemptView, 0, len(w.attempts))
	for _, a := range w.attempts {
		views = append(views, a.View())
	}
	return views
}

// Outcomes returns recently settled outcomes, oldest first.
func (w *Watcher) Outcomes() []Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Outcome(nil), w.outcomes...)
}

// Subscribe delivers future outcomes on the returned channel until cancel is
// called. Outcomes are dropped for a subscriber whose buffer is full.
func (w *Watcher) Subscribe(buffer int) (<-chan Outcome, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Outcome, buffer)

	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subscribers[id] = ch
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			if _, ok := w.subscribers[id]; ok {
				delete(w.subscribers, id)
				close(ch)
			}
			w.mu.Unlock()
		})
	}
}

// Wait blocks until every tracked attempt has settled, the watcher is closed
// or ctx ends. Attempts tracked while Wait blocks are waited for too.
func (w *Watcher) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		if w.unsettled == 0 {
			w.mu.Unlock()
			return nil
		}
		idle := w.idle
		w.mu.Unlock()

		select {
		case <-idle:
		case <-w.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops waiting on unresolved handles. Their invoices stay claimed.
// Track must not be called after Close.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.quit)
		w.wg.Wait()

		w.mu.Lock()
		for id, ch := range w.subscribers {
			delete(w.subscribers, id)
			close(ch)
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) settle(correlationID string) {
	w.mu.Lock()
	attempt, ok := w.attempts[correlationID]
	delete(w.attempts, correlationID)
	w.mu.Unlock()

	if !ok {
		w.log.Warn().Str("correlation_id", correlationID).Msg("Settlement for unknown attempt")
		return
	}

	outcome := w.resolve(attempt)
	w.guard.Release(attempt.InvoiceID)
	w.metrics.recordAttempt(settlementLabel(outcome.Result))
	w.publish(outcome)

	w.mu.Lock()
	w.unsettled--
	if w.unsettled == 0 {
		close(w.idle)
	}
	w.mu.Unlock()
}

func (w *Watcher) resolve(attempt *Attempt) Outcome {
	const op = "Settle"

	log := logger.WithInvoice("watcher", attempt.InvoiceID, attempt.InvoiceNumber).
		With().Str("correlation_id", attempt.CorrelationID).Logger()
	state := attempt.Handle.Snapshot()

	outcome := Outcome{
		CorrelationID: attempt.CorrelationID,
		InvoiceID:     attempt.InvoiceID,
		InvoiceNumber: attempt.InvoiceNumber,
		TxHash:        state.Hash,
		SettledAt:     w.clock(),
	}

	if !state.Success {
		log.Warn().Err(state.Err).Msg("Transaction failed")
		w.notify(LevelError, attempt.InvoiceID, fmt.Sprintf("Transaction for %s failed: %v", attempt.InvoiceNumber, state.Err))
		outcome.Result = ResultChainFailed
		outcome.Err = newError(op, attempt.InvoiceID, ErrChainRejection, state.Err)
		outcome.Error = outcome.Err.Error()
		return outcome
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	verified, err := w.repo.Verify(ctx, attempt.InvoiceID)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("Backend verification failed after chain success")
		w.notify(LevelError, attempt.InvoiceID, fmt.Sprintf("Invoice %s is on chain but backend verification failed: %v", attempt.InvoiceNumber, err))
		w.record(ctx, attempt, state.Hash, journal.KindVerifyFailed, "", err)
		outcome.Result = ResultDiverged
		outcome.Err = newError(op, attempt.InvoiceID, ErrReconciliationDivergence, err)
		outcome.Error = outcome.Err.Error()
		return outcome

	case models.Status(verified) == models.StatusVerified:
		w.store.MarkStatus(attempt.InvoiceID, models.StatusVerified)
		log.Info().Msg("Invoice verified")
		w.notify(LevelSuccess, attempt.InvoiceID, fmt.Sprintf("Invoice %s verified", attempt.InvoiceNumber))
		outcome.Result = ResultVerified
		outcome.Status = models.StatusVerified

	default:
		log.Warn().Str("backend_status", verified).Msg("Submitted but not yet confirmed")
		w.notify(LevelWarning, attempt.InvoiceID, fmt.Sprintf("Invoice %s submitted but not yet confirmed (backend status %q)", attempt.InvoiceNumber, verified))
		w.record(ctx, attempt, state.Hash, journal.KindUnconfirmed, verified, nil)
		outcome.Result = ResultUnconfirmed
		outcome.Status = models.Status(verified)
	}

	if err := w.store.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("List refresh failed")
	}
	return outcome
}

func (w *Watcher) record(ctx context.Context, attempt *Attempt, txHash string, kind journal.Kind, backendStatus string, cause error) {
	if w.journal == nil {
		return
	}
	entry := journal.Entry{
		ID:            attempt.CorrelationID,
		Kind:          kind,
		InvoiceID:     attempt.InvoiceID,
		InvoiceNumber: attempt.InvoiceNumber,
		TxHash:        txHash,
		BackendStatus: backendStatus,
		RecordedAt:    w.clock().UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	// The verify call may have used up ctx; the journal write gets its own.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := w.journal.Record(ctx, entry); err != nil {
		w.log.Error().Err(err).Str("correlation_id", attempt.CorrelationID).Msg("Failed to journal divergence")
	}
}

func (w *Watcher) publish(outcome Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.outcomes = append(w.outcomes, outcome)
	if len(w.outcomes) > w.history {
		w.outcomes = w.outcomes[len(w.outcomes)-w.history:]
	}
	for _, ch := range w.subscribers {
		select {
		case ch <- outcome:
		default:
			w.log.Warn().Str("correlation_id", outcome.CorrelationID).Msg("Outcome subscriber is full, dropping")
		}
	}
}

func (w *Watcher) notify(level Level, id, message string) {
	w.notifier.Notify(Notice{Level: level, InvoiceID: id, Message: message, At: w.clock()})
}
