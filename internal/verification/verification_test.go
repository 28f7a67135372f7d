package verification_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"invoicechain/internal/backend"
	"invoicechain/internal/chain"
	"invoicechain/internal/journal"
	"invoicechain/internal/verification"
	"invoicechain/pkg/models"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func inv1001() models.Invoice {
	return models.Invoice{
		ID:               "a1",
		InvoiceNumber:    "INV-1001",
		Payer:            "0x00000000000000000000000000000000000000b2",
		Payee:            "0x00000000000000000000000000000000000000a1",
		Amount:           "500000000000000000",
		Currency:         "USDC",
		DueDate:          1767225600,
		Status:           models.StatusPending,
		InvoiceIPFSHash:  "QmInvoice",
		ContractIPFSHash: "QmContract",
	}
}

type harness struct {
	repo     *fakeRepo
	chain    *fakeChain
	journal  *memJournal
	notices  *verification.Recorder
	svc      *verification.Service
	outcomes <-chan verification.Outcome
}

func newHarness(t *testing.T, invoices ...models.Invoice) *harness {
	t.Helper()
	h := &harness{
		repo:    newFakeRepo(invoices...),
		chain:   &fakeChain{},
		journal: &memJournal{},
		notices: verification.NewRecorder(0),
	}
	svc, err := verification.NewService(h.repo, h.chain,
		verification.WithClock(func() time.Time { return fixedNow }),
		verification.WithNotifier(h.notices),
		verification.WithJournal(h.journal),
	)
	require.NoError(t, err)
	h.svc = svc

	outcomes, cancel := svc.Watcher.Subscribe(8)
	h.outcomes = outcomes
	t.Cleanup(func() {
		cancel()
		svc.Close()
	})

	require.NoError(t, svc.Store.Refresh(context.Background()))
	return h
}

func (h *harness) awaitOutcome(t *testing.T) verification.Outcome {
	t.Helper()
	select {
	case o := <-h.outcomes:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no settlement outcome")
		return verification.Outcome{}
	}
}

func TestVerifyIsNoOpWhileInFlight(t *testing.T) {
	h := newHarness(t, inv1001())
	before := h.repo.total()
	require.True(t, h.svc.Guard.Acquire("a1"))

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	require.Nil(t, attempt)
	require.Equal(t, before, h.repo.total())
	require.Zero(t, h.chain.calls())
	require.True(t, h.svc.Guard.Contains("a1"))
	require.Equal(t, models.StatusPending, h.svc.Store.Status("a1"))
}

func TestVerifyPayloadPreservesIdentity(t *testing.T) {
	h := newHarness(t, inv1001())

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	require.NotNil(t, attempt)

	require.Len(t, h.chain.submitted, 1)
	payload := h.chain.submitted[0]
	require.True(t, payload.Matches(inv1001()))
	require.Equal(t, "500000000000000000", payload.Amount)
	require.Equal(t, "1772366400", payload.Timestamp)
	require.Equal(t, "1767225600", payload.DueDate)
	require.Equal(t, payload, attempt.Payload)
}

func TestVerifyUserRejection(t *testing.T) {
	h := newHarness(t, inv1001())
	h.chain.err = &chain.RPCError{Code: chain.CodeUserRejected, Message: "rejected by operator"}

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.Nil(t, attempt)
	require.ErrorIs(t, err, verification.ErrUserCancellation)
	require.ErrorIs(t, err, chain.ErrUserRejected)
	require.False(t, h.svc.Guard.Contains("a1"))
	require.Equal(t, models.StatusPending, h.svc.Store.Status("a1"))

	last, ok := h.notices.Last()
	require.True(t, ok)
	require.Equal(t, verification.LevelInfo, last.Level)
	require.Contains(t, last.Message, "cancelled")
}

func TestVerifySubmissionFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"estimate", chain.ErrEstimateGas, verification.ErrChainRejection},
		{"rpc execution", &chain.RPCError{Code: chain.CodeExecutionFail, Message: "insufficient funds"}, verification.ErrChainRejection},
		{"transport", errors.New("dial tcp: connection refused"), verification.ErrTransientNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, inv1001())
			h.chain.err = tt.err

			_, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
			require.ErrorIs(t, err, tt.kind)
			require.NotErrorIs(t, err, verification.ErrUserCancellation)
			require.False(t, h.svc.Guard.Contains("a1"))

			last, _ := h.notices.Last()
			require.Equal(t, verification.LevelError, last.Level)
		})
	}
}

func TestVerifyNotFound(t *testing.T) {
	h := newHarness(t, inv1001())

	_, err := h.svc.Orchestrator.Verify(context.Background(), "INV-404", "zz")
	require.ErrorIs(t, err, verification.ErrNotFound)
	require.Zero(t, h.chain.calls())
	require.False(t, h.svc.Guard.Contains("zz"))
}

func TestVerifyDetailTransportFailure(t *testing.T) {
	h := newHarness(t, inv1001())
	h.repo.detailErr = errors.New("backend unreachable")

	_, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.ErrorIs(t, err, verification.ErrTransientNetwork)
	require.Zero(t, h.chain.calls())
	require.False(t, h.svc.Guard.Contains("a1"))
}

func TestVerifyDetailRejectedByBackend(t *testing.T) {
	h := newHarness(t, inv1001())
	h.repo.detailErr = &backend.APIError{Op: "Detail", Code: 404, Msg: "invoice not found"}

	_, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.ErrorIs(t, err, verification.ErrNotFound)
	require.NotErrorIs(t, err, verification.ErrTransientNetwork)
	require.Equal(t, "not_found", verification.KindName(err))

	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Code)
	require.Zero(t, h.chain.calls())
	require.False(t, h.svc.Guard.Contains("a1"))
}

func TestVerifyDetailTransportErrorIsTransient(t *testing.T) {
	h := newHarness(t, inv1001())
	h.repo.detailErr = fmt.Errorf("%w: connection refused", backend.ErrTransport)

	_, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.ErrorIs(t, err, verification.ErrTransientNetwork)
	require.ErrorIs(t, err, backend.ErrTransport)
	require.False(t, h.svc.Guard.Contains("a1"))
}

func TestSettlementVerified(t *testing.T) {
	h := newHarness(t, inv1001())
	verified := testutil.ToFloat64(verification.Metrics().Attempts().WithLabelValues("verified"))

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	require.True(t, h.svc.Guard.Contains("a1"))
	listCalls := h.repo.count("List")

	attempt.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess, BlockNumber: 10}, nil)
	outcome := h.awaitOutcome(t)

	require.Equal(t, verification.ResultVerified, outcome.Result)
	require.Equal(t, attempt.CorrelationID, outcome.CorrelationID)
	require.Equal(t, "a1", outcome.InvoiceID)
	require.NoError(t, outcome.Err)
	require.False(t, h.svc.Guard.Contains("a1"))
	require.Equal(t, models.StatusVerified, h.svc.Store.Status("a1"))
	require.Equal(t, 1, h.repo.count("Verify"))
	require.Greater(t, h.repo.count("List"), listCalls)
	require.Empty(t, h.journal.all())
	require.Equal(t, verified+1, testutil.ToFloat64(verification.Metrics().Attempts().WithLabelValues("verified")))

	last, _ := h.notices.Last()
	require.Equal(t, verification.LevelSuccess, last.Level)
}

func TestSettlementUnconfirmed(t *testing.T) {
	h := newHarness(t, inv1001())
	h.repo.verifyStatus = "PENDING"

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	attempt.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess}, nil)

	outcome := h.awaitOutcome(t)
	require.Equal(t, verification.ResultUnconfirmed, outcome.Result)
	require.False(t, h.svc.Guard.Contains("a1"))
	require.Equal(t, models.StatusPending, h.svc.Store.Status("a1"))

	last, _ := h.notices.Last()
	require.Equal(t, verification.LevelWarning, last.Level)
	require.Contains(t, last.Message, "not yet confirmed")

	entries := h.journal.all()
	require.Len(t, entries, 1)
	require.Equal(t, journal.KindUnconfirmed, entries[0].Kind)
	require.Equal(t, attempt.CorrelationID, entries[0].ID)
	require.Equal(t, "PENDING", entries[0].BackendStatus)
}

func TestSettlementBackendFailureDiverges(t *testing.T) {
	h := newHarness(t, inv1001())
	h.repo.verifyErr = errors.New("503 service unavailable")

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	attempt.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess}, nil)

	outcome := h.awaitOutcome(t)
	require.Equal(t, verification.ResultDiverged, outcome.Result)
	require.ErrorIs(t, outcome.Err, verification.ErrReconciliationDivergence)
	require.False(t, h.svc.Guard.Contains("a1"))
	require.Equal(t, 1, h.repo.count("Verify"))

	entries := h.journal.all()
	require.Len(t, entries, 1)
	require.Equal(t, journal.KindVerifyFailed, entries[0].Kind)
	require.Contains(t, entries[0].Error, "503")
}

func TestSettlementChainFailure(t *testing.T) {
	h := newHarness(t, inv1001())
	failed := testutil.ToFloat64(verification.Metrics().Attempts().WithLabelValues("chain_failed"))

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	attempt.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptReverted}, chain.ErrReverted)

	outcome := h.awaitOutcome(t)
	require.Equal(t, verification.ResultChainFailed, outcome.Result)
	require.ErrorIs(t, outcome.Err, verification.ErrChainRejection)
	require.ErrorIs(t, outcome.Err, chain.ErrReverted)
	require.Zero(t, h.repo.count("Verify"))
	require.False(t, h.svc.Guard.Contains("a1"))
	require.Equal(t, models.StatusPending, h.svc.Store.Status("a1"))
	require.Equal(t, failed+1, testutil.ToFloat64(verification.Metrics().Attempts().WithLabelValues("chain_failed")))
}

func TestConcurrentSettlementMatchesByCorrelation(t *testing.T) {
	second := inv1001()
	second.ID = "b2"
	second.InvoiceNumber = "INV-1002"
	h := newHarness(t, inv1001(), second)

	first, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	other, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1002", "b2")
	require.NoError(t, err)
	require.NotEqual(t, first.CorrelationID, other.CorrelationID)

	other.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess}, nil)
	outcome := h.awaitOutcome(t)
	require.Equal(t, "b2", outcome.InvoiceID)
	require.True(t, h.svc.Guard.Contains("a1"))
	require.False(t, h.svc.Guard.Contains("b2"))
	require.Len(t, h.svc.Watcher.Pending(), 1)

	first.Handle.Resolve(nil, chain.ErrReverted)
	outcome = h.awaitOutcome(t)
	require.Equal(t, "a1", outcome.InvoiceID)
	require.Equal(t, verification.ResultChainFailed, outcome.Result)
	require.Zero(t, h.svc.Guard.Len())
	require.Equal(t, models.StatusVerified, h.svc.Store.Status("b2"))
	require.Equal(t, models.StatusPending, h.svc.Store.Status("a1"))
}

func TestIssueEmptySelection(t *testing.T) {
	h := newHarness(t, inv1001())
	before := h.repo.total()

	err := h.svc.Issuer.IssueSelected(context.Background())
	require.ErrorIs(t, err, verification.ErrEmptySelection)
	require.Equal(t, before, h.repo.total())

	last, _ := h.notices.Last()
	require.Equal(t, verification.LevelWarning, last.Level)
}

func TestIssueRequiresVerified(t *testing.T) {
	h := newHarness(t, inv1001())

	require.ErrorIs(t, h.svc.Issuer.Select("a1"), verification.ErrNotVerified)
	require.ErrorIs(t, h.svc.Issuer.Issue(context.Background(), []string{"a1"}), verification.ErrNotVerified)
	require.Zero(t, h.repo.count("Issue"))
}

func TestIssueFailureKeepsSelection(t *testing.T) {
	verified := inv1001()
	verified.Status = models.StatusVerified
	h := newHarness(t, verified)
	h.repo.issueErr = errors.New("backend down")

	require.NoError(t, h.svc.Issuer.Select("a1"))
	err := h.svc.Issuer.IssueSelected(context.Background())
	require.ErrorIs(t, err, verification.ErrTransientNetwork)
	require.Equal(t, []string{"a1"}, h.svc.Issuer.Selected())
	require.False(t, h.svc.Guard.Contains("a1"))
}

func TestIssueRejectedByBackend(t *testing.T) {
	verified := inv1001()
	verified.Status = models.StatusVerified
	h := newHarness(t, verified)
	h.repo.issueErr = &backend.APIError{Op: "Issue", Code: 500, Msg: "batch closed"}

	require.NoError(t, h.svc.Issuer.Select("a1"))
	err := h.svc.Issuer.IssueSelected(context.Background())
	require.ErrorIs(t, err, verification.ErrBackendRejected)
	require.NotErrorIs(t, err, verification.ErrTransientNetwork)
	require.Equal(t, "backend_rejected", verification.KindName(err))
	require.Equal(t, []string{"a1"}, h.svc.Issuer.Selected())
	require.Equal(t, models.StatusVerified, h.svc.Store.Status("a1"))
}

func TestSettlementRefreshFailureStillReleases(t *testing.T) {
	h := newHarness(t, inv1001())

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	h.repo.mu.Lock()
	h.repo.listErr = errors.New("list unavailable")
	h.repo.mu.Unlock()

	attempt.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess}, nil)
	outcome := h.awaitOutcome(t)

	require.Equal(t, verification.ResultVerified, outcome.Result)
	require.NoError(t, outcome.Err)
	require.False(t, h.svc.Guard.Contains("a1"))
	require.Equal(t, models.StatusVerified, h.svc.Store.Status("a1"))
	require.Empty(t, h.journal.all())
}

func TestRefreshWhilePendingKeepsGuard(t *testing.T) {
	h := newHarness(t, inv1001())

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)

	require.NoError(t, h.svc.Store.Refresh(context.Background()))
	require.True(t, h.svc.Guard.Contains("a1"))
	require.Len(t, h.svc.Watcher.Pending(), 1)

	second, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	require.Nil(t, second)
	require.Equal(t, 1, h.chain.calls())

	attempt.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess}, nil)
	require.Equal(t, verification.ResultVerified, h.awaitOutcome(t).Result)
	require.False(t, h.svc.Guard.Contains("a1"))
}

func TestWaitCoversAttemptsTrackedWhileWaiting(t *testing.T) {
	second := inv1001()
	second.ID = "b2"
	second.InvoiceNumber = "INV-1002"
	h := newHarness(t, inv1001(), second)

	first, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)

	waited := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		waited <- h.svc.Watcher.Wait(ctx)
	}()

	next, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1002", "b2")
	require.NoError(t, err)

	first.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess}, nil)
	require.Equal(t, "a1", h.awaitOutcome(t).InvoiceID)

	select {
	case err := <-waited:
		t.Fatalf("Wait returned with b2 unsettled: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	next.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess}, nil)
	require.Equal(t, "b2", h.awaitOutcome(t).InvoiceID)

	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after every attempt settled")
	}
}

// INV-1001 from PENDING through VERIFIED to ISSUED.
func TestInvoiceLifecycle(t *testing.T) {
	h := newHarness(t, inv1001())

	attempt, err := h.svc.Orchestrator.Verify(context.Background(), "INV-1001", "a1")
	require.NoError(t, err)
	attempt.Handle.Resolve(&chain.Receipt{Status: chain.ReceiptSuccess, BlockNumber: 7}, nil)
	require.Equal(t, verification.ResultVerified, h.awaitOutcome(t).Result)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.svc.Watcher.Wait(ctx))

	require.NoError(t, h.svc.Issuer.Select("a1"))
	require.NoError(t, h.svc.Issuer.IssueSelected(context.Background()))

	require.Equal(t, [][]string{{"a1"}}, h.repo.issued)
	require.Empty(t, h.svc.Issuer.Selected())
	require.Equal(t, models.StatusIssued, h.svc.Store.Status("a1"))
	require.Zero(t, h.svc.Guard.Len())

	found := h.svc.Store.Search("inv-1001")
	require.Len(t, found, 1)
	require.Equal(t, models.StatusIssued, found[0].Status)
}
