package reconciliation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"invoicechain/internal/chain"
	"invoicechain/internal/journal"
	"invoicechain/internal/reconciliation"
)

type stubVerifier struct {
	status string
	err    error
	calls  int
}

func (s *stubVerifier) Verify(context.Context, string) (string, error) {
	s.calls++
	return s.status, s.err
}

type stubConfirmer struct {
	err error
}

func (s stubConfirmer) Confirm(context.Context, common.Hash, string) (*chain.Receipt, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &chain.Receipt{Status: chain.ReceiptSuccess, BlockNumber: 9}, nil
}

type stubExporter struct {
	existing map[string]bool
	written  []journal.Entry
}

func (s *stubExporter) ExportedIDs(context.Context, string) (map[string]bool, error) {
	return s.existing, nil
}

func (s *stubExporter) WriteDivergences(_ context.Context, entries []journal.Entry, _ string) error {
	s.written = append(s.written, entries...)
	return nil
}

func seededJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(context.Background(), journal.Entry{
		ID: "corr-1", Kind: journal.KindVerifyFailed, InvoiceID: "a1", InvoiceNumber: "INV-1001",
		TxHash: "0x01", RecordedAt: base,
	}))
	require.NoError(t, j.Record(context.Background(), journal.Entry{
		ID: "corr-2", Kind: journal.KindUnconfirmed, InvoiceID: "b2", InvoiceNumber: "INV-1002",
		TxHash: "0x02", BackendStatus: "PENDING", RecordedAt: base.Add(time.Minute),
	}))
	return j
}

func TestRetryResolvesWhenVerified(t *testing.T) {
	j := seededJournal(t)
	verifier := &stubVerifier{status: "VERIFIED"}
	r := reconciliation.NewReconciler(j, verifier, reconciliation.WithConfirmer(stubConfirmer{}))

	result, err := r.Retry(context.Background(), "corr-1")
	require.NoError(t, err)
	require.True(t, result.Resolved)
	require.Equal(t, chain.ReceiptSuccess, result.Receipt.Status)

	_, err = j.Get(context.Background(), "corr-1")
	require.ErrorIs(t, err, journal.ErrNotFound)
}

func TestRetryStillPending(t *testing.T) {
	j := seededJournal(t)
	r := reconciliation.NewReconciler(j, &stubVerifier{status: "PENDING"})

	result, err := r.Retry(context.Background(), "corr-2")
	require.ErrorIs(t, err, reconciliation.ErrStillDiverged)
	require.False(t, result.Resolved)

	entry, err := j.Get(context.Background(), "corr-2")
	require.NoError(t, err)
	require.Equal(t, 1, entry.Retries)
}

func TestRetrySkipsBackendWhenChainUnconfirmed(t *testing.T) {
	j := seededJournal(t)
	verifier := &stubVerifier{status: "VERIFIED"}
	r := reconciliation.NewReconciler(j, verifier, reconciliation.WithConfirmer(stubConfirmer{err: chain.ErrNotMined}))

	_, err := r.Retry(context.Background(), "corr-1")
	require.ErrorIs(t, err, chain.ErrNotMined)
	require.Zero(t, verifier.calls)
}

func TestRetryAll(t *testing.T) {
	j := seededJournal(t)
	r := reconciliation.NewReconciler(j, &stubVerifier{err: errors.New("backend down")})

	results, err := r.RetryAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.Error(t, res.Err)
		require.False(t, res.Resolved)
	}

	entries, err := j.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestExportSkipsAlreadyExported(t *testing.T) {
	j := seededJournal(t)
	r := reconciliation.NewReconciler(j, &stubVerifier{})
	exporter := &stubExporter{existing: map[string]bool{"corr-1": true}}

	n, err := r.Export(context.Background(), exporter, "Divergences")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, exporter.written, 1)
	require.Equal(t, "corr-2", exporter.written[0].ID)
}
