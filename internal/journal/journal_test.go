package journal_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"invoicechain/internal/journal"
)

func TestRecordListResolve(t *testing.T) {
	j, err := journal.OpenMemory()
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, j.Record(ctx, journal.Entry{ID: "c2", Kind: journal.KindVerifyFailed, InvoiceID: "b2", RecordedAt: base.Add(time.Minute)}))
	require.NoError(t, j.Record(ctx, journal.Entry{ID: "c1", Kind: journal.KindUnconfirmed, InvoiceID: "a1", BackendStatus: "PENDING", RecordedAt: base}))

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "c1", entries[0].ID)
	require.Equal(t, "c2", entries[1].ID)

	require.NoError(t, j.MarkRetried(ctx, "c1", base.Add(time.Hour), errors.New("backend 503")))
	entry, err := j.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 1, entry.Retries)
	require.Equal(t, "backend 503", entry.LastError)

	require.NoError(t, j.Resolve(ctx, "c1"))
	_, err = j.Get(ctx, "c1")
	require.ErrorIs(t, err, journal.ErrNotFound)
	require.ErrorIs(t, j.Resolve(ctx, "c1"), journal.ErrNotFound)
}

func TestRecordRequiresID(t *testing.T) {
	j, err := journal.OpenMemory()
	require.NoError(t, err)
	defer j.Close()

	require.Error(t, j.Record(context.Background(), journal.Entry{Kind: journal.KindUnconfirmed}))
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")

	j, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), journal.Entry{ID: "c1", Kind: journal.KindUnconfirmed}))
	require.NoError(t, j.Close())

	j, err = journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].RecordedAt.IsZero())
}
