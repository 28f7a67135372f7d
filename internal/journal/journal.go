// Package journal persists chain/backend divergences so an operator can
// reconcile them later.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const entryKeyPrefix = "divergence:"

// Kind names the way chain and backend disagree.
type Kind string

const (
	// KindUnconfirmed: transaction mined, backend reported a status other than VERIFIED.
	KindUnconfirmed Kind = "unconfirmed"

	// KindVerifyFailed: transaction mined, backend verify call failed.
	KindVerifyFailed Kind = "verify_failed"
)

// ErrNotFound is returned when no entry exists for an id.
var ErrNotFound = errors.New("journal: entry not found")

// Entry is one recorded divergence, keyed by the attempt's correlation id.
type Entry struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	InvoiceID     string    `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	TxHash        string    `json:"tx_hash"`
	BackendStatus string    `json:"backend_status,omitempty"`
	Error         string    `json:"error,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
	Retries       int       `json:"retries"`
	LastRetryAt   time.Time `json:"last_retry_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Journal is a LevelDB-backed divergence log.
type Journal struct {
	db *leveldb.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("journal path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve journal path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenMemory returns a journal that lives only in memory.
func OpenMemory() (*Journal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record stores entry, replacing any entry with the same id.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("journal entry id required")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	return j.put(entry)
}

// Get loads one entry.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := j.db.Get(entryKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load journal entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode journal entry %s: %w", id, err)
	}
	return &entry, nil
}

// List returns all entries, oldest first.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	iter := j.db.NewIterator(util.BytesPrefix([]byte(entryKeyPrefix)), nil)
	defer iter.Release()

	entries := make([]Entry, 0)
	for iter.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("decode journal entry %s: %w", iter.Key(), err)
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].RecordedAt.Before(entries[b].RecordedAt)
	})
	return entries, nil
}

// MarkRetried records a failed retry.
func (j *Journal) MarkRetried(ctx context.Context, id string, at time.Time, cause error) error {
	entry, err := j.Get(ctx, id)
	if err != nil {
		return err
	}
	entry.Retries++
	entry.LastRetryAt = at.UTC()
	if cause != nil {
		entry.LastError = cause.Error()
	}
	return j.put(*entry)
}

// Resolve removes an entry once the divergence is reconciled.
func (j *Journal) Resolve(ctx context.Context, id string) error {
	if _, err := j.Get(ctx, id); err != nil {
		return err
	}
	if err := j.db.Delete(entryKey(id), nil); err != nil {
		return fmt.Errorf("delete journal entry: %w", err)
	}
	return nil
}

func (j *Journal) put(entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if err := j.db.Put(entryKey(entry.ID), raw, nil); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

func entryKey(id string) []byte {
	return []byte(entryKeyPrefix + id)
}
