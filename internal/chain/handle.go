package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt status strings.
const (
	ReceiptSuccess  = "success"
	ReceiptReverted = "reverted"
)

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      string `json:"status"`
}

// HandleState is a point-in-time copy of a Handle.
type HandleState struct {
	CorrelationID string   `json:"correlation_id"`
	Hash          string   `json:"hash,omitempty"`
	Pending       bool     `json:"pending"`
	Success       bool     `json:"success"`
	Err           error    `json:"-"`
	Receipt       *Receipt `json:"receipt,omitempty"`
}

// Handle tracks one submitted transaction until it resolves. It resolves
// exactly once; later calls to Resolve are ignored.
type Handle struct {
	correlationID string

	mu      sync.RWMutex
	hash    common.Hash
	success bool
	err     error
	receipt *Receipt

	once sync.Once
	done chan struct{}
}

// NewHandle returns a pending handle.
func NewHandle(correlationID string) *Handle {
	return &Handle{correlationID: correlationID, done: make(chan struct{})}
}

// CorrelationID identifies the submission this handle belongs to.
func (h *Handle) CorrelationID() string {
	return h.correlationID
}

// SetHash records the broadcast transaction hash.
func (h *Handle) SetHash(hash common.Hash) {
	h.mu.Lock()
	h.hash = hash
	h.mu.Unlock()
}

// Hash returns the transaction hash, zero before broadcast.
func (h *Handle) Hash() common.Hash {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hash
}

// Resolve settles the handle. A nil err means success. It reports whether this
// call was the one that resolved the handle.
func (h *Handle) Resolve(receipt *Receipt, err error) bool {
	resolved := false
	h.once.Do(func() {
		h.mu.Lock()
		h.receipt = receipt
		h.err = err
		h.success = err == nil
		close(h.done)
		h.mu.Unlock()
		resolved = true
	})
	return resolved
}

// Done is closed once the handle resolves.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Snapshot copies the current state.
func (h *Handle) Snapshot() HandleState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state := HandleState{
		CorrelationID: h.correlationID,
		Success:       h.success,
		Err:           h.err,
		Receipt:       h.receipt,
	}
	if h.hash != (common.Hash{}) {
		state.Hash = h.hash.Hex()
	}
	select {
	case <-h.done:
	default:
		state.Pending = true
	}
	return state
}

// Wait blocks until the handle resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) (HandleState, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}
