package verification

import (
	"sort"
	"sync"
)

// ProcessingSet holds the ids of invoices with an operation in flight. An id
// enters once per attempt and leaves once on every terminal branch.
type ProcessingSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewProcessingSet returns an empty set.
func NewProcessingSet() *ProcessingSet {
	return &ProcessingSet{ids: make(map[string]struct{})}
}

// Acquire adds id and reports whether it was absent.
func (p *ProcessingSet) Acquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.ids[id]; busy {
		return false
	}
	p.ids[id] = struct{}{}
	Metrics().setInflight(len(p.ids))
	return true
}

// Release removes id and reports whether it was present.
func (p *ProcessingSet) Release(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.ids[id]; !busy {
		return false
	}
	delete(p.ids, id)
	Metrics().setInflight(len(p.ids))
	return true
}

// Contains reports whether id is in flight.
func (p *ProcessingSet) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.ids[id]
	return busy
}

// Len returns the number of ids in flight.
func (p *ProcessingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// IDs returns the in-flight ids, sorted.
func (p *ProcessingSet) IDs() []string {
	p.mu.Lock()
	ids := make([]string, 0, len(p.ids))
	for id := range p.ids {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	sort.Strings(ids)
	return ids
}
