package verification

import (
	"context"
	"time"

	"invoicechain/internal/journal"
)

// Journal persists divergences between chain and backend.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Option customises the components built by this package.
type Option func(*settings)

type settings struct {
	clock          func() time.Time
	notifier       Notifier
	journal        Journal
	backendTimeout time.Duration
	historySize    int
}

func defaultSettings() settings {
	return settings{
		clock:          time.Now,
		notifier:       NewLogNotifier(),
		backendTimeout: 30 * time.Second,
		historySize:    100,
	}
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// WithClock overrides the time source used for payload timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithNotifier routes operator notices to n.
func WithNotifier(n Notifier) Option {
	return func(s *settings) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithJournal records divergences to j.
func WithJournal(j Journal) Option {
	return func(s *settings) {
		s.journal = j
	}
}

// WithBackendTimeout bounds the backend calls made during settlement.
func WithBackendTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.backendTimeout = d
		}
	}
}

// WithHistorySize sets how many settled outcomes the watcher keeps.
func WithHistorySize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.historySize = n
		}
	}
}
