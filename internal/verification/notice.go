package verification

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoicechain/internal/logger"
)

// Level is the severity of a user-visible notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// MarshalText renders the level name in JSON.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Notice is a message for the operator.
type Notice struct {
	Level     Level     `json:"level"`
	InvoiceID string    `json:"invoice_id,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier returns a notifier logging under the "notice" component.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.WithComponent("notice")}
}

// Notify logs n at a matching level.
func (l *LogNotifier) Notify(n Notice) {
	var event *zerolog.Event
	switch n.Level {
	case LevelError:
		event = l.log.Error()
	case LevelWarning:
		event = l.log.Warn()
	default:
		event = l.log.Info()
	}
	event.Str("invoice_id", n.InvoiceID).Str("level", n.Level.String()).Msg(n.Message)
}

// Recorder keeps notices in memory, newest last.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	notices []Notice
}

// NewRecorder keeps at most limit notices; zero keeps all.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Notify appends n.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	if r.limit > 0 && len(r.notices) > r.limit {
		r.notices = r.notices[len(r.notices)-r.limit:]
	}
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Last returns the most recent notice.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

// Notifiers fans a notice out to several notifiers.
type Notifiers []Notifier

// Notify forwards n to every notifier.
func (ns Notifiers) Notify(n Notice) {
	for _, notifier := range ns {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}
