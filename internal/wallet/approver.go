package wallet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// ApprovalRequest is what the operator sees before signing.
type ApprovalRequest struct {
	CorrelationID string    `json:"correlation_id"`
	Summary       string    `json:"summary"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Gas           uint64    `json:"gas"`
	DataSize      int       `json:"data_size"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Approver decides whether a transaction may be signed. It blocks until the
// operator answers or ctx ends.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// AutoApprover approves everything. Used for --yes.
type AutoApprover struct{}

// Approve always returns true unless ctx is already done.
func (AutoApprover) Approve(ctx context.Context, _ ApprovalRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// TerminalApprover prompts on a terminal and reads y/N. A single goroutine
// reads In for the approver's lifetime, so a prompt abandoned by ctx never
// leaves a second reader behind.
type TerminalApprover struct {
	In  io.Reader
	Out io.Writer

	once      sync.Once
	mu        sync.Mutex
	lines     chan terminalLine
	abandoned bool
}

type terminalLine struct {
	text string
	err  error
}

// NewTerminalApprover prompts on stdin/stderr.
func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{In: os.Stdin, Out: os.Stderr}
}

func (a *TerminalApprover) readLines() {
	defer close(a.lines)
	reader := bufio.NewReader(a.In)
	for {
		text, err := reader.ReadString('\n')
		if text != "" {
			a.lines <- terminalLine{text: text}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				a.lines <- terminalLine{err: err}
			}
			return
		}
	}
}

// Approve prints the request and waits for an answer. Prompts are
// serialized; an answer that arrived for an abandoned prompt is discarded.
func (a *TerminalApprover) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.once.Do(func() {
		a.lines = make(chan terminalLine, 1)
		go a.readLines()
	})

	if a.abandoned {
		a.abandoned = false
		select {
		case _, ok := <-a.lines:
			if !ok {
				return false, nil
			}
		default:
		}
	}

	fmt.Fprintf(a.Out, "\nSignature request %s\n", req.CorrelationID)
	fmt.Fprintf(a.Out, "  %s\n", req.Summary)
	fmt.Fprintf(a.Out, "  from %s to %s, gas limit %d, %d bytes of calldata\n", req.From, req.To, req.Gas, req.DataSize)
	fmt.Fprint(a.Out, "Sign and broadcast? [y/N]: ")

	select {
	case <-ctx.Done():
		a.abandoned = true
		return false, ctx.Err()
	case line, ok := <-a.lines:
		if !ok {
			return false, nil
		}
		if line.err != nil {
			return false, line.err
		}
		switch strings.ToLower(strings.TrimSpace(line.text)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// ReadPassphrase reads a secret from the terminal without echo. When stdin is
// not a terminal it reads one line.
func ReadPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("wallet: read passphrase: %w", err)
		}
		return string(secret), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("wallet: read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ErrNoPendingApproval is returned when deciding an unknown or already decided request.
var ErrNoPendingApproval = errors.New("wallet: no pending approval with that id")

// QueueApprover parks requests until an operator decides them through the
// HTTP API.
type QueueApprover struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	now     func() time.Time
}

type pendingApproval struct {
	req      ApprovalRequest
	decision chan bool
}

// NewQueueApprover returns an empty queue.
func NewQueueApprover() *QueueApprover {
	return &QueueApprover{
		pending: make(map[string]*pendingApproval),
		now:     time.Now,
	}
}

// Approve parks req until Decide is called or ctx ends.
func (q *QueueApprover) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	if req.CorrelationID == "" {
		return false, fmt.Errorf("wallet: correlation id is required")
	}
	req.RequestedAt = q.now()
	p := &pendingApproval{req: req, decision: make(chan bool, 1)}

	q.mu.Lock()
	if _, exists := q.pending[req.CorrelationID]; exists {
		q.mu.Unlock()
		return false, fmt.Errorf("wallet: approval %s already pending", req.CorrelationID)
	}
	q.pending[req.CorrelationID] = p
	q.mu.Unlock()

	select {
	case approved := <-p.decision:
		return approved, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, req.CorrelationID)
		q.mu.Unlock()
		return false, ctx.Err()
	}
}

// Decide resolves a parked request.
func (q *QueueApprover) Decide(correlationID string, approve bool) error {
	q.mu.Lock()
	p, ok := q.pending[correlationID]
	if ok {
		delete(q.pending, correlationID)
	}
	q.mu.Unlock()

	if !ok {
		return ErrNoPendingApproval
	}
	p.decision <- approve
	return nil
}

// Pending lists parked requests, oldest first.
func (q *QueueApprover) Pending() []ApprovalRequest {
	q.mu.Lock()
	out := make([]ApprovalRequest, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p.req)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}
