package verification

import (
	"context"
	"errors"

	"invoicechain/internal/backend"
	"invoicechain/internal/chain"
)

// Error kinds. Every failure returned by this package wraps one of them.
var (
	ErrUserCancellation         = errors.New("cancelled by user")
	ErrTransientNetwork         = errors.New("transient network failure")
	ErrChainRejection           = errors.New("rejected by chain")
	ErrReconciliationDivergence = errors.New("chain and backend diverged")
	ErrNotFound                 = errors.New("invoice not found")
	ErrEmptySelection           = errors.New("no invoices selected")
	ErrNotVerified              = errors.New("invoice is not verified")
	ErrInProgress               = errors.New("invoice operation in progress")
	ErrBackendRejected          = errors.New("rejected by backend")
)

// Error carries the operation, invoice and kind of a failure.
type Error struct {
	Op        string
	InvoiceID string
	Kind      error
	Err       error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.InvoiceID != "" {
		msg += " " + e.InvoiceID
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause so chain and backend sentinels stay matchable.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func newError(op, invoiceID string, kind, err error) *Error {
	return &Error{Op: op, InvoiceID: invoiceID, Kind: kind, Err: err}
}

// classifySubmit maps a chain submission failure onto an error kind.
func classifySubmit(err error) error {
	var rpcErr *chain.RPCError
	switch {
	case errors.Is(err, chain.ErrUserRejected), errors.Is(err, context.Canceled):
		return ErrUserCancellation
	case errors.Is(err, chain.ErrInvalidPayload),
		errors.Is(err, chain.ErrEstimateGas),
		errors.Is(err, chain.ErrSigner),
		errors.Is(err, chain.ErrReverted),
		errors.Is(err, chain.ErrSettlementTimeout),
		errors.As(err, &rpcErr):
		return ErrChainRejection
	default:
		return ErrTransientNetwork
	}
}

// classifyRepo maps a repository failure onto an error kind. A backend that
// answered with a failure envelope gets rejected, everything else is transient.
func classifyRepo(err error, rejected error) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return rejected
	}
	return ErrTransientNetwork
}

// KindName returns a short label for err's kind, used for metrics and output.
func KindName(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUserCancellation):
		return "cancelled"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrChainRejection):
		return "chain_rejected"
	case errors.Is(err, ErrReconciliationDivergence):
		return "diverged"
	case errors.Is(err, ErrEmptySelection):
		return "empty_selection"
	case errors.Is(err, ErrNotVerified):
		return "not_verified"
	case errors.Is(err, ErrInProgress):
		return "in_progress"
	case errors.Is(err, ErrBackendRejected):
		return "backend_rejected"
	case errors.Is(err, ErrTransientNetwork):
		return "transient"
	default:
		return "unknown"
	}
}
