package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// Reserved provider error codes.
const (
	CodeUserRejected  = 4001
	CodeExecutionFail = -32000
	CodeInternalError = -32603
)

var (
	// ErrUserRejected is returned when the signer declines the transaction.
	ErrUserRejected = errors.New("chain: user rejected the request")

	// ErrInvalidPayload is returned when an invoice cannot be ABI-encoded.
	ErrInvalidPayload = errors.New("chain: invalid invoice payload")

	// ErrEstimateGas is returned when the node refuses to estimate the call.
	ErrEstimateGas = errors.New("chain: gas estimation failed")

	// ErrSigner is returned when the wallet failed without a user decision.
	ErrSigner = errors.New("chain: signer failed")

	// ErrBroadcast is returned when the signed transaction could not be sent.
	ErrBroadcast = errors.New("chain: broadcast failed")

	// ErrReverted resolves a handle whose receipt reports failure.
	ErrReverted = errors.New("chain: transaction reverted")

	// ErrSettlementTimeout resolves a handle that was not mined in time.
	ErrSettlementTimeout = errors.New("chain: settlement timed out")

	// ErrNotMined is returned by Confirm when no receipt exists yet.
	ErrNotMined = errors.New("chain: transaction not mined")

	// ErrPayloadMismatch is returned by Confirm when the transaction does not
	// carry the expected invoice.
	ErrPayloadMismatch = errors.New("chain: transaction does not anchor invoice")
)

// RPCError is a provider error carrying a JSON-RPC or EIP-1193 code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	switch e.Code {
	case CodeUserRejected:
		return fmt.Sprintf("user rejected the request (code %d): %s", e.Code, e.Message)
	case CodeExecutionFail:
		return fmt.Sprintf("execution failed (code %d): %s", e.Code, e.Message)
	case CodeInternalError:
		return fmt.Sprintf("internal provider error (code %d): %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("rpc error (code %d): %s", e.Code, e.Message)
	}
}

// Is reports code 4001 as ErrUserRejected.
func (e *RPCError) Is(target error) bool {
	return target == ErrUserRejected && e.Code == CodeUserRejected
}

// asRPCError converts go-ethereum rpc errors to *RPCError, leaving others as is.
func asRPCError(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return err
}
