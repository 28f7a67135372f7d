// Package wallet signs invoice transactions on behalf of a human operator.
//
// Signing is modelled as a future with exactly three outcomes: the operator
// approved and the transaction was signed, the operator rejected it, or the
// signer failed. Callers never need to interpret provider-specific error codes
// to detect a rejection.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"invoicechain/internal/logger"
)

// Outcome is the terminal state of a signature request.
type Outcome int

const (
	OutcomeApproved Outcome = iota + 1
	OutcomeRejected
	OutcomeErrored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	case OutcomeErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// SignRequest is one transaction awaiting the operator's decision.
type SignRequest struct {
	CorrelationID string
	Summary       string
	ChainID       *big.Int
	Tx            *types.Transaction
}

// SignResult resolves a SignRequest.
type SignResult struct {
	Outcome Outcome
	Tx      *types.Transaction // set when approved
	Reason  string             // set when rejected
	Err     error              // set when errored
}

// Signer produces signed transactions, gated by a human decision.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, req SignRequest) SignResult
}

// ErrKeystore is returned when the keystore cannot be read or decrypted.
var ErrKeystore = errors.New("wallet: keystore unavailable")

// KeystoreSigner signs with a decrypted go-ethereum v3 keystore key after the
// Approver accepts the request.
type KeystoreSigner struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	approver Approver
	log      zerolog.Logger
}

// LoadKeystore decrypts the keystore file at path.
func LoadKeystore(path, passphrase string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty keystore path", ErrKeystore)
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeystore, err)
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeystore, err)
	}
	return decrypted.PrivateKey, nil
}

// NewKeystoreSigner wraps key; every SignTx call is gated by approver.
func NewKeystoreSigner(key *ecdsa.PrivateKey, approver Approver) (*KeystoreSigner, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrKeystore)
	}
	if approver == nil {
		return nil, fmt.Errorf("wallet: approver is required")
	}
	return &KeystoreSigner{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		approver: approver,
		log:      logger.WithComponent("wallet"),
	}, nil
}

// Address returns the signing account.
func (s *KeystoreSigner) Address() common.Address {
	return s.address
}

// SignTx asks the approver, then signs. It never returns a nil-outcome result.
func (s *KeystoreSigner) SignTx(ctx context.Context, req SignRequest) SignResult {
	if req.Tx == nil || req.ChainID == nil {
		return SignResult{Outcome: OutcomeErrored, Err: fmt.Errorf("wallet: transaction and chain id are required")}
	}

	approved, err := s.approver.Approve(ctx, ApprovalRequest{
		CorrelationID: req.CorrelationID,
		Summary:       req.Summary,
		From:          s.address.Hex(),
		To:            addressOrEmpty(req.Tx.To()),
		Gas:           req.Tx.Gas(),
		DataSize:      len(req.Tx.Data()),
	})
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Info().Str("correlation_id", req.CorrelationID).Msg("Signature request abandoned")
		return SignResult{Outcome: OutcomeRejected, Reason: "signature request cancelled"}
	case err != nil:
		return SignResult{Outcome: OutcomeErrored, Err: fmt.Errorf("wallet: approval failed: %w", err)}
	case !approved:
		s.log.Info().Str("correlation_id", req.CorrelationID).Msg("Operator rejected signature request")
		return SignResult{Outcome: OutcomeRejected, Reason: "rejected by operator"}
	}

	signed, err := types.SignTx(req.Tx, types.LatestSignerForChainID(req.ChainID), s.key)
	if err != nil {
		return SignResult{Outcome: OutcomeErrored, Err: fmt.Errorf("wallet: sign transaction: %w", err)}
	}

	s.log.Debug().
		Str("correlation_id", req.CorrelationID).
		Str("tx_hash", signed.Hash().Hex()).
		Msg("Transaction signed")

	return SignResult{Outcome: OutcomeApproved, Tx: signed}
}

// SignText produces an EIP-191 personal signature over msg, as wallets do for
// login challenges.
func (s *KeystoreSigner) SignText(msg []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return "", fmt.Errorf("wallet: sign text: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func addressOrEmpty(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}
