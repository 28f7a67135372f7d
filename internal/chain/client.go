// Package chain submits invoice batches to the registry contract and tracks
// each transaction until it is mined.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoicechain/internal/logger"
	"invoicechain/internal/wallet"
	"invoicechain/pkg/models"
)

// Backend is the subset of the Ethereum RPC used by the client.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// Dial opens an RPC connection to endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Config holds contract and polling settings.
type Config struct {
	Contract common.Address

	// ChainID is fetched from the node on first use when nil.
	ChainID *big.Int

	// PollInterval between receipt lookups. Default: 3 seconds.
	PollInterval time.Duration

	// SettleTimeout stops polling and fails the handle. Zero waits forever.
	SettleTimeout time.Duration

	// GasMarginPercent is added on top of the node's estimate. Default: 20.
	GasMarginPercent uint64
}

// Option customises a Client.
type Option func(*Client)

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// Client implements invoice submission over an Ethereum backend.
type Client struct {
	backend Backend
	signer  wallet.Signer
	cfg     Config
	newID   func() string
	log     zerolog.Logger

	mu      sync.Mutex
	chainID *big.Int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient wires a backend and signer.
func NewClient(backend Backend, signer wallet.Signer, cfg Config, opts ...Option) (*Client, error) {
	const op = "NewClient"

	if backend == nil {
		return nil, fmt.Errorf("%s: backend is required", op)
	}
	if signer == nil {
		return nil, fmt.Errorf("%s: signer is required", op)
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("%s: contract address is required", op)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.GasMarginPercent == 0 {
		cfg.GasMarginPercent = 20
	}

	c := &Client{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		newID:   uuid.NewString,
		log:     logger.WithComponent("chain"),
		chainID: cfg.ChainID,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit encodes invoices, asks the signer for approval, broadcasts and
// returns a pending handle. It returns once the transaction is sent; the
// handle resolves when the receipt is observed.
func (c *Client) Submit(ctx context.Context, invoices []models.ChainInvoice) (*Handle, error) {
	const op = "Submit"

	data, err := EncodeBatch(invoices)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	correlationID := c.newID()
	log := c.log.With().Str("correlation_id", correlationID).Logger()
	from := c.signer.Address()

	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: chain id: %w", op, asRPCError(err))
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%s: nonce: %w", op, asRPCError(err))
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: gas price: %w", op, asRPCError(err))
	}

	to := c.cfg.Contract
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Gas estimation failed")
		return nil, fmt.Errorf("%s: %w: %w", op, ErrEstimateGas, asRPCError(err))
	}
	gas += gas * c.cfg.GasMarginPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})

	result := c.signer.SignTx(ctx, wallet.SignRequest{
		CorrelationID: correlationID,
		Summary:       summarize(invoices),
		ChainID:       chainID,
		Tx:            tx,
	})
	switch result.Outcome {
	case wallet.OutcomeApproved:
	case wallet.OutcomeRejected:
		return nil, fmt.Errorf("%s: %w", op, &RPCError{Code: CodeUserRejected, Message: result.Reason})
	default:
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSigner, result.Err)
	}

	if err := c.backend.SendTransaction(ctx, result.Tx); err != nil {
		log.Error().Err(err).Msg("Broadcast failed")
		return nil, fmt.Errorf("%s: %w: %w", op, ErrBroadcast, asRPCError(err))
	}

	handle := NewHandle(correlationID)
	handle.SetHash(result.Tx.Hash())

	log.Info().
		Str("tx_hash", result.Tx.Hash().Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Int("invoices", len(invoices)).
		Msg("Transaction broadcast")

	c.wg.Add(1)
	go c.watch(handle, log)

	return handle, nil
}

// Confirm checks that txHash was mined successfully and anchors invoiceNumber.
func (c *Client) Confirm(ctx context.Context, txHash common.Hash, invoiceNumber string) (*Receipt, error) {
	const op = "Confirm"

	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotMined)
		}
		return nil, fmt.Errorf("%s: receipt: %w", op, asRPCError(err))
	}
	summary := toReceipt(receipt)
	if summary.Status != ReceiptSuccess {
		return summary, fmt.Errorf("%s: %w", op, ErrReverted)
	}

	tx, _, err := c.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		return summary, fmt.Errorf("%s: transaction: %w", op, asRPCError(err))
	}
	anchored, err := DecodeBatch(tx.Data())
	if err != nil {
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	for _, inv := range anchored {
		if inv.InvoiceNumber == invoiceNumber {
			return summary, nil
		}
	}
	return summary, fmt.Errorf("%s: %w: %s", op, ErrPayloadMismatch, invoiceNumber)
}

// Close stops all receipt polling. Unresolved handles stay pending.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *Client) watch(handle *Handle, log zerolog.Logger) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if c.cfg.SettleTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SettleTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	hash := handle.Hash()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			summary := toReceipt(receipt)
			if summary.Status == ReceiptSuccess {
				handle.Resolve(summary, nil)
				log.Info().Uint64("block", summary.BlockNumber).Msg("Transaction mined")
			} else {
				handle.Resolve(summary, ErrReverted)
				log.Warn().Uint64("block", summary.BlockNumber).Msg("Transaction reverted")
			}
			return
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			log.Debug().Err(err).Msg("Receipt lookup failed, retrying")
		}

		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			handle.Resolve(nil, ErrSettlementTimeout)
			log.Warn().Dur("timeout", c.cfg.SettleTimeout).Msg("Gave up waiting for receipt")
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	c.chainID = id
	return id, nil
}

func toReceipt(r *types.Receipt) *Receipt {
	status := ReceiptReverted
	if r.Status == types.ReceiptStatusSuccessful {
		status = ReceiptSuccess
	}
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	return &Receipt{BlockNumber: block, GasUsed: r.GasUsed, Status: status}
}

func summarize(invoices []models.ChainInvoice) string {
	numbers := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		numbers = append(numbers, fmt.Sprintf("%s (%s)", inv.InvoiceNumber, inv.Amount))
	}
	return "batchCreateInvoices: " + strings.Join(numbers, ", ")
}
