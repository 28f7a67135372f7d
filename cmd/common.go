package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"invoicechain/internal/backend"
	"invoicechain/internal/chain"
	"invoicechain/internal/config"
	"invoicechain/internal/journal"
	"invoicechain/internal/verification"
	"invoicechain/internal/wallet"
)

// loadConfig loads configuration and checks the backend settings every
// command needs.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateBackend(); err != nil {
		return nil, fmt.Errorf("backend configuration invalid: %w", err)
	}
	return cfg, nil
}

func newBackendClient(cfg *config.Config) (*backend.Client, error) {
	return backend.NewClient(backend.ClientConfig{
		BaseURL: cfg.BackendBaseURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout,
		RPS:     cfg.BackendRPS,
	})
}

// createContext creates a context with an optional timeout that is cancelled
// on SIGINT/SIGTERM.
func createContext(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// loadSigningKey decrypts the operator keystore, prompting for the
// passphrase when KEYSTORE_PASSPHRASE is unset.
func loadSigningKey(cfg *config.Config, approver wallet.Approver) (*wallet.KeystoreSigner, error) {
	passphrase := cfg.KeystorePassphrase
	if passphrase == "" {
		var err error
		passphrase, err = wallet.ReadPassphrase("Keystore passphrase: ")
		if err != nil {
			return nil, err
		}
	}
	key, err := wallet.LoadKeystore(cfg.KeystorePath, passphrase)
	if err != nil {
		return nil, err
	}
	return wallet.NewKeystoreSigner(key, approver)
}

// chainStack is everything a command needs to submit transactions.
type chainStack struct {
	rpc     *ethclient.Client
	client  *chain.Client
	journal *journal.Journal
	signer  *wallet.KeystoreSigner
}

func (s *chainStack) Close() {
	if s.client != nil {
		s.client.Close()
	}
	if s.rpc != nil {
		s.rpc.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

func newChainStack(cfg *config.Config, approver wallet.Approver) (*chainStack, error) {
	if err := cfg.ValidateChain(); err != nil {
		return nil, fmt.Errorf("chain configuration invalid: %w", err)
	}

	signer, err := loadSigningKey(cfg, approver)
	if err != nil {
		return nil, err
	}

	stack := &chainStack{signer: signer}
	stack.rpc, err = chain.Dial(cfg.ChainRPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain RPC: %w", err)
	}

	stack.client, err = chain.NewClient(stack.rpc, signer, chain.Config{
		Contract:      common.HexToAddress(cfg.ContractAddress),
		ChainID:       big.NewInt(cfg.ChainID),
		PollInterval:  cfg.ReceiptPollInterval,
		SettleTimeout: cfg.SettleTimeout,
	})
	if err != nil {
		stack.Close()
		return nil, err
	}

	stack.journal, err = journal.Open(cfg.JournalPath)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to open divergence journal: %w", err)
	}
	return stack, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// handlePipelineError provides user-friendly messages for verification and
// issuance failures.
func handlePipelineError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Str("kind", verification.KindName(err)).Msg("Operation failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("operation timed out. Try increasing --timeout")
	case errors.Is(err, verification.ErrUserCancellation):
		return fmt.Errorf("transaction was not signed: %w", err)
	case errors.Is(err, verification.ErrNotFound):
		return fmt.Errorf("invoice not found in the backend: %w", err)
	case errors.Is(err, verification.ErrEmptySelection):
		return fmt.Errorf("no invoices selected")
	case errors.Is(err, verification.ErrNotVerified):
		return fmt.Errorf("only VERIFIED invoices can be issued: %w", err)
	case errors.Is(err, verification.ErrInProgress):
		return fmt.Errorf("another operation is in progress for this invoice: %w", err)
	case errors.Is(err, backend.ErrUnauthorized):
		return fmt.Errorf("backend session expired or missing. Run 'invoicechain login' first")
	case errors.Is(err, verification.ErrChainRejection):
		return fmt.Errorf("chain rejected the transaction: %w", err)
	case errors.Is(err, verification.ErrBackendRejected):
		return fmt.Errorf("backend refused the request: %w", err)
	case errors.Is(err, verification.ErrTransientNetwork):
		return fmt.Errorf("network error, please retry: %w", err)
	case errors.Is(err, wallet.ErrKeystore):
		return fmt.Errorf("could not unlock the signing key. Check KEYSTORE_PATH and the passphrase: %w", err)
	default:
		return fmt.Errorf("operation failed: %w", err)
	}
}

// findByNumber matches invoiceNumber case-insensitively and returns the id
// with the number as the backend spells it.
func findByNumber(store *verification.Store, invoiceNumber string) (id, canonical string, ok bool) {
	for _, inv := range store.List() {
		if strings.EqualFold(inv.InvoiceNumber, invoiceNumber) {
			return inv.ID, inv.InvoiceNumber, true
		}
	}
	return "", "", false
}
