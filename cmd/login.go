package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invoicechain/internal/logger"
	"invoicechain/internal/wallet"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the backend by signing a challenge with the operator wallet",
	Long: `Request a login challenge for the operator address, sign it with the
keystore key (EIP-191 personal message) and store the returned session token in
BACKEND_TOKEN_FILE for later commands.`,
	Example: `  invoicechain login`,
	Args:    cobra.NoArgs,
	RunE:    runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().Int("timeout", 30, "Timeout in seconds")
}

func runLogin(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("login")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.KeystorePath == "" {
		return fmt.Errorf("KEYSTORE_PATH is required")
	}

	// Login signs text, never a transaction.
	signer, err := loadSigningKey(cfg, wallet.AutoApprover{})
	if err != nil {
		return handlePipelineError(err, log)
	}

	cfg.BackendToken = ""
	client, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	address := signer.Address().Hex()
	challenge, err := client.Challenge(ctx, address)
	if err != nil {
		return handlePipelineError(err, log)
	}

	signature, err := signer.SignText([]byte(challenge.Nonce))
	if err != nil {
		return err
	}

	session, err := client.Login(ctx, challenge.RequestID, signature)
	if err != nil {
		return handlePipelineError(err, log)
	}

	if err := cfg.SaveToken(session.Token); err != nil {
		return fmt.Errorf("failed to store session token: %w", err)
	}

	log.Info().Str("address", address).Str("token_file", cfg.BackendTokenFile).Msg("Logged in")
	fmt.Printf("Logged in as %s\n", address)
	return nil
}
