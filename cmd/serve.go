package cmd

import (
	"github.com/spf13/cobra"

	"invoicechain/internal/logger"
	"invoicechain/internal/reconciliation"
	"invoicechain/internal/server"
	"invoicechain/internal/verification"
	"invoicechain/internal/wallet"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator HTTP API",
	Long: `Serve the operator API. Signature requests are parked until they are
approved or rejected through /api/v1/approvals, and /metrics exposes
Prometheus metrics.

The API has no authentication; keep it on a loopback or private address.`,
	Example: `  invoicechain serve --addr 127.0.0.1:8089`,
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default: LISTEN_ADDR)")
	serveCmd.Flags().Int("notices", 200, "Number of notices kept for /api/v1/notices")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	noticeLimit, _ := cmd.Flags().GetInt("notices")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.ListenAddr
	}
	repo, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	approvals := wallet.NewQueueApprover()
	stack, err := newChainStack(cfg, approvals)
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer stack.Close()

	notices := verification.NewRecorder(noticeLimit)
	svc, err := verification.NewService(repo, stack.client,
		verification.WithNotifier(verification.Notifiers{verification.NewLogNotifier(), notices}),
		verification.WithJournal(stack.journal),
		verification.WithBackendTimeout(cfg.BackendTimeout),
	)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := createContext(0, log)
	defer cancel()

	if err := svc.Store.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial invoice list failed; use POST /api/v1/invoices/refresh")
	}

	srv := server.New(server.Config{
		Service:    svc,
		Approvals:  approvals,
		Notices:    notices,
		Reconciler: reconciliation.NewReconciler(stack.journal, repo, reconciliation.WithConfirmer(stack.client)),
	})

	log.Info().
		Str("addr", addr).
		Str("signer", stack.signer.Address().Hex()).
		Msg("Starting operator API")
	return srv.ListenAndServe(ctx, addr)
}
