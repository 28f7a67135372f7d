package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoicechain/internal/config"
	"invoicechain/internal/journal"
	"invoicechain/internal/logger"
	"invoicechain/internal/reconciliation"
	"invoicechain/internal/sheets"
	"invoicechain/internal/wallet"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile divergences between the chain and the backend",
	Long: `Inspect and resolve divergences recorded during verification.

A divergence is journaled when a transaction was mined but the backend did not
confirm the invoice. Retrying re-runs the backend verification (and, with
--confirm, first checks the receipt on chain). Entries are removed once the
backend reports VERIFIED.

Required environment variables:
  JOURNAL_PATH     - Divergence journal directory (default: data/journal)
  BACKEND_BASE_URL - Invoice backend (retry)
  GOOGLE_SHEET_URL - Spreadsheet for 'reconcile export'`,
	Example: `  # List open divergences
  invoicechain reconcile list

  # Retry one divergence, confirming the receipt on chain first
  invoicechain reconcile retry 6f1c... --confirm

  # Retry everything
  invoicechain reconcile retry --all

  # Append new divergences to the report sheet
  invoicechain reconcile export --sheet Divergences`,
}

var reconcileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open divergences",
	Args:  cobra.NoArgs,
	RunE:  runReconcileList,
}

var reconcileRetryCmd = &cobra.Command{
	Use:   "retry [correlation-id]",
	Short: "Retry backend verification for journaled divergences",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReconcileRetry,
}

var reconcileExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Append divergences to a Google Sheet",
	Args:  cobra.NoArgs,
	RunE:  runReconcileExport,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.AddCommand(reconcileListCmd, reconcileRetryCmd, reconcileExportCmd)

	reconcileCmd.PersistentFlags().Int("timeout", 120, "Timeout in seconds")

	reconcileListCmd.Flags().Bool("json", false, "Print JSON instead of a table")

	reconcileRetryCmd.Flags().Bool("all", false, "Retry every open divergence")
	reconcileRetryCmd.Flags().Bool("confirm", false, "Check the transaction receipt on chain before asking the backend")

	reconcileExportCmd.Flags().String("sheet", "", "Worksheet name (default: GOOGLE_SHEET_WORKSHEET)")
}

func runReconcileList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("failed to open divergence journal: %w", err)
	}
	defer j.Close()

	entries, err := j.List(context.Background())
	if err != nil {
		return err
	}
	log.Info().Int("entries", len(entries)).Msg("Divergences listed")

	if asJSON {
		return printJSON(entries)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tINVOICE\tTX\tRECORDED\tRETRIES\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID, e.Kind, e.InvoiceNumber, e.TxHash, e.RecordedAt.Format(time.RFC3339), e.Retries, e.LastError)
	}
	return w.Flush()
}

func runReconcileRetry(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile")

	all, _ := cmd.Flags().GetBool("all")
	confirm, _ := cmd.Flags().GetBool("confirm")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	if all == (len(args) == 1) {
		return fmt.Errorf("pass either a correlation id or --all")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	var (
		j    *journal.Journal
		opts []reconciliation.Option
	)
	if confirm {
		// Confirmation only reads receipts; nothing is ever signed.
		readOnly := wallet.ApproverFunc(func(context.Context, wallet.ApprovalRequest) (bool, error) { return false, nil })
		stack, err := newChainStack(cfg, readOnly)
		if err != nil {
			return handlePipelineError(err, log)
		}
		defer stack.Close()
		j = stack.journal
		opts = append(opts, reconciliation.WithConfirmer(stack.client))
	} else {
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open divergence journal: %w", err)
		}
		defer j.Close()
	}

	reconciler := reconciliation.NewReconciler(j, repo, opts...)

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	if !all {
		result, err := reconciler.Retry(ctx, args[0])
		if result != nil {
			printRetry(*result)
		}
		return handleReconcileError(err, log)
	}

	results, err := reconciler.RetryAll(ctx)
	resolved := 0
	for _, r := range results {
		printRetry(r)
		if r.Resolved {
			resolved++
		}
	}
	log.Info().Int("retried", len(results)).Int("resolved", resolved).Msg("Retry finished")
	fmt.Printf("Resolved %d of %d divergence(s)\n", resolved, len(results))
	return handleReconcileError(err, log)
}

func runReconcileExport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile")

	sheet, _ := cmd.Flags().GetString("sheet")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateSheets(); err != nil {
		return err
	}
	if sheet == "" {
		sheet = cfg.GoogleSheetWorksheet
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	sheetsService, err := sheets.NewSheetsService(ctx, cfg.GoogleSheetURL)
	if err != nil {
		return fmt.Errorf("failed to initialize Google Sheets service: %w", err)
	}
	log.Info().Msg("Google Sheets service initialized successfully")

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("failed to open divergence journal: %w", err)
	}
	defer j.Close()

	// Export never calls the backend.
	n, err := reconciliation.NewReconciler(j, nil).Export(ctx, sheetsService, sheet)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Printf("Exported %d divergence(s) to %q\n", n, sheet)
	return nil
}

func printRetry(r reconciliation.RetryResult) {
	switch {
	case r.Resolved:
		fmt.Printf("%s (%s): resolved\n", r.InvoiceNumber, r.ID)
	case r.Err != nil:
		fmt.Printf("%s (%s): %v\n", r.InvoiceNumber, r.ID, r.Err)
	default:
		fmt.Printf("%s (%s): backend status %q\n", r.InvoiceNumber, r.ID, r.BackendStatus)
	}
}

// handleReconcileError provides user-friendly messages for retry failures.
func handleReconcileError(err error, log zerolog.Logger) error {
	if err == nil {
		return nil
	}
	log.Error().Err(err).Msg("Reconciliation failed")

	switch {
	case errors.Is(err, journal.ErrNotFound):
		return fmt.Errorf("no open divergence with that id. Run 'invoicechain reconcile list'")
	case errors.Is(err, reconciliation.ErrStillDiverged):
		return fmt.Errorf("the backend has still not confirmed the invoice; retry later: %w", err)
	default:
		return handlePipelineError(err, log)
	}
}
