package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invoicechain/internal/logger"
	"invoicechain/internal/verification"
	"invoicechain/internal/wallet"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [invoice-number...]",
	Short: "Anchor invoices on chain and verify them with the backend",
	Long: `Anchor each invoice on chain with a signed batchCreateInvoices transaction,
wait for the receipt and ask the backend to verify the anchoring.

Each transaction is shown for approval before it is signed unless --yes is
given. Divergences between chain and backend are recorded in the journal
(see 'invoicechain reconcile').

Required environment variables:
  BACKEND_BASE_URL, BACKEND_TOKEN - Invoice backend
  CHAIN_RPC_URL, CHAIN_ID         - Chain endpoint
  CONTRACT_ADDRESS                - Invoice registry contract
  KEYSTORE_PATH                   - Operator keystore (v3 JSON)`,
	Example: `  # Verify one invoice, approving on the terminal
  invoicechain verify INV-1001

  # Verify several invoices without prompting
  invoicechain verify INV-1001 INV-1002 --yes

  # Submit and return without waiting for settlement
  invoicechain verify INV-1001 --wait=false`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Bool("yes", false, "Sign without asking for approval")
	verifyCmd.Flags().Bool("wait", true, "Wait for every transaction to settle")
	verifyCmd.Flags().Int("timeout", 600, "Overall timeout in seconds")
}

func runVerify(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("verify")

	autoApprove, _ := cmd.Flags().GetBool("yes")
	wait, _ := cmd.Flags().GetBool("wait")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	var approver wallet.Approver = wallet.NewTerminalApprover()
	if autoApprove {
		approver = wallet.AutoApprover{}
	}

	stack, err := newChainStack(cfg, approver)
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer stack.Close()

	log.Info().
		Str("signer", stack.signer.Address().Hex()).
		Strs("invoices", args).
		Bool("auto_approve", autoApprove).
		Msg("Starting verification")

	svc, err := verification.NewService(repo, stack.client,
		verification.WithJournal(stack.journal),
		verification.WithBackendTimeout(cfg.BackendTimeout),
	)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	if err := svc.Store.Refresh(ctx); err != nil {
		return handlePipelineError(err, log)
	}

	outcomes, unsubscribe := svc.Watcher.Subscribe(len(args))
	defer unsubscribe()

	submitted := 0
	var firstErr error
	for _, number := range args {
		id, canonical, ok := findByNumber(svc.Store, number)
		if !ok {
			log.Warn().Str("invoice_number", number).Msg("Invoice not in the backend list")
			if firstErr == nil {
				firstErr = fmt.Errorf("invoice %s not found", number)
			}
			continue
		}

		attempt, err := svc.Orchestrator.Verify(ctx, canonical, id)
		if err != nil {
			if firstErr == nil {
				firstErr = handlePipelineError(err, log)
			}
			continue
		}
		if attempt == nil {
			continue
		}
		submitted++
		fmt.Printf("Submitted %s: tx %s\n", canonical, attempt.Handle.Hash().Hex())
	}

	if !wait || submitted == 0 {
		return firstErr
	}

	for i := 0; i < submitted; i++ {
		select {
		case outcome := <-outcomes:
			printOutcome(outcome)
			if outcome.Err != nil && firstErr == nil {
				firstErr = handlePipelineError(outcome.Err, log)
			}
		case <-ctx.Done():
			return handlePipelineError(ctx.Err(), log)
		}
	}
	return firstErr
}

func printOutcome(o verification.Outcome) {
	switch o.Result {
	case verification.ResultVerified:
		fmt.Printf("%s verified (tx %s)\n", o.InvoiceNumber, o.TxHash)
	case verification.ResultUnconfirmed:
		fmt.Printf("%s submitted but not yet confirmed by the backend (status %q); recorded for reconciliation\n", o.InvoiceNumber, o.Status)
	case verification.ResultDiverged:
		fmt.Printf("%s is on chain but backend verification failed: %s\n", o.InvoiceNumber, o.Error)
	default:
		fmt.Printf("%s failed on chain: %s\n", o.InvoiceNumber, o.Error)
	}
}
