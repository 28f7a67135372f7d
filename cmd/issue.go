package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invoicechain/internal/logger"
	"invoicechain/internal/verification"
)

var issueCmd = &cobra.Command{
	Use:   "issue [invoice-number...]",
	Short: "Issue verified invoices in one batch",
	Long: `Move the given VERIFIED invoices to ISSUED with a single backend call.

Every invoice must be VERIFIED and have no operation in flight; otherwise
nothing is issued.`,
	Example: `  invoicechain issue INV-1001 INV-1002`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runIssue,
}

func init() {
	rootCmd.AddCommand(issueCmd)
	issueCmd.Flags().Int("timeout", 60, "Timeout in seconds")
}

func runIssue(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("issue")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	// Issuance never touches the chain.
	store := verification.NewStore(repo)
	issuer := verification.NewIssuer(repo, store, verification.NewProcessingSet())

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	if err := store.Refresh(ctx); err != nil {
		return handlePipelineError(err, log)
	}

	for _, number := range args {
		id, _, ok := findByNumber(store, number)
		if !ok {
			return fmt.Errorf("invoice %s not found", number)
		}
		if err := issuer.Select(id); err != nil {
			return handlePipelineError(err, log)
		}
	}

	if err := issuer.IssueSelected(ctx); err != nil {
		return handlePipelineError(err, log)
	}

	log.Info().Strs("invoices", args).Msg("Invoices issued")
	fmt.Printf("Issued %d invoice(s)\n", len(args))
	return nil
}
