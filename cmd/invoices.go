package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"invoicechain/internal/logger"
	"invoicechain/internal/sheets"
	"invoicechain/internal/verification"
	"invoicechain/pkg/models"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Browse and manage invoices in the backend ledger",
	Long: `List, inspect, create and delete invoices in the backend ledger.

Required environment variables:
  BACKEND_BASE_URL - Base URL of the invoice backend
  BACKEND_TOKEN    - Session token (or run 'invoicechain login')`,
	Example: `  # List all invoices
  invoicechain invoices list

  # Search by invoice number, party or status
  invoicechain invoices list --search verified

  # Show the backend detail of one invoice
  invoicechain invoices show INV-1001`,
}

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invoices",
	Args:  cobra.NoArgs,
	RunE:  runInvoicesList,
}

var invoicesShowCmd = &cobra.Command{
	Use:   "show [invoice-number]",
	Short: "Show the backend detail of an invoice",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvoicesShow,
}

var invoicesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new invoice in PENDING",
	Args:  cobra.NoArgs,
	RunE:  runInvoicesCreate,
}

var invoicesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Append a snapshot of all invoices to a Google Sheet",
	Args:  cobra.NoArgs,
	RunE:  runInvoicesExport,
}

var invoicesDeleteCmd = &cobra.Command{
	Use:   "delete [id] [invoice-number]",
	Short: "Delete an invoice",
	Args:  cobra.ExactArgs(2),
	RunE:  runInvoicesDelete,
}

func init() {
	rootCmd.AddCommand(invoicesCmd)
	invoicesCmd.AddCommand(invoicesListCmd, invoicesShowCmd, invoicesCreateCmd, invoicesDeleteCmd, invoicesExportCmd)

	invoicesCmd.PersistentFlags().Int("timeout", 30, "Request timeout in seconds")

	invoicesListCmd.Flags().String("search", "", "Case-insensitive filter on number, parties, amount or status")
	invoicesListCmd.Flags().Bool("json", false, "Print JSON instead of a table")

	invoicesCreateCmd.Flags().String("payee", "", "Payee address")
	invoicesCreateCmd.Flags().String("payer", "", "Payer address")
	invoicesCreateCmd.Flags().String("amount", "", "Amount in base units")
	invoicesCreateCmd.Flags().String("currency", "USDC", "Currency code")
	invoicesCreateCmd.Flags().String("due", "", "Due date (YYYY-MM-DD)")
	invoicesCreateCmd.Flags().String("invoice-ipfs", "", "IPFS hash of the invoice document")
	invoicesCreateCmd.Flags().String("contract-ipfs", "", "IPFS hash of the underlying contract")
	invoicesExportCmd.Flags().String("sheet", "Invoices", "Worksheet name")

	for _, name := range []string{"payee", "payer", "amount", "due"} {
		_ = invoicesCreateCmd.MarkFlagRequired(name)
	}
}

func runInvoicesList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("invoices")

	search, _ := cmd.Flags().GetString("search")
	asJSON, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	invoices, err := client.List(ctx)
	if err != nil {
		return handlePipelineError(err, log)
	}
	invoices = verification.Filter(invoices, search)

	log.Info().Int("invoices", len(invoices)).Str("search", search).Msg("Invoices listed")

	if asJSON {
		return printJSON(invoices)
	}
	return printInvoiceTable(invoices)
}

func runInvoicesShow(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("invoices")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	details, err := client.Detail(ctx, args[0])
	if err != nil {
		return handlePipelineError(err, log)
	}
	if len(details) == 0 {
		return fmt.Errorf("invoice %s not found", args[0])
	}
	return printJSON(details)
}

func runInvoicesCreate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("invoices")

	flags := cmd.Flags()
	timeoutSecs, _ := flags.GetInt("timeout")
	payee, _ := flags.GetString("payee")
	payer, _ := flags.GetString("payer")
	amount, _ := flags.GetString("amount")
	currency, _ := flags.GetString("currency")
	due, _ := flags.GetString("due")
	invoiceIPFS, _ := flags.GetString("invoice-ipfs")
	contractIPFS, _ := flags.GetString("contract-ipfs")

	dueDate, err := time.Parse("2006-01-02", due)
	if err != nil {
		return fmt.Errorf("invalid due date format. Use YYYY-MM-DD: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	created, err := client.Create(ctx, models.CreateInvoiceRequest{
		Payee:            payee,
		Payer:            payer,
		Amount:           models.Amount(amount),
		InvoiceIPFSHash:  invoiceIPFS,
		ContractIPFSHash: contractIPFS,
		DueDate:          dueDate.Unix(),
		Currency:         currency,
	})
	if err != nil {
		return handlePipelineError(err, log)
	}

	log.Info().Str("invoice_id", created.ID).Str("invoice_number", created.InvoiceNumber).Msg("Invoice created")
	return printJSON(created)
}

func runInvoicesDelete(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("invoices")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	if err := client.Delete(ctx, args[0], args[1]); err != nil {
		return handlePipelineError(err, log)
	}
	log.Info().Str("invoice_id", args[0]).Str("invoice_number", args[1]).Msg("Invoice deleted")
	fmt.Printf("Deleted invoice %s (%s)\n", args[1], args[0])
	return nil
}

func runInvoicesExport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("invoices")
	sheet, _ := cmd.Flags().GetString("sheet")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateSheets(); err != nil {
		return err
	}
	client, err := newBackendClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	invoices, err := client.List(ctx)
	if err != nil {
		return handlePipelineError(err, log)
	}

	sheetsService, err := sheets.NewSheetsService(ctx, cfg.GoogleSheetURL)
	if err != nil {
		return fmt.Errorf("failed to initialize Google Sheets service: %w", err)
	}
	if err := sheetsService.WriteInvoices(ctx, invoices, sheet); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	log.Info().Int("invoices", len(invoices)).Str("sheet", sheet).Msg("Invoices exported")
	fmt.Printf("Exported %d invoice(s) to %q\n", len(invoices), sheet)
	return nil
}

func printInvoiceTable(invoices []models.Invoice) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNUMBER\tSTATUS\tAMOUNT\tCURRENCY\tDUE\tPAYER\tPAYEE")
	for _, inv := range invoices {
		due := ""
		if t := inv.DueTime(); !t.IsZero() {
			due = t.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.ID, inv.InvoiceNumber, inv.Status, inv.Amount, inv.Currency, due, inv.Payer, inv.Payee)
	}
	return w.Flush()
}
