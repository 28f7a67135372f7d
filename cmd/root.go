package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"invoicechain/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoicechain",
	Short: "Invoicechain CLI - anchor, verify and issue invoices on chain",
	Long: `Invoicechain is an operator console for tokenized invoices.

It lists invoices from the backend ledger, anchors them on chain with a
wallet-approved transaction, asks the backend to verify the anchoring and
issues verified invoices in batches. Divergences between chain and backend
are journaled and can be reconciled later.`,
	Version:           version,
	PersistentPreRunE: startMetrics,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Invoicechain CLI executed")

		fmt.Println("Welcome to Invoicechain CLI!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
}

// startMetrics exposes /metrics for the lifetime of the process when
// --metrics-addr is set.
func startMetrics(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		return nil
	}
	log := logger.WithComponent("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	return nil
}
