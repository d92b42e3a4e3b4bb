package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/ubiq/internal/metrics"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Prometheus metrics for a long-running embedding process",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9090", "Address to serve /metrics on")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on %s/metrics\n", serveAddr)
	return metrics.StartServer(serveAddr)
}
