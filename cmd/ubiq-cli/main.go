// Command ubiq-cli is a thin wrapper over the ubiq client library: encrypt
// and decrypt a file or stdin stream against the hosted key service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ubiq-cli",
	Short: "Ubiq client CLI - encrypt and decrypt against the hosted key service",
	Long: `ubiq-cli drives the ubiq client library from the command line.

It supports:
  - One-shot file/stdin encryption and decryption
  - Credential profile selection via --profile or UBIQ_PROFILE
  - Prometheus metrics export for a long-running "serve" invocation`,
}

func main() {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
