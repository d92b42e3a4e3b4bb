package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	ubiq "github.com/sage-x-project/ubiq"
)

var (
	decryptProfile string
	decryptInFile  string
	decryptOutFile string
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt a ciphertext frame produced by encrypt",
	RunE:  runDecrypt,
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().StringVarP(&decryptProfile, "profile", "p", "", "Credentials profile (default: UBIQ_PROFILE or \"default\")")
	decryptCmd.Flags().StringVarP(&decryptInFile, "in", "i", "", "Input file (default: stdin)")
	decryptCmd.Flags().StringVarP(&decryptOutFile, "out", "o", "", "Output file (default: stdout)")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	creds, err := loadCredentials(decryptProfile)
	if err != nil {
		return err
	}

	ciphertext, err := readInput(decryptInFile)
	if err != nil {
		return err
	}

	plaintext, err := ubiq.Decrypt(context.Background(), creds, ciphertext)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	return writeOutput(decryptOutFile, plaintext)
}
