package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	ubiq "github.com/sage-x-project/ubiq"
	"github.com/sage-x-project/ubiq/credentials"
)

var (
	encryptProfile string
	encryptInFile  string
	encryptOutFile string
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a file or stdin and write a self-describing ciphertext frame",
	RunE:  runEncrypt,
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	encryptCmd.Flags().StringVarP(&encryptProfile, "profile", "p", "", "Credentials profile (default: UBIQ_PROFILE or \"default\")")
	encryptCmd.Flags().StringVarP(&encryptInFile, "in", "i", "", "Input file (default: stdin)")
	encryptCmd.Flags().StringVarP(&encryptOutFile, "out", "o", "", "Output file (default: stdout)")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	creds, err := loadCredentials(encryptProfile)
	if err != nil {
		return err
	}

	plaintext, err := readInput(encryptInFile)
	if err != nil {
		return err
	}

	ciphertext, err := ubiq.Encrypt(context.Background(), creds, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	return writeOutput(encryptOutFile, ciphertext)
}

func loadCredentials(profile string) (credentials.Credentials, error) {
	path, err := credentials.DefaultPath()
	if err != nil {
		return credentials.Credentials{}, err
	}
	return credentials.FromProfile(path, profile)
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
