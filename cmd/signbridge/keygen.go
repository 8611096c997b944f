// Copyright © 2025 SignBridge Contributors
//
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"path/filepath"

	"github.com/opensigning/signbridge/pkg/keys"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair for authority registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keys.GenerateRSAKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate key pair: %w", err)
		}

		privateKeyPath := filepath.Join(keyDir, "private.pem")
		publicKeyPath := filepath.Join(keyDir, "public.pem")

		if err := keys.SavePrivateKey(privateKeyPath, key); err != nil {
			return fmt.Errorf("failed to save private key: %w", err)
		}
		if err := keys.SavePublicKey(publicKeyPath, &key.PublicKey); err != nil {
			return fmt.Errorf("failed to save public key: %w", err)
		}

		fmt.Printf("Generated new key pair:\n")
		fmt.Printf("  Private key: %s\n", privateKeyPath)
		fmt.Printf("  Public key:  %s\n", publicKeyPath)
		fmt.Println("Register the public key with your signing authority before serving.")
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keyDir, "key-dir", ".", "Directory to save key files")

	rootCmd.AddCommand(keygenCmd)
}
