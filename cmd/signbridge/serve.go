// Copyright © 2025 SignBridge Contributors
//
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/opensigning/signbridge/pkg/assertion"
	"github.com/opensigning/signbridge/pkg/config"
	"github.com/opensigning/signbridge/pkg/gateway"
	"github.com/opensigning/signbridge/pkg/keys"
	"github.com/opensigning/signbridge/pkg/logging"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the signing gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.ConfigureFromEnv()

		// Load configuration
		fileConfig, err := config.LoadFileConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Flag overrides
		if listen != "" {
			fileConfig.Listen = listen
		}
		if tokenEndpoint != "" {
			fileConfig.TokenEndpoint = tokenEndpoint
		}
		if apiHost != "" {
			fileConfig.APIHost = apiHost
		}

		if err := fileConfig.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		builder, err := newAssertionBuilder(fileConfig)
		if err != nil {
			return err
		}

		// Create gateway
		g, err := gateway.New(fileConfig, builder)
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}

		// Start server
		return g.Start()
	},
}

func init() {
	// Serve command flags
	serveCmd.Flags().StringVar(&listen, "listen", "", "Listen address override (host:port)")
	serveCmd.Flags().StringVar(&tokenEndpoint, "token-endpoint", "", "Authority token endpoint override")
	serveCmd.Flags().StringVar(&apiHost, "api-host", "", "Signing API host override")
	serveCmd.Flags().StringVar(&keyFile, "key-file", "", "Path to private key file (overrides SIGNBRIDGE_PRIVATE_KEY*)")

	rootCmd.AddCommand(serveCmd)
}

// newAssertionBuilder resolves the signing key and binds it to the configured
// identity. The --key-file flag wins over the environment.
func newAssertionBuilder(fileConfig *config.FileConfig) (*assertion.Builder, error) {
	identity := assertion.Identity{
		IntegrationKey: fileConfig.Identity.IntegrationKey,
		UserID:         fileConfig.Identity.UserID,
		Authority:      fileConfig.Identity.Authority,
		Scope:          fileConfig.Identity.Scope,
	}

	if keyFile != "" {
		key, err := keys.LoadPrivateKey(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		return assertion.NewBuilderWithKey(identity, key), nil
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	material, err := secrets.KeyMaterial()
	if err != nil {
		return nil, err
	}
	builder, err := assertion.NewBuilder(identity, material)
	if err != nil {
		return nil, fmt.Errorf("failed to import private key: %w", err)
	}
	return builder, nil
}
