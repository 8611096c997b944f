package main

import (
	"fmt"
	"os"

	"github.com/opensigning/signbridge/pkg/config"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	listen        string
	tokenEndpoint string
	apiHost       string
	keyFile       string
	keyDir        string
	probePath     string
)

var rootCmd = &cobra.Command{
	Use:   "signbridge",
	Short: "SignBridge - Agreement Signing Gateway",
	Long:  `SignBridge fronts an electronic signature authority, trading a locally signed JWT assertion for a bearer token on every call.`,
}

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Generate a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultFileConfig()
		if err := config.SaveFileConfig(cfg, configPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Generated configuration file at: %s\n", configPath)
		return nil
	},
}

func init() {

	rootCmd.AddCommand(generateConfigCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
