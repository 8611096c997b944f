package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensigning/signbridge/pkg/broker"
	"github.com/opensigning/signbridge/pkg/config"
	"github.com/opensigning/signbridge/pkg/invoker"
	"github.com/opensigning/signbridge/pkg/logging"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Try each candidate base path once and report which one answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.ConfigureFromEnv()

		fileConfig, err := config.LoadFileConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		builder, err := newAssertionBuilder(fileConfig)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		jws, err := builder.BuildNow()
		if err != nil {
			return fmt.Errorf("failed to build assertion: %w", err)
		}

		token, err := broker.New(fileConfig.TokenEndpoint).Exchange(ctx, jws)
		if err != nil {
			return fmt.Errorf("token exchange failed: %w", err)
		}

		inv := invoker.New(fileConfig.APIHost)
		inv.SetAttemptTimeout(fileConfig.ProbeAttemptTimeout())

		res, err := inv.Probe(ctx, token.AccessToken, fileConfig.CandidateBasePaths, invoker.Request{Path: probePath})
		if err != nil {
			var exhausted *invoker.AllCandidatesFailedError
			if errors.As(err, &exhausted) {
				fmt.Println("All candidate base paths failed:")
				for _, failure := range exhausted.Failures {
					fmt.Printf("  %s\n", failure.String())
				}
			}
			return err
		}

		fmt.Printf("Answered by %s (status %d)\n", res.Candidate, res.Status)
		for _, failure := range res.Prior {
			fmt.Printf("  passed over %s\n", failure.String())
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probePath, "path", "/agreements", "Resource path to probe")

	rootCmd.AddCommand(probeCmd)
}
