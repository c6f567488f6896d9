/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/ottlive/internal/server"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one disconnect monitor pass and exit",
	Long: `Run a single disconnect monitor pass.

Streams that have stayed disconnected longer than their reconnect window are
disabled on the remote platform and marked disabled locally. Use this from an
external scheduler (cron, Kubernetes CronJob) instead of the built-in monitor.

Examples:
  ottlive sweep
  ottlive sweep --timeout=2m
`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", time.Minute, "Deadline for the whole pass")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	core, err := server.NewCore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Error().Err(err).Msg("cleanup failed")
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), sweepTimeout)
	defer cancel()

	remediated, err := core.Engine.Sweep(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	for _, stream := range remediated {
		fmt.Fprintf(cmd.OutOrStdout(), "disabled %s (remote %s)\n", stream.ID, stream.RemoteID())
	}
	logger.Info().Int("remediated", len(remediated)).Msg("sweep complete")
	return nil
}
