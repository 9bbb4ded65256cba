package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the ingestion queue",
}

var trimOlderThan time.Duration

var queueTrimCmd = &cobra.Command{
	Use:   "trim",
	Short: "Drop queued items older than a cutoff",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cfg, _, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		q, err := openQueue(ctx, cfg)
		if err != nil {
			return err
		}
		defer q.Close()

		age := trimOlderThan
		if age <= 0 {
			age = cfg.QueueMaxAge
		}
		n, err := q.TrimOlderThan(ctx, age)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trimmed %d items older than %s\n", n, age)
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue depth as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cfg, _, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		q, err := openQueue(ctx, cfg)
		if err != nil {
			return err
		}
		defer q.Close()

		st, err := q.Stats(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	queueTrimCmd.Flags().DurationVar(&trimOlderThan, "older-than", 0, "cutoff age (defaults to QUEUE_MAX_AGE)")
	queueCmd.AddCommand(queueTrimCmd, queueStatsCmd)
	rootCmd.AddCommand(queueCmd)
}
