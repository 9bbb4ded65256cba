package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/helpdesk/internal/config"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "helpdesk",
	Short: "Helpdesk: a conversational support agent",
	Long: `Helpdesk answers customer messages from the web chat, the embedded widget,
Zendesk and Slack with a language model grounded on a knowledge base.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment")
}

// setup loads configuration and returns a context carrying the logger.
func setup(ctx context.Context) (context.Context, *config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return ctx, nil, zerolog.Nop(), err
	}
	logger := log.New(log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return logger.WithContext(ctx), cfg, logger, nil
}
