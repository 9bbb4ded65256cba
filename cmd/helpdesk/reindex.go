package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reindexFile string

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the knowledge-base index from its source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cfg, _, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		source := cfg.KnowledgeSource
		if reindexFile != "" {
			source = reindexFile
		}
		kb, err := openKnowledge(cfg, source, nil)
		if err != nil {
			return err
		}
		n, err := kb.RebuildIndex(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d articles\n", n)
		return nil
	},
}

func init() {
	reindexCmd.Flags().StringVar(&reindexFile, "file", "", "YAML or JSON article file (defaults to KNOWLEDGE_SOURCE, then the built-in catalog)")
	rootCmd.AddCommand(reindexCmd)
}
