package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/ranker"
)

var indexOut string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the schema embedding index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed every table of the current schema snapshot and save the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		out := indexOut
		if out == "" {
			out = a.cfg.Ranker.IndexPath
		}
		if out == "" {
			return fmt.Errorf("no output path: set --out or ranker.index_path")
		}

		if a.cfg.Schema.SnapshotFile == "" {
			if err := a.connect(ctx); err != nil {
				return err
			}
		}
		if err := a.loadSnapshot(ctx); err != nil {
			return fmt.Errorf("load schema snapshot: %w", err)
		}
		if err := a.buildLLM(); err != nil {
			return err
		}

		snapshot := a.snapshots.Load()
		idx, err := ranker.BuildEmbeddingIndex(ctx, snapshot, a.llm, a.cfg.LLM.EmbeddingModel, a.cfg.Ranker.IndexWorkers, a.logger)
		if err != nil {
			return fmt.Errorf("build embedding index: %w", err)
		}
		if err := ranker.SaveIndex(out, idx); err != nil {
			return err
		}

		a.logger.Info("Saved embedding index",
			zap.String("path", out),
			zap.String("snapshot_version", idx.SnapshotVersion),
			zap.Int("tables", len(idx.Vectors)))
		return nil
	},
}

func init() {
	indexBuildCmd.Flags().StringVarP(&indexOut, "out", "o", "", "index file to write (default ranker.index_path)")
	indexCmd.AddCommand(indexBuildCmd)
}
