package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the schema snapshot",
}

var schemaDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Extract the catalog and print it as a snapshot YAML file",
	Long: `dump extracts the configured schemas from the database and prints the snapshot
as YAML. The output can be edited (for example to add table descriptions) and
loaded back with schema.snapshot_file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.connect(ctx); err != nil {
			return err
		}
		snapshot, err := a.adapter.Extractor(a.cfg.Schema.Schemas).FetchSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("extract schema: %w", err)
		}

		data, err := models.MarshalSnapshotYAML(snapshot)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	schemaCmd.AddCommand(schemaDumpCmd)
}
