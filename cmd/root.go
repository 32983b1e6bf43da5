// Package cmd implements the ekaya-query command line: the HTTP and MCP
// server, one-shot questions, embedding index builds and schema dumps.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ekaya-query",
	Short:         "Answer natural language questions with safe, read-only SQL",
	Long:          `ekaya-query turns a natural language question into a validated, cost-checked, read-only SQL query and returns its rows.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI application.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default config.yaml)")
	rootCmd.AddCommand(serveCmd, askCmd, indexCmd, schemaCmd, migrateCmd)
}
