package cmd

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-query/pkg/database"
)

var migrationsPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Load the demo fixture schema into the configured database",
	Long: `migrate applies the fixture migrations (a small shop catalog with a
row-security protected invoices table) to the configured database. It is meant
for local demos and integration environments; the server itself never writes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		db, err := sql.Open("pgx", a.cfg.Database.ConnectionString())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		return database.RunMigrations(db, migrationsPath, a.logger)
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsPath, "path", "migrations", "directory holding the migration files")
}
