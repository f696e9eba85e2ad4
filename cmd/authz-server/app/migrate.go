package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/oauth-authz/storage/sqlstore"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL schema migrations",
		Long: `Apply pending schema migrations to the SQLite or PostgreSQL database
named by --database-dsn and print the resulting schema version.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind := v.GetString("storage")
			dsn := v.GetString("database-dsn")
			if dsn == "" {
				return fmt.Errorf("--database-dsn is required")
			}
			dialect, err := sqlstore.ParseDialect(kind)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := sqlstore.Open(ctx, dialect, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
				return err
			}
			version, err := sqlstore.MigrationVersion(ctx, db, dialect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}

	cmd.Flags().String("storage", StorageSQLite, "SQL dialect (sqlite, postgres)")
	cmd.Flags().String("database-dsn", "", "SQLite file path or PostgreSQL connection string")

	return cmd
}
