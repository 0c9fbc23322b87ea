package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/budgetkeeper/storage/postgres"
)

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN()
		if err != nil {
			return err
		}
		if err := postgres.Migrate(cmd.Context(), dsn); err != nil {
			return err
		}
		version, err := postgres.SchemaVersion(cmd.Context(), dsn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema is at version %d\n", version)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN()
		if err != nil {
			return err
		}
		version, err := postgres.SchemaVersion(cmd.Context(), dsn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema is at version %d\n", version)
		return nil
	},
}

// resolveDSN prefers --dsn, then the environment, then the config file.
func resolveDSN() (string, error) {
	if migrateDSN != "" {
		return migrateDSN, nil
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return "", err
	}
	cfg.ApplyEnv(os.Getenv)
	if cfg.Storage.DSN == "" {
		return "", errors.New("no database DSN: pass --dsn, set storage.dsn or " + envDatabaseDSN)
	}
	return cfg.Storage.DSN, nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.PersistentFlags().StringVar(&migrateDSN, "dsn", "", "PostgreSQL connection string")
}
