/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tubeshelf/accounts/config"
	"github.com/tubeshelf/accounts/internal/db"
	"github.com/tubeshelf/accounts/internal/store"
)

var migrationsURL string

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Applies schema changes to the configured credential store. Postgres runs the
SQL migrations; MongoDB creates the unique username and email indexes.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := setup()

		switch cfg.StoreBackend {
		case config.StoreBackendPostgres:
			if err := db.MigrateUp(migrationsURL, cfg.Database); err != nil {
				return fmt.Errorf("migrate up failed: %w", err)
			}
		case config.StoreBackendMongo:
			if err := ensureMongoIndexes(cmd.Context(), cfg.Mongo); err != nil {
				return fmt.Errorf("migrate up failed: %w", err)
			}
		default:
			return fmt.Errorf("store backend %q has no migrations", cfg.StoreBackend)
		}
		log.Info("migrations applied", "store", cfg.StoreBackend)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := setup()
		if cfg.StoreBackend != config.StoreBackendPostgres {
			return fmt.Errorf("migrate down is only supported for %s", config.StoreBackendPostgres)
		}
		if err := db.MigrateDown(migrationsURL, cfg.Database); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		log.Info("migrations reverted", "store", cfg.StoreBackend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.PersistentFlags().StringVar(&migrationsURL, "source", db.DefaultMigrationsURL, "migrations source URL")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func ensureMongoIndexes(ctx context.Context, cfg config.MongoConfig) error {
	database, err := db.OpenMongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Client().Disconnect(context.Background())
	}()
	return store.NewMongoUserRepository(database).EnsureIndexes(ctx)
}
