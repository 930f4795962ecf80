package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-greeter/internal/database/postgres"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance commands",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE:  runDBMigrate,
}

var dbClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every person, image and saved reference set",
	Long: `Delete every person, image and saved reference set from the database.

This cannot be undone. The schema itself is kept.

Example:
  face-greeter db clear --yes`,
	Args: cobra.NoArgs,
	RunE: runDBClear,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbClearCmd)

	dbClearCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	// Opening a store applies pending migrations.
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeAll(logger, store.Close)

	if pg, ok := store.(*postgres.Store); ok {
		applied, err := pg.Pool().MigrationsApplied(ctx)
		if err != nil {
			return fmt.Errorf("failed to read applied migrations: %w", err)
		}
		for _, m := range applied {
			fmt.Printf("  %s\n", m)
		}
	}
	fmt.Printf("Database schema is up to date (%s)\n", cfg.Database.Backend)
	return nil
}

func runDBClear(cmd *cobra.Command, args []string) error {
	skipConfirm := mustGetBool(cmd, "yes")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeAll(logger, store.Close)

	images, err := store.CountImages(ctx)
	if err != nil {
		return fmt.Errorf("failed to count images: %w", err)
	}
	persons, err := store.ListPersons(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persons: %w", err)
	}

	fmt.Printf("This will delete %d persons and %d images from %s.\n", len(persons), images, cfg.Database.Backend)
	if !skipConfirm && !confirmAction("Are you sure? [y/N]: ") {
		fmt.Println("Aborted")
		return nil
	}

	if err := store.ClearAll(ctx); err != nil {
		return fmt.Errorf("failed to clear database: %w", err)
	}
	fmt.Println("Database cleared")
	return nil
}
