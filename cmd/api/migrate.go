package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safar/storefront/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(database.Up), string(database.Down)},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	direction, err := database.ParseDirection(args[0])
	if err != nil {
		return err
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.Open(cmd.Context(), &cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	applied, err := database.Migrate(cmd.Context(), db, direction)
	for _, name := range applied {
		logger.Info("migration applied", zap.String("file", name))
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	logger.Info("migrations completed", zap.String("direction", string(direction)), zap.Int("count", len(applied)))
	return nil
}
