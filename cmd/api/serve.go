package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/server"
	"github.com/safar/storefront/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	logger.Info("connected to database")

	stores := store.New(db, store.Options{
		QueryTimeout: cfg.Database.QueryTimeout,
		TxMaxRetries: cfg.Database.TxMaxRetries,
		Logger:       logger.Named("store"),
	})
	svc := checkout.NewService(stores.Carts, stores.Orders, stores.Reviews, stores.Reconciliations, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.DepsFromStore(db, stores, svc), cfg.Server, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
