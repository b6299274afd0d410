package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	"unlock-orders/internal/config"
	"unlock-orders/internal/database"
	"unlock-orders/internal/infrastructure/invoice"
	"unlock-orders/internal/infrastructure/mail"
	"unlock-orders/internal/logger"
	"unlock-orders/internal/repo"
	"unlock-orders/internal/server"
	"unlock-orders/internal/service"
	"unlock-orders/internal/tracing"
	"unlock-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "create missing tables before serving")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := tracing.InitTracerProvider(cfg.TracingServiceName)
	defer tp.Shutdown(context.Background())

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate {
		if err := database.Migrate(ctx, db.DB()); err != nil {
			return err
		}
	}

	resolver, err := newPricing(cfg, log)
	if err != nil {
		return err
	}
	gw, err := newGateway(cfg, log)
	if err != nil {
		return err
	}
	ledger, closeLedger, err := newLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	orders := repo.NewOrderRepo(db.DB())
	settlements := repo.NewSettlementRepo(db.DB())
	notifier := service.NewNotifier(
		invoice.NewRenderer(cfg.MailSenderName, cfg.MailSender, "https://genuineunlocker.net"),
		mail.NewBrevoMailer(cfg.BrevoAPIKey, cfg.MailSenderName, cfg.MailSender, ""),
		cfg.AdminEmail,
		cfg.Location(),
		log,
	)
	engine := service.NewEngine(orders, settlements, notifier, log)
	runner := worker.NewTaskRunner(ctx, log)

	srv := server.New(server.Deps{
		Orders:      service.NewOrderService(orders, resolver, gw, engine, log),
		Webhooks:    service.NewWebhookProcessor(engine, ledger, runner, log),
		Verifier:    gw,
		Health:      db,
		ClientToken: cfg.PayPalClientID,
		CORSOrigins: cfg.CORSOrigins,
		Location:    cfg.Location(),
		Log:         log,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	reconciler := worker.NewReconciliationWorker(orders, gw, engine, cfg.ReconcileInterval, cfg.ReconcileStaleAfter, log)
	go reconciler.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Acknowledged webhooks must reach the store before exit.
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("pending webhook tasks abandoned")
	}
	return nil
}
