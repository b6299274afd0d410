package main

import (
	"context"
	"fmt"
	"time"
	"unlock-orders/internal/config"
	"unlock-orders/internal/infrastructure/dedup"
	"unlock-orders/internal/infrastructure/payment"
	"unlock-orders/internal/pricing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const webhookLedgerTTL = 72 * time.Hour

type gateway interface {
	payment.Gateway
	payment.WebhookVerifier
}

func newGateway(cfg *config.Config, log zerolog.Logger) (gateway, error) {
	if cfg.MockProvider() {
		log.Warn().Msg("using in-memory payment gateway")
		return payment.NewMockGateway(payment.WithRandomOutcomes()), nil
	}
	gw, err := payment.NewPayPalGateway(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalMode, cfg.PayPalWebhookID)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

func newPricing(cfg *config.Config, log zerolog.Logger) (*pricing.Resolver, error) {
	var (
		table *pricing.Table
		err   error
	)
	if cfg.PricingFile != "" {
		table, err = pricing.LoadFile(cfg.PricingFile)
	} else {
		table, err = pricing.DefaultTable()
	}
	if err != nil {
		return nil, err
	}
	log.Info().Int("devices", table.Len()).Str("default", table.DefaultPrice().StringFixed(2)).Msg("pricing table loaded")
	return pricing.NewResolver(table, log), nil
}

// newLedger uses Redis when configured so every replica shares the seen
// event ids; otherwise ids are remembered per process.
func newLedger(ctx context.Context, cfg *config.Config, log zerolog.Logger) (dedup.Ledger, func(), error) {
	if cfg.RedisAddr == "" {
		return dedup.NewMemoryLedger(webhookLedgerTTL), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("webhook ledger on redis")
	return dedup.NewRedisLedger(client, "unlocker:webhook:", webhookLedgerTTL), func() { client.Close() }, nil
}
