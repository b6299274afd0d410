package main

import (
	"fmt"
	"unlock-orders/internal/config"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/logger"

	"github.com/spf13/cobra"
)

func priceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price [imei] [network]",
		Short: "Show how an unlock would be priced",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{}
			cfg.PricingFile, _ = cmd.Flags().GetString("file")
			resolver, err := newPricing(cfg, logger.New("warn", "console"))
			if err != nil {
				return err
			}

			carrier := domain.ParseCarrier(args[1])
			q := resolver.Resolve(args[0], carrier)
			model := q.Model
			if model == "" {
				model = "unknown device"
			}
			fmt.Printf("TAC %s (%s) on %s: %s %s [%s]\n", q.TAC, model, carrier, q.Amount.StringFixed(2), domain.Currency, q.Source)
			fmt.Printf("delivery: %s\n", domain.DeliveryWindow(carrier))
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "pricing table YAML (defaults to the embedded table)")
	return cmd
}
