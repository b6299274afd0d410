package pricing

import (
	"unlock-orders/internal/domain"
	"unlock-orders/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Source string

const (
	SourceExact          Source = "exact"
	SourceDeviceFallback Source = "device_fallback"
	SourceGlobalDefault  Source = "global_default"
)

type Quote struct {
	Amount decimal.Decimal
	Source Source
	TAC    string
	Model  string
}

// Fallback reports an unrecognised device family priced at the global default.
func (q Quote) Fallback() bool {
	return q.Source == SourceGlobalDefault
}

type Resolver struct {
	table *Table
	log   zerolog.Logger
}

func NewResolver(table *Table, log zerolog.Logger) *Resolver {
	return &Resolver{table: table, log: log.With().Str("component", "pricing").Logger()}
}

// Resolve prices an unlock from the IMEI's TAC and the carrier. It never
// fails: unknown devices get the global default, flagged on the quote.
func (r *Resolver) Resolve(imei string, carrier domain.Carrier) Quote {
	tac := imei
	if len(tac) > 8 {
		tac = tac[:8]
	}

	q := Quote{TAC: tac}
	dev, ok := r.table.Device(tac)
	switch {
	case !ok:
		q.Amount, q.Source = r.table.DefaultPrice(), SourceGlobalDefault
		r.log.Warn().Str("tac", tac).Str("carrier", string(carrier)).
			Str("amount", q.Amount.StringFixed(2)).
			Msg("no TAC pricing found, using global default")
	default:
		q.Model = dev.Model
		if p, ok := dev.Prices[carrier]; ok {
			q.Amount, q.Source = p, SourceExact
		} else if p, ok := dev.Prices[domain.CarrierOther]; ok {
			q.Amount, q.Source = p, SourceDeviceFallback
		} else {
			q.Amount, q.Source = r.table.DefaultPrice(), SourceGlobalDefault
			r.log.Warn().Str("tac", tac).Str("carrier", string(carrier)).
				Msg("TAC has no price for carrier and no fallback, using global default")
		}
	}

	metrics.PricingResolutions.WithLabelValues(string(q.Source)).Inc()
	return q
}
