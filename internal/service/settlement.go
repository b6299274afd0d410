package service

import (
	"context"
	"time"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/metrics"
	"unlock-orders/internal/repo"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("unlock-orders/service")

// SettlementEvent is one provider confirmation, whichever channel it came from.
type SettlementEvent struct {
	OrderRef  string
	CaptureID string
	State     domain.PaymentState
	Method    string
	Source    domain.SettlementSource
	EventID   string
}

// Fulfiller runs the side effects of a settled order.
type Fulfiller interface {
	Fulfill(ctx context.Context, o *domain.Order, source domain.SettlementSource)
	NotifyPending(ctx context.Context, o *domain.Order, source domain.SettlementSource)
}

// Engine is the single entry point through which every channel changes an
// order's payment state.
type Engine struct {
	orders      repo.OrderRepo
	settlements repo.SettlementRepo
	fulfiller   Fulfiller
	log         zerolog.Logger
	now         func() time.Time
}

func NewEngine(orders repo.OrderRepo, settlements repo.SettlementRepo, fulfiller Fulfiller, log zerolog.Logger) *Engine {
	return &Engine{
		orders:      orders,
		settlements: settlements,
		fulfiller:   fulfiller,
		log:         log.With().Str("component", "settlement").Logger(),
		now:         time.Now,
	}
}

// Apply writes ev to the order store as one conditional update. Fulfillment
// runs only for the caller whose write moved the order into Success; a
// pending notice runs only for the caller that attached the first pending
// capture. Every other caller gets the current order and OutcomeUnchanged.
func (e *Engine) Apply(ctx context.Context, ev SettlementEvent) (*domain.Order, domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, "settlement.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.ref", ev.OrderRef),
		attribute.String("settlement.state", string(ev.State)),
		attribute.String("settlement.source", string(ev.Source)),
	)

	log := e.log.With().
		Str("order_ref", ev.OrderRef).
		Str("capture_id", ev.CaptureID).
		Str("event_id", ev.EventID).
		Str("source", string(ev.Source)).
		Logger()

	var (
		order   *domain.Order
		outcome domain.Outcome
		err     error
	)
	if ev.State == domain.PaymentPending {
		order, outcome, err = e.orders.AttachPendingCapture(ctx, ev.OrderRef, ev.CaptureID, ev.Method)
	} else {
		order, outcome, err = e.orders.ApplySettlement(ctx, ev.OrderRef, repo.SettlementUpdate{
			State:     ev.State,
			CaptureID: ev.CaptureID,
			Method:    ev.Method,
			At:        e.now(),
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("state", string(ev.State)).Msg("settlement not applied")
		return nil, domain.OutcomeUnchanged, err
	}

	span.SetAttributes(attribute.String("settlement.outcome", outcome.String()))
	metrics.Settlements.WithLabelValues(string(ev.Source), string(ev.State), outcome.String()).Inc()
	e.record(ctx, ev, outcome != domain.OutcomeUnchanged)

	log.Info().
		Str("requested", string(ev.State)).
		Str("current", string(order.PaymentState)).
		Stringer("outcome", outcome).
		Msg("settlement processed")

	switch {
	case outcome == domain.OutcomeTransitioned && order.PaymentState == domain.PaymentSuccess:
		metrics.Fulfillments.Inc()
		e.fulfiller.Fulfill(ctx, order, ev.Source)
	case outcome == domain.OutcomeCaptureAttached:
		e.fulfiller.NotifyPending(ctx, order, ev.Source)
	}
	return order, outcome, nil
}

// record appends to the audit log. The order row is already written, so a
// failure here is only logged.
func (e *Engine) record(ctx context.Context, ev SettlementEvent, applied bool) {
	err := e.settlements.Record(ctx, &domain.Settlement{
		ID:        uuid.New(),
		OrderRef:  ev.OrderRef,
		CaptureID: ev.CaptureID,
		State:     ev.State,
		Method:    ev.Method,
		Source:    ev.Source,
		EventID:   ev.EventID,
		Applied:   applied,
		CreatedAt: e.now(),
	})
	if err != nil {
		e.log.Warn().Err(err).Str("order_ref", ev.OrderRef).Msg("settlement audit write failed")
	}
}
