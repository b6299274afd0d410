package service

import (
	"context"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/infrastructure/dedup"
	"unlock-orders/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCapturePending   = "PAYMENT.CAPTURE.PENDING"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
)

// WebhookEvent is the subset of the provider's event envelope we read.
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  CaptureResource `json:"resource"`
}

type CaptureResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CustomID          string `json:"custom_id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

// OrderRef returns the provider order id the capture belongs to.
func (e *WebhookEvent) OrderRef() string {
	if id := e.Resource.SupplementaryData.RelatedIDs.OrderID; id != "" {
		return id
	}
	return e.Resource.CustomID
}

// State maps the event type onto a payment state. Unknown types report false.
func (e *WebhookEvent) State() (domain.PaymentState, bool) {
	switch e.EventType {
	case EventCaptureCompleted:
		return domain.PaymentSuccess, true
	case EventCapturePending:
		return domain.PaymentPending, true
	case EventCaptureDenied:
		return domain.PaymentFailed, true
	default:
		return "", false
	}
}

// Runner executes work detached from the request that scheduled it.
type Runner interface {
	Go(name string, fn func(ctx context.Context))
}

// WebhookProcessor decides the acknowledgment of a webhook delivery
// synchronously and applies the event afterwards on a Runner.
type WebhookProcessor struct {
	engine *Engine
	ledger dedup.Ledger
	runner Runner
	log    zerolog.Logger
}

func NewWebhookProcessor(engine *Engine, ledger dedup.Ledger, runner Runner, log zerolog.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		engine: engine,
		ledger: ledger,
		runner: runner,
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Accept returns a *domain.ValidationError only when a capture event carries
// no order cross-reference. Every other delivery is acknowledged; known
// capture events from a verified sender are queued for processing.
func (p *WebhookProcessor) Accept(ev *WebhookEvent, verified bool) error {
	log := p.log.With().Str("event_id", ev.ID).Str("event_type", ev.EventType).Logger()

	state, ok := ev.State()
	if !ok {
		metrics.WebhookEvents.WithLabelValues(ev.EventType, "ignored").Inc()
		log.Info().Msg("unhandled event type")
		return nil
	}

	ref := ev.OrderRef()
	if ref == "" {
		metrics.WebhookEvents.WithLabelValues(ev.EventType, "rejected").Inc()
		log.Error().Str("capture_id", ev.Resource.ID).Msg("no order reference in webhook payload")
		return &domain.ValidationError{Fields: map[string]string{
			"resource.supplementary_data.related_ids.order_id": "missing order reference",
		}}
	}

	if !verified {
		metrics.WebhookEvents.WithLabelValues(ev.EventType, "unverified").Inc()
		log.Warn().Str("order_ref", ref).Msg("webhook signature not verified, event dropped")
		return nil
	}

	settlement := SettlementEvent{
		OrderRef:  ref,
		CaptureID: ev.Resource.ID,
		State:     state,
		Method:    domain.DefaultPaymentMethod,
		Source:    domain.SourceWebhook,
		EventID:   ev.ID,
	}
	p.runner.Go("webhook "+ev.ID, func(ctx context.Context) {
		p.process(ctx, ev.EventType, settlement)
	})
	return nil
}

func (p *WebhookProcessor) process(ctx context.Context, eventType string, ev SettlementEvent) {
	log := p.log.With().Str("event_id", ev.EventID).Str("order_ref", ev.OrderRef).Logger()

	if ev.EventID != "" {
		fresh, err := p.ledger.Claim(ctx, ev.EventID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("dedup ledger unavailable, applying anyway")
		case !fresh:
			metrics.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
			log.Info().Msg("event already seen")
			return
		}
	}

	if _, _, err := p.engine.Apply(ctx, ev); err != nil {
		metrics.WebhookEvents.WithLabelValues(eventType, "failed").Inc()
		if ev.EventID != "" {
			if rerr := p.ledger.Release(ctx, ev.EventID); rerr != nil {
				log.Warn().Err(rerr).Msg("releasing event id failed")
			}
		}
		log.Error().Err(err).Msg("webhook event not applied")
		return
	}
	metrics.WebhookEvents.WithLabelValues(eventType, "processed").Inc()
}
