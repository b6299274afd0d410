package worker

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/infrastructure/payment"
	"unlock-orders/internal/repo"
	"unlock-orders/internal/service"

	"github.com/rs/zerolog"
)

const ReconcilerMethod = "PayPal (Reconciler)"

// ReconciliationWorker finds orders stuck in Pending and asks the provider
// what really happened to them. Anything it learns goes through the same
// settlement engine as the verification call and the webhook.
type ReconciliationWorker struct {
	orders     repo.OrderRepo
	gateway    payment.Gateway
	engine     *service.Engine
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	log        zerolog.Logger
}

func NewReconciliationWorker(
	orders repo.OrderRepo,
	gateway payment.Gateway,
	engine *service.Engine,
	interval time.Duration,
	staleAfter time.Duration,
	log zerolog.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orders:     orders,
		gateway:    gateway,
		engine:     engine,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      100,
		log:        log.With().Str("component", "reconciler").Logger(),
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.log.Info().Dur("interval", rw.interval).Dur("stale_after", rw.staleAfter).Msg("reconciliation worker started")

	for {
		select {
		case <-ctx.Done():
			rw.log.Info().Msg("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.Sweep(ctx); err != nil {
				rw.log.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}

// Sweep checks one batch of stale Pending orders and returns how many of
// them changed.
func (rw *ReconciliationWorker) Sweep(ctx context.Context) (int, error) {
	stuck, err := rw.orders.FindStuckOrders(ctx, rw.staleAfter, rw.batch)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}
	rw.log.Info().Int("orders", len(stuck)).Msg("found stuck orders")

	changed := 0
	for _, order := range stuck {
		log := rw.log.With().Str("order_ref", order.OrderRef).Logger()

		po, err := rw.gateway.GetOrder(ctx, order.OrderRef)
		if err != nil {
			var perr *domain.ProviderError
			if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
				log.Warn().Msg("provider has no such order")
				continue
			}
			log.Warn().Err(err).Msg("status check failed, retrying next sweep")
			continue
		}
		if po.Capture == nil {
			// Buyer never approved; leave it for a later verification call.
			log.Debug().Str("provider_status", po.Status).Msg("no capture yet")
			continue
		}

		_, outcome, err := rw.engine.Apply(ctx, service.SettlementEvent{
			OrderRef:  order.OrderRef,
			CaptureID: po.Capture.ID,
			State:     po.Capture.Status.State(),
			Method:    ReconcilerMethod,
			Source:    domain.SourceReconciler,
		})
		if err != nil {
			log.Error().Err(err).Msg("applying provider status failed")
			continue
		}
		if outcome != domain.OutcomeUnchanged {
			changed++
			log.Info().Str("capture_status", string(po.Capture.Status)).Stringer("outcome", outcome).Msg("stuck order reconciled")
		}
	}
	return changed, nil
}
