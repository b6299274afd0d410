package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/infrastructure/dedup"
	"unlock-orders/internal/infrastructure/invoice"
	"unlock-orders/internal/infrastructure/mail"
	"unlock-orders/internal/infrastructure/payment"
	"unlock-orders/internal/logger"
	"unlock-orders/internal/pricing"
	"unlock-orders/internal/repo"
	"unlock-orders/internal/service"
	"unlock-orders/internal/worker"

	"github.com/spf13/cobra"
)

// tallyMailer counts notifications instead of sending them.
type tallyMailer struct {
	invoices atomic.Int64
	admin    atomic.Int64
	pending  atomic.Int64
}

func (m *tallyMailer) Send(ctx context.Context, msg mail.Message) (string, error) {
	switch msg.Template {
	case mail.TemplateInvoice:
		m.invoices.Add(1)
	case mail.TemplateNewOrder:
		m.admin.Add(1)
	case mail.TemplatePendingPayment:
		m.pending.Add(1)
	}
	return "sim", nil
}

func simulateCmd() *cobra.Command {
	var (
		orders   int
		webhooks int
		latency  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Race verification calls against duplicate webhooks on an in-memory store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), orders, webhooks, latency)
		},
	}
	cmd.Flags().IntVar(&orders, "orders", 20, "orders to create")
	cmd.Flags().IntVar(&webhooks, "webhooks", 3, "webhook deliveries per order")
	cmd.Flags().DurationVar(&latency, "latency", 20*time.Millisecond, "simulated provider latency")
	return cmd
}

func runSimulation(ctx context.Context, n, webhooks int, latency time.Duration) error {
	log := logger.New("warn", "console")

	table, err := pricing.DefaultTable()
	if err != nil {
		return err
	}
	store := repo.NewMemoryStore()
	gw := payment.NewMockGateway(payment.WithRandomOutcomes(), payment.WithLatency(latency))
	mailer := &tallyMailer{}
	notifier := service.NewNotifier(invoice.NewRenderer("Genuine Unlocker", "sim@example.com", "example.com"), mailer, "admin@example.com", time.UTC, log)
	engine := service.NewEngine(store, store, notifier, log)
	orderService := service.NewOrderService(store, pricing.NewResolver(table, log), gw, engine, log)
	runner := worker.NewTaskRunner(ctx, log)
	processor := service.NewWebhookProcessor(engine, dedup.NewMemoryLedger(time.Hour), runner, log)

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", n)
	refs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		res, err := orderService.CreateOrder(ctx, service.CreateOrderInput{
			Country:       "Saudi Arabia",
			Brand:         "Huawei",
			Model:         "B535",
			Network:       "STC",
			IMEI:          fmt.Sprintf("86156504%07d", i),
			SerialNumber:  fmt.Sprintf("SN%05d", i),
			Email:         "buyer@example.com",
			TermsAccepted: true,
		})
		if err != nil {
			fmt.Printf("[%d] create failed: %v\n", i+1, err)
			continue
		}
		refs = append(refs, res.OrderRef)
	}

	// Every order gets one verification call racing a burst of webhooks.
	// Half of the webhooks reuse an event id to look like redeliveries.
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := orderService.VerifyPayment(ctx, ref)
			if err != nil {
				fmt.Printf("[%d] %s verify: %v\n", i+1, ref, err)
				return
			}
			fmt.Printf("[%d] %s verify: %s\n", i+1, ref, res.Status)
		}()
		for w := 0; w < webhooks; w++ {
			ev := &service.WebhookEvent{ID: fmt.Sprintf("WH-%s-%d", ref, w/2), EventType: service.EventCaptureCompleted}
			ev.Resource.ID = "CAP-SIM"
			ev.Resource.SupplementaryData.RelatedIDs.OrderID = ref
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Only orders the provider actually captured produce a webhook.
				if po, err := gw.GetOrder(ctx, ref); err == nil && po.Capture != nil && po.Capture.Status == domain.CaptureCompleted {
					_ = processor.Accept(ev, true)
				}
			}()
		}
	}
	wg.Wait()
	if err := runner.Shutdown(ctx); err != nil {
		return err
	}

	// Ghost orders: paid at the provider but never confirmed to us. The
	// sweeper has to find them.
	for _, ref := range refs {
		if o, err := store.FindByRef(ctx, ref); err == nil && o.PaymentState == domain.PaymentPending {
			_, _ = gw.Settle(ref, domain.CaptureCompleted)
		}
	}
	reconciler := worker.NewReconciliationWorker(store, gw, engine, time.Second, -time.Second, log)
	fixed, err := reconciler.Sweep(ctx)
	if err != nil {
		return err
	}

	counts := map[domain.PaymentState]int{}
	for _, ref := range refs {
		o, err := store.FindByRef(ctx, ref)
		if err != nil {
			return err
		}
		counts[o.PaymentState]++
	}

	fmt.Println("---------------------------------------------------")
	fmt.Printf("orders:            %d\n", len(refs))
	fmt.Printf("success:           %d\n", counts[domain.PaymentSuccess])
	fmt.Printf("failed:            %d\n", counts[domain.PaymentFailed])
	fmt.Printf("pending:           %d\n", counts[domain.PaymentPending])
	fmt.Printf("reconciled:        %d\n", fixed)
	fmt.Printf("invoices sent:     %d\n", mailer.invoices.Load())
	fmt.Printf("admin notices:     %d\n", mailer.admin.Load())
	fmt.Printf("pending notices:   %d\n", mailer.pending.Load())
	if int(mailer.invoices.Load()) != counts[domain.PaymentSuccess] {
		return fmt.Errorf("fulfillment ran %d times for %d settled orders", mailer.invoices.Load(), counts[domain.PaymentSuccess])
	}
	return nil
}
