package service

import (
	"context"
	"fmt"
	"time"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/infrastructure/mail"
	"unlock-orders/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DocumentRenderer turns an order summary into a binary document.
type DocumentRenderer interface {
	Render(ctx context.Context, s domain.Summary, issued time.Time) ([]byte, error)
}

// Mailer delivers one notification and returns the transport's message id.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) (string, error)
}

type subjects struct {
	customer string
	admin    string
	label    string
}

var successSubjects = map[domain.SettlementSource]subjects{
	domain.SourceVerification: {"Payment Confirmed - Your Invoice", "New Digital Service Order Received - PayPal", "PayPal"},
	domain.SourceWebhook:      {"Payment Cleared - Your Invoice is Ready", "PayPal Payment Cleared - New Order Ready", "PayPal (Webhook)"},
	domain.SourceReconciler:   {"Payment Cleared - Your Invoice is Ready", "PayPal Payment Cleared - New Order Ready", "PayPal (Reconciler)"},
}

// Notifier sends the invoice and admin notices once an order settles. No
// failure in here is reported to the caller.
type Notifier struct {
	docs       DocumentRenderer
	mailer     Mailer
	adminEmail string
	loc        *time.Location
	log        zerolog.Logger
}

func NewNotifier(docs DocumentRenderer, mailer Mailer, adminEmail string, loc *time.Location, log zerolog.Logger) *Notifier {
	return &Notifier{
		docs:       docs,
		mailer:     mailer,
		adminEmail: adminEmail,
		loc:        loc,
		log:        log.With().Str("component", "fulfillment").Logger(),
	}
}

func (n *Notifier) Fulfill(ctx context.Context, o *domain.Order, source domain.SettlementSource) {
	ctx, span := tracer.Start(ctx, "fulfillment.fulfill")
	defer span.End()

	subj, ok := successSubjects[source]
	if !ok {
		subj = successSubjects[domain.SourceVerification]
	}
	summary := domain.Summarize(o, n.loc)

	var msgs []mail.Message
	if o.Email != "" {
		customer := mail.Message{
			To:       o.Email,
			Subject:  subj.customer,
			Template: mail.TemplateInvoice,
			Fields:   summary,
		}
		if doc, err := n.docs.Render(ctx, summary, issuedAt(o)); err != nil {
			metrics.DeliveryFailures.WithLabelValues("document").Inc()
			n.log.Error().Err(err).Str("order_ref", o.OrderRef).Msg("invoice rendering failed, sending without attachment")
		} else {
			customer.Attachment = &mail.Attachment{Name: fmt.Sprintf("Invoice-%s.pdf", o.OrderRef), Content: doc}
		}
		msgs = append(msgs, customer)
	} else {
		n.log.Warn().Str("order_ref", o.OrderRef).Msg("order has no customer email")
	}

	admin := summary
	admin.PaymentMethod = subj.label
	msgs = append(msgs, mail.Message{
		To:       n.adminEmail,
		Subject:  subj.admin,
		Template: mail.TemplateNewOrder,
		Fields:   admin,
	})

	n.send(ctx, o.OrderRef, msgs)
}

// NotifyPending tells the customer and the admin that the capture is waiting
// for clearance. The invoice follows on settlement.
func (n *Notifier) NotifyPending(ctx context.Context, o *domain.Order, source domain.SettlementSource) {
	ctx, span := tracer.Start(ctx, "fulfillment.pending")
	defer span.End()

	summary := domain.Summarize(o, n.loc)

	var msgs []mail.Message
	if o.Email != "" {
		msgs = append(msgs, mail.Message{
			To:       o.Email,
			Subject:  "Payment Pending - We'll Process Once Cleared",
			Template: mail.TemplatePendingPayment,
			Fields:   summary,
		})
	}
	admin := summary
	admin.PaymentMethod = "PayPal (PENDING)"
	admin.PaymentTime = "Payment Pending"
	msgs = append(msgs, mail.Message{
		To:       n.adminEmail,
		Subject:  "PayPal Payment Pending - Order Awaiting Clearance",
		Template: mail.TemplateNewOrder,
		Fields:   admin,
	})

	n.send(ctx, o.OrderRef, msgs)
}

func (n *Notifier) send(ctx context.Context, ref string, msgs []mail.Message) {
	var g errgroup.Group
	for _, msg := range msgs {
		g.Go(func() error {
			id, err := n.mailer.Send(ctx, msg)
			if err != nil {
				metrics.DeliveryFailures.WithLabelValues("notification").Inc()
				n.log.Error().Err(err).
					Str("order_ref", ref).
					Str("template", string(msg.Template)).
					Msg("notification failed")
				return fmt.Errorf("%w: %s to %s: %w", domain.ErrNotification, msg.Template, msg.To, err)
			}
			n.log.Info().
				Str("order_ref", ref).
				Str("template", string(msg.Template)).
				Str("message_id", id).
				Msg("notification sent")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		n.log.Warn().Err(err).Str("order_ref", ref).Msg("fulfillment completed with notification errors")
	}
}

// issuedAt dates the invoice by the settlement itself so every render of the
// same order yields the same document.
func issuedAt(o *domain.Order) time.Time {
	if o.PaymentTime != nil {
		return *o.PaymentTime
	}
	return o.CreatedAt
}
