package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unlock-orders/internal/domain"

	"github.com/plutov/paypal/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("unlock-orders/payment")

type PayPalGateway struct {
	client    *paypal.Client
	webhookID string
}

func NewPayPalGateway(clientID, secret, mode, webhookID string) (*PayPalGateway, error) {
	base := paypal.APIBaseLive
	if mode == "sandbox" {
		base = paypal.APIBaseSandBox
	}
	c, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}
	return &PayPalGateway{client: c, webhookID: webhookID}, nil
}

func (g *PayPalGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "paypal.CreateOrder")
	defer span.End()

	value := req.Amount.StringFixed(2)
	order, err := g.client.CreateOrder(ctx, "CAPTURE",
		[]paypal.PurchaseUnitRequest{{
			Amount: &paypal.PurchaseUnitAmount{
				Currency: req.Currency,
				Value:    value,
				Breakdown: &paypal.PurchaseUnitAmountBreakdown{
					ItemTotal: &paypal.Money{Currency: req.Currency, Value: value},
				},
			},
			Description:    req.Description,
			SoftDescriptor: req.SoftDescriptor,
			CustomID:       req.CustomID,
			Items: []paypal.Item{{
				Name:        req.ItemName,
				Description: req.ItemDescription,
				SKU:         req.SKU,
				UnitAmount:  &paypal.Money{Currency: req.Currency, Value: value},
				Quantity:    "1",
				Category:    "DIGITAL_GOODS",
			}},
		}},
		nil,
		&paypal.ApplicationContext{
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
		},
	)
	if err != nil {
		return "", g.fail(span, "create order", err)
	}
	span.SetAttributes(attribute.String("paypal.order_id", order.ID))
	return order.ID, nil
}

func (g *PayPalGateway) CaptureOrder(ctx context.Context, orderRef string) (*Capture, error) {
	ctx, span := tracer.Start(ctx, "paypal.CaptureOrder")
	defer span.End()
	span.SetAttributes(attribute.String("paypal.order_id", orderRef))

	resp, err := g.client.CaptureOrder(ctx, orderRef, paypal.CaptureOrderRequest{})
	if err != nil {
		return nil, g.fail(span, "capture order", err)
	}
	for _, pu := range resp.PurchaseUnits {
		if pu.Payments == nil || len(pu.Payments.Captures) == 0 {
			continue
		}
		c := pu.Payments.Captures[0]
		span.SetAttributes(attribute.String("paypal.capture_id", c.ID), attribute.String("paypal.capture_status", c.Status))
		return &Capture{ID: c.ID, Status: domain.CaptureStatus(c.Status)}, nil
	}
	err = errors.New("capture response carries no capture")
	return nil, g.fail(span, "capture order", err)
}

func (g *PayPalGateway) GetOrder(ctx context.Context, orderRef string) (*ProviderOrder, error) {
	ctx, span := tracer.Start(ctx, "paypal.GetOrder")
	defer span.End()

	o, err := g.client.GetOrder(ctx, orderRef)
	if err != nil {
		return nil, g.fail(span, "get order", err)
	}
	po := &ProviderOrder{ID: o.ID, Status: o.Status}
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			c := pu.Payments.Captures[0]
			po.Capture = &Capture{ID: c.ID, Status: domain.CaptureStatus(c.Status)}
			break
		}
	}
	return po, nil
}

// VerifyWebhook asks PayPal to validate the transmission signature. Without
// a configured webhook id every delivery is accepted.
func (g *PayPalGateway) VerifyWebhook(ctx context.Context, r *http.Request) (bool, error) {
	if g.webhookID == "" {
		return true, nil
	}
	resp, err := g.client.VerifyWebhookSignature(ctx, r, g.webhookID)
	if err != nil {
		return false, fmt.Errorf("verify webhook signature: %w", err)
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

func (g *PayPalGateway) fail(span trace.Span, op string, err error) error {
	status := http.StatusBadGateway
	var er *paypal.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		status = er.Response.StatusCode
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	perr := &domain.ProviderError{Op: op, StatusCode: status, Err: err}
	if status == http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: %w", domain.ErrAlreadyCaptured, perr)
	}
	return perr
}
