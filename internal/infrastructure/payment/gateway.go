package payment

import (
	"context"
	"net/http"
	"unlock-orders/internal/domain"

	"github.com/shopspring/decimal"
)

// Gateway is the payment provider seen as a black box.
type Gateway interface {
	// CreateOrder opens a provider order and returns its id.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error)
	// CaptureOrder captures the funds of an approved order.
	CaptureOrder(ctx context.Context, orderRef string) (*Capture, error)
	// GetOrder reads the provider-side status of an order.
	GetOrder(ctx context.Context, orderRef string) (*ProviderOrder, error)
}

// WebhookVerifier checks that a webhook delivery was signed by the provider.
type WebhookVerifier interface {
	VerifyWebhook(ctx context.Context, r *http.Request) (bool, error)
}

type CreateOrderRequest struct {
	Amount          decimal.Decimal
	Currency        string
	Description     string
	SoftDescriptor  string
	CustomID        string
	ItemName        string
	ItemDescription string
	SKU             string
}

type Capture struct {
	ID     string
	Status domain.CaptureStatus
}

type ProviderOrder struct {
	ID      string
	Status  string
	Capture *Capture
}
