package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"unlock-orders/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGatewayCaptureOnce(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway()

	ref, err := g.CreateOrder(ctx, CreateOrderRequest{Amount: decimal.NewFromInt(54), Currency: "USD"})
	require.NoError(t, err)
	assert.Len(t, ref, 17)

	c, err := g.CaptureOrder(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptureCompleted, c.Status)

	_, err = g.CaptureOrder(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrAlreadyCaptured)
	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusUnprocessableEntity, perr.StatusCode)

	po, err := g.GetOrder(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", po.Status)
	assert.Equal(t, c.ID, po.Capture.ID)
	assert.Equal(t, 2, g.CaptureCalls())
}

func TestMockGatewayFailures(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(WithOutcome(domain.CaptureDenied))

	_, err := g.CaptureOrder(ctx, "unknown")
	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusNotFound, perr.StatusCode)

	g.FailCreate(errors.New("boom"))
	_, err = g.CreateOrder(ctx, CreateOrderRequest{})
	assert.ErrorIs(t, err, domain.ErrUpstreamProvider)
	g.FailCreate(nil)

	ref, err := g.CreateOrder(ctx, CreateOrderRequest{})
	require.NoError(t, err)
	c, err := g.CaptureOrder(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptureDenied, c.Status)

	// a denied capture may be retried
	settled, err := g.Settle(ref, domain.CaptureCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptureCompleted, settled.Status)
}
