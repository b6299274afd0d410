package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unlock-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type mockOrder struct {
	amount  decimal.Decimal
	capture *Capture
}

// MockGateway is an in-memory payment provider. Like the real one, a second
// capture of the same order is rejected with 422.
type MockGateway struct {
	mu      sync.RWMutex
	orders  map[string]*mockOrder
	outcome func() domain.CaptureStatus
	latency time.Duration

	createErr  error
	captureErr error

	createCalls  atomic.Int64
	captureCalls atomic.Int64
}

type MockOption func(*MockGateway)

// WithOutcome fixes the status every capture reports.
func WithOutcome(status domain.CaptureStatus) MockOption {
	return func(g *MockGateway) {
		g.outcome = func() domain.CaptureStatus { return status }
	}
}

// WithRandomOutcomes: 70% completed, 20% denied, 10% pending.
func WithRandomOutcomes() MockOption {
	return func(g *MockGateway) {
		g.outcome = func() domain.CaptureStatus {
			chance := rand.IntN(100)
			switch {
			case chance < 70:
				return domain.CaptureCompleted
			case chance < 90:
				return domain.CaptureDenied
			default:
				return domain.CapturePending
			}
		}
	}
}

func WithLatency(d time.Duration) MockOption {
	return func(g *MockGateway) { g.latency = d }
}

func NewMockGateway(opts ...MockOption) *MockGateway {
	g := &MockGateway{orders: make(map[string]*mockOrder)}
	WithOutcome(domain.CaptureCompleted)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FailCreate makes subsequent CreateOrder calls fail with err (nil resets).
func (g *MockGateway) FailCreate(err error) {
	g.mu.Lock()
	g.createErr = err
	g.mu.Unlock()
}

// FailCapture makes subsequent CaptureOrder calls fail with err (nil resets).
func (g *MockGateway) FailCapture(err error) {
	g.mu.Lock()
	g.captureErr = err
	g.mu.Unlock()
}

func (g *MockGateway) CreateCalls() int  { return int(g.createCalls.Load()) }
func (g *MockGateway) CaptureCalls() int { return int(g.captureCalls.Load()) }

func (g *MockGateway) sleep(ctx context.Context) error {
	if g.latency == 0 {
		return nil
	}
	select {
	case <-time.After(g.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *MockGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	g.createCalls.Add(1)
	if err := g.sleep(ctx); err != nil {
		return "", &domain.ProviderError{Op: "create order", StatusCode: http.StatusGatewayTimeout, Err: err}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", &domain.ProviderError{Op: "create order", StatusCode: http.StatusInternalServerError, Err: g.createErr}
	}
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:17]
	g.orders[id] = &mockOrder{amount: req.Amount}
	return id, nil
}

func (g *MockGateway) CaptureOrder(ctx context.Context, orderRef string) (*Capture, error) {
	g.captureCalls.Add(1)
	if err := g.sleep(ctx); err != nil {
		return nil, &domain.ProviderError{Op: "capture order", StatusCode: http.StatusGatewayTimeout, Err: err}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return nil, &domain.ProviderError{Op: "capture order", StatusCode: http.StatusInternalServerError, Err: g.captureErr}
	}
	o, ok := g.orders[orderRef]
	if !ok {
		return nil, &domain.ProviderError{Op: "capture order", StatusCode: http.StatusNotFound, Err: errors.New("RESOURCE_NOT_FOUND")}
	}
	if o.capture != nil && o.capture.Status != domain.CaptureDenied {
		perr := &domain.ProviderError{Op: "capture order", StatusCode: http.StatusUnprocessableEntity, Err: errors.New("ORDER_ALREADY_CAPTURED")}
		return nil, fmt.Errorf("%w: %w", domain.ErrAlreadyCaptured, perr)
	}
	o.capture = &Capture{ID: newCaptureID(), Status: g.outcome()}
	c := *o.capture
	return &c, nil
}

func (g *MockGateway) GetOrder(ctx context.Context, orderRef string) (*ProviderOrder, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.orders[orderRef]
	if !ok {
		return nil, &domain.ProviderError{Op: "get order", StatusCode: http.StatusNotFound, Err: errors.New("RESOURCE_NOT_FOUND")}
	}
	po := &ProviderOrder{ID: orderRef, Status: "CREATED"}
	if o.capture != nil {
		c := *o.capture
		po.Capture = &c
		if c.Status == domain.CaptureCompleted {
			po.Status = "COMPLETED"
		}
	}
	return po, nil
}

// Settle captures an order on the provider side as if the buyer's checkout
// finished without our verification call, and returns the capture that a
// webhook would then announce.
func (g *MockGateway) Settle(orderRef string, status domain.CaptureStatus) (*Capture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderRef]
	if !ok {
		return nil, errors.New("unknown order " + orderRef)
	}
	if o.capture == nil || o.capture.Status != domain.CaptureCompleted {
		o.capture = &Capture{ID: newCaptureID(), Status: status}
	}
	c := *o.capture
	return &c, nil
}

func (g *MockGateway) VerifyWebhook(ctx context.Context, r *http.Request) (bool, error) {
	return true, nil
}

func newCaptureID() string {
	return "CAP-" + strings.ToUpper(uuid.NewString()[:13])
}
