package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/infrastructure/dedup"
	"unlock-orders/internal/infrastructure/mail"
	"unlock-orders/internal/infrastructure/payment"
	"unlock-orders/internal/pricing"
	"unlock-orders/internal/repo"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testPricing = `
default_price: "55"
devices:
  "86156504":
    model: Test Router
    prices: {STC: "54", ZAIN: "28", Other: "50"}
`

const adminEmail = "admin@example.com"

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "msg-" + msg.To, nil
}

func (m *recordingMailer) count(tmpl mail.Template, to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.sent {
		if msg.Template == tmpl && msg.To == to {
			n++
		}
	}
	return n
}

func (m *recordingMailer) messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

type stubRenderer struct {
	err    error
	calls  int
	issued []time.Time
	mu     sync.Mutex
}

func (r *stubRenderer) Render(ctx context.Context, s domain.Summary, issued time.Time) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	r.issued = append(r.issued, issued)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-" + s.OrderRef), nil
}

// inlineRunner runs scheduled work before Go returns.
type inlineRunner struct{}

func (inlineRunner) Go(name string, fn func(ctx context.Context)) { fn(context.Background()) }

type harness struct {
	store   *repo.MemoryStore
	gateway *payment.MockGateway
	mailer  *recordingMailer
	docs    *stubRenderer
	engine  *Engine
	orders  OrderService
	webhook *WebhookProcessor
}

func newHarness(t *testing.T, opts ...payment.MockOption) *harness {
	t.Helper()
	table, err := pricing.LoadTable(strings.NewReader(testPricing))
	require.NoError(t, err)

	h := &harness{
		store:   repo.NewMemoryStore(),
		gateway: payment.NewMockGateway(opts...),
		mailer:  &recordingMailer{},
		docs:    &stubRenderer{},
	}
	log := zerolog.Nop()
	notifier := NewNotifier(h.docs, h.mailer, adminEmail, time.UTC, log)
	h.engine = NewEngine(h.store, h.store, notifier, log)
	h.orders = NewOrderService(h.store, pricing.NewResolver(table, log), h.gateway, h.engine, log)
	h.webhook = NewWebhookProcessor(h.engine, dedup.NewMemoryLedger(time.Hour), inlineRunner{}, log)
	return h
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		Country:       "Saudi Arabia",
		Brand:         "Huawei",
		Model:         "B535",
		Network:       "STC",
		IMEI:          "861565040000000",
		SerialNumber:  "SN123456",
		MobileNumber:  "+966500000000",
		Email:         "buyer@example.com",
		TermsAccepted: true,
	}
}

func (h *harness) createOrder(t *testing.T) *CreateOrderResult {
	t.Helper()
	res, err := h.orders.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)
	return res
}

func completedEvent(id, ref string) *WebhookEvent {
	ev := &WebhookEvent{ID: id, EventType: EventCaptureCompleted}
	ev.Resource.ID = "CAP-" + id
	ev.Resource.Status = "COMPLETED"
	ev.Resource.SupplementaryData.RelatedIDs.OrderID = ref
	return ev
}

var errBoom = errors.New("boom")
