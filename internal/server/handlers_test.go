package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	"unlock-orders/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockOrderService struct {
	CreateOrderFunc   func(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error)
	VerifyPaymentFunc func(ctx context.Context, ref string) (*service.VerifyResult, error)
	GetOrderFunc      func(ctx context.Context, ref string) (*domain.Order, error)
	TrackByIMEIFunc   func(ctx context.Context, imei string) ([]domain.Order, error)
}

func (m *MockOrderService) CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, in)
	}
	return nil, errors.New("not implemented")
}

func (m *MockOrderService) VerifyPayment(ctx context.Context, ref string) (*service.VerifyResult, error) {
	if m.VerifyPaymentFunc != nil {
		return m.VerifyPaymentFunc(ctx, ref)
	}
	return nil, domain.ErrNotFound
}

func (m *MockOrderService) GetOrder(ctx context.Context, ref string) (*domain.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, ref)
	}
	return nil, domain.ErrNotFound
}

func (m *MockOrderService) TrackByIMEI(ctx context.Context, imei string) ([]domain.Order, error) {
	if m.TrackByIMEIFunc != nil {
		return m.TrackByIMEIFunc(ctx, imei)
	}
	return nil, domain.ErrNotFound
}

type MockWebhooks struct {
	AcceptFunc func(ev *service.WebhookEvent, verified bool) error
}

func (m *MockWebhooks) Accept(ev *service.WebhookEvent, verified bool) error {
	if m.AcceptFunc != nil {
		return m.AcceptFunc(ev, verified)
	}
	return nil
}

func newTestServer(orders service.OrderService, webhooks WebhookAcceptor) *Server {
	return New(Deps{
		Orders:      orders,
		Webhooks:    webhooks,
		ClientToken: "client-id",
		CORSOrigins: []string{"http://localhost:5173"},
		Location:    time.FixedZone("AST", 3*60*60),
		Log:         zerolog.Nop(),
	})
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateOrderHandler(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"device identifier", `{"country":"SA","brand":"Huawei","model":"B535",
		"network":"STC","deviceIdentifier":"861565040000000","serialNumber":"SN1","email":"a@b.co","termsAccepted":true}`},
		{"legacy imei field", `{"country":"SA","brand":"Huawei","model":"B535",
		"network":"STC","imei":"861565040000000","serialNumber":"SN1","email":"a@b.co","termsAccepted":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got service.CreateOrderInput
			s := newTestServer(&MockOrderService{
				CreateOrderFunc: func(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error) {
					got = in
					return &service.CreateOrderResult{
						OrderRef:       "5O190127TN364715T",
						Amount:         decimal.NewFromInt(54),
						Currency:       "USD",
						DeliveryWindow: "1–9 Days",
					}, nil
				},
			}, &MockWebhooks{})

			w := do(s, http.MethodPost, "/api/create-order", tt.body)

			require.Equal(t, http.StatusOK, w.Code)
			body := decode(t, w)
			assert.Equal(t, "5O190127TN364715T", body["orderReference"])
			assert.Equal(t, "54.00", body["amount"])
			assert.Equal(t, "USD", body["currency"])
			assert.Equal(t, "client-id", body["clientConfigToken"])
			assert.Equal(t, "1–9 Days", body["deliveryWindow"])
			assert.Equal(t, "861565040000000", got.IMEI)
			assert.True(t, got.TermsAccepted)
		})
	}
}

func TestCreateOrderHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &domain.ValidationError{Fields: map[string]string{"termsAccepted": "terms must be accepted"}}, http.StatusBadRequest},
		{"upstream", &domain.ProviderError{Op: "create order", StatusCode: 503, Err: errors.New("down")}, http.StatusInternalServerError},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&MockOrderService{
				CreateOrderFunc: func(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error) {
					return nil, tt.err
				},
			}, &MockWebhooks{})

			w := do(s, http.MethodPost, "/api/create-order", `{}`)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestCreateOrderHandlerMalformedBody(t *testing.T) {
	s := newTestServer(&MockOrderService{}, &MockWebhooks{})

	w := do(s, http.MethodPost, "/api/create-order", `{"termsAccepted": "yes"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyPaymentHandler(t *testing.T) {
	order := &domain.Order{
		OrderRef: "REF1", PaymentID: "CAP1", Amount: decimal.NewFromInt(54), DeliveryTime: "1–9 Days",
	}
	tests := []struct {
		name   string
		result *service.VerifyResult
		err    error
		status int
		field  string
		want   any
	}{
		{"success", &service.VerifyResult{Status: service.VerifySuccess, Order: order}, nil, http.StatusOK, "status", "success"},
		{"pending", &service.VerifyResult{Status: service.VerifyPending, Order: order}, nil, http.StatusOK, "status", "pending"},
		{"denied", &service.VerifyResult{Status: service.VerifyFailed, Order: order, ProviderStatus: domain.CaptureDenied}, nil, http.StatusBadRequest, "paymentStatus", "DENIED"},
		{"not found", nil, domain.ErrNotFound, http.StatusNotFound, "orderReference", "REF1"},
		{"already captured", nil, fmt.Errorf("%w: 422", domain.ErrAlreadyCaptured), http.StatusBadRequest, "error", domain.ErrAlreadyCaptured.Error()},
		{"upstream", nil, &domain.ProviderError{Op: "capture", StatusCode: 500, Err: errors.New("x")}, http.StatusInternalServerError, "orderReference", "REF1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&MockOrderService{
				VerifyPaymentFunc: func(ctx context.Context, ref string) (*service.VerifyResult, error) {
					assert.Equal(t, "REF1", ref)
					return tt.result, tt.err
				},
			}, &MockWebhooks{})

			w := do(s, http.MethodPost, "/api/verify-payment", `{"orderReference":"REF1"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.want, decode(t, w)[tt.field])
		})
	}
}

func TestVerifyPaymentHandlerAcceptsLegacyField(t *testing.T) {
	var got string
	s := newTestServer(&MockOrderService{
		VerifyPaymentFunc: func(ctx context.Context, ref string) (*service.VerifyResult, error) {
			got = ref
			return nil, domain.ErrNotFound
		},
	}, &MockWebhooks{})

	do(s, http.MethodPost, "/api/verify-payment", `{"orderId":"LEGACY"}`)
	assert.Equal(t, "LEGACY", got)
}

func TestWebhookHandler(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		acceptErr error
		status    int
		accepted  bool
	}{
		{"capture completed", `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP","supplementary_data":{"related_ids":{"order_id":"REF"}}}}`, nil, http.StatusOK, true},
		{"irrelevant type", `{"id":"WH-2","event_type":"CHECKOUT.ORDER.APPROVED","resource":{}}`, nil, http.StatusOK, true},
		{"unparseable event type", `{"id":"WH-3","event_type":42}`, nil, http.StatusOK, false},
		{"missing cross reference", `{"id":"WH-4","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP"}}`,
			&domain.ValidationError{Fields: map[string]string{"order": "missing"}}, http.StatusBadRequest, true},
		{"not json", `<xml/>`, nil, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accepted := false
			s := newTestServer(&MockOrderService{}, &MockWebhooks{
				AcceptFunc: func(ev *service.WebhookEvent, verified bool) error {
					accepted = true
					assert.True(t, verified)
					return tt.acceptErr
				},
			})

			w := do(s, http.MethodPost, "/api/paypal/webhook", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.accepted, accepted)
		})
	}
}

type stubVerifier struct {
	ok   bool
	body string
}

func (v *stubVerifier) VerifyWebhook(ctx context.Context, r *http.Request) (bool, error) {
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r.Body)
	v.body = buf.String()
	return v.ok, nil
}

func TestWebhookHandlerPassesSignatureResult(t *testing.T) {
	verifier := &stubVerifier{ok: false}
	var verified = true
	s := New(Deps{
		Orders: &MockOrderService{},
		Webhooks: &MockWebhooks{AcceptFunc: func(ev *service.WebhookEvent, v bool) error {
			verified = v
			return nil
		}},
		Verifier: verifier,
		Log:      zerolog.Nop(),
	})

	body := `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"custom_id":"REF"}}`
	w := do(s, http.MethodPost, "/api/payment-webhook", body)

	assert.Equal(t, http.StatusOK, w.Code, "unverified deliveries are still acknowledged")
	assert.False(t, verified)
	assert.Equal(t, body, verifier.body, "verifier sees the original body")
}

func TestOrderDetailsHandler(t *testing.T) {
	paid := time.Date(2025, 3, 9, 18, 5, 0, 0, time.UTC)
	s := newTestServer(&MockOrderService{
		GetOrderFunc: func(ctx context.Context, ref string) (*domain.Order, error) {
			if ref != "REF1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Order{
				OrderRef: "REF1", Amount: decimal.NewFromInt(54), Currency: "USD",
				PaymentState: domain.PaymentSuccess, PaymentTime: &paid,
			}, nil
		},
	}, &MockWebhooks{})

	w := do(s, http.MethodGet, "/api/order-details/REF1", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "March 9, 2025 at 9:05 PM", body["paymentTime"])
	assert.Equal(t, "54.00", body["amount"])
	assert.Equal(t, "Success", body["paymentStatus"])

	w = do(s, http.MethodGet, "/api/order-details/NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrackOrderHandler(t *testing.T) {
	s := newTestServer(&MockOrderService{
		TrackByIMEIFunc: func(ctx context.Context, imei string) ([]domain.Order, error) {
			if imei != "861565040000000" {
				return nil, domain.ErrNotFound
			}
			return []domain.Order{
				{OrderRef: "A", IMEI: imei, Amount: decimal.NewFromInt(54), PaymentState: domain.PaymentPending},
				{OrderRef: "B", IMEI: imei, Amount: decimal.NewFromInt(54), PaymentState: domain.PaymentFailed},
			}, nil
		},
	}, &MockWebhooks{})

	for _, path := range []string{"/api/track-order/861565040000000", "/api/track-order-by-device/861565040000000"} {
		w := do(s, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		var views []map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
		require.Len(t, views, 2)
		assert.Nil(t, views[0]["paymentTime"])
	}

	w := do(s, http.MethodGet, "/api/track-order/000000000000000", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPingAndMetrics(t *testing.T) {
	s := newTestServer(&MockOrderService{}, &MockWebhooks{})

	w := do(s, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))

	w = do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

type stubHealth map[string]string

func (h stubHealth) Health(ctx context.Context) map[string]string { return h }

func TestHealthHandler(t *testing.T) {
	s := New(Deps{Orders: &MockOrderService{}, Webhooks: &MockWebhooks{}, Health: stubHealth{"status": "down"}, Log: zerolog.Nop()})

	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return "id", nil
}

type nopRenderer struct{}

func (nopRenderer) Render(ctx context.Context, s domain.Summary, issued time.Time) ([]byte, error) {
	return []byte("%PDF"), nil
}

type inlineRunner struct{}

func (inlineRunner) Go(name string, fn func(ctx context.Context)) { fn(context.Background()) }

func TestCreateThenWebhookOverHTTP(t *testing.T) {
	log := zerolog.Nop()
	table, err := pricing.LoadTable(strings.NewReader(`
default_price: "55"
devices:
  "86156504":
    model: Test Router
    prices: {STC: "54", Other: "50"}
`))
	require.NoError(t, err)

	store := repo.NewMemoryStore()
	mailer := &recordingMailer{}
	engine := service.NewEngine(store, store, service.NewNotifier(nopRenderer{}, mailer, "admin@example.com", time.UTC, log), log)
	orders := service.NewOrderService(store, pricing.NewResolver(table, log), payment.NewMockGateway(), engine, log)
	webhooks := service.NewWebhookProcessor(engine, dedup.NewMemoryLedger(time.Hour), inlineRunner{}, log)
	s := newTestServer(orders, webhooks)

	w := do(s, http.MethodPost, "/api/create-order", `{"country":"SA","brand":"Huawei","model":"B535",
		"network":"STC","deviceIdentifier":"861565040000000","serialNumber":"SN1","email":"buyer@example.com","termsAccepted":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	created := decode(t, w)
	assert.Equal(t, "54.00", created["amount"])
	ref := created["orderReference"].(string)

	event := `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","supplementary_data":{"related_ids":{"order_id":"` + ref + `"}}}}`
	for i := 0; i < 2; i++ {
		w = do(s, http.MethodPost, "/api/paypal/webhook", event)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = do(s, http.MethodGet, "/api/order-details/"+ref, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Success", decode(t, w)["paymentStatus"])

	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	require.Len(t, mailer.sent, 2)
	templates := []mail.Template{mailer.sent[0].Template, mailer.sent[1].Template}
	assert.ElementsMatch(t, []mail.Template{mail.TemplateInvoice, mail.TemplateNewOrder}, templates)

	w = do(s, http.MethodPost, "/api/verify-payment", `{"orderReference":"UNKNOWN"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&MockOrderService{}, &MockWebhooks{})

	req := httptest.NewRequest(http.MethodOptions, "/api/create-order", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}
