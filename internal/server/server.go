package server

import (
	"context"
	"net/http"
	"time"
	"unlock-orders/internal/infrastructure/payment"
	"unlock-orders/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var tracer = otel.Tracer("unlock-orders/server")

const contentSecurityPolicy = "default-src 'self' https://genuineunlocker.net; script-src 'self' https://genuineunlocker.net; " +
	"style-src 'self' 'unsafe-inline' https://genuineunlocker.net https://cdnjs.cloudflare.com; img-src 'self' data: https://genuineunlocker.net; " +
	"font-src 'self' https://cdnjs.cloudflare.com; connect-src 'self' https://genuineunlocker.net https://api.genuineunlocker.net; " +
	"object-src 'none'; frame-ancestors 'self'; base-uri 'self'; form-action 'self';"

// WebhookAcceptor decides the acknowledgment of a provider event.
type WebhookAcceptor interface {
	Accept(ev *service.WebhookEvent, verified bool) error
}

// HealthChecker reports store health for /health.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Deps struct {
	Orders   service.OrderService
	Webhooks WebhookAcceptor
	Verifier payment.WebhookVerifier
	Health   HealthChecker
	// ClientToken is handed to the browser checkout (the PayPal client id).
	ClientToken string
	CORSOrigins []string
	Location    *time.Location
	Log         zerolog.Logger
}

type Server struct {
	Deps
	router *gin.Engine
}

func New(d Deps) *Server {
	if d.Location == nil {
		d.Location = time.UTC
	}
	router := gin.New()
	s := &Server{Deps: d, router: router}

	router.Use(gin.Recovery(), s.tracing(), s.requestLog(), securityHeaders())
	if len(d.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/ping", s.handlePing)
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/create-order", s.handleCreateOrder)
		api.POST("/verify-payment", s.handleVerifyPayment)
		api.POST("/paypal/webhook", s.handleWebhook)
		api.POST("/payment-webhook", s.handleWebhook)
		api.GET("/order-details/:orderRef", s.handleOrderDetails)
		api.GET("/track-order/:imei", s.handleTrackOrder)
		api.GET("/track-order-by-device/:imei", s.handleTrackOrder)
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.FullPath())
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", contentSecurityPolicy)
		c.Next()
	}
}
