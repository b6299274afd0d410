package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/metrics"
	"unlock-orders/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

func (s *Server) handlePing(c *gin.Context) {
	c.String(http.StatusOK, "Server is awake")
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := s.Health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}

type createOrderRequest struct {
	service.CreateOrderInput
	// IMEI is the field name older checkout pages send.
	IMEI string `json:"imei"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	in := req.CreateOrderInput
	if in.IMEI == "" {
		in.IMEI = req.IMEI
	}

	res, err := s.Orders.CreateOrder(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orderReference":    res.OrderRef,
		"amount":            res.Amount.StringFixed(2),
		"currency":          res.Currency,
		"clientConfigToken": s.ClientToken,
		"deliveryWindow":    res.DeliveryWindow,
	})
}

type verifyRequest struct {
	OrderReference string `json:"orderReference"`
	// OrderID is the field name older checkout pages send.
	OrderID string `json:"orderId"`
}

func (s *Server) handleVerifyPayment(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ref := req.OrderReference
	if ref == "" {
		ref = req.OrderID
	}

	res, err := s.Orders.VerifyPayment(c.Request.Context(), ref)
	if err != nil {
		s.writeError(c, err, gin.H{"orderReference": ref})
		return
	}

	o := res.Order
	switch res.Status {
	case service.VerifySuccess:
		c.JSON(http.StatusOK, gin.H{
			"status":         "success",
			"message":        "PayPal payment verified and order updated successfully",
			"orderReference": o.OrderRef,
			"paymentId":      o.PaymentID,
			"amount":         o.Amount.StringFixed(2),
			"deliveryTime":   o.DeliveryTime,
		})
	case service.VerifyPending:
		c.JSON(http.StatusOK, gin.H{
			"status":           "pending",
			"message":          "PayPal payment is pending clearance. Invoice will be sent automatically when payment clears.",
			"orderReference":   o.OrderRef,
			"expectedDelivery": o.DeliveryTime,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "PayPal payment not completed",
			"paymentStatus":  res.ProviderStatus,
			"orderReference": o.OrderRef,
		})
	}
}

// handleWebhook acknowledges every structurally valid delivery. The event
// itself is applied after the response is decided.
func (s *Server) handleWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	var ev service.WebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		var envelope map[string]json.RawMessage
		if json.Unmarshal(raw, &envelope) != nil {
			s.Log.Warn().Err(err).Msg("unparseable webhook payload")
			c.Status(http.StatusBadRequest)
			return
		}
		// A JSON object whose fields do not match any event we handle.
		metrics.WebhookEvents.WithLabelValues("unrecognised", "ignored").Inc()
		s.Log.Warn().Err(err).Msg("webhook envelope not understood, acknowledging")
		c.Status(http.StatusOK)
		return
	}

	verified := true
	if s.Verifier != nil {
		// The verifier re-reads the body.
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		ok, err := s.Verifier.VerifyWebhook(c.Request.Context(), c.Request)
		if err != nil {
			s.Log.Warn().Err(err).Str("event_id", ev.ID).Msg("webhook signature check failed")
		}
		verified = ok && err == nil
	}

	if err := s.Webhooks.Accept(&ev, verified); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleOrderDetails(c *gin.Context) {
	o, err := s.Orders.GetOrder(c.Request.Context(), c.Param("orderRef"))
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, newOrderView(o, s.Location))
}

func (s *Server) handleTrackOrder(c *gin.Context) {
	orders, err := s.Orders.TrackByIMEI(c.Request.Context(), c.Param("imei"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No orders found for this IMEI"})
			return
		}
		s.writeError(c, err, nil)
		return
	}
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, newOrderView(&orders[i], s.Location))
	}
	c.JSON(http.StatusOK, views)
}

type orderView struct {
	OrderReference string    `json:"orderReference"`
	InvoiceID      string    `json:"invoiceId"`
	Country        string    `json:"country"`
	Brand          string    `json:"brand"`
	Model          string    `json:"model"`
	Network        string    `json:"network"`
	IMEI           string    `json:"imei"`
	SerialNumber   string    `json:"serialNumber"`
	MobileNumber   string    `json:"mobileNumber,omitempty"`
	Email          string    `json:"email"`
	TermsAccepted  bool      `json:"termsAccepted"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	PaymentID      string    `json:"paymentId,omitempty"`
	PaymentStatus  string    `json:"paymentStatus"`
	PaymentTime    *string   `json:"paymentTime"`
	PaymentMethod  string    `json:"paymentMethod"`
	DeliveryTime   string    `json:"deliveryTime"`
	CreatedAt      time.Time `json:"createdAt"`
}

func newOrderView(o *domain.Order, loc *time.Location) orderView {
	v := orderView{
		OrderReference: o.OrderRef,
		InvoiceID:      o.InvoiceID,
		Country:        o.Country,
		Brand:          o.Brand,
		Model:          o.Model,
		Network:        string(o.Network),
		IMEI:           o.IMEI,
		SerialNumber:   o.SerialNumber,
		MobileNumber:   o.MobileNumber,
		Email:          o.Email,
		TermsAccepted:  o.TermsAccepted,
		Amount:         o.Amount.StringFixed(2),
		Currency:       o.Currency,
		PaymentID:      o.PaymentID,
		PaymentStatus:  string(o.PaymentState),
		PaymentMethod:  o.PaymentMethod,
		DeliveryTime:   o.DeliveryTime,
		CreatedAt:      o.CreatedAt,
	}
	if t := domain.FormatPaymentTime(o.PaymentTime, loc); t != "" {
		v.PaymentTime = &t
	}
	return v
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error, extra gin.H) {
	body := gin.H{}
	for k, v := range extra {
		body[k] = v
	}

	var (
		verr   *domain.ValidationError
		status int
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body["error"] = "validation failed"
		body["fields"] = verr.Fields
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		body["error"] = err.Error()
	case errors.Is(err, domain.ErrAlreadyCaptured):
		status = http.StatusBadRequest
		body["error"] = domain.ErrAlreadyCaptured.Error()
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		body["error"] = "Order not found"
	case errors.Is(err, domain.ErrUpstreamProvider):
		status = http.StatusInternalServerError
		body["error"] = "Payment provider request failed"
	default:
		status = http.StatusInternalServerError
		body["error"] = "Server error"
	}

	ev := s.Log.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.Log.Error()
	}
	ev.Err(err).Str("path", c.Request.URL.Path).Int("status", status).Msg("request failed")
	c.JSON(status, body)
}
