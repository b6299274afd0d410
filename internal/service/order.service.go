package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"
	"unlock-orders/internal/domain"
	"unlock-orders/internal/infrastructure/payment"
	"unlock-orders/internal/metrics"
	"unlock-orders/internal/pricing"
	"unlock-orders/internal/repo"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type CreateOrderInput struct {
	Country       string `json:"country" validate:"required"`
	Brand         string `json:"brand" validate:"required"`
	Model         string `json:"model" validate:"required"`
	Network       string `json:"network" validate:"required"`
	IMEI          string `json:"deviceIdentifier" validate:"required,len=15,number"`
	SerialNumber  string `json:"serialNumber" validate:"required"`
	MobileNumber  string `json:"mobileNumber"`
	Email         string `json:"email" validate:"required,email"`
	TermsAccepted bool   `json:"termsAccepted" validate:"eq=true"`
}

type CreateOrderResult struct {
	OrderRef       string
	Amount         decimal.Decimal
	Currency       string
	DeliveryWindow string
	Quote          pricing.Quote
}

type VerifyStatus string

const (
	VerifySuccess VerifyStatus = "success"
	VerifyPending VerifyStatus = "pending"
	VerifyFailed  VerifyStatus = "failed"
)

type VerifyResult struct {
	Status         VerifyStatus
	Order          *domain.Order
	ProviderStatus domain.CaptureStatus
	// AlreadySettled is set when the order was Success before this call.
	AlreadySettled bool
}

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	VerifyPayment(ctx context.Context, orderRef string) (*VerifyResult, error)
	GetOrder(ctx context.Context, orderRef string) (*domain.Order, error)
	TrackByIMEI(ctx context.Context, imei string) ([]domain.Order, error)
}

type orderService struct {
	orders   repo.OrderRepo
	pricer   *pricing.Resolver
	gateway  payment.Gateway
	engine   *Engine
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

func NewOrderService(
	orders repo.OrderRepo,
	pricer *pricing.Resolver,
	gateway payment.Gateway,
	engine *Engine,
	log zerolog.Logger,
) OrderService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &orderService{
		orders:   orders,
		pricer:   pricer,
		gateway:  gateway,
		engine:   engine,
		validate: v,
		log:      log.With().Str("component", "orders").Logger(),
		now:      time.Now,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	ctx, span := tracer.Start(ctx, "orders.create")
	defer span.End()

	if err := s.check(in); err != nil {
		return nil, err
	}

	carrier := domain.ParseCarrier(in.Network)
	quote := s.pricer.Resolve(in.IMEI, carrier)
	window := domain.DeliveryWindow(carrier)

	ref, err := s.gateway.CreateOrder(ctx, newProviderRequest(in, carrier, quote.Amount))
	if err != nil {
		if !errors.Is(err, domain.ErrUpstreamProvider) {
			err = &domain.ProviderError{Op: "create order", StatusCode: http.StatusBadGateway, Err: err}
		}
		span.RecordError(err)
		s.log.Error().Err(err).Str("imei", in.IMEI).Msg("provider order creation failed")
		return nil, err
	}

	order := &domain.Order{
		OrderRef:      ref,
		InvoiceID:     "INV-" + ref,
		Country:       in.Country,
		Brand:         in.Brand,
		Model:         in.Model,
		Network:       carrier,
		IMEI:          in.IMEI,
		SerialNumber:  in.SerialNumber,
		MobileNumber:  in.MobileNumber,
		Email:         in.Email,
		TermsAccepted: in.TermsAccepted,
		Amount:        quote.Amount,
		Currency:      domain.Currency,
		PaymentState:  domain.PaymentPending,
		PaymentMethod: domain.DefaultPaymentMethod,
		DeliveryTime:  window,
		CreatedAt:     s.now(),
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.log.Error().Err(err).Str("order_ref", ref).Msg("persisting order failed")
		return nil, fmt.Errorf("persist order %s: %w", ref, err)
	}
	metrics.OrdersCreated.Inc()

	s.log.Info().
		Str("order_ref", ref).
		Str("tac", quote.TAC).
		Str("carrier", string(carrier)).
		Str("amount", quote.Amount.StringFixed(2)).
		Str("price_source", string(quote.Source)).
		Msg("order created")

	return &CreateOrderResult{
		OrderRef:       ref,
		Amount:         quote.Amount,
		Currency:       domain.Currency,
		DeliveryWindow: window,
		Quote:          quote,
	}, nil
}

func (s *orderService) check(in CreateOrderInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "invalid email format"
	case "len", "number":
		return "must be exactly 15 digits"
	case "eq":
		return "terms must be accepted"
	default:
		return "is invalid"
	}
}

func newProviderRequest(in CreateOrderInput, carrier domain.Carrier, amount decimal.Decimal) payment.CreateOrderRequest {
	brand := in.Brand
	if len(brand) > 11 {
		brand = brand[:11]
	}
	return payment.CreateOrderRequest{
		Amount:          amount,
		Currency:        domain.Currency,
		Description:     fmt.Sprintf("Instant digital unlock for %s %s (%s) - IMEI: %s", in.Brand, in.Model, carrier, in.IMEI),
		SoftDescriptor:  "UNLOCK-" + strings.ToUpper(brand),
		CustomID:        "IMEI-" + in.IMEI,
		ItemName:        fmt.Sprintf("Unlock %s %s", in.Brand, in.Model),
		ItemDescription: "Instant digital unlock service (no shipping)",
		SKU:             in.IMEI,
	}
}

// VerifyPayment captures an approved order and applies the result. The
// order is looked up first so an unknown reference never reaches the
// provider, and a settled one is never captured twice.
func (s *orderService) VerifyPayment(ctx context.Context, orderRef string) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "orders.verify")
	defer span.End()

	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return nil, &domain.ValidationError{Fields: map[string]string{"orderReference": "is required"}}
	}
	log := s.log.With().Str("order_ref", orderRef).Logger()

	order, err := s.orders.FindByRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if order.PaymentState == domain.PaymentSuccess {
		log.Info().Msg("order already settled, skipping capture")
		return &VerifyResult{Status: VerifySuccess, Order: order, ProviderStatus: domain.CaptureCompleted, AlreadySettled: true}, nil
	}

	capture, err := s.gateway.CaptureOrder(ctx, orderRef)
	if err != nil {
		span.RecordError(err)
		return nil, s.captureFailed(ctx, log, orderRef, err)
	}

	order, _, err = s.engine.Apply(ctx, SettlementEvent{
		OrderRef:  orderRef,
		CaptureID: capture.ID,
		State:     capture.Status.State(),
		Method:    domain.DefaultPaymentMethod,
		Source:    domain.SourceVerification,
	})
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Status: statusOf(order.PaymentState), Order: order, ProviderStatus: capture.Status}, nil
}

func (s *orderService) captureFailed(ctx context.Context, log zerolog.Logger, orderRef string, err error) error {
	var perr *domain.ProviderError
	status := 0
	if errors.As(err, &perr) {
		status = perr.StatusCode
	}

	switch {
	case errors.Is(err, domain.ErrAlreadyCaptured):
		log.Warn().Err(err).Msg("provider reports order already captured")
		return err
	case status == http.StatusNotFound:
		log.Warn().Err(err).Msg("provider does not know the order")
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}

	log.Error().Err(err).Int("provider_status", status).Msg("capture failed, marking order failed")
	if _, _, ferr := s.engine.Apply(ctx, SettlementEvent{
		OrderRef: orderRef,
		State:    domain.PaymentFailed,
		Method:   domain.DefaultPaymentMethod,
		Source:   domain.SourceVerification,
	}); ferr != nil {
		log.Error().Err(ferr).Msg("marking order failed did not succeed")
	}
	if !errors.Is(err, domain.ErrUpstreamProvider) {
		err = &domain.ProviderError{Op: "capture order", StatusCode: http.StatusBadGateway, Err: err}
	}
	return err
}

func statusOf(s domain.PaymentState) VerifyStatus {
	switch s {
	case domain.PaymentSuccess:
		return VerifySuccess
	case domain.PaymentPending:
		return VerifyPending
	default:
		return VerifyFailed
	}
}

func (s *orderService) GetOrder(ctx context.Context, orderRef string) (*domain.Order, error) {
	return s.orders.FindByRef(ctx, orderRef)
}

func (s *orderService) TrackByIMEI(ctx context.Context, imei string) ([]domain.Order, error) {
	if imei == "" {
		return nil, &domain.ValidationError{Fields: map[string]string{"imei": "is required"}}
	}
	orders, err := s.orders.FindByIMEI(ctx, imei)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: no orders for imei %s", domain.ErrNotFound, imei)
	}
	return orders, nil
}
