package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unlock-orders/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// SettlementUpdate is the payment data written on a state change.
type SettlementUpdate struct {
	State     domain.PaymentState
	CaptureID string
	Method    string
	At        time.Time
}

type OrderRepo interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindByRef(ctx context.Context, ref string) (*domain.Order, error)
	FindByIMEI(ctx context.Context, imei string) ([]domain.Order, error)
	// ApplySettlement moves the order into u.State only if the transition is
	// allowed from the state it is in at write time. The check and the write
	// are one statement, so concurrent callers see exactly one transition.
	ApplySettlement(ctx context.Context, ref string, u SettlementUpdate) (*domain.Order, domain.Outcome, error)
	// AttachPendingCapture records the first pending capture id of a Pending
	// order without changing its state.
	AttachPendingCapture(ctx context.Context, ref, captureID, method string) (*domain.Order, domain.Outcome, error)
	FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `order_ref, invoice_id, country, brand, model, network, imei, serial_number,
	mobile_number, email, terms_accepted, amount, currency, payment_id, payment_status,
	payment_time, payment_method, delivery_time, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o           domain.Order
		network     string
		paymentID   sql.NullString
		paymentTime sql.NullTime
	)
	err := row.Scan(
		&o.OrderRef,
		&o.InvoiceID,
		&o.Country,
		&o.Brand,
		&o.Model,
		&network,
		&o.IMEI,
		&o.SerialNumber,
		&o.MobileNumber,
		&o.Email,
		&o.TermsAccepted,
		&o.Amount,
		&o.Currency,
		&paymentID,
		&o.PaymentState,
		&paymentTime,
		&o.PaymentMethod,
		&o.DeliveryTime,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Network = domain.Carrier(network)
	o.PaymentID = paymentID.String
	if paymentTime.Valid {
		t := paymentTime.Time
		o.PaymentTime = &t
	}
	return &o, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (order_ref, invoice_id, country, brand, model, network, imei, serial_number,
			mobile_number, email, terms_accepted, amount, currency, payment_status, payment_method,
			delivery_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		o.OrderRef, o.InvoiceID, o.Country, o.Brand, o.Model, string(o.Network), o.IMEI, o.SerialNumber,
		o.MobileNumber, o.Email, o.TermsAccepted, o.Amount, o.Currency, o.PaymentState, o.PaymentMethod,
		o.DeliveryTime, o.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderRef, err)
	}
	return nil
}

func (r *orderRepo) FindByRef(ctx context.Context, ref string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_ref = $1", ref)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", ref, err)
	}
	return o, nil
}

func (r *orderRepo) FindByIMEI(ctx context.Context, imei string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE imei = $1 ORDER BY created_at DESC", imei)
	if err != nil {
		return nil, fmt.Errorf("find orders by imei: %w", err)
	}
	return collect(rows)
}

func (r *orderRepo) ApplySettlement(ctx context.Context, ref string, u SettlementUpdate) (*domain.Order, domain.Outcome, error) {
	from := domain.SourceStates(u.State)
	if len(from) == 0 {
		return r.unchanged(ctx, ref)
	}
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE orders
		SET payment_status = $2,
		    payment_id = COALESCE(NULLIF($3, ''), payment_id),
		    payment_time = $4,
		    payment_method = $5
		WHERE order_ref = $1 AND payment_status = ANY($6)
		RETURNING `+orderColumns,
		ref, u.State, u.CaptureID, u.At, u.Method, states,
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.unchanged(ctx, ref)
	}
	if err != nil {
		return nil, domain.OutcomeUnchanged, fmt.Errorf("apply settlement %s: %w", ref, err)
	}
	return o, domain.OutcomeTransitioned, nil
}

func (r *orderRepo) AttachPendingCapture(ctx context.Context, ref, captureID, method string) (*domain.Order, domain.Outcome, error) {
	if captureID == "" {
		return r.unchanged(ctx, ref)
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE orders
		SET payment_id = $2, payment_method = $3
		WHERE order_ref = $1 AND payment_status = 'Pending' AND payment_id IS NULL
		RETURNING `+orderColumns,
		ref, captureID, method,
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.unchanged(ctx, ref)
	}
	if err != nil {
		return nil, domain.OutcomeUnchanged, fmt.Errorf("attach capture %s: %w", ref, err)
	}
	return o, domain.OutcomeCaptureAttached, nil
}

// unchanged distinguishes "nothing to write" from "no such order".
func (r *orderRepo) unchanged(ctx context.Context, ref string) (*domain.Order, domain.Outcome, error) {
	o, err := r.FindByRef(ctx, ref)
	if err != nil {
		return nil, domain.OutcomeUnchanged, err
	}
	return o, domain.OutcomeUnchanged, nil
}

func (r *orderRepo) FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE payment_status = 'Pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		time.Now().Add(-olderThan), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find stuck orders: %w", err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
