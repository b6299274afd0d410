package repo

import (
	"context"
	"sort"
	"sync"
	"time"
	"unlock-orders/internal/domain"
)

// MemoryStore is an in-process OrderRepo and SettlementRepo. A single mutex
// is its serialization point; it is meant for tests and the simulator,
// not for multi-process deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]domain.Order
	settlements []domain.Settlement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]domain.Order)}
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.OrderRef]; exists {
		return ErrDuplicateOrder
	}
	m.orders[o.OrderRef] = *o
	return nil
}

func (m *MemoryStore) FindByRef(ctx context.Context, ref string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (m *MemoryStore) FindByIMEI(ctx context.Context, imei string) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.IMEI == imei {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ApplySettlement(ctx context.Context, ref string, u SettlementUpdate) (*domain.Order, domain.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return nil, domain.OutcomeUnchanged, domain.ErrNotFound
	}
	if !domain.CanTransition(o.PaymentState, u.State) {
		return &o, domain.OutcomeUnchanged, nil
	}
	o.PaymentState = u.State
	if u.CaptureID != "" {
		o.PaymentID = u.CaptureID
	}
	at := u.At
	o.PaymentTime = &at
	o.PaymentMethod = u.Method
	m.orders[ref] = o
	return &o, domain.OutcomeTransitioned, nil
}

func (m *MemoryStore) AttachPendingCapture(ctx context.Context, ref, captureID, method string) (*domain.Order, domain.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return nil, domain.OutcomeUnchanged, domain.ErrNotFound
	}
	if captureID == "" || o.PaymentState != domain.PaymentPending || o.PaymentID != "" {
		return &o, domain.OutcomeUnchanged, nil
	}
	o.PaymentID = captureID
	o.PaymentMethod = method
	m.orders[ref] = o
	return &o, domain.OutcomeCaptureAttached, nil
}

func (m *MemoryStore) FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-olderThan)
	var out []domain.Order
	for _, o := range m.orders {
		if o.PaymentState == domain.PaymentPending && o.CreatedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Record(ctx context.Context, s *domain.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = append(m.settlements, *s)
	return nil
}

func (m *MemoryStore) ListByOrder(ctx context.Context, ref string) ([]domain.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Settlement
	for _, s := range m.settlements {
		if s.OrderRef == ref {
			out = append(out, s)
		}
	}
	return out, nil
}
