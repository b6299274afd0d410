package repo

import (
	"context"
	"database/sql"
	"fmt"
	"unlock-orders/internal/domain"
)

// SettlementRepo is the append-only log of every settlement event seen.
type SettlementRepo interface {
	Record(ctx context.Context, s *domain.Settlement) error
	ListByOrder(ctx context.Context, ref string) ([]domain.Settlement, error)
}

type settlementRepo struct {
	db *sql.DB
}

func NewSettlementRepo(db *sql.DB) SettlementRepo {
	return &settlementRepo{db: db}
}

func (r *settlementRepo) Record(ctx context.Context, s *domain.Settlement) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlements (id, order_ref, capture_id, state, method, source, event_id, applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.OrderRef, s.CaptureID, s.State, s.Method, s.Source, s.EventID, s.Applied, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record settlement for %s: %w", s.OrderRef, err)
	}
	return nil
}

func (r *settlementRepo) ListByOrder(ctx context.Context, ref string) ([]domain.Settlement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_ref, capture_id, state, method, source, event_id, applied, created_at
		FROM settlements WHERE order_ref = $1 ORDER BY created_at`, ref)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		var s domain.Settlement
		if err := rows.Scan(
			&s.ID,
			&s.OrderRef,
			&s.CaptureID,
			&s.State,
			&s.Method,
			&s.Source,
			&s.EventID,
			&s.Applied,
			&s.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
