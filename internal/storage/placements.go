package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Placement is the journal row written after every order placement attempt,
// successful or not. The journal is append-only.
type Placement struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	Leverage      int
	EntryOrderID  int64
	EntryPrice    decimal.Decimal
	TPOrderID     int64
	TPPrice       decimal.Decimal
	Outcome       string
	FailureReason string
	Unprotected   bool
	CreatedAt     time.Time
}

func (s *Store) InsertPlacement(ctx context.Context, p *Placement) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO placements (
			id, user_id, symbol, side, quantity, leverage,
			entry_order_id, entry_price, tp_order_id, tp_price,
			outcome, failure_reason, unprotected, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
	`, p.ID, p.UserID, p.Symbol, p.Side, p.Quantity, p.Leverage,
		p.EntryOrderID, p.EntryPrice, p.TPOrderID, p.TPPrice,
		p.Outcome, p.FailureReason, p.Unprotected)
	return err
}

func (s *Store) ListPlacements(ctx context.Context, userID uuid.UUID, limit int) ([]Placement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, symbol, side, quantity, leverage,
			entry_order_id, entry_price, tp_order_id, tp_price,
			outcome, failure_reason, unprotected, created_at
		FROM placements
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Placement
	for rows.Next() {
		var p Placement
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &p.Side, &p.Quantity, &p.Leverage,
			&p.EntryOrderID, &p.EntryPrice, &p.TPOrderID, &p.TPPrice,
			&p.Outcome, &p.FailureReason, &p.Unprotected, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
