package store

import (
	"context"
	"database/sql"
	"time"
)

// Payment records a tier purchase.
type Payment struct {
	ID        int64
	UserID    int64
	TierID    int64
	TierName  string
	Amount    float64
	CreatedAt time.Time
}

// PaymentRepository reads payment history.
type PaymentRepository struct {
	s *Store
}

// Payments returns the payment repository for this store.
func (s *Store) Payments() *PaymentRepository {
	return &PaymentRepository{s: s}
}

// ListByUser returns a user's payments, newest first.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID int64) ([]*Payment, error) {
	rows, err := r.s.db.QueryContext(ctx, r.s.q(
		`SELECT pay.id, pay.user_id, pay.subscription_plan_id, p.name, pay.amount, pay.created_at
		 FROM payments pay JOIN subscription_plan p ON p.id = pay.subscription_plan_id
		 WHERE pay.user_id = ? ORDER BY pay.created_at DESC, pay.id DESC`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p := &Payment{}
		var created sql.NullTime
		if err := rows.Scan(&p.ID, &p.UserID, &p.TierID, &p.TierName, &p.Amount, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = created.Time
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}
