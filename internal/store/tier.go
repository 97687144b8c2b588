package store

import (
	"context"
	"database/sql"
	"errors"
)

// Tier is a subscription plan. A nil DailyLimit means unlimited.
type Tier struct {
	ID         int64
	Name       string
	DailyLimit *int
	Price      float64
}

// TierRepository reads subscription tiers.
type TierRepository struct {
	s *Store
}

// Tiers returns the tier repository for this store.
func (s *Store) Tiers() *TierRepository {
	return &TierRepository{s: s}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTier(row rowScanner) (*Tier, error) {
	t := &Tier{}
	var limit sql.NullInt64
	if err := row.Scan(&t.ID, &t.Name, &limit, &t.Price); err != nil {
		return nil, err
	}
	t.DailyLimit = intFromNull(limit)
	return t, nil
}

// GetByName retrieves a tier by its unique name.
func (r *TierRepository) GetByName(ctx context.Context, name string) (*Tier, error) {
	t, err := scanTier(r.s.db.QueryRowContext(ctx, r.s.q(
		`SELECT id, name, daily_limit, price FROM subscription_plan WHERE name = ?`), name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// List returns every tier, cheapest first.
func (r *TierRepository) List(ctx context.Context) ([]*Tier, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT id, name, daily_limit, price FROM subscription_plan ORDER BY price, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []*Tier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tiers, nil
}
