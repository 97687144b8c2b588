package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ayusman/handsign/internal/quota"
)

// UsageRepository persists registered users' recognition counters. It is
// the quota.UsageStore for registered identities, keyed by username.
type UsageRepository struct {
	s *Store
}

// Usage returns the usage repository for this store.
func (s *Store) Usage() *UsageRepository {
	return &UsageRepository{s: s}
}

// GetUsage returns the counter and tier of username, or quota.ErrNoUsage.
func (r *UsageRepository) GetUsage(ctx context.Context, username string) (quota.Usage, error) {
	var u quota.Usage
	var limit sql.NullInt64
	var lastReset sql.NullTime

	err := r.s.db.QueryRowContext(ctx, r.s.q(
		`SELECT p.name, p.daily_limit, u.recognized_count, u.last_reset`+userFrom+`
		 WHERE u.username = ?`), username,
	).Scan(&u.Tier, &limit, &u.RecognizedCount, &lastReset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quota.Usage{}, quota.ErrNoUsage
		}
		return quota.Usage{}, err
	}

	u.DailyLimit = intFromNull(limit)
	if lastReset.Valid {
		t := lastReset.Time
		u.LastReset = &t
	}
	return u, nil
}

// ResetUsage zeroes the counter and stamps the reset time.
func (r *UsageRepository) ResetUsage(ctx context.Context, username string, at time.Time) error {
	result, err := r.s.db.ExecContext(ctx, r.s.q(
		`UPDATE users SET recognized_count = 0, last_reset = ? WHERE username = ?`), at.UTC(), username)
	if err != nil {
		return err
	}
	if err := expectOne(result); err != nil {
		return quota.ErrNoUsage
	}
	return nil
}

// IncrementUsage stores newCount as the counter.
func (r *UsageRepository) IncrementUsage(ctx context.Context, username string, newCount int) error {
	result, err := r.s.db.ExecContext(ctx, r.s.q(
		`UPDATE users SET recognized_count = ? WHERE username = ?`), newCount, username)
	if err != nil {
		return err
	}
	if err := expectOne(result); err != nil {
		return quota.ErrNoUsage
	}
	return nil
}

// AddUsage increments the counter in a single statement and returns the
// new value.
func (r *UsageRepository) AddUsage(ctx context.Context, username string) (int, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, r.s.q(
		`UPDATE users SET recognized_count = recognized_count + 1 WHERE username = ?
		 RETURNING recognized_count`), username,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, quota.ErrNoUsage
		}
		return 0, err
	}
	return n, nil
}

// GetTier resolves a tier by name for the quota tracker.
func (r *UsageRepository) GetTier(ctx context.Context, name string) (quota.Tier, error) {
	t, err := r.s.Tiers().GetByName(ctx, name)
	if err != nil {
		return quota.Tier{}, err
	}
	return quota.Tier{Name: t.Name, DailyLimit: t.DailyLimit, Price: t.Price}, nil
}

var (
	_ quota.UsageStore        = (*UsageRepository)(nil)
	_ quota.AtomicIncrementer = (*UsageRepository)(nil)
)
