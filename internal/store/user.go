package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a registered account.
type User struct {
	ID              int64
	Username        string
	Email           string
	PasswordHash    string
	Name            string
	Surname         string
	TierID          int64
	TierName        string
	RecognizedCount int
	LastReset       *time.Time
	CreatedAt       time.Time
}

// UserRepository provides account operations.
type UserRepository struct {
	s *Store
}

// Users returns the user repository for this store.
func (s *Store) Users() *UserRepository {
	return &UserRepository{s: s}
}

const userColumns = `u.id, u.username, u.email, u.password_hash, u.name, u.surname,
	u.subscription_plan_id, p.name, u.recognized_count, u.last_reset, u.created_at`

const userFrom = ` FROM users u JOIN subscription_plan p ON p.id = u.subscription_plan_id`

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var lastReset sql.NullTime
	var created sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Name, &u.Surname,
		&u.TierID, &u.TierName, &u.RecognizedCount, &lastReset, &created)
	if err != nil {
		return nil, err
	}
	if lastReset.Valid {
		t := lastReset.Time
		u.LastReset = &t
	}
	u.CreatedAt = created.Time
	return u, nil
}

// Create inserts u on the tier named tierName. ErrConflict is returned when
// the username or email is taken; ErrNotFound when the tier does not exist.
func (r *UserRepository) Create(ctx context.Context, u *User, tierName string) error {
	tier, err := r.s.Tiers().GetByName(ctx, tierName)
	if err != nil {
		return fmt.Errorf("tier %q: %w", tierName, err)
	}

	u.TierID = tier.ID
	u.TierName = tier.Name
	u.RecognizedCount = 0
	u.CreatedAt = time.Now().UTC()

	err = r.s.db.QueryRowContext(ctx, r.s.q(
		`INSERT INTO users (username, email, password_hash, name, surname, subscription_plan_id, recognized_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?) RETURNING id`),
		u.Username, u.Email, u.PasswordHash, u.Name, u.Surname, u.TierID, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (r *UserRepository) getBy(ctx context.Context, column string, value any) (*User, error) {
	u, err := scanUser(r.s.db.QueryRowContext(ctx, r.s.q(
		`SELECT `+userColumns+userFrom+` WHERE u.`+column+` = ?`), value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getBy(ctx, "username", username)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "email", email)
}

// SetPassword replaces the stored password hash.
func (r *UserRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	result, err := r.s.db.ExecContext(ctx, r.s.q(
		`UPDATE users SET password_hash = ? WHERE id = ?`), hash, id)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// Purchase moves the user to tierName and records a payment of the tier's
// price in one transaction.
func (r *UserRepository) Purchase(ctx context.Context, userID int64, tierName string) (*Payment, error) {
	tier, err := r.s.Tiers().GetByName(ctx, tierName)
	if err != nil {
		return nil, err
	}

	p := &Payment{UserID: userID, TierID: tier.ID, TierName: tier.Name, Amount: tier.Price, CreatedAt: time.Now().UTC()}
	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, r.s.q(
			`UPDATE users SET subscription_plan_id = ? WHERE id = ?`), tier.ID, userID)
		if err != nil {
			return err
		}
		if err := expectOne(result); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, r.s.q(
			`INSERT INTO payments (user_id, subscription_plan_id, amount, created_at)
			 VALUES (?, ?, ?, ?) RETURNING id`),
			p.UserID, p.TierID, p.Amount, p.CreatedAt,
		).Scan(&p.ID)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes the user together with payments and reset tokens.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM payments WHERE user_id = ?`), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM reset_tokens WHERE user_id = ?`), id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM users WHERE id = ?`), id)
		if err != nil {
			return err
		}
		return expectOne(result)
	})
}

func expectOne(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
