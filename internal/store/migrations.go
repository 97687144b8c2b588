package store

import "context"

var sqliteMigrations = []string{
	// Subscription tiers; a NULL daily_limit means unlimited
	`CREATE TABLE IF NOT EXISTS subscription_plan (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		daily_limit INTEGER,
		price REAL NOT NULL DEFAULT 0
	)`,

	// Registered users with their usage counter
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL,
		surname TEXT NOT NULL,
		subscription_plan_id INTEGER NOT NULL REFERENCES subscription_plan(id),
		recognized_count INTEGER NOT NULL DEFAULT 0 CHECK(recognized_count >= 0),
		last_reset DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		subscription_plan_id INTEGER NOT NULL REFERENCES subscription_plan(id),
		amount REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS reset_tokens (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reset_tokens_user_id ON reset_tokens(user_id)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS subscription_plan (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		daily_limit INTEGER,
		price NUMERIC(10, 2) NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name VARCHAR(255) NOT NULL,
		surname VARCHAR(255) NOT NULL,
		subscription_plan_id BIGINT NOT NULL REFERENCES subscription_plan(id),
		recognized_count INTEGER NOT NULL DEFAULT 0 CHECK(recognized_count >= 0),
		last_reset TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		subscription_plan_id BIGINT NOT NULL REFERENCES subscription_plan(id),
		amount NUMERIC(10, 2) NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS reset_tokens (
		token TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reset_tokens_user_id ON reset_tokens(user_id)`,
}

// DefaultTiers are seeded on every start; existing rows are left alone.
var DefaultTiers = []Tier{
	{Name: "Basic", DailyLimit: intPtr(25), Price: 0},
	{Name: "Standard", DailyLimit: intPtr(250), Price: 19.99},
	{Name: "Unlimited", DailyLimit: nil, Price: 49.99},
}

// DefaultTierName is the tier assigned at registration.
const DefaultTierName = "Basic"

func intPtr(n int) *int { return &n }

// runMigrations executes all database migrations and seeds the tiers.
func (s *Store) runMigrations(ctx context.Context) error {
	migrations := sqliteMigrations
	if s.dialect == Postgres {
		migrations = postgresMigrations
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	for _, t := range DefaultTiers {
		_, err := s.db.ExecContext(ctx, s.q(
			`INSERT INTO subscription_plan (name, daily_limit, price) VALUES (?, ?, ?)
			 ON CONFLICT (name) DO NOTHING`),
			t.Name, nullInt(t.DailyLimit), t.Price,
		)
		if err != nil {
			return err
		}
	}

	return nil
}
