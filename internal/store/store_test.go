package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/handsign/internal/identity"
	"github.com/ayusman/handsign/internal/quota"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *Store, username string) *User {
	t.Helper()
	u := &User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Name:         "Test",
		Surname:      "User",
	}
	if err := s.Users().Create(context.Background(), u, DefaultTierName); err != nil {
		t.Fatalf("Create(%q) error = %v", username, err)
	}
	return u
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Dialect() != SQLite {
		t.Errorf("Dialect() = %q, want %q", s.Dialect(), SQLite)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"subscription_plan", "users", "payments", "reset_tokens"}
	for _, table := range tables {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}
}

func TestNewStore_MigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		s, err := New(dbPath)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		tiers, err := s.Tiers().List(context.Background())
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(tiers) != len(DefaultTiers) {
			t.Errorf("open %d: got %d tiers, want %d", i, len(tiers), len(DefaultTiers))
		}
		s.Close()
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}

	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestStore_ForeignKeysEnabled(t *testing.T) {
	s := newTestStore(t)

	var fkEnabled int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("failed to check foreign keys pragma: %v", err)
	}
	if fkEnabled != 1 {
		t.Error("foreign keys should be enabled")
	}
}

func TestOpen_UnknownDialect(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Error("expected error for unsupported dialect")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect string
		in      string
		want    string
	}{
		{SQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{Postgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{Postgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := rebind(tt.dialect, tt.in); got != tt.want {
			t.Errorf("rebind(%q, %q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestTierRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("seeded tiers", func(t *testing.T) {
		basic, err := s.Tiers().GetByName(ctx, "Basic")
		if err != nil {
			t.Fatalf("GetByName(Basic) error = %v", err)
		}
		if basic.DailyLimit == nil || *basic.DailyLimit != 25 || basic.Price != 0 {
			t.Errorf("Basic = %+v", basic)
		}

		standard, err := s.Tiers().GetByName(ctx, "Standard")
		if err != nil {
			t.Fatalf("GetByName(Standard) error = %v", err)
		}
		if standard.DailyLimit == nil || *standard.DailyLimit != 250 || standard.Price != 19.99 {
			t.Errorf("Standard = %+v", standard)
		}

		unlimited, err := s.Tiers().GetByName(ctx, "Unlimited")
		if err != nil {
			t.Fatalf("GetByName(Unlimited) error = %v", err)
		}
		if unlimited.DailyLimit != nil {
			t.Errorf("Unlimited daily limit = %v, want nil", *unlimited.DailyLimit)
		}
	})

	t.Run("list is ordered by price", func(t *testing.T) {
		tiers, err := s.Tiers().List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		for i := 1; i < len(tiers); i++ {
			if tiers[i].Price < tiers[i-1].Price {
				t.Errorf("tiers not ordered by price: %v before %v", tiers[i-1].Name, tiers[i].Name)
			}
		}
	})

	t.Run("unknown tier", func(t *testing.T) {
		if _, err := s.Tiers().GetByName(ctx, "Gold"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUserRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createUser(t, s, "alice")
	if u.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	t.Run("get by username and email", func(t *testing.T) {
		got, err := s.Users().GetByUsername(ctx, "alice")
		if err != nil {
			t.Fatalf("GetByUsername() error = %v", err)
		}
		if got.ID != u.ID || got.TierName != "Basic" || got.RecognizedCount != 0 || got.LastReset != nil {
			t.Errorf("unexpected user: %+v", got)
		}

		byEmail, err := s.Users().GetByEmail(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("GetByEmail() error = %v", err)
		}
		if byEmail.ID != u.ID {
			t.Errorf("GetByEmail id = %d, want %d", byEmail.ID, u.ID)
		}
	})

	t.Run("duplicate username conflicts", func(t *testing.T) {
		dup := &User{Username: "alice", Email: "other@example.com", PasswordHash: "x", Name: "A", Surname: "B"}
		if err := s.Users().Create(ctx, dup, DefaultTierName); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("unknown tier", func(t *testing.T) {
		u := &User{Username: "bob", Email: "bob@example.com", PasswordHash: "x", Name: "B", Surname: "B"}
		if err := s.Users().Create(ctx, u, "Gold"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("set password", func(t *testing.T) {
		if err := s.Users().SetPassword(ctx, u.ID, "new-hash"); err != nil {
			t.Fatalf("SetPassword() error = %v", err)
		}
		got, _ := s.Users().GetByID(ctx, u.ID)
		if got.PasswordHash != "new-hash" {
			t.Errorf("PasswordHash = %q", got.PasswordHash)
		}
		if err := s.Users().SetPassword(ctx, 9999, "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("purchase moves tier and records payment", func(t *testing.T) {
		p, err := s.Users().Purchase(ctx, u.ID, "Standard")
		if err != nil {
			t.Fatalf("Purchase() error = %v", err)
		}
		if p.Amount != 19.99 || p.TierName != "Standard" {
			t.Errorf("payment = %+v", p)
		}

		got, _ := s.Users().GetByID(ctx, u.ID)
		if got.TierName != "Standard" {
			t.Errorf("tier after purchase = %q", got.TierName)
		}

		payments, err := s.Payments().ListByUser(ctx, u.ID)
		if err != nil {
			t.Fatalf("ListByUser() error = %v", err)
		}
		if len(payments) != 1 || payments[0].ID != p.ID {
			t.Errorf("payments = %+v", payments)
		}
	})

	t.Run("purchase unknown tier leaves user unchanged", func(t *testing.T) {
		if _, err := s.Users().Purchase(ctx, u.ID, "Gold"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete removes payments and tokens", func(t *testing.T) {
		if _, err := s.ResetTokens().Create(ctx, u.ID, time.Hour); err != nil {
			t.Fatalf("Create token error = %v", err)
		}
		if err := s.Users().Delete(ctx, u.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Users().GetByID(ctx, u.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		var n int
		s.DB().QueryRow("SELECT COUNT(*) FROM payments").Scan(&n)
		if n != 0 {
			t.Errorf("payments left after delete: %d", n)
		}
		if err := s.Users().Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete() = %v, want ErrNotFound", err)
		}
	})
}

func TestUsageRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "alice")
	usage := s.Usage()

	u, err := usage.GetUsage(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if u.Tier != "Basic" || u.DailyLimit == nil || *u.DailyLimit != 25 || u.LastReset != nil {
		t.Errorf("fresh usage = %+v", u)
	}

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := usage.ResetUsage(ctx, "alice", at); err != nil {
		t.Fatalf("ResetUsage() error = %v", err)
	}
	if err := usage.IncrementUsage(ctx, "alice", 24); err != nil {
		t.Fatalf("IncrementUsage() error = %v", err)
	}
	n, err := usage.AddUsage(ctx, "alice")
	if err != nil {
		t.Fatalf("AddUsage() error = %v", err)
	}
	if n != 25 {
		t.Errorf("AddUsage() = %d, want 25", n)
	}

	u, err = usage.GetUsage(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if u.RecognizedCount != 25 {
		t.Errorf("RecognizedCount = %d, want 25", u.RecognizedCount)
	}
	if u.LastReset == nil || !u.LastReset.Equal(at) {
		t.Errorf("LastReset = %v, want %v", u.LastReset, at)
	}

	t.Run("unknown user", func(t *testing.T) {
		if _, err := usage.GetUsage(ctx, "nobody"); !errors.Is(err, quota.ErrNoUsage) {
			t.Errorf("GetUsage = %v, want ErrNoUsage", err)
		}
		if _, err := usage.AddUsage(ctx, "nobody"); !errors.Is(err, quota.ErrNoUsage) {
			t.Errorf("AddUsage = %v, want ErrNoUsage", err)
		}
		if err := usage.ResetUsage(ctx, "nobody", at); !errors.Is(err, quota.ErrNoUsage) {
			t.Errorf("ResetUsage = %v, want ErrNoUsage", err)
		}
	})

	t.Run("drives the quota tracker", func(t *testing.T) {
		tr := quota.NewTracker(usage, quota.NewMemoryGuestStore(),
			quota.WithClock(func() time.Time { return at.Add(time.Hour) }))
		alice := identity.Identity{Kind: identity.Registered, ID: "alice"}

		d, err := tr.Check(ctx, alice)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if d.State != quota.AtLimit {
			t.Errorf("State = %v, want AT_LIMIT", d.State)
		}

		tier, err := usage.GetTier(ctx, "Unlimited")
		if err != nil {
			t.Fatalf("GetTier() error = %v", err)
		}
		if tier.DailyLimit != nil {
			t.Errorf("Unlimited tier has limit %d", *tier.DailyLimit)
		}
	})
}

func TestResetTokenRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")
	now := time.Now().UTC()

	token, err := s.ResetTokens().Create(ctx, u.ID, time.Hour)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("consume once", func(t *testing.T) {
		id, err := s.ResetTokens().Consume(ctx, token, now)
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
		if id != u.ID {
			t.Errorf("Consume() = %d, want %d", id, u.ID)
		}
		if _, err := s.ResetTokens().Consume(ctx, token, now); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Consume() = %v, want ErrNotFound", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := s.ResetTokens().Create(ctx, u.ID, time.Hour)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := s.ResetTokens().Consume(ctx, token, now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
			t.Errorf("Consume() = %v, want ErrNotFound", err)
		}
	})

	t.Run("new token replaces old", func(t *testing.T) {
		first, _ := s.ResetTokens().Create(ctx, u.ID, time.Hour)
		second, _ := s.ResetTokens().Create(ctx, u.ID, time.Hour)
		if _, err := s.ResetTokens().Consume(ctx, first, now); !errors.Is(err, ErrNotFound) {
			t.Errorf("old token should be gone, got %v", err)
		}
		if _, err := s.ResetTokens().Consume(ctx, second, now); err != nil {
			t.Errorf("new token should work, got %v", err)
		}
	})
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("HANDSIGN_TEST_POSTGRES_URL")
	if testing.Short() || dsn == "" {
		t.Skip("skipping postgres integration test")
	}

	ctx := context.Background()
	s, err := Open(ctx, Postgres, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	name := "pg-" + time.Now().Format("150405.000000")
	u := createUser(t, s, name)
	defer s.Users().Delete(ctx, u.ID)

	n, err := s.Usage().AddUsage(ctx, name)
	if err != nil {
		t.Fatalf("AddUsage() error = %v", err)
	}
	if n != 1 {
		t.Errorf("AddUsage() = %d, want 1", n)
	}
}
