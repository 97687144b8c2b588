package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ayusman/handsign/internal/classifier"
	"github.com/ayusman/handsign/internal/config"
	"github.com/ayusman/handsign/internal/detector"
	"github.com/ayusman/handsign/internal/enhance"
	"github.com/ayusman/handsign/internal/gateway"
	"github.com/ayusman/handsign/internal/identity"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/mailer"
	"github.com/ayusman/handsign/internal/quota"
	"github.com/ayusman/handsign/internal/recognition"
	"github.com/ayusman/handsign/internal/server"
	"github.com/ayusman/handsign/internal/server/api"
	"github.com/ayusman/handsign/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.FatalErr(err, "invalid configuration")
	}

	log := logger.New(cfg.Environment, os.Stderr)
	logger.SetDefault(log)
	log.Info("handsign starting", "environment", cfg.Environment, "addr", cfg.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.FatalErr(err, "server stopped")
	}
	log.Info("handsign stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store ready", "driver", st.Dialect())

	guests, closeGuests, err := guestStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGuests()

	model, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		return err
	}
	logger.Info("classifier loaded", "path", cfg.ModelPath, "labels", len(model.Labels()))

	det, err := detector.NewMediaPipeDetector(cfg.Detector)
	if err != nil {
		return err
	}
	defer det.Close()

	var enhancer *enhance.Enhancer
	if cfg.EnhanceRegions {
		enhancer = enhance.New()
	}
	recognizer := recognition.New(det, model, enhancer)
	recognizer.OnEnhanceError = func(err error) {
		logger.Warn("region enhancement failed", "error", err)
	}

	tracker := quota.NewTracker(st.Usage(), guests, quota.WithGuestLimit(cfg.GuestDailyLimit))
	resolver := identity.NewResolver(identity.NewCookieStore([]byte(cfg.SessionSecret), cfg.IsProduction()))

	gw := gateway.New(gateway.Config{
		Recognizer:     recognizer,
		Tracker:        tracker,
		Resolver:       resolver,
		FrameRateLimit: cfg.FrameRateLimit,
		AllowedOrigins: cfg.AllowedOrigins,
		Production:     cfg.IsProduction(),
		Logger:         logger.With("component", "gateway"),
	})

	handler := api.New(api.Config{
		Store:    st,
		Resolver: resolver,
		Usage:    tracker,
		Mailer:   mailer.New(cfg.SendGridAPIKey, cfg.MailFrom, logger.With("component", "mailer")),
		BaseURL:  cfg.BaseURL,
	})

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		logger.Info("serving static files", "dir", staticDir)
	}

	srv := server.New(server.Config{
		StaticDir:      staticDir,
		Store:          st,
		API:            handler,
		Gateway:        gw,
		AllowedOrigins: cfg.AllowedOrigins,
		Production:     cfg.IsProduction(),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "active_sessions", gw.Active())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg.DBDriver == config.DriverSQLite {
		return store.New(cfg.DatabaseURL)
	}
	return store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
}

// guestStore picks Redis when REDIS_URL is set, else the in-process store
// with a background sweep of stale guests.
func guestStore(ctx context.Context, cfg *config.Config) (quota.CounterStore, func(), error) {
	if cfg.RedisURL != "" {
		rs, err := quota.NewRedisGuestStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("guest counters in redis")
		return rs, func() { rs.Close() }, nil
	}

	ms := quota.NewMemoryGuestStore()
	sweepCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case now := <-ticker.C:
				if n := ms.Sweep(now); n > 0 {
					logger.Debug("swept idle guests", "removed", n, "remaining", ms.Len())
				}
			}
		}
	}()
	logger.Info("guest counters in memory")
	return ms, cancel, nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.handsign/web.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(homeDir, ".handsign", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}
