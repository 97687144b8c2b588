// Command handsign-local interprets signs from a local camera without the
// web service. Recognised letters are printed as they settle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/handsign/internal/app"
	"github.com/ayusman/handsign/internal/capture"
	"github.com/ayusman/handsign/internal/classifier"
	"github.com/ayusman/handsign/internal/config"
	"github.com/ayusman/handsign/internal/detector"
	"github.com/ayusman/handsign/internal/enhance"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/plugin"
	"github.com/ayusman/handsign/internal/recognition"
	"github.com/ayusman/handsign/internal/server"
)

func main() {
	preview := flag.String("preview", "", "serve an MJPEG preview on this address, e.g. :8081")
	mirror := flag.Bool("mirror", true, "mirror the camera image")
	stable := flag.Int("stable", app.DefaultStableFrames, "frames a letter must hold before it is emitted")
	minConf := flag.Float64("min-confidence", 0.6, "ignore predictions below this confidence")
	plugins := flag.String("plugins", "", "comma separated plugins to run for each letter, e.g. keyboard")
	pluginDir := flag.String("plugin-dir", defaultPluginDir(), "directory holding plugin folders")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.FatalErr(err, "invalid configuration")
	}

	log := logger.New(cfg.Environment, os.Stderr)
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{
		preview:   *preview,
		mirror:    *mirror,
		stable:    *stable,
		minConf:   *minConf,
		plugins:   splitList(*plugins),
		pluginDir: *pluginDir,
	}
	if err := run(ctx, cfg, opts); err != nil {
		logger.FatalErr(err, "interpreter stopped")
	}
}

type options struct {
	preview string
	mirror  bool
	stable  int
	minConf float64

	plugins   []string
	pluginDir string
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	model, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		return err
	}

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
		logger.Debug("region enhancement failed", "error", err)
	}

	camera := capture.NewCameraWithOptions(cfg.CameraID, capture.Options{
		Width:  capture.DefaultWidth,
		Height: capture.DefaultHeight,
		Mirror: opts.mirror,
	})

	interp := app.New(app.Config{
		StableFrames:  opts.stable,
		MinConfidence: opts.minConf,
		Logger:        logger.With("component", "interpreter"),
	}, camera, recognizer)
	interp.OnLetter(func(l app.Letter) {
		fmt.Printf("%s  (%.0f%%)  %q\n", l.Label, l.Confidence*100, interp.Transcript())
	})

	if len(opts.plugins) > 0 {
		dispatcher, err := loadPlugins(opts.pluginDir, opts.plugins)
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		interp.OnLetter(func(l app.Letter) {
			dispatcher.Send(plugin.Request{
				Event:      plugin.EventLetter,
				Letter:     l.Label,
				Confidence: l.Confidence,
				Transcript: interp.Transcript(),
			})
		})
	}

	if err := interp.Start(); err != nil {
		return err
	}
	defer interp.Stop()
	logger.Info("interpreter running", "camera", cfg.CameraID, "labels", len(model.Labels()))

	var srv *server.Server
	errCh := make(chan error, 1)
	if opts.preview != "" {
		srv = server.New(server.Config{Preview: interp})
		go func() {
			logger.Info("preview listening", "addr", opts.preview)
			errCh <- srv.ListenAndServe(opts.preview)
		}()
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("preview shutdown", "error", err)
		}
	}
	fmt.Println(interp.Transcript())
	return nil
}

func loadPlugins(dir string, names []string) (*plugin.Dispatcher, error) {
	m := plugin.NewManager(dir)
	if err := m.Discover(); err != nil {
		return nil, fmt.Errorf("discover plugins in %s: %w", dir, err)
	}
	selected := make([]*plugin.Plugin, 0, len(names))
	for _, name := range names {
		p, err := m.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s in %s", err, name, dir)
		}
		selected = append(selected, p)
	}
	logger.Info("plugins enabled", "plugins", names)
	return plugin.NewDispatcher(plugin.NewExecutor(plugin.DefaultTimeout), selected, logger.With("component", "plugins")), nil
}

func defaultPluginDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "plugins"
	}
	return filepath.Join(home, ".handsign", "plugins")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
