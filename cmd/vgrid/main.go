// Command vgrid runs visual checkpoints against the pages of a config file.
//
// Usage:
//
//	vgrid -config vgrid.yaml                 # check every configured page
//	vgrid -url https://example.com           # classic check of one page
//	vgrid -url https://example.com -grid     # render one page in the configured browsers
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hazyhaar/vgrid/browser"
	"github.com/hazyhaar/vgrid/capture"
	"github.com/hazyhaar/vgrid/config"
	"github.com/hazyhaar/vgrid/eyes"
	"github.com/hazyhaar/vgrid/geometry"
	"github.com/hazyhaar/vgrid/render"
	"github.com/hazyhaar/vgrid/report"
	"github.com/hazyhaar/vgrid/resource"
	"github.com/hazyhaar/vgrid/store"
)

func main() {
	configPath := flag.String("config", "", "path to vgrid.yaml config file")
	singleURL := flag.String("url", "", "check a single URL")
	grid := flag.Bool("grid", false, "render -url through the render service")
	testName := flag.String("test", "vgrid", "test name shown in the dashboard")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("vgrid: fatal", "error", err)
		os.Exit(1)
	}
	if *singleURL != "" {
		cfg.Pages = append(cfg.Pages, config.PageConfig{URL: *singleURL, Tag: *singleURL, Grid: *grid})
		if err := cfg.Validate(); err != nil {
			logger.Error("vgrid: fatal", "error", err)
			os.Exit(1)
		}
	}
	if len(cfg.Pages) == 0 {
		fmt.Fprintln(os.Stderr, "usage: vgrid -config <file> | -url <url> [-grid]")
		os.Exit(2)
	}

	if err := run(ctx, logger, cfg, *testName); err != nil {
		logger.Error("vgrid: fatal", "error", err)
		os.Exit(1)
	}
}

// ErrCheckpointsFailed is returned when a checkpoint did not match or a
// render failed.
var ErrCheckpointsFailed = errors.New("vgrid: checkpoints failed")

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, test string) (err error) {
	cache := resource.NewCache()
	fetcher := resource.NewFetcher(
		resource.WithRetries(cfg.Resources.Retries),
		resource.WithBackoff(cfg.Resources.Backoff),
		resource.WithTimeout(cfg.Resources.Timeout),
		resource.WithUserAgent(cfg.Resources.UserAgent),
		resource.WithMaxBody(cfg.Resources.MaxSize),
		resource.WithFetchLogger(logger),
	)
	resolver, err := resource.NewResolver(cache, fetcher,
		resource.WithConcurrency(cfg.Resources.Concurrency),
		resource.WithResolverLogger(logger))
	if err != nil {
		return err
	}

	renderCfg := render.Config{
		ServerURL: cfg.ServerURL,
		APIKey:    cfg.APIKey,
		Logger:    logger,
		Retries:   cfg.Render.Retries,
		Backoff:   cfg.Render.Backoff,
	}
	deps := eyes.Deps{Resolver: resolver, Cache: cache, Fetcher: fetcher, Logger: logger}

	if cfg.Store.DBPath != "" {
		db, err := store.Open(cfg.Store.DBPath, store.WithMkdirAll())
		if err != nil {
			return err
		}
		defer db.Close()
		ledger := store.NewLedger(db)
		if n, err := ledger.Prune(ctx, cfg.Store.UploadTTL); err != nil {
			logger.Warn("vgrid: prune upload ledger", "error", err)
		} else if n > 0 {
			logger.Info("vgrid: upload ledger pruned", "expired", n)
		}
		renderCfg.Ledger = ledger
		metrics := store.NewMetrics(db, 0, 0, logger)
		defer metrics.Close()
		deps.Metrics = metrics

		n, err := store.LoadCache(ctx, db, cache)
		if err != nil {
			return err
		}
		logger.Info("vgrid: resource cache loaded", "entries", n)
		defer saveCache(logger, db, cache)
	}
	if cfg.Store.Artifacts != nil {
		a, err := store.NewArtifacts(*cfg.Store.Artifacts, logger)
		if err != nil {
			return err
		}
		if err := a.EnsureBucket(ctx); err != nil {
			return err
		}
		deps.Artifacts = a
	}

	if deps.Client, err = render.NewClient(renderCfg); err != nil {
		return err
	}
	deps.Sink = newSink(cfg, logger)
	defer deps.Sink.Close()

	runner, err := eyes.New(cfg, test, deps)
	if err != nil {
		return err
	}

	viewport := geometry.RectangleSize{Width: cfg.Browser.Width, Height: cfg.Browser.Height}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:       cfg.Browser.Remote,
		Headful:         cfg.Browser.Headful,
		NoSandbox:       cfg.Browser.NoSandbox,
		Viewport:        viewport,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		Logger:          logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	mode, err := capture.ParseStitchMode(cfg.Stitch.Mode)
	if err != nil {
		return err
	}

	failed := 0
	aborted := false
	defer func() {
		res, cerr := runner.Close(context.WithoutCancel(ctx), aborted)
		if cerr != nil {
			logger.Warn("vgrid: close session", "error", cerr)
			return
		}
		if res != nil {
			logger.Info("vgrid: test finished", "status", res.Status, "url", res.URL,
				"steps", res.Steps, "mismatches", res.Mismatches)
			if !res.Passed() && err == nil {
				err = ErrCheckpointsFailed
			}
		}
	}()

	for _, page := range cfg.Pages {
		ok, perr := checkPage(ctx, mgr, runner, page, mode, viewport)
		if perr != nil {
			aborted = true
			return fmt.Errorf("%s: %w", page.Tag, perr)
		}
		if !ok {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrCheckpointsFailed, failed, len(cfg.Pages))
	}
	return nil
}

func checkPage(ctx context.Context, mgr *browser.Manager, runner *eyes.Runner, page config.PageConfig, mode capture.StitchMode, viewport geometry.RectangleSize) (bool, error) {
	tab, err := mgr.OpenTab(ctx, page.URL)
	if err != nil {
		return false, err
	}
	defer tab.Close()

	if page.Grid {
		res, err := runner.RenderWindow(ctx, tab, eyes.RenderSettings{Tag: page.Tag})
		if err != nil {
			return false, err
		}
		return !res.Failed(), nil
	}

	scale, err := browser.ContextScaleFactory(ctx, tab)
	if err != nil {
		return false, err
	}
	title, _ := tab.Title(ctx)
	res, err := runner.CheckWindow(ctx, eyes.Target{
		Image:         tab,
		Origin:        &browser.ScrollPositionProvider{Exec: tab},
		Position:      browser.PositionProviderFor(mode, tab),
		Scale:         scale,
		RegionContext: tab,
		DOM:           tab,
		Title:         title,
		Viewport:      viewport,
	}, eyes.CheckSettings{Tag: page.Tag})
	if err != nil {
		return false, err
	}
	return res.AsExpected, nil
}

func newSink(cfg *config.Config, logger *slog.Logger) report.Sink {
	var sinks []report.Sink
	for _, sc := range cfg.Sinks {
		switch strings.ToLower(sc.Type) {
		case "stdout":
			sinks = append(sinks, report.NewStdout(nil))
		case "webhook":
			sinks = append(sinks, report.NewWebhook(sc.URL, report.WithWebhookLogger(logger)))
		default:
			logger.Warn("vgrid: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, report.NewStdout(nil))
	}
	return report.NewRouter(logger, sinks...)
}

func saveCache(logger *slog.Logger, db *sql.DB, cache *resource.Cache) {
	if err := store.SaveCache(context.Background(), db, cache); err != nil {
		logger.Warn("vgrid: save resource cache", "error", err)
	}
}
