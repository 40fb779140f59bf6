// Package eyes runs visual checkpoints. A classic checkpoint stitches a
// full-page screenshot locally and matches it against the baseline. A grid
// checkpoint snapshots the DOM, resolves every resource it references and
// lets the render service draw it in each configured browser.
package eyes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/vgrid/capture"
	"github.com/hazyhaar/vgrid/config"
	"github.com/hazyhaar/vgrid/domcapture"
	"github.com/hazyhaar/vgrid/geometry"
	"github.com/hazyhaar/vgrid/idgen"
	"github.com/hazyhaar/vgrid/regions"
	"github.com/hazyhaar/vgrid/render"
	"github.com/hazyhaar/vgrid/report"
	"github.com/hazyhaar/vgrid/store"
	"github.com/hazyhaar/vgrid/resource"
)

// Artifacts keeps copies of what a checkpoint produced. *store.Artifacts
// satisfies it.
type Artifacts interface {
	StoreScreenshot(ctx context.Context, captureID string, png []byte) (string, error)
	StoreDOM(ctx context.Context, captureID string, dom *resource.Resource) (string, error)
}

// Metrics records datapoints about checkpoints. *store.Metrics satisfies
// it.
type Metrics interface {
	Record(name string, value float64, unit string, labels map[string]string)
}

// Deps are the collaborators of a Runner. Client is required; Resolver is
// required for grid checkpoints. The rest is optional.
type Deps struct {
	Client    *render.Client
	Resolver  *resource.Resolver
	Cache     *resource.Cache
	Fetcher   render.Fetcher
	Artifacts Artifacts
	Sink      report.Sink
	Metrics   Metrics
	Logger    *slog.Logger
	IDs       idgen.Generator // capture IDs; default idgen.UUIDv7
}

// ErrNoBrowsers is returned by RenderWindow when no render browser is
// configured.
var ErrNoBrowsers = errors.New("eyes: no render browsers configured")

// Runner runs the checkpoints of one test. Classic checkpoints share one
// comparison session, opened on first use and closed by Close.
type Runner struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
	debug  capture.DebugScreenshots
	now    func() time.Time

	mu      sync.Mutex
	test    string
	session *render.RunningSession
}

// New creates a Runner for the test named test.
func New(cfg *config.Config, test string, deps Deps) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("eyes: nil config")
	}
	if deps.Client == nil {
		return nil, errors.New("eyes: render client is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.UUIDv7()
	}
	if deps.Cache == nil && deps.Resolver != nil {
		deps.Cache = deps.Resolver.Cache()
	}
	r := &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("test", test),
		debug:  capture.NullDebugScreenshots{},
		now:    time.Now,
		test:   test,
	}
	if dir := cfg.Stitch.DebugDir; dir != "" {
		d, err := capture.NewFileDebugScreenshots(dir, "vgrid_")
		if err != nil {
			return nil, err
		}
		r.debug = d
	}
	return r, nil
}

// Target is the page a classic checkpoint captures.
type Target struct {
	Image    capture.ImageProvider
	Origin   capture.PositionProvider
	Position capture.PositionProvider
	Scale    capture.ScaleProviderFactory
	Cut      capture.CutProvider // optional

	Regions       []regions.Target
	RegionContext regions.Context // needed by selector regions

	// DOM, when set, captures the document next to the screenshot.
	DOM      domcapture.Executor
	Title    string
	Viewport geometry.RectangleSize
}

// CheckSettings tune one checkpoint.
type CheckSettings struct {
	Tag string
	// Region limits the capture; empty means the whole page.
	Region         geometry.Region
	MatchLevel     string // defaults to the configured level
	IgnoreMismatch bool
}

// CheckWindow stitches the target, uploads the image and matches it
// against the baseline.
func (r *Runner) CheckWindow(ctx context.Context, t Target, s CheckSettings) (*report.CheckResult, error) {
	st, err := capture.New(capture.Options{
		ImageProvider:         t.Image,
		Origin:                t.Origin,
		ScaleProviderFactory:  t.Scale,
		CutProvider:           t.Cut,
		Debug:                 r.debug,
		Overlap:               r.cfg.Stitch.Overlap,
		WaitBeforeScreenshots: r.cfg.Stitch.WaitBeforeScreenshots,
		DoubleOverlap:         r.cfg.Stitch.DoubleOverlap,
		Logger:                r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("eyes: check %s: %w", s.Tag, err)
	}
	if t.Position == nil {
		t.Position = t.Origin
	}

	id := r.deps.IDs()
	logger := r.logger.With("tag", s.Tag, "capture_id", id)
	start := time.Now()

	img, err := st.StitchedRegion(ctx, s.Region, geometry.EmptyRegion, t.Position)
	if err != nil {
		return nil, fmt.Errorf("eyes: check %s: %w", s.Tag, err)
	}
	png, err := img.PNG()
	if err != nil {
		return nil, fmt.Errorf("eyes: check %s: encode: %w", s.Tag, err)
	}

	res := &report.CheckResult{
		CaptureID: id,
		Tag:       s.Tag,
		Width:     img.Width(),
		Height:    img.Height(),
		At:        r.now(),
	}
	if r.deps.Artifacts != nil {
		if res.ArtifactKey, err = r.deps.Artifacts.StoreScreenshot(ctx, id, png); err != nil {
			logger.WarnContext(ctx, "eyes: store screenshot", "error", err)
		}
	}
	if res.ScreenshotURL, err = r.deps.Client.UploadImage(ctx, png); err != nil {
		return nil, fmt.Errorf("eyes: check %s: %w", s.Tag, err)
	}

	var domURL string
	if t.DOM != nil {
		domURL, err = r.uploadDOM(ctx, t.DOM)
		if err != nil {
			logger.WarnContext(ctx, "eyes: dom capture", "error", err)
		}
	}

	resolved, err := regions.ResolveAll(ctx, t.RegionContext, t.Regions)
	if err != nil {
		return nil, fmt.Errorf("eyes: check %s: %w", s.Tag, err)
	}

	session, err := r.ensureSession(ctx, t.Viewport)
	if err != nil {
		return nil, err
	}
	level := s.MatchLevel
	if level == "" {
		level = r.cfg.MatchLevel
	}
	match, err := r.deps.Client.MatchWindow(ctx, session, render.MatchWindowData{
		Tag: s.Tag,
		AppOutput: render.AppOutput{
			Title:         t.Title,
			ScreenshotURL: res.ScreenshotURL,
			DOMURL:        domURL,
		},
		IgnoreMismatch: s.IgnoreMismatch,
		Options: render.MatchOptions{
			Name:               s.Tag,
			ImageMatchSettings: render.MatchSettings(level, resolved),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eyes: check %s: %w", s.Tag, err)
	}
	res.AsExpected = match.AsExpected
	res.SessionID = session.ID
	res.SessionURL = session.URL

	logger.InfoContext(ctx, "eyes: checkpoint matched",
		"size", img.Size().String(), "as_expected", res.AsExpected)
	r.record(store.MetricCheckDuration, float64(time.Since(start).Milliseconds()), "ms", s.Tag)
	r.send(ctx, func(sink report.Sink) error { return sink.SendCheck(ctx, *res) })
	return res, nil
}

// uploadDOM captures the document, inlines the stylesheets the page could
// not read and uploads the result.
func (r *Runner) uploadDOM(ctx context.Context, exec domcapture.Executor) (string, error) {
	c, err := domcapture.Take(ctx, exec)
	if err != nil {
		return "", err
	}
	if len(c.Unfetched) > 0 {
		err := c.FillCSS(ctx, func(ctx context.Context, u string) ([]byte, error) {
			if r.deps.Fetcher == nil {
				return nil, errors.New("no fetcher")
			}
			res, err := r.deps.Fetcher.Fetch(ctx, u)
			if err != nil {
				return nil, err
			}
			return res.Content(), nil
		})
		if err != nil {
			return "", err
		}
	}
	data, err := c.JSON()
	if err != nil {
		return "", err
	}
	return r.deps.Client.UploadDOM(ctx, data)
}

func (r *Runner) ensureSession(ctx context.Context, viewport geometry.RectangleSize) (*render.RunningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return r.session, nil
	}

	info := render.SessionStartInfo{
		AgentID:          r.cfg.AgentID,
		AppIDOrName:      r.cfg.AppName,
		ScenarioIDOrName: r.test,
		Batch:            render.BatchInfo{ID: r.cfg.Batch.ID, Name: r.cfg.Batch.Name},
		BranchName:       r.cfg.BranchName,
	}
	if !viewport.IsEmpty() {
		info.Environment.DisplaySize = &viewport
	}
	s, err := r.deps.Client.StartSession(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("eyes: start session: %w", err)
	}
	r.logger.InfoContext(ctx, "eyes: session started", "session_id", s.ID, "new", s.IsNewSession)
	r.session = s
	return s, nil
}

// Close ends the comparison session, if one was opened, and returns its
// results. A nil result means no classic checkpoint ran.
func (r *Runner) Close(ctx context.Context, aborted bool) (*render.TestResults, error) {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()
	if s == nil {
		return nil, nil
	}
	res, err := r.deps.Client.StopSession(ctx, s, aborted, false)
	if err != nil {
		return nil, fmt.Errorf("eyes: stop session: %w", err)
	}
	r.logger.InfoContext(ctx, "eyes: session closed", "status", res.Status, "steps", res.Steps)
	return res, nil
}

func (r *Runner) record(name string, value float64, unit, tag string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.Record(name, value, unit, map[string]string{"test": r.test, "tag": tag})
	}
}

func (r *Runner) send(ctx context.Context, fn func(report.Sink) error) {
	if r.deps.Sink == nil {
		return
	}
	if err := fn(r.deps.Sink); err != nil {
		r.logger.WarnContext(ctx, "eyes: report", "error", err)
	}
}
