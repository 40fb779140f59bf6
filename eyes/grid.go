package eyes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/vgrid/config"
	"github.com/hazyhaar/vgrid/domsnapshot"
	"github.com/hazyhaar/vgrid/regions"
	"github.com/hazyhaar/vgrid/render"
	"github.com/hazyhaar/vgrid/report"
	"github.com/hazyhaar/vgrid/store"
)

// RenderSettings tune one grid checkpoint.
type RenderSettings struct {
	Tag string
	// Regions are located by the render service through their selectors.
	Regions     []regions.Target
	ScriptHooks map[string]string
	SendDOM     bool
}

// RenderWindow snapshots the page behind exec, resolves its resources and
// renders it once per configured browser. Renders that end in error are
// reported in the result, not returned as an error.
func (r *Runner) RenderWindow(ctx context.Context, exec domsnapshot.Executor, s RenderSettings) (*report.RenderResult, error) {
	if r.deps.Resolver == nil {
		return nil, errors.New("eyes: render: resolver is required")
	}
	if len(r.cfg.Browsers) == 0 {
		return nil, ErrNoBrowsers
	}

	id := r.deps.IDs()
	logger := r.logger.With("tag", s.Tag, "capture_id", id)
	start := time.Now()

	poller := &domsnapshot.Poller{
		Exec:     exec,
		Interval: r.cfg.Snapshot.Interval,
		Timeout:  r.cfg.Snapshot.Timeout,
		Logger:   logger,
	}
	frame, err := poller.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eyes: render %s: %w", s.Tag, err)
	}
	dom, resources, err := frame.Mapping(ctx, r.deps.Resolver)
	if err != nil {
		return nil, fmt.Errorf("eyes: render %s: %w", s.Tag, err)
	}
	logger.InfoContext(ctx, "eyes: resources resolved", "url", frame.URL, "resources", len(resources))
	r.record(store.MetricResourcesResolved, float64(len(resources)), "count", s.Tag)

	if r.deps.Artifacts != nil {
		if _, err := r.deps.Artifacts.StoreDOM(ctx, id, dom); err != nil {
			logger.WarnContext(ctx, "eyes: store dom", "error", err)
		}
	}

	selectors := regions.Selectors(s.Regions)
	var sendDOM *bool
	if s.SendDOM {
		sendDOM = &s.SendDOM
	}
	jobs := make([]render.Job, len(r.cfg.Browsers))
	for i, b := range r.cfg.Browsers {
		req := &render.RenderRequest{
			URL:                       frame.URL,
			RenderInfo:                renderInfo(b),
			Browser:                   &render.Browser{Name: b.Name},
			AgentID:                   r.cfg.AgentID,
			ScriptHooks:               s.ScriptHooks,
			SelectorsToFindRegionsFor: selectors,
			SendDOM:                   sendDOM,
		}
		jobs[i] = render.NewJob(req, dom, resources)
	}

	batch := &render.Batch{
		Client:      r.deps.Client,
		Cache:       r.deps.Cache,
		Fetcher:     r.deps.Fetcher,
		Concurrency: r.cfg.Render.UploadConcurrency,
		Logger:      logger,
	}
	ids, err := batch.Render(ctx, jobs...)
	if err != nil {
		return nil, fmt.Errorf("eyes: render %s: %w", s.Tag, err)
	}
	statuses, err := r.deps.Client.WaitForRendered(ctx, ids, r.cfg.Render.PollInterval, r.cfg.Render.Timeout)
	if err != nil {
		return nil, fmt.Errorf("eyes: render %s: %w", s.Tag, err)
	}

	res := &report.RenderResult{
		CaptureID: id,
		Tag:       s.Tag,
		URL:       frame.URL,
		Resources: len(resources),
		At:        r.now(),
	}
	failed := 0
	for i, st := range statuses {
		res.Renders = append(res.Renders, report.RenderOutcome{
			RenderID:      st.RenderID,
			Browser:       r.cfg.Browsers[i].Name,
			Status:        st.Status,
			ImageLocation: st.ImageLocation,
			Error:         st.Error,
		})
		if st.Status == render.StatusError {
			failed++
			logger.WarnContext(ctx, "eyes: render failed", "render_id", st.RenderID, "error", st.Error)
		}
	}
	logger.InfoContext(ctx, "eyes: rendered", "renders", len(res.Renders), "failed", res.Failed())
	r.record(store.MetricRenderDuration, float64(time.Since(start).Milliseconds()), "ms", s.Tag)
	r.record(store.MetricRendersFailed, float64(failed), "count", s.Tag)
	r.send(ctx, func(sink report.Sink) error { return sink.SendRender(ctx, *res) })
	return res, nil
}

func renderInfo(b config.RenderBrowser) *render.RenderInfo {
	info := &render.RenderInfo{Width: b.Width, Height: b.Height, SizeMode: b.SizeMode}
	if b.DeviceName != "" {
		info.EmulationInfo = &render.EmulationInfo{DeviceName: b.DeviceName}
	}
	return info
}
