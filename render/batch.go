package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/vgrid/resource"
)

// StatusNeedMoreResources is the running-render status asking for uploads.
const StatusNeedMoreResources = "need-more-resources"

// Fetcher re-downloads content the cache no longer holds and forgets
// uploaded content. *resource.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*resource.Resource, error)
	Forget(rawURL string)
}

// Job is one render: the request plus the DOM and resources it refers to.
type Job struct {
	Request   *RenderRequest
	DOM       *resource.Resource
	Resources map[string]*resource.Resource
}

// NewJob fills the hash descriptors of req from dom and resources.
func NewJob(req *RenderRequest, dom *resource.Resource, resources map[string]*resource.Resource) Job {
	req.DOM = dom.HashObject()
	req.Resources = make(map[string]resource.HashObject, len(resources))
	for u, r := range resources {
		req.Resources[u] = r.HashObject()
	}
	return Job{Request: req, DOM: dom, Resources: resources}
}

// Batch renders jobs, uploading whatever the service reports missing.
type Batch struct {
	Client      *Client
	Cache       *resource.Cache // optional
	Fetcher     Fetcher         // optional
	Concurrency int             // uploads in flight; default 10
	Logger      *slog.Logger
}

// ErrStillMissing is returned when the service keeps asking for content
// after it was uploaded.
var ErrStillMissing = errors.New("render: service still needs content after upload")

// Render submits the jobs and returns their render ids. When the service
// asks for content, it is uploaded and the jobs are submitted once more.
func (b *Batch) Render(ctx context.Context, jobs ...Job) ([]string, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqs := make([]*RenderRequest, len(jobs))
	for i, j := range jobs {
		reqs[i] = j.Request
	}

	running, err := b.Client.Render(ctx, reqs...)
	if err != nil {
		return nil, err
	}

	again := false
	for i, rr := range running {
		if rr.RenderID != "" {
			jobs[i].Request.RenderID = rr.RenderID
		}
		if rr.RenderStatus == StatusNeedMoreResources || rr.NeedsMore() {
			again = true
		}
	}

	if again {
		g, gctx := errgroup.WithContext(ctx)
		for i, rr := range running {
			if rr.RenderStatus != StatusNeedMoreResources && !rr.NeedsMore() {
				continue
			}
			g.Go(func() error {
				return b.upload(gctx, jobs[i], rr)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "render: uploaded missing content, rendering again", "jobs", len(jobs))

		if running, err = b.Client.Render(ctx, reqs...); err != nil {
			return nil, err
		}
		for _, rr := range running {
			if rr.NeedsMore() {
				return nil, fmt.Errorf("%w: render %s", ErrStillMissing, rr.RenderID)
			}
		}
	}

	b.remember(jobs)

	ids := make([]string, len(running))
	for i, rr := range running {
		ids[i] = rr.RenderID
	}
	return ids, nil
}

func (b *Batch) upload(ctx context.Context, job Job, rr RunningRender) error {
	var todo []*resource.Resource
	if rr.NeedMoreDOM {
		todo = append(todo, job.DOM)
	}
	for _, u := range rr.NeedMoreResources {
		r, ok := job.Resources[u]
		if !ok {
			return fmt.Errorf("render: service asked for unknown resource %s", resource.RedactURL(u))
		}
		todo = append(todo, r)
	}

	limit := b.Concurrency
	if limit <= 0 {
		limit = 10
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, r := range todo {
		g.Go(func() error {
			r, err := b.withContent(gctx, r)
			if err != nil {
				return err
			}
			return b.Client.PutResource(gctx, rr.RenderID, r)
		})
	}
	return g.Wait()
}

// withContent returns r, re-fetched when only its hash was kept.
func (b *Batch) withContent(ctx context.Context, r *resource.Resource) (*resource.Resource, error) {
	if r.HasContent() {
		return r, nil
	}
	if b.Fetcher == nil {
		return nil, fmt.Errorf("render: %s has no content to upload", resource.RedactURL(r.URL))
	}
	fresh, err := b.Fetcher.Fetch(ctx, r.URL)
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// remember records every rendered resource in the cache and releases the
// fetched copies; later captures replay them from the cache. Cached content
// is never replaced by a hash-only entry.
func (b *Batch) remember(jobs []Job) {
	seen := make(map[string]bool)
	for _, j := range jobs {
		for u, r := range j.Resources {
			if seen[u] {
				continue
			}
			seen[u] = true
			if r.ContentType == resource.DOMContentType {
				continue
			}
			if b.Cache != nil {
				b.Cache.SetContentful(u, resource.ToEntry(r))
			}
			if b.Fetcher != nil {
				b.Fetcher.Forget(u)
			}
		}
	}
}
