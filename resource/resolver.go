package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/vgrid/domcapture"
	"github.com/hazyhaar/vgrid/extract"
)

// Downloader is the fetch collaborator of a Resolver. *Fetcher satisfies it.
type Downloader interface {
	Fetch(ctx context.Context, rawURL string) (*Resource, error)
}

// Resolver expands a list of resource URLs into the full resource graph of
// a page, replaying cached sub-trees and fetching the rest.
type Resolver struct {
	cache  *Cache
	fetch  Downloader
	limit  int
	logger *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithConcurrency bounds the fetches running at once per level of the
// graph. Zero means unbounded.
func WithConcurrency(n int) ResolverOption {
	return func(r *Resolver) { r.limit = n }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver. Both collaborators are required.
func NewResolver(cache *Cache, fetch Downloader, opts ...ResolverOption) (*Resolver, error) {
	if cache == nil {
		return nil, fmt.Errorf("resource: resolver: nil cache")
	}
	if fetch == nil {
		return nil, fmt.Errorf("resource: resolver: nil fetcher")
	}
	r := &Resolver{cache: cache, fetch: fetch, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Cache returns the resolver's cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// GetAllResources returns every resource reachable from urls, keyed by URL.
// Entries of pre are taken as already fetched. Failed fetches are logged and
// left out of the result; the call itself never fails.
func (r *Resolver) GetAllResources(ctx context.Context, urls []string, pre map[string]*Resource) map[string]*Resource {
	run := &resolution{Resolver: r, handled: make(map[string]bool)}
	return run.resolve(ctx, urls, pre)
}

// resolution is the state of one GetAllResources call. URLs are handled at
// most once per call.
type resolution struct {
	*Resolver
	mu      sync.Mutex
	handled map[string]bool
}

func (s *resolution) claim(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handled[u] {
		return false
	}
	s.handled[u] = true
	return true
}

func (s *resolution) resolve(ctx context.Context, urls []string, pre map[string]*Resource) map[string]*Resource {
	out := make(map[string]*Resource)

	for u, res := range pre {
		if res == nil {
			continue
		}
		if hasContent(res) {
			s.cache.Set(u, ToEntry(res))
		} else if e, ok := s.cache.Get(u); !ok {
			s.cache.Set(u, ToEntry(res))
		} else if e.Content != nil {
			res = e.Resource()
		}
		s.mu.Lock()
		s.handled[u] = true
		s.mu.Unlock()
		mergeContentful(out, map[string]*Resource{u: res})
	}

	var missing []string
	for _, u := range urls {
		if domcapture.IsSentinel(u) || extract.IsDataURL(u) {
			continue
		}
		if !s.claim(u) {
			continue
		}
		if hit := s.cache.GetWithDependencies(u); hit != nil {
			replay := make(map[string]*Resource, len(hit))
			for k, e := range hit {
				replay[k] = e.Resource()
			}
			mergeContentful(out, replay)
			continue
		}
		if extract.IsHTTP(u) {
			missing = append(missing, u)
		}
	}
	if len(missing) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	for _, u := range missing {
		g.Go(func() error {
			res, err := s.fetch.Fetch(gctx, u)
			if err != nil {
				s.logger.WarnContext(gctx, "resource: fetch failed", "url", RedactURL(u), "error", err)
				return nil
			}
			found := s.process(gctx, res)
			mu.Lock()
			mergeContentful(out, found)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

// process records a fetched resource and resolves what it references.
func (s *resolution) process(ctx context.Context, res *Resource) map[string]*Resource {
	deps := s.dependencies(ctx, res)

	s.cache.Set(res.URL, ToEntry(res))
	s.cache.SetDependencies(res.URL, deps)

	found := map[string]*Resource{res.URL: res}
	if len(deps) > 0 {
		mergeContentful(found, s.resolve(ctx, deps, nil))
	}
	return found
}

func (s *resolution) dependencies(ctx context.Context, res *Resource) []string {
	var (
		refs []string
		err  error
	)
	switch res.Kind() {
	case KindCSS:
		refs = extract.CSSURLs(string(res.Content()))
	case KindSVG:
		refs, err = extract.SVGURLs(res.Content())
	default:
		return nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "resource: parse failed", "url", RedactURL(res.URL), "kind", res.Kind(), "error", err)
		return nil
	}
	return extract.AbsolutizeAll(res.URL, refs)
}

func hasContent(r *Resource) bool {
	return r != nil && len(r.Content()) > 0
}

// mergeContentful copies src into dst without replacing an entry that
// carries content by one that does not.
func mergeContentful(dst, src map[string]*Resource) {
	for k, v := range src {
		if cur, ok := dst[k]; !ok || !hasContent(cur) {
			dst[k] = v
		}
	}
}
