// Package domsnapshot takes serialized DOM snapshots of a page for the
// render service and turns them into DOM resources plus the resource
// mapping they reference.
package domsnapshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/vgrid/resource"
)

// Blob is a resource the page script read itself, base64-encoded.
type Blob struct {
	URL   string `json:"url"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Frame is the snapshot of one document. Same-origin iframes are nested
// in Frames.
type Frame struct {
	URL          string          `json:"url"`
	CDT          json.RawMessage `json:"cdt"`
	ResourceURLs []string        `json:"resourceUrls"`
	Blobs        []Blob          `json:"blobs"`
	Frames       []Frame         `json:"frames"`
	SrcAttr      string          `json:"srcAttr,omitempty"`
}

// ResourceContents decodes the frame's blobs into resources keyed by URL.
func (f *Frame) ResourceContents() (map[string]*resource.Resource, error) {
	out := make(map[string]*resource.Resource, len(f.Blobs))
	for _, b := range f.Blobs {
		data, err := base64.StdEncoding.DecodeString(b.Value)
		if err != nil {
			return nil, fmt.Errorf("domsnapshot: blob %s: %w", resource.RedactURL(b.URL), err)
		}
		out[b.URL] = resource.New(b.URL, b.Type, data)
	}
	return out, nil
}

// Mapping resolves every resource of the frame tree and returns the DOM
// resource of f together with all resources the render needs, child frame
// DOMs included. Child frames are keyed by their URL.
func (f *Frame) Mapping(ctx context.Context, r *resource.Resolver) (*resource.Resource, map[string]*resource.Resource, error) {
	pre, err := f.ResourceContents()
	if err != nil {
		return nil, nil, err
	}
	resources := r.GetAllResources(ctx, f.ResourceURLs, pre)

	type child struct {
		dom *resource.Resource
		all map[string]*resource.Resource
	}
	children := make([]child, len(f.Frames))
	g, gctx := errgroup.WithContext(ctx)
	for i := range f.Frames {
		g.Go(func() error {
			dom, all, err := f.Frames[i].Mapping(gctx, r)
			if err != nil {
				return err
			}
			dom.URL = f.Frames[i].URL
			children[i] = child{dom: dom, all: all}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	all := make(map[string]*resource.Resource, len(resources))
	for i, c := range children {
		u := f.Frames[i].URL
		resources[u] = c.dom
		all[u] = c.dom
		for k, v := range c.all {
			all[k] = v
		}
	}
	for k, v := range resources {
		all[k] = v
	}

	dom, err := resource.NewDOM(f.CDT, resources)
	if err != nil {
		return nil, nil, err
	}
	return dom, all, nil
}

func countFrames(f *Frame) int {
	n := 1
	for i := range f.Frames {
		n += countFrames(&f.Frames[i])
	}
	return n
}
