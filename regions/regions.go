// Package regions describes the areas of a screenshot that get special
// treatment during comparison (ignored, floating, layout...). A region
// source is one of three variants resolved against a page context.
package regions

import (
	"context"
	"fmt"

	"github.com/hazyhaar/vgrid/geometry"
)

// Element is anything that can report its rectangle in page coordinates.
type Element interface {
	Rect(ctx context.Context) (geometry.Region, error)
}

// Context finds elements on the page being checked.
type Context interface {
	FindElements(ctx context.Context, selector string) ([]Element, error)
}

// Source resolves to zero or more regions.
type Source interface {
	Resolve(ctx context.Context, c Context) ([]geometry.Region, error)
}

// ByRectangle is a fixed region.
type ByRectangle struct {
	Region geometry.Region
}

func (r ByRectangle) Resolve(context.Context, Context) ([]geometry.Region, error) {
	if r.Region.IsEmpty() {
		return nil, nil
	}
	return []geometry.Region{r.Region}, nil
}

// BySelector resolves to the rectangles of every element matching Selector.
type BySelector struct {
	Selector string
}

func (r BySelector) Resolve(ctx context.Context, c Context) ([]geometry.Region, error) {
	if c == nil {
		return nil, fmt.Errorf("regions: selector %q needs a page context", r.Selector)
	}
	els, err := c.FindElements(ctx, r.Selector)
	if err != nil {
		return nil, fmt.Errorf("regions: find %q: %w", r.Selector, err)
	}
	return rects(ctx, els)
}

// ByElement resolves to the rectangle of one element handle.
type ByElement struct {
	Element Element
}

func (r ByElement) Resolve(ctx context.Context, _ Context) ([]geometry.Region, error) {
	if r.Element == nil {
		return nil, nil
	}
	return rects(ctx, []Element{r.Element})
}

func rects(ctx context.Context, els []Element) ([]geometry.Region, error) {
	out := make([]geometry.Region, 0, len(els))
	for _, el := range els {
		r, err := el.Rect(ctx)
		if err != nil {
			return nil, fmt.Errorf("regions: element rect: %w", err)
		}
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	return out, nil
}
