package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/vgrid/geometry"
	"github.com/hazyhaar/vgrid/regions"
)

const jsSelectorRects = `(sel) => JSON.stringify(Array.from(document.querySelectorAll(sel)).map(e => {
	const r = e.getBoundingClientRect();
	return {left: Math.round(r.left + window.scrollX), top: Math.round(r.top + window.scrollY),
		width: Math.round(r.width), height: Math.round(r.height)};
}))`

const jsThisRect = `function () {
	const r = this.getBoundingClientRect();
	return JSON.stringify({left: Math.round(r.left + window.scrollX), top: Math.round(r.top + window.scrollY),
		width: Math.round(r.width), height: Math.round(r.height)});
}`

// ScriptRegionContext finds elements with querySelectorAll and snapshots
// their rectangles at lookup time.
type ScriptRegionContext struct {
	Exec Executor
}

// FindElements implements regions.Context.
func (c ScriptRegionContext) FindElements(ctx context.Context, selector string) ([]regions.Element, error) {
	s, err := c.Exec.EvalString(ctx, jsSelectorRects, selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	var rs []geometry.Region
	if err := json.Unmarshal([]byte(s), &rs); err != nil {
		return nil, fmt.Errorf("browser: decode rects: %w", err)
	}
	out := make([]regions.Element, len(rs))
	for i, r := range rs {
		out[i] = StaticElement(geometry.NewRegion(r.Left, r.Top, r.Width, r.Height))
	}
	return out, nil
}

// StaticElement is an element whose rectangle was already measured.
type StaticElement geometry.Region

func (e StaticElement) Rect(context.Context) (geometry.Region, error) { return geometry.Region(e), nil }

// RodElement adapts a Rod element handle to regions.Element.
type RodElement struct {
	El *rod.Element
}

func (e RodElement) Rect(ctx context.Context) (geometry.Region, error) {
	res, err := e.El.Context(ctx).Eval(jsThisRect)
	if err != nil {
		return geometry.Region{}, fmt.Errorf("browser: element rect: %w", err)
	}
	var r geometry.Region
	if err := json.Unmarshal([]byte(res.Value.Str()), &r); err != nil {
		return geometry.Region{}, fmt.Errorf("browser: decode rect: %w", err)
	}
	return geometry.NewRegion(r.Left, r.Top, r.Width, r.Height), nil
}

// FindElements implements regions.Context for a tab.
func (t *Tab) FindElements(ctx context.Context, selector string) ([]regions.Element, error) {
	return ScriptRegionContext{Exec: t}.FindElements(ctx, selector)
}
