package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/vgrid/capture"
	"github.com/hazyhaar/vgrid/geometry"
)

const (
	jsScrollPosition = `() => JSON.stringify({x: Math.round(window.scrollX), y: Math.round(window.scrollY)})`
	jsScrollTo       = `(x, y) => { window.scrollTo(x, y); return JSON.stringify({x: Math.round(window.scrollX), y: Math.round(window.scrollY)}); }`
	jsEntireSize     = `() => {
		const d = document.documentElement;
		const b = document.body || d;
		const w = Math.max(d.scrollWidth, b.scrollWidth, d.clientWidth, d.offsetWidth, b.offsetWidth);
		const h = Math.max(d.scrollHeight, b.scrollHeight, d.clientHeight, d.offsetHeight, b.offsetHeight);
		return JSON.stringify({width: w, height: h});
	}`
	jsGetTransform = `() => document.documentElement.style.transform || ''`
	jsSetTransform = `(t) => { document.documentElement.style.transform = t; return ''; }`

	jsElementPosition = `(sel) => {
		const e = document.querySelector(sel);
		if (!e) throw new Error('element not found: ' + sel);
		return JSON.stringify({x: Math.round(e.scrollLeft), y: Math.round(e.scrollTop)});
	}`
	jsElementScrollTo = `(sel, x, y) => {
		const e = document.querySelector(sel);
		if (!e) throw new Error('element not found: ' + sel);
		e.scrollLeft = x; e.scrollTop = y;
		return '';
	}`
	jsElementEntireSize = `(sel) => {
		const e = document.querySelector(sel);
		if (!e) throw new Error('element not found: ' + sel);
		return JSON.stringify({width: e.scrollWidth, height: e.scrollHeight});
	}`
)

func evalJSON(ctx context.Context, exec Executor, out any, js string, args ...any) error {
	s, err := exec.EvalString(ctx, js, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("browser: decode script result: %w", err)
	}
	return nil
}

func entireSize(ctx context.Context, exec Executor) (geometry.RectangleSize, error) {
	var size geometry.RectangleSize
	if err := evalJSON(ctx, exec, &size, jsEntireSize); err != nil {
		return geometry.RectangleSize{}, fmt.Errorf("browser: entire size: %w", err)
	}
	return size, nil
}

// ScrollPositionProvider moves the window scroll position.
type ScrollPositionProvider struct {
	Exec Executor
}

func (p *ScrollPositionProvider) CurrentPosition(ctx context.Context) (geometry.Location, error) {
	var loc geometry.Location
	if err := evalJSON(ctx, p.Exec, &loc, jsScrollPosition); err != nil {
		return geometry.Location{}, fmt.Errorf("browser: scroll position: %w", err)
	}
	return loc, nil
}

func (p *ScrollPositionProvider) SetPosition(ctx context.Context, loc geometry.Location) error {
	if _, err := p.Exec.EvalString(ctx, jsScrollTo, loc.X, loc.Y); err != nil {
		return fmt.Errorf("browser: scroll to %s: %w", loc, err)
	}
	return nil
}

func (p *ScrollPositionProvider) EntireSize(ctx context.Context) (geometry.RectangleSize, error) {
	return entireSize(ctx, p.Exec)
}

func (p *ScrollPositionProvider) State(ctx context.Context) (capture.State, error) {
	return p.CurrentPosition(ctx)
}

func (p *ScrollPositionProvider) RestoreState(ctx context.Context, s capture.State) error {
	loc, ok := s.(geometry.Location)
	if !ok {
		return fmt.Errorf("browser: unexpected scroll state %T", s)
	}
	return p.SetPosition(ctx, loc)
}

// CSSTranslatePositionProvider "scrolls" by translating the document
// element, which keeps fixed elements in place across captures.
type CSSTranslatePositionProvider struct {
	Exec Executor
	last geometry.Location
}

type translateState struct {
	transform string
	position  geometry.Location
}

func (p *CSSTranslatePositionProvider) CurrentPosition(context.Context) (geometry.Location, error) {
	return p.last, nil
}

func (p *CSSTranslatePositionProvider) SetPosition(ctx context.Context, loc geometry.Location) error {
	t := fmt.Sprintf("translate(%dpx, %dpx)", -loc.X, -loc.Y)
	if _, err := p.Exec.EvalString(ctx, jsSetTransform, t); err != nil {
		return fmt.Errorf("browser: translate to %s: %w", loc, err)
	}
	p.last = loc
	return nil
}

func (p *CSSTranslatePositionProvider) EntireSize(ctx context.Context) (geometry.RectangleSize, error) {
	return entireSize(ctx, p.Exec)
}

func (p *CSSTranslatePositionProvider) State(ctx context.Context) (capture.State, error) {
	t, err := p.Exec.EvalString(ctx, jsGetTransform)
	if err != nil {
		return nil, fmt.Errorf("browser: read transform: %w", err)
	}
	return translateState{transform: t, position: p.last}, nil
}

func (p *CSSTranslatePositionProvider) RestoreState(ctx context.Context, s capture.State) error {
	st, ok := s.(translateState)
	if !ok {
		return fmt.Errorf("browser: unexpected translate state %T", s)
	}
	if _, err := p.Exec.EvalString(ctx, jsSetTransform, st.transform); err != nil {
		return fmt.Errorf("browser: restore transform: %w", err)
	}
	p.last = st.position
	return nil
}

// ElementPositionProvider scrolls a scrollable element found by selector.
type ElementPositionProvider struct {
	Exec     Executor
	Selector string
}

func (p *ElementPositionProvider) CurrentPosition(ctx context.Context) (geometry.Location, error) {
	var loc geometry.Location
	if err := evalJSON(ctx, p.Exec, &loc, jsElementPosition, p.Selector); err != nil {
		return geometry.Location{}, fmt.Errorf("browser: element position: %w", err)
	}
	return loc, nil
}

func (p *ElementPositionProvider) SetPosition(ctx context.Context, loc geometry.Location) error {
	if _, err := p.Exec.EvalString(ctx, jsElementScrollTo, p.Selector, loc.X, loc.Y); err != nil {
		return fmt.Errorf("browser: element scroll to %s: %w", loc, err)
	}
	return nil
}

func (p *ElementPositionProvider) EntireSize(ctx context.Context) (geometry.RectangleSize, error) {
	var size geometry.RectangleSize
	if err := evalJSON(ctx, p.Exec, &size, jsElementEntireSize, p.Selector); err != nil {
		return geometry.RectangleSize{}, fmt.Errorf("browser: element entire size: %w", err)
	}
	return size, nil
}

func (p *ElementPositionProvider) State(ctx context.Context) (capture.State, error) {
	return p.CurrentPosition(ctx)
}

func (p *ElementPositionProvider) RestoreState(ctx context.Context, s capture.State) error {
	loc, ok := s.(geometry.Location)
	if !ok {
		return fmt.Errorf("browser: unexpected element state %T", s)
	}
	return p.SetPosition(ctx, loc)
}

// PositionProviderFor returns the provider matching a stitch mode.
func PositionProviderFor(mode capture.StitchMode, exec Executor) capture.PositionProvider {
	if mode == capture.StitchCSS {
		return &CSSTranslatePositionProvider{Exec: exec}
	}
	return &ScrollPositionProvider{Exec: exec}
}
