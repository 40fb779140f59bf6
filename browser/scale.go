package browser

import (
	"context"
	"fmt"

	"github.com/hazyhaar/vgrid/capture"
	"github.com/hazyhaar/vgrid/geometry"
)

const jsViewportMetrics = `() => JSON.stringify({
	width: window.innerWidth,
	height: window.innerHeight,
	dpr: window.devicePixelRatio || 1
})`

type viewportMetrics struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	DPR    float64 `json:"dpr"`
}

// ViewportSize returns the inner window size in CSS pixels.
func ViewportSize(ctx context.Context, exec Executor) (geometry.RectangleSize, error) {
	var m viewportMetrics
	if err := evalJSON(ctx, exec, &m, jsViewportMetrics); err != nil {
		return geometry.RectangleSize{}, fmt.Errorf("browser: viewport: %w", err)
	}
	return geometry.RectangleSize{Width: m.Width, Height: m.Height}, nil
}

// ContextScaleFactory reads the page and viewport metrics and builds a
// scale provider factory from them.
func ContextScaleFactory(ctx context.Context, exec Executor) (capture.ContextBasedScaleProviderFactory, error) {
	var m viewportMetrics
	if err := evalJSON(ctx, exec, &m, jsViewportMetrics); err != nil {
		return capture.ContextBasedScaleProviderFactory{}, fmt.Errorf("browser: viewport: %w", err)
	}
	size, err := entireSize(ctx, exec)
	if err != nil {
		return capture.ContextBasedScaleProviderFactory{}, err
	}
	return capture.ContextBasedScaleProviderFactory{
		EntireSize:       size,
		ViewportSize:     geometry.RectangleSize{Width: m.Width, Height: m.Height},
		DevicePixelRatio: m.DPR,
	}, nil
}
