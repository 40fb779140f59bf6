package capture

import (
	"context"
	"math"

	"github.com/hazyhaar/vgrid/geometry"
)

// ImageProvider returns the current viewport raster.
type ImageProvider interface {
	Image(ctx context.Context) (*Image, error)
}

// ImageProviderFunc adapts a function to ImageProvider.
type ImageProviderFunc func(ctx context.Context) (*Image, error)

func (f ImageProviderFunc) Image(ctx context.Context) (*Image, error) { return f(ctx) }

// State is an opaque snapshot of a PositionProvider, restored once after
// stitching.
type State any

// PositionProvider moves a scrollable target and reports where it is.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (geometry.Location, error)
	SetPosition(ctx context.Context, loc geometry.Location) error
	// EntireSize may fail; callers fall back to what they already captured.
	EntireSize(ctx context.Context) (geometry.RectangleSize, error)
	State(ctx context.Context) (State, error)
	RestoreState(ctx context.Context, s State) error
}

// ScaleProvider reports the ratio between logical and device pixels.
type ScaleProvider interface {
	ScaleRatio() float64
}

// ScaleProviderFactory builds a ScaleProvider for a captured image width.
type ScaleProviderFactory interface {
	ScaleProvider(imageWidth int) ScaleProvider
}

// FixedScaleProvider always reports the same ratio.
type FixedScaleProvider float64

func (f FixedScaleProvider) ScaleRatio() float64 { return float64(f) }

// FixedScaleProviderFactory returns the same ratio regardless of width.
type FixedScaleProviderFactory struct {
	Ratio float64
}

func (f FixedScaleProviderFactory) ScaleProvider(int) ScaleProvider {
	if f.Ratio <= 0 {
		return FixedScaleProvider(1)
	}
	return FixedScaleProvider(f.Ratio)
}

const (
	allowedViewportDeviation   = 1
	allowedEntireSizeDeviation = 10
)

// ContextBasedScaleProviderFactory decides between no scaling and 1/dpr by
// comparing the captured width with the viewport and page widths.
type ContextBasedScaleProviderFactory struct {
	EntireSize       geometry.RectangleSize
	ViewportSize     geometry.RectangleSize
	DevicePixelRatio float64
}

func (f ContextBasedScaleProviderFactory) ScaleProvider(imageWidth int) ScaleProvider {
	vw := f.ViewportSize.Width
	ew := f.EntireSize.Width
	if within(imageWidth, vw, allowedViewportDeviation) || within(imageWidth, ew, allowedEntireSizeDeviation) {
		return FixedScaleProvider(1)
	}
	if f.DevicePixelRatio <= 0 {
		return FixedScaleProvider(1)
	}
	return FixedScaleProvider(1 / f.DevicePixelRatio)
}

func within(v, target, dev int) bool { return v >= target-dev && v <= target+dev }

// CutProvider removes fixed bands (browser chrome, status bars) from every
// captured frame.
type CutProvider interface {
	Cut(img *Image) *Image
	Scale(ratio float64) CutProvider
}

// NullCutProvider performs no cropping.
type NullCutProvider struct{}

func (NullCutProvider) Cut(img *Image) *Image { return img }
func (NullCutProvider) Scale(float64) CutProvider { return NullCutProvider{} }

// FixedCutProvider removes bands expressed in logical pixels; Scale
// converts them to device pixels.
type FixedCutProvider struct {
	Header, Footer, Left, Right int
}

func (c FixedCutProvider) Cut(img *Image) *Image { return cutBands(img, c.Header, c.Footer, c.Left, c.Right) }

func (c FixedCutProvider) Scale(ratio float64) CutProvider {
	s := func(v int) int { return int(math.Round(float64(v) * ratio)) }
	return FixedCutProvider{Header: s(c.Header), Footer: s(c.Footer), Left: s(c.Left), Right: s(c.Right)}
}

// UnscaledFixedCutProvider removes bands already expressed in device pixels.
type UnscaledFixedCutProvider struct {
	Header, Footer, Left, Right int
}

func (c UnscaledFixedCutProvider) Cut(img *Image) *Image {
	return cutBands(img, c.Header, c.Footer, c.Left, c.Right)
}

func (c UnscaledFixedCutProvider) Scale(float64) CutProvider { return c }

func cutBands(img *Image, header, footer, left, right int) *Image {
	r := geometry.NewRegion(left, header, img.Width()-left-right, img.Height()-header-footer)
	return img.Crop(r)
}

// RegionPositionCompensation corrects browser-specific offsets of a region
// expressed in screenshot pixels.
type RegionPositionCompensation interface {
	Compensate(r geometry.Region, pixelRatio float64) geometry.Region
}

// NullRegionPositionCompensation is the identity.
type NullRegionPositionCompensation struct{}

func (NullRegionPositionCompensation) Compensate(r geometry.Region, _ float64) geometry.Region {
	return r
}

// SafariRegionPositionCompensation shifts regions down by the rounded-up
// pixel ratio on high-density displays.
type SafariRegionPositionCompensation struct{}

func (SafariRegionPositionCompensation) Compensate(r geometry.Region, pixelRatio float64) geometry.Region {
	if pixelRatio == 1 {
		return r
	}
	if r.IsEmpty() {
		return geometry.EmptyRegion
	}
	return r.Offset(0, int(math.Ceil(pixelRatio)))
}
