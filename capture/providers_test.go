package capture

import (
	"image"
	"testing"

	"github.com/hazyhaar/vgrid/geometry"
)

func TestContextBasedScaleProviderFactory(t *testing.T) {
	f := ContextBasedScaleProviderFactory{
		EntireSize:       geometry.RectangleSize{Width: 1200, Height: 5000},
		ViewportSize:     geometry.RectangleSize{Width: 800, Height: 600},
		DevicePixelRatio: 2,
	}
	tests := []struct {
		width int
		want  float64
	}{
		{800, 1},    // viewport width
		{801, 1},    // within viewport deviation
		{1195, 1},   // within entire-size deviation
		{1600, 0.5}, // device pixels
	}
	for _, tt := range tests {
		if got := f.ScaleProvider(tt.width).ScaleRatio(); got != tt.want {
			t.Errorf("ScaleProvider(%d) = %v, want %v", tt.width, got, tt.want)
		}
	}

	f.DevicePixelRatio = 0
	if got := f.ScaleProvider(1600).ScaleRatio(); got != 1 {
		t.Errorf("unknown dpr ratio = %v, want 1", got)
	}
}

func TestCutProviders(t *testing.T) {
	img := FromImage(image.NewNRGBA(image.Rect(0, 0, 100, 200)))

	cut := FixedCutProvider{Header: 10, Footer: 5, Left: 2, Right: 3}
	if got := cut.Cut(img).Size(); got != (geometry.RectangleSize{Width: 95, Height: 185}) {
		t.Errorf("fixed cut size = %v", got)
	}
	scaled := cut.Scale(2)
	if got := scaled.Cut(img).Size(); got != (geometry.RectangleSize{Width: 90, Height: 170}) {
		t.Errorf("scaled cut size = %v", got)
	}

	// WHAT: Unscaled bands ignore the pixel ratio.
	unscaled := UnscaledFixedCutProvider{Header: 10}
	if got := unscaled.Scale(2).Cut(img).Size(); got != (geometry.RectangleSize{Width: 100, Height: 190}) {
		t.Errorf("unscaled cut size = %v", got)
	}

	if got := (NullCutProvider{}).Scale(3).Cut(img); got != img {
		t.Error("null cut changed the image")
	}
}

func TestSafariRegionPositionCompensation(t *testing.T) {
	c := SafariRegionPositionCompensation{}
	r := geometry.NewRegion(0, 10, 50, 50)

	if got := c.Compensate(r, 1); got != r {
		t.Errorf("ratio 1 = %v", got)
	}
	if got := c.Compensate(r, 1.5); got != geometry.NewRegion(0, 12, 50, 50) {
		t.Errorf("ratio 1.5 = %v", got)
	}
	if got := c.Compensate(geometry.EmptyRegion, 2); !got.IsEmpty() {
		t.Errorf("empty region = %v", got)
	}
}
