package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/hazyhaar/vgrid/geometry"
)

// fakePage renders a tall synthetic page where every row has a unique
// colour, and exposes a viewport that scrolls with browser-like clamping.
type fakePage struct {
	src        *image.NRGBA
	viewport   geometry.RectangleSize
	scroll     geometry.Location
	dpr        int
	captures   int
	failEntire bool
}

func newFakePage(w, h int, viewport geometry.RectangleSize) *fakePage {
	src := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := rowColor(y)
		for x := 0; x < w; x++ {
			src.SetNRGBA(x, y, c)
		}
	}
	return &fakePage{src: src, viewport: viewport, dpr: 1}
}

func rowColor(y int) color.NRGBA {
	return color.NRGBA{R: uint8(y % 256), G: uint8(y / 256), B: 7, A: 255}
}

func (p *fakePage) Image(context.Context) (*Image, error) {
	p.captures++
	view := FromImage(p.src).Crop(geometry.RegionAt(p.scroll, p.viewport))
	if p.dpr == 1 {
		return view, nil
	}
	up := image.NewNRGBA(image.Rect(0, 0, view.Width()*p.dpr, view.Height()*p.dpr))
	for y := 0; y < up.Rect.Dy(); y++ {
		for x := 0; x < up.Rect.Dx(); x++ {
			up.SetNRGBA(x, y, view.NRGBA().NRGBAAt(x/p.dpr, y/p.dpr))
		}
	}
	return FromImage(up), nil
}

func (p *fakePage) CurrentPosition(context.Context) (geometry.Location, error) { return p.scroll, nil }

func (p *fakePage) SetPosition(_ context.Context, loc geometry.Location) error {
	maxX := max(p.src.Rect.Dx()-p.viewport.Width, 0)
	maxY := max(p.src.Rect.Dy()-p.viewport.Height, 0)
	p.scroll = geometry.Location{X: min(max(loc.X, 0), maxX), Y: min(max(loc.Y, 0), maxY)}
	return nil
}

func (p *fakePage) EntireSize(context.Context) (geometry.RectangleSize, error) {
	if p.failEntire {
		return geometry.RectangleSize{}, errors.New("no document")
	}
	return geometry.RectangleSize{Width: p.src.Rect.Dx(), Height: p.src.Rect.Dy()}, nil
}

func (p *fakePage) State(context.Context) (State, error) { return p.scroll, nil }

func (p *fakePage) RestoreState(_ context.Context, s State) error {
	p.scroll = s.(geometry.Location)
	return nil
}

// fakeOrigin records moves of the outer context.
type fakeOrigin struct {
	pos      geometry.Location
	restored bool
}

func (o *fakeOrigin) CurrentPosition(context.Context) (geometry.Location, error) { return o.pos, nil }
func (o *fakeOrigin) SetPosition(_ context.Context, l geometry.Location) error {
	o.pos = l
	return nil
}
func (o *fakeOrigin) EntireSize(context.Context) (geometry.RectangleSize, error) {
	return geometry.RectangleSize{}, nil
}
func (o *fakeOrigin) State(context.Context) (State, error) { return o.pos, nil }
func (o *fakeOrigin) RestoreState(_ context.Context, s State) error {
	o.pos = s.(geometry.Location)
	o.restored = true
	return nil
}

func newStitcher(t *testing.T, page *fakePage, origin *fakeOrigin, mutate func(*Options)) *Stitcher {
	t.Helper()
	opts := Options{
		ImageProvider:        page,
		Origin:               origin,
		ScaleProviderFactory: FixedScaleProviderFactory{Ratio: 1},
		Overlap:              50,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func assertRowsMatch(t *testing.T, img *Image, height int) {
	t.Helper()
	for y := 0; y < height; y++ {
		got := img.NRGBA().NRGBAAt(400, y)
		if got != rowColor(y) {
			t.Fatalf("row %d: got %v, want %v", y, got, rowColor(y))
		}
	}
}

func TestStitch_FullPageSimpleOverlap(t *testing.T) {
	// WHAT: 3000px page, 800x600 viewport, overlap 50.
	// WHY: The composite must reproduce the page row for row, including
	// the clamped last scroll.
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	origin := &fakeOrigin{pos: geometry.Location{X: 3, Y: 4}}
	s := newStitcher(t, page, origin, nil)

	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if img.Width() != 800 || img.Height() != 3000 {
		t.Fatalf("size: got %v", img.Size())
	}
	// One initial capture plus parts at 550, 1100, 1650, 2200, 2750.
	if page.captures != 6 {
		t.Errorf("captures: got %d, want 6", page.captures)
	}
	assertRowsMatch(t, img, 3000)
	if !origin.restored || origin.pos != (geometry.Location{X: 3, Y: 4}) {
		t.Errorf("origin not restored: %+v", origin)
	}
}

func TestStitch_DoubleOverlap(t *testing.T) {
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	s := newStitcher(t, page, &fakeOrigin{}, func(o *Options) { o.DoubleOverlap = true })

	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if img.Width() != 800 || img.Height() != 3000 {
		t.Fatalf("size: got %v", img.Size())
	}
	assertRowsMatch(t, img, 3000)
}

func TestStitch_DoubleOverlapClampsNegativeHeight(t *testing.T) {
	// WHAT: Overlap larger than half the viewport.
	// WHY: Cropped part heights must clamp at zero instead of failing.
	page := newFakePage(200, 2000, geometry.RectangleSize{Width: 200, Height: 600})
	s := newStitcher(t, page, &fakeOrigin{}, func(o *Options) {
		o.DoubleOverlap = true
		o.Overlap = 400
	})
	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if img.Height() > 2000 || img.Width() > 200 {
		t.Errorf("image exceeds full area: %v", img.Size())
	}
}

func TestStitch_FastPath(t *testing.T) {
	page := newFakePage(800, 500, geometry.RectangleSize{Width: 800, Height: 600})
	origin := &fakeOrigin{}
	s := newStitcher(t, page, origin, nil)

	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if page.captures != 1 {
		t.Errorf("captures: got %d, want 1", page.captures)
	}
	if img.Height() != 500 {
		t.Errorf("height: got %d, want 500", img.Height())
	}
	if !origin.restored {
		t.Error("origin should be restored on the fast path")
	}
}

func TestStitch_EntireSizeFailureFallsBack(t *testing.T) {
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	page.failEntire = true
	s := newStitcher(t, page, &fakeOrigin{}, nil)

	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if page.captures != 1 || img.Height() != 600 {
		t.Errorf("got %d captures, height %d", page.captures, img.Height())
	}
}

func TestStitch_RestoresPosition(t *testing.T) {
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	page.scroll = geometry.Location{Y: 123}
	s := newStitcher(t, page, &fakeOrigin{}, nil)

	if _, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page); err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if page.scroll.Y != 123 {
		t.Errorf("scroll not restored: %v", page.scroll)
	}
}

func TestStitch_ScaledCapture(t *testing.T) {
	// WHAT: Device pixel ratio 2 with a 0.5 scale ratio.
	// WHY: Parts are scaled back to logical pixels before compositing.
	page := newFakePage(400, 1500, geometry.RectangleSize{Width: 400, Height: 300})
	page.dpr = 2
	s := newStitcher(t, page, &fakeOrigin{}, func(o *Options) {
		o.ScaleProviderFactory = FixedScaleProviderFactory{Ratio: 0.5}
	})
	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if img.Width() != 400 || img.Height() != 1500 {
		t.Errorf("size: got %v, want 400x1500", img.Size())
	}
}

func TestStitch_RegionOfInterest(t *testing.T) {
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	s := newStitcher(t, page, &fakeOrigin{}, nil)

	img, err := s.StitchedRegion(context.Background(), geometry.NewRegion(100, 0, 200, 600), geometry.EmptyRegion, page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if img.Width() != 200 {
		t.Errorf("width: got %d, want 200", img.Width())
	}
	if img.Height() > 3000 {
		t.Errorf("height %d exceeds page", img.Height())
	}
}

func TestStitch_CutProvider(t *testing.T) {
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	s := newStitcher(t, page, &fakeOrigin{}, func(o *Options) {
		o.CutProvider = FixedCutProvider{Header: 20, Left: 10}
	})
	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if img.Width() != 790 {
		t.Errorf("width: got %d, want 790", img.Width())
	}
	if img.Height() > 3000 {
		t.Errorf("height %d exceeds page", img.Height())
	}
}

func TestStitch_ExplicitFullAreaTrimmedToAchievedExtent(t *testing.T) {
	// WHAT: A full area taller than the page can scroll.
	// WHY: The canvas must shrink to what was actually captured.
	page := newFakePage(800, 1000, geometry.RectangleSize{Width: 800, Height: 600})
	s := newStitcher(t, page, &fakeOrigin{}, nil)

	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.NewRegion(0, 0, 800, 4000), page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if img.Height() != 1000 {
		t.Errorf("height: got %d, want 1000", img.Height())
	}
	assertRowsMatch(t, img, 1000)
}

func TestStitch_OffsetFullArea(t *testing.T) {
	// WHAT: A full area starting at y=1000 on a page first captured at y=0.
	// WHY: The top part of the area must be captured, not filled with the
	// scroll-0 image.
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	s := newStitcher(t, page, &fakeOrigin{}, nil)

	img, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.NewRegion(0, 1000, 800, 1200), page)
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if img.Width() != 800 || img.Height() != 1200 {
		t.Fatalf("size: got %v", img.Size())
	}
	for y := 0; y < img.Height(); y++ {
		if got := img.NRGBA().NRGBAAt(400, y); got != rowColor(y+1000) {
			t.Fatalf("row %d: got %v, want page row %d", y, got, y+1000)
		}
	}
	// Initial capture plus parts at 1000, 1550 and 2100.
	if page.captures != 4 {
		t.Errorf("captures: got %d, want 4", page.captures)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	page := newFakePage(10, 10, geometry.RectangleSize{Width: 10, Height: 10})
	cases := []Options{
		{Origin: &fakeOrigin{}, ScaleProviderFactory: FixedScaleProviderFactory{}},
		{ImageProvider: page, ScaleProviderFactory: FixedScaleProviderFactory{}},
		{ImageProvider: page, Origin: &fakeOrigin{}},
		{ImageProvider: page, Origin: &fakeOrigin{}, ScaleProviderFactory: FixedScaleProviderFactory{}, Overlap: -1},
	}
	for i, opts := range cases {
		if _, err := New(opts); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestStitch_ContextCancelledDuringWait(t *testing.T) {
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	page.scroll = geometry.Location{Y: 42}
	s := newStitcher(t, page, &fakeOrigin{}, func(o *Options) { o.WaitBeforeScreenshots = 1 << 40 })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.StitchedRegion(ctx, geometry.EmptyRegion, geometry.EmptyRegion, page); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if page.scroll.Y != 42 {
		t.Errorf("scroll not restored after cancel: %v", page.scroll)
	}
}
