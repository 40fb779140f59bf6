// Package capture produces full-page screenshots by scrolling a target in
// overlapping steps and compositing the captured parts.
//
// The Stitcher talks to the browser only through the provider interfaces
// declared in providers.go, so every geometric decision can be exercised
// against fakes.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/vgrid/geometry"
)

// MinPartHeight is the smallest height a stitched part may shrink to after
// the overlap is removed.
const MinPartHeight = 10

// Options configures a Stitcher. ImageProvider, Origin and
// ScaleProviderFactory are required.
type Options struct {
	ImageProvider        ImageProvider
	Origin               PositionProvider
	ScaleProviderFactory ScaleProviderFactory
	CutProvider          CutProvider
	Compensation         RegionPositionCompensation
	Debug                DebugScreenshots

	// Overlap is the vertical band, in logical pixels, recaptured between
	// consecutive parts.
	Overlap               int
	WaitBeforeScreenshots time.Duration
	// DoubleOverlap strips the overlap from both the top and the bottom of
	// every intermediate part.
	DoubleOverlap bool

	Logger *slog.Logger
}

// Stitcher implements the full-page capture algorithm.
type Stitcher struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and fills the optional collaborators with their null
// variants.
func New(opts Options) (*Stitcher, error) {
	if opts.ImageProvider == nil {
		return nil, errors.New("capture: image provider is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("capture: origin position provider is required")
	}
	if opts.ScaleProviderFactory == nil {
		return nil, errors.New("capture: scale provider factory is required")
	}
	if opts.Overlap < 0 {
		return nil, fmt.Errorf("capture: negative overlap %d", opts.Overlap)
	}
	if opts.CutProvider == nil {
		opts.CutProvider = NullCutProvider{}
	}
	if opts.Compensation == nil {
		opts.Compensation = NullRegionPositionCompensation{}
	}
	if opts.Debug == nil {
		opts.Debug = NullDebugScreenshots{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stitcher{opts: opts, logger: logger}, nil
}

// frame carries the per-capture transform computed from the first image
// and reused for every following part.
type frame struct {
	pixelRatio float64
	cut        CutProvider
	roi        geometry.Region
	haveROI    bool
}

// StitchedRegion returns the stitched image of region. An empty region
// means the whole frame; an empty fullArea means the entire scrollable
// size reported by pp.
//
// Positions of pp and of the origin provider are restored before
// returning, whatever the outcome.
func (s *Stitcher) StitchedRegion(ctx context.Context, region, fullArea geometry.Region, pp PositionProvider) (*Image, error) {
	if pp == nil {
		return nil, errors.New("capture: position provider is required")
	}
	origin := s.opts.Origin

	originState, err := origin.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: origin state: %w", err)
	}
	defer s.restore(ctx, "origin", origin, originState)
	if err := origin.SetPosition(ctx, geometry.Origin); err != nil {
		return nil, fmt.Errorf("capture: reset origin: %w", err)
	}

	stitchState, err := pp.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: position state: %w", err)
	}
	defer s.restore(ctx, "position", pp, stitchState)

	raw, err := s.opts.ImageProvider.Image(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: initial image: %w", err)
	}
	s.debug(ctx, raw, "original")

	f := s.frameFor(raw, region)
	img := s.process(ctx, raw, f, "initial")

	entire, err := pp.EntireSize(ctx)
	if err != nil {
		s.logger.Warn("stitch: entire size unavailable, using image size",
			"size", img.Size().String(), "error", err)
		entire = img.Size()
	}

	if fullArea.IsEmpty() {
		if img.Size().Covers(entire) {
			s.logger.Debug("stitch: single capture covers target", "size", entire.String())
			return img, nil
		}
		fullArea = geometry.RegionAt(geometry.Origin, entire)
	}

	overlap := s.opts.Overlap
	partSize := geometry.RectangleSize{
		Width:  img.Width(),
		Height: max(img.Height()-overlap, MinPartHeight),
	}
	stepY := 0
	if s.opts.DoubleOverlap {
		stepY = partSize.Height - overlap
	}
	parts := fullArea.SubRegions(partSize, stepY)
	s.logger.Debug("stitch: parts computed",
		"full_area", fullArea.String(), "part_size", partSize.String(), "parts", len(parts))

	canvas := NewCanvas(fullArea.Width, fullArea.Height)
	canvas.Paste(0, 0, img)

	lastLoc := geometry.Origin
	lastSize := img.Size()

	for i, part := range parts {
		// The first capture was taken at the page origin.
		if part.Location() == geometry.Origin {
			continue
		}
		if err := pp.SetPosition(ctx, part.Location()); err != nil {
			return nil, fmt.Errorf("capture: scroll to %s: %w", part.Location(), err)
		}
		if err := sleep(ctx, s.opts.WaitBeforeScreenshots); err != nil {
			return nil, err
		}
		pos, err := pp.CurrentPosition(ctx)
		if err != nil {
			return nil, fmt.Errorf("capture: current position: %w", err)
		}
		target := pos.Sub(fullArea.Location())

		raw, err := s.opts.ImageProvider.Image(ctx)
		if err != nil {
			return nil, fmt.Errorf("capture: part %d image: %w", i, err)
		}
		s.debug(ctx, raw, "original-scrolled-"+filenameLocation(pos))
		partImg := s.process(ctx, raw, f, fmt.Sprintf("part-%d", i))

		stitchY := target.Y
		if s.opts.DoubleOverlap {
			partImg = s.trimDoubleOverlap(partImg, part, pos, entire)
			s.debug(ctx, partImg, "double-cropped-"+filenameLocation(pos))
			lastLoc = geometry.Location{X: part.Left - fullArea.Left, Y: part.Top - fullArea.Top + overlap}
			stitchY = 0
			if part.Top != 0 {
				stitchY = part.Top + overlap - fullArea.Top
			}
		} else {
			lastLoc = target
		}

		canvas.Paste(target.X, stitchY, partImg)
		lastSize = partImg.Size()
	}

	actualW := lastLoc.X + lastSize.Width
	actualH := lastLoc.Y + lastSize.Height
	if actualW < canvas.Width() || actualH < canvas.Height() {
		s.logger.Debug("stitch: trimming to achieved extent",
			"full_area", fullArea.Size().String(), "width", actualW, "height", actualH)
		canvas = canvas.Crop(geometry.NewRegion(0, 0,
			min(actualW, canvas.Width()), min(actualH, canvas.Height())))
	}
	return canvas, nil
}

// frameFor derives the pixel ratio, the scaled cut provider and the
// region of interest from the first capture.
func (s *Stitcher) frameFor(raw *Image, region geometry.Region) frame {
	ratio := s.opts.ScaleProviderFactory.ScaleProvider(raw.Width()).ScaleRatio()
	if ratio <= 0 {
		ratio = 1
	}
	f := frame{pixelRatio: 1 / ratio}
	f.cut = s.opts.CutProvider.Scale(f.pixelRatio)

	cut := raw
	if !isNullCut(f.cut) {
		cut = f.cut.Cut(raw)
	}
	f.roi = s.regionInScreenshot(region, cut, f.pixelRatio)
	f.haveROI = !f.roi.IsEmpty()
	return f
}

// regionInScreenshot converts a logical region into screenshot pixels and
// keeps it inside the image, since elements sized at 100% can report a
// rect larger than what was captured.
func (s *Stitcher) regionInScreenshot(region geometry.Region, img *Image, pixelRatio float64) geometry.Region {
	if region.IsEmpty() {
		return geometry.EmptyRegion
	}
	r := region.Intersect(img.Bounds())
	r = r.Scale(pixelRatio)
	r = s.opts.Compensation.Compensate(r, pixelRatio)
	return r.Intersect(img.Bounds())
}

// process applies cut, crop and scale to one raw capture.
func (s *Stitcher) process(ctx context.Context, img *Image, f frame, name string) *Image {
	if !isNullCut(f.cut) {
		img = f.cut.Cut(img)
		s.debug(ctx, img, name+"-cut")
	}
	if f.haveROI {
		img = img.Crop(f.roi)
		s.debug(ctx, img, name+"-cropped")
	}
	if f.pixelRatio != 1 {
		img = img.Scale(1 / f.pixelRatio)
		s.debug(ctx, img, name+"-scaled")
	}
	return img
}

// trimDoubleOverlap removes the top overlap (and whatever the scroll could
// not reach) plus the bottom overlap unless the part touches the end of
// the page.
func (s *Stitcher) trimDoubleOverlap(img *Image, part geometry.Region, pos geometry.Location, entire geometry.RectangleSize) *Image {
	overlap := s.opts.Overlap
	removeTopForLast := part.Top - pos.Y
	removeTop := 0
	if part.Top != 0 {
		removeTop = overlap
	}
	removeBottom := 0
	if part.Top+img.Height() < entire.Height {
		removeBottom = overlap
	}
	height := img.Height() - removeBottom - removeTop - removeTopForLast
	if height < 0 {
		s.logger.Warn("stitch: double overlap leaves no rows, clamping",
			"part", part.String(), "height", height,
			"remove_top", removeTop, "remove_bottom", removeBottom, "remove_scroll", removeTopForLast)
		height = 0
	}
	top := max(removeTop+removeTopForLast, 0)
	return img.Crop(geometry.NewRegion(0, top, img.Width(), height))
}

func (s *Stitcher) restore(ctx context.Context, which string, p PositionProvider, st State) {
	// The caller's context may already be cancelled; restoring is still wanted.
	if err := p.RestoreState(context.WithoutCancel(ctx), st); err != nil {
		s.logger.Warn("stitch: restore state failed", "provider", which, "error", err)
	}
}

func (s *Stitcher) debug(ctx context.Context, img *Image, suffix string) {
	if err := s.opts.Debug.Save(ctx, img, suffix); err != nil {
		s.logger.Debug("stitch: debug screenshot failed", "suffix", suffix, "error", err)
	}
}

func isNullCut(c CutProvider) bool {
	_, ok := c.(NullCutProvider)
	return ok
}

func filenameLocation(l geometry.Location) string {
	return fmt.Sprintf("%d_%d", l.X, l.Y)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
