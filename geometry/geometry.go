// Package geometry provides the integer pixel value types shared by the
// capture and region packages: Location, RectangleSize and Region.
//
// All values are immutable. Every transform returns a new value.
package geometry

import (
	"fmt"
	"math"
)

// Location is a point in pixel space.
type Location struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Origin is the (0,0) location.
var Origin = Location{}

// Offset returns l moved by (dx, dy).
func (l Location) Offset(dx, dy int) Location {
	return Location{X: l.X + dx, Y: l.Y + dy}
}

// Sub returns l - o.
func (l Location) Sub(o Location) Location {
	return Location{X: l.X - o.X, Y: l.Y - o.Y}
}

// Scale multiplies both coordinates by ratio, rounding to the nearest pixel.
func (l Location) Scale(ratio float64) Location {
	return Location{X: round(float64(l.X) * ratio), Y: round(float64(l.Y) * ratio)}
}

func (l Location) String() string { return fmt.Sprintf("(%d, %d)", l.X, l.Y) }

// RectangleSize is a width/height pair.
type RectangleSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsEmpty reports whether either dimension is zero or negative.
func (s RectangleSize) IsEmpty() bool { return s.Width <= 0 || s.Height <= 0 }

// Scale multiplies both dimensions by ratio.
func (s RectangleSize) Scale(ratio float64) RectangleSize {
	return RectangleSize{Width: round(float64(s.Width) * ratio), Height: round(float64(s.Height) * ratio)}
}

// Covers reports whether s is at least as large as o in both dimensions.
func (s RectangleSize) Covers(o RectangleSize) bool {
	return s.Width >= o.Width && s.Height >= o.Height
}

func (s RectangleSize) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Region is a pixel rectangle. Width and Height are never negative.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EmptyRegion is the zero-size sentinel.
var EmptyRegion = Region{}

// NewRegion builds a region, clamping negative sizes to zero.
func NewRegion(left, top, width, height int) Region {
	return Region{Left: left, Top: top, Width: max(width, 0), Height: max(height, 0)}
}

// RegionAt builds a region from a location and a size.
func RegionAt(loc Location, size RectangleSize) Region {
	return NewRegion(loc.X, loc.Y, size.Width, size.Height)
}

// IsEmpty reports whether r has no area.
func (r Region) IsEmpty() bool { return r.Width == 0 || r.Height == 0 }

// Location returns the top-left corner.
func (r Region) Location() Location { return Location{X: r.Left, Y: r.Top} }

// Size returns the width/height pair.
func (r Region) Size() RectangleSize { return RectangleSize{Width: r.Width, Height: r.Height} }

// Right is the exclusive right edge.
func (r Region) Right() int { return r.Left + r.Width }

// Bottom is the exclusive bottom edge.
func (r Region) Bottom() int { return r.Top + r.Height }

// Offset returns r moved by (dx, dy).
func (r Region) Offset(dx, dy int) Region {
	return Region{Left: r.Left + dx, Top: r.Top + dy, Width: r.Width, Height: r.Height}
}

// WithLocation returns r moved so its top-left corner is loc.
func (r Region) WithLocation(loc Location) Region {
	return Region{Left: loc.X, Top: loc.Y, Width: r.Width, Height: r.Height}
}

// Scale multiplies every component by ratio.
func (r Region) Scale(ratio float64) Region {
	return NewRegion(
		round(float64(r.Left)*ratio),
		round(float64(r.Top)*ratio),
		round(float64(r.Width)*ratio),
		round(float64(r.Height)*ratio),
	)
}

// Intersect returns the overlap of r and o, or EmptyRegion when they do not
// overlap.
func (r Region) Intersect(o Region) Region {
	left := max(r.Left, o.Left)
	top := max(r.Top, o.Top)
	right := min(r.Right(), o.Right())
	bottom := min(r.Bottom(), o.Bottom())
	if right <= left || bottom <= top {
		return EmptyRegion
	}
	return Region{Left: left, Top: top, Width: right - left, Height: bottom - top}
}

// Contains reports whether loc lies inside r.
func (r Region) Contains(loc Location) bool {
	return loc.X >= r.Left && loc.X < r.Right() && loc.Y >= r.Top && loc.Y < r.Bottom()
}

// SubRegions partitions r into parts of partSize, walking rows top to
// bottom and columns left to right. Parts touching the right or bottom edge
// are clamped to r. stepY is the vertical distance between consecutive
// rows; zero or negative means partSize.Height.
//
// A non-empty region always yields at least one part.
func (r Region) SubRegions(partSize RectangleSize, stepY int) []Region {
	if r.IsEmpty() {
		return nil
	}
	if partSize.IsEmpty() {
		return []Region{r}
	}
	if stepY <= 0 {
		stepY = partSize.Height
	}
	stepX := partSize.Width

	var parts []Region
	for top := r.Top; top < r.Bottom(); top += stepY {
		h := min(partSize.Height, r.Bottom()-top)
		for left := r.Left; left < r.Right(); left += stepX {
			w := min(partSize.Width, r.Right()-left)
			parts = append(parts, Region{Left: left, Top: top, Width: w, Height: h})
		}
		if top+h >= r.Bottom() {
			break
		}
	}
	return parts
}

func (r Region) String() string {
	return fmt.Sprintf("(%d, %d) %dx%d", r.Left, r.Top, r.Width, r.Height)
}

func round(f float64) int { return int(math.Round(f)) }
