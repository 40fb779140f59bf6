package geometry

import (
	"reflect"
	"testing"
)

func TestNewRegion_ClampsNegativeSize(t *testing.T) {
	r := NewRegion(5, 5, -3, 10)
	if r.Width != 0 || r.Height != 10 {
		t.Fatalf("got %v", r)
	}
	if !r.IsEmpty() {
		t.Error("zero-width region should be empty")
	}
}

func TestIntersect(t *testing.T) {
	a := NewRegion(0, 0, 100, 100)
	b := NewRegion(50, 60, 100, 100)
	got := a.Intersect(b)
	want := NewRegion(50, 60, 50, 40)
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := a.Intersect(NewRegion(200, 200, 10, 10)); got != EmptyRegion {
		t.Errorf("disjoint: got %v, want empty", got)
	}
	if got := a.Intersect(NewRegion(100, 0, 10, 10)); !got.IsEmpty() {
		t.Errorf("touching edge: got %v, want empty", got)
	}
}

func TestScale(t *testing.T) {
	r := NewRegion(10, 20, 30, 41)
	got := r.Scale(2)
	if got != NewRegion(20, 40, 60, 82) {
		t.Errorf("scale 2: got %v", got)
	}
	got = r.Scale(0.5)
	if got != NewRegion(5, 10, 15, 21) {
		t.Errorf("scale 0.5: got %v", got)
	}
}

func TestSubRegions_ExactCount(t *testing.T) {
	// WHAT: 3000px tall area split into 800x550 parts.
	// WHY: Part count drives the number of scroll captures during stitching.
	full := NewRegion(0, 0, 800, 3000)
	parts := full.SubRegions(RectangleSize{Width: 800, Height: 550}, 0)
	if len(parts) != 6 {
		t.Fatalf("got %d parts, want 6: %v", len(parts), parts)
	}
	last := parts[len(parts)-1]
	if last.Top != 2750 || last.Height != 250 {
		t.Errorf("last part: got %v", last)
	}
	for i, p := range parts {
		if p.Width != 800 {
			t.Errorf("part %d width %d", i, p.Width)
		}
	}
}

func TestSubRegions_Idempotent(t *testing.T) {
	full := NewRegion(10, 20, 1234, 5678)
	size := RectangleSize{Width: 500, Height: 333}
	a := full.SubRegions(size, 300)
	b := full.SubRegions(size, 300)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("partitioning is not deterministic")
	}
}

func TestSubRegions_Grid(t *testing.T) {
	full := NewRegion(0, 0, 250, 150)
	parts := full.SubRegions(RectangleSize{Width: 100, Height: 100}, 0)
	want := []Region{
		NewRegion(0, 0, 100, 100), NewRegion(100, 0, 100, 100), NewRegion(200, 0, 50, 100),
		NewRegion(0, 100, 100, 50), NewRegion(100, 100, 100, 50), NewRegion(200, 100, 50, 50),
	}
	if !reflect.DeepEqual(parts, want) {
		t.Errorf("got %v\nwant %v", parts, want)
	}
}

func TestSubRegions_AlwaysOnePart(t *testing.T) {
	full := NewRegion(0, 0, 800, 400)
	parts := full.SubRegions(RectangleSize{Width: 800, Height: 600}, 0)
	if len(parts) != 1 || parts[0] != full {
		t.Errorf("got %v, want single %v", parts, full)
	}
	if got := EmptyRegion.SubRegions(RectangleSize{Width: 10, Height: 10}, 0); got != nil {
		t.Errorf("empty region: got %v", got)
	}
}

func TestSubRegions_SmallerStep(t *testing.T) {
	// WHAT: A step shorter than the part height produces overlapping rows
	// and stops once the bottom edge is reached.
	full := NewRegion(0, 0, 100, 1000)
	parts := full.SubRegions(RectangleSize{Width: 100, Height: 500}, 450)
	tops := []int{}
	for _, p := range parts {
		tops = append(tops, p.Top)
	}
	if !reflect.DeepEqual(tops, []int{0, 450, 900}) {
		t.Errorf("tops: got %v", tops)
	}
	if parts[2].Height != 100 {
		t.Errorf("last height: got %d", parts[2].Height)
	}
}
