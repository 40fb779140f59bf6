package regions

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/hazyhaar/vgrid/geometry"
)

type rectElement geometry.Region

func (e rectElement) Rect(context.Context) (geometry.Region, error) { return geometry.Region(e), nil }

type fakeContext map[string][]Element

func (f fakeContext) FindElements(_ context.Context, sel string) ([]Element, error) {
	els, ok := f[sel]
	if !ok {
		return nil, errors.New("bad selector")
	}
	return els, nil
}

func TestResolve_Variants(t *testing.T) {
	ctx := context.Background()
	page := fakeContext{
		".ad": {rectElement(geometry.NewRegion(0, 0, 10, 10)), rectElement(geometry.NewRegion(20, 20, 5, 5))},
	}

	got, err := ByRectangle{Region: geometry.NewRegion(1, 2, 3, 4)}.Resolve(ctx, page)
	if err != nil || len(got) != 1 || got[0] != geometry.NewRegion(1, 2, 3, 4) {
		t.Errorf("rectangle: got %v, %v", got, err)
	}

	got, err = BySelector{Selector: ".ad"}.Resolve(ctx, page)
	if err != nil || len(got) != 2 {
		t.Errorf("selector: got %v, %v", got, err)
	}

	got, err = ByElement{Element: rectElement(geometry.NewRegion(7, 7, 7, 7))}.Resolve(ctx, nil)
	if err != nil || len(got) != 1 {
		t.Errorf("element: got %v, %v", got, err)
	}

	if _, err := (BySelector{Selector: "missing"}).Resolve(ctx, page); err == nil {
		t.Error("expected error for unknown selector")
	}
	if _, err := (BySelector{Selector: ".ad"}).Resolve(ctx, nil); err == nil {
		t.Error("expected error without context")
	}
}

func TestResolveAll_GroupsByKind(t *testing.T) {
	page := fakeContext{".btn": {rectElement(geometry.NewRegion(5, 5, 50, 20))}}
	targets := []Target{
		{Kind: Ignore, Source: ByRectangle{Region: geometry.NewRegion(0, 0, 100, 50)}},
		{Kind: Floating, Source: BySelector{Selector: ".btn"}, Floating: FloatingBounds{MaxUp: 3}},
		{Kind: Accessibility, Source: ByRectangle{Region: geometry.NewRegion(1, 1, 1, 1)}, Accessibility: LargeText},
		{Kind: Layout, Source: ByRectangle{}},
	}
	res, err := ResolveAll(context.Background(), page, targets)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Ignore) != 1 || len(res.Floating) != 1 || len(res.Accessibility) != 1 || len(res.Layout) != 0 {
		t.Fatalf("unexpected grouping: %+v", res)
	}
	if res.Floating[0].MaxUp != 3 {
		t.Errorf("floating bounds lost: %+v", res.Floating[0])
	}
	if res.Accessibility[0].Type != LargeText {
		t.Errorf("accessibility type: %q", res.Accessibility[0].Type)
	}
	if !reflect.DeepEqual(res.Selectors, []string{".btn"}) {
		t.Errorf("selectors: %v", res.Selectors)
	}
}
