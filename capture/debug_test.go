package capture

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/vgrid/geometry"
)

type recordingDebug struct {
	suffixes []string
}

func (d *recordingDebug) Save(_ context.Context, _ *Image, suffix string) error {
	d.suffixes = append(d.suffixes, suffix)
	return nil
}

func TestStitch_DebugScreenshots(t *testing.T) {
	page := newFakePage(800, 3000, geometry.RectangleSize{Width: 800, Height: 600})
	debug := &recordingDebug{}
	s := newStitcher(t, page, &fakeOrigin{}, func(o *Options) { o.Debug = debug })

	if _, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page); err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if len(debug.suffixes) == 0 || debug.suffixes[0] != "original" {
		t.Fatalf("suffixes = %v", debug.suffixes)
	}
	scrolled := 0
	for _, sfx := range debug.suffixes {
		if strings.HasPrefix(sfx, "original-scrolled-") {
			scrolled++
		}
	}
	if scrolled != 5 {
		t.Errorf("scrolled captures saved = %d, want 5", scrolled)
	}
}

type failingDebug struct{}

func (failingDebug) Save(context.Context, *Image, string) error { return errors.New("disk full") }

func TestStitch_DebugFailureIsIgnored(t *testing.T) {
	page := newFakePage(800, 1200, geometry.RectangleSize{Width: 800, Height: 600})
	s := newStitcher(t, page, &fakeOrigin{}, func(o *Options) { o.Debug = failingDebug{} })

	if _, err := s.StitchedRegion(context.Background(), geometry.EmptyRegion, geometry.EmptyRegion, page); err != nil {
		t.Fatalf("stitch: %v", err)
	}
}

func TestFileDebugScreenshots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	d, err := NewFileDebugScreenshots(dir, "")
	if err != nil {
		t.Fatalf("NewFileDebugScreenshots: %v", err)
	}
	d.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC) }

	img := FromImage(image.NewNRGBA(image.Rect(0, 0, 4, 3)))
	if err := d.Save(context.Background(), img, "original"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, "screenshot_2026_03_04_05_06_07.008_original.png")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	back, err := DecodePNG(f)
	if err != nil || back.Width() != 4 || back.Height() != 3 {
		t.Errorf("decoded = %v, %v", back, err)
	}
}

func TestParseStitchMode(t *testing.T) {
	tests := []struct {
		in      string
		want    StitchMode
		wantErr bool
	}{
		{"", StitchScroll, false},
		{"scroll", StitchScroll, false},
		{" CSS ", StitchCSS, false},
		{"translate", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseStitchMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidStitchMode) {
				t.Errorf("ParseStitchMode(%q) err = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseStitchMode(%q) = %v, %v", tt.in, got, err)
		}
	}
	if StitchCSS.String() != "css" || StitchScroll.String() != "scroll" {
		t.Error("String() mismatch")
	}
}
