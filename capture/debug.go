package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DebugScreenshots receives every intermediate image produced while
// stitching.
type DebugScreenshots interface {
	Save(ctx context.Context, img *Image, suffix string) error
}

// NullDebugScreenshots discards everything.
type NullDebugScreenshots struct{}

func (NullDebugScreenshots) Save(context.Context, *Image, string) error { return nil }

// FileDebugScreenshots writes PNG files under Dir.
type FileDebugScreenshots struct {
	Dir    string
	Prefix string
	now    func() time.Time
}

// NewFileDebugScreenshots creates the directory if needed.
func NewFileDebugScreenshots(dir, prefix string) (*FileDebugScreenshots, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: debug dir: %w", err)
	}
	if prefix == "" {
		prefix = "screenshot_"
	}
	return &FileDebugScreenshots{Dir: dir, Prefix: prefix, now: time.Now}, nil
}

func (d *FileDebugScreenshots) Save(_ context.Context, img *Image, suffix string) error {
	name := fmt.Sprintf("%s%s_%s.png", d.Prefix, d.now().Format("2006_01_02_15_04_05.000"), suffix)
	f, err := os.Create(filepath.Join(d.Dir, name))
	if err != nil {
		return fmt.Errorf("capture: debug create: %w", err)
	}
	if err := img.EncodePNG(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
