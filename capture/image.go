package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/hazyhaar/vgrid/geometry"
)

// Image is an in-memory raster. Crop and Scale return new images; Paste
// mutates the receiver and is only used on canvases owned by the caller.
type Image struct {
	px *image.NRGBA
}

// NewCanvas allocates a transparent image of the given size.
func NewCanvas(width, height int) *Image {
	return &Image{px: image.NewNRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))}
}

// FromImage converts any image.Image into an Image anchored at (0,0).
func FromImage(src image.Image) *Image {
	if n, ok := src.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return &Image{px: n}
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return &Image{px: dst}
}

// DecodePNG reads a PNG stream.
func DecodePNG(r io.Reader) (*Image, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("capture: decode png: %w", err)
	}
	return FromImage(img), nil
}

// EncodePNG writes img as PNG.
func (img *Image) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, img.px); err != nil {
		return fmt.Errorf("capture: encode png: %w", err)
	}
	return nil
}

// PNG returns the PNG encoding of img.
func (img *Image) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := img.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Width returns the image width in pixels.
func (img *Image) Width() int { return img.px.Rect.Dx() }

// Height returns the image height in pixels.
func (img *Image) Height() int { return img.px.Rect.Dy() }

// Size returns the image dimensions.
func (img *Image) Size() geometry.RectangleSize {
	return geometry.RectangleSize{Width: img.Width(), Height: img.Height()}
}

// Bounds returns the image area as a region at (0,0).
func (img *Image) Bounds() geometry.Region {
	return geometry.NewRegion(0, 0, img.Width(), img.Height())
}

// NRGBA exposes the underlying raster.
func (img *Image) NRGBA() *image.NRGBA { return img.px }

// Crop returns a copy of the part of img inside r. r is clamped to the
// image bounds; a crop outside the image yields an empty image.
func (img *Image) Crop(r geometry.Region) *Image {
	r = r.Intersect(img.Bounds())
	dst := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	if r.IsEmpty() {
		return &Image{px: dst}
	}
	draw.Draw(dst, dst.Rect, img.px, image.Pt(r.Left, r.Top), draw.Src)
	return &Image{px: dst}
}

// Scale resizes img by ratio. A ratio of 1 returns img itself.
func (img *Image) Scale(ratio float64) *Image {
	if ratio == 1 || ratio <= 0 {
		return img
	}
	size := img.Size().Scale(ratio)
	dst := image.NewNRGBA(image.Rect(0, 0, max(size.Width, 1), max(size.Height, 1)))
	draw.CatmullRom.Scale(dst, dst.Rect, img.px, img.px.Rect, draw.Src, nil)
	return &Image{px: dst}
}

// Paste copies src into img with its top-left corner at (x, y). Pixels
// falling outside img are dropped.
func (img *Image) Paste(x, y int, src *Image) {
	target := image.Rect(x, y, x+src.Width(), y+src.Height()).Intersect(img.px.Rect)
	if target.Empty() {
		return
	}
	draw.Draw(img.px, target, src.px, image.Pt(target.Min.X-x, target.Min.Y-y), draw.Src)
}
