package imagerender

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// ErrPageRange is returned for a page number outside the document.
var ErrPageRange = errors.New("page out of range")

// Options controls rasterization.
type Options struct {
	DPI     int
	Quality int
	Color   ColorMode
}

// DefaultOptions is a screen-resolution preview.
var DefaultOptions = Options{DPI: 72, Quality: 80, Color: ColorRGB}

// Result is one rendered page.
type Result struct {
	JPEG   []byte
	Width  int
	Height int
}

// RenderFile renders 1-based pageNum of the PDF at path as JPEG. The visible
// area is the page's CropBox, so a split booklet page renders as one half.
func RenderFile(path string, pageNum int, opts Options) (*Result, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return render(doc, pageNum, opts)
}

// RenderBytes is RenderFile for an in-memory document.
func RenderBytes(data []byte, pageNum int, opts Options) (*Result, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return render(doc, pageNum, opts)
}

// PageCount returns the number of pages MuPDF sees in data.
func PageCount(data []byte) (int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

func render(doc *fitz.Document, pageNum int, opts Options) (*Result, error) {
	if opts.DPI <= 0 {
		opts.DPI = DefaultOptions.DPI
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultOptions.Quality
	}
	if pageNum < 1 || pageNum > doc.NumPage() {
		return nil, fmt.Errorf("%w: page %d (document has %d pages)", ErrPageRange, pageNum, doc.NumPage())
	}

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(pageNum-1, float64(opts.DPI))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", pageNum, err)
	}

	bounds := img.Bounds()
	var final image.Image = img
	if opts.Color == ColorGray {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, image.Point{}, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("page", pageNum).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Str("color", string(opts.Color)).
		Int("jpeg_size", buf.Len()).
		Msg("rendered page preview")

	return &Result{JPEG: buf.Bytes(), Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
