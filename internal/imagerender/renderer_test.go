package imagerender

import (
	"bytes"
	"errors"
	"image/jpeg"
	"testing"

	"github.com/local/debooklet/internal/pdftest"
)

func TestRenderBytes(t *testing.T) {
	data := pdftest.Booklet(pdftest.Options{Sheets: 2, Width: 400, Height: 300})

	res, err := RenderBytes(data, 2, Options{DPI: 72, Color: ColorGray})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if abs(res.Width-400) > 1 || abs(res.Height-300) > 1 {
		t.Errorf("unexpected size %dx%d", res.Width, res.Height)
	}
	img, err := jpeg.Decode(bytes.NewReader(res.JPEG))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != res.Width {
		t.Errorf("decoded width %d != %d", img.Bounds().Dx(), res.Width)
	}
}

func TestRenderPageOutOfRange(t *testing.T) {
	data := pdftest.Booklet(pdftest.Options{Sheets: 2})
	for _, page := range []int{0, 3} {
		if _, err := RenderBytes(data, page, DefaultOptions); !errors.Is(err, ErrPageRange) {
			t.Errorf("page %d: expected ErrPageRange, got %v", page, err)
		}
	}
}

func TestPageCount(t *testing.T) {
	n, err := PageCount(pdftest.Booklet(pdftest.Options{Sheets: 3}))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 pages, got %d", n)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
