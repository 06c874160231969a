// Package booklet splits two-up booklet sheets into single pages and appends
// them to an output document in logical page order.
package booklet

import (
	"context"
	"errors"
	"fmt"

	"github.com/local/debooklet/internal/imposition"
)

// ErrSheetOutOfBounds matches every *BoundsError.
var ErrSheetOutOfBounds = errors.New("booklet: sheet index out of bounds")

// BoundsError reports a sheet index the source document does not have.
type BoundsError struct {
	Index int
	Count int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("sheet index %d out of bounds (total sheets: %d)", e.Index, e.Count)
}

func (e *BoundsError) Is(target error) bool { return target == ErrSheetOutOfBounds }

// Page is a page handle owned by a Target.
type Page interface {
	Size() (w, h float64)
	SetCropBox(x0, y0, x1, y1 float64)
}

// Target is the output document. Pages are append-only.
type Target interface {
	Append(p Page) error
	PageCount() int
}

// Source is a loaded booklet document. CopySheet returns an independent copy
// of sheet index bound to dst; the source sheet itself is never modified.
type Source interface {
	SheetCount() int
	CopySheet(ctx context.Context, dst Target, index int) (Page, error)
}

// Rect is a crop window in page space.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// Width returns the horizontal extent of the window.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns the vertical extent of the window.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// CropWindow returns the left or right half of a w x h sheet.
func CropWindow(w, h float64, right bool) Rect {
	half := w / 2
	if right {
		return Rect{X0: half, Y0: 0, X1: w, Y1: h}
	}
	return Rect{X0: 0, Y0: 0, X1: half, Y1: h}
}

// Extract copies the sheet at pos into dst, restricts it to the addressed
// half and appends it as the last page of dst.
func Extract(ctx context.Context, src Source, dst Target, pos imposition.Position) error {
	if n := src.SheetCount(); pos.SheetIndex < 0 || pos.SheetIndex >= n {
		return &BoundsError{Index: pos.SheetIndex, Count: n}
	}

	page, err := src.CopySheet(ctx, dst, pos.SheetIndex)
	if err != nil {
		return fmt.Errorf("copy sheet %d: %w", pos.SheetIndex, err)
	}

	w, h := page.Size()
	win := CropWindow(w, h, pos.RightSide)
	page.SetCropBox(win.X0, win.Y0, win.X1, win.Y1)

	if err := dst.Append(page); err != nil {
		return fmt.Errorf("append sheet %d (%s): %w", pos.SheetIndex, pos.Side(), err)
	}
	return nil
}

// Option configures Build.
type Option func(*buildConfig)

type buildConfig struct {
	progress func(page int, pos imposition.Position)
}

// WithProgress registers fn to be called after each logical page is appended.
func WithProgress(fn func(page int, pos imposition.Position)) Option {
	return func(c *buildConfig) {
		c.progress = fn
	}
}

// Build extracts every logical page of layout into dst, strictly in order.
// Element i of layout is the position of logical page i+1. Build stops at
// the first failure; dst must then be discarded.
func Build(ctx context.Context, src Source, dst Target, layout []imposition.Position, opts ...Option) error {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	for i, pos := range layout {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("build interrupted before page %d: %w", i+1, err)
		}
		if err := Extract(ctx, src, dst, pos); err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
		if cfg.progress != nil {
			cfg.progress(i+1, pos)
		}
	}
	return nil
}
