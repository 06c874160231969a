// Package pdfdoc adapts pdfcpu contexts to the booklet Source and Target
// interfaces.
//
// Copies are lazy: CopySheet hands out a page handle that records the sheet
// geometry and, later, its crop window. Target.Save materializes all handles
// at once with pdfcpu.ExtractPages, giving every appended page its own page
// dictionary so two halves of the same sheet can carry different CropBoxes.
// Content streams are shared and never rewritten.
package pdfdoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/local/debooklet/internal/booklet"
)

var (
	// ErrForeignPage is returned by Append for a page copied into another Target.
	ErrForeignPage = errors.New("pdfdoc: page belongs to another document")
	// ErrForeignTarget is returned by CopySheet when dst was not created from
	// the same Document.
	ErrForeignTarget = errors.New("pdfdoc: target was created for another source")
	// ErrEmptyTarget is returned by Save when nothing was appended.
	ErrEmptyTarget = errors.New("pdfdoc: target has no pages")
	// ErrNoMediaBox marks a sheet without a resolvable MediaBox.
	ErrNoMediaBox = errors.New("pdfdoc: sheet has no media box")
)

// Document is a loaded booklet PDF. It is read-only.
type Document struct {
	ctx   *model.Context
	boxes []*types.Rectangle
}

// Open reads and validates a PDF.
func Open(r io.ReadSeeker) (*Document, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadContext(r, conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf context: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("invalid pdf: %w", err)
	}

	d := &Document{ctx: ctx, boxes: make([]*types.Rectangle, ctx.PageCount)}
	for i := 1; i <= ctx.PageCount; i++ {
		_, _, attrs, err := ctx.PageDict(i, false)
		if err != nil {
			return nil, fmt.Errorf("sheet %d: page dict: %w", i-1, err)
		}
		if attrs == nil || attrs.MediaBox == nil {
			return nil, fmt.Errorf("sheet %d: %w", i-1, ErrNoMediaBox)
		}
		mb := *attrs.MediaBox
		d.boxes[i-1] = &mb
	}
	return d, nil
}

// OpenFile opens the PDF at path.
func OpenFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Open(f)
}

// SheetCount returns the number of physical sheets (PDF pages).
func (d *Document) SheetCount() int { return len(d.boxes) }

// SheetSize returns the MediaBox size of sheet index (0-based).
func (d *Document) SheetSize(index int) (w, h float64, err error) {
	if index < 0 || index >= len(d.boxes) {
		return 0, 0, &booklet.BoundsError{Index: index, Count: len(d.boxes)}
	}
	mb := d.boxes[index]
	return mb.Width(), mb.Height(), nil
}

// CopySheet returns a page handle for sheet index owned by dst, which must be
// a *Target created from d.
func (d *Document) CopySheet(_ context.Context, dst booklet.Target, index int) (booklet.Page, error) {
	t, ok := dst.(*Target)
	if !ok || t.src != d {
		return nil, ErrForeignTarget
	}
	if index < 0 || index >= len(d.boxes) {
		return nil, &booklet.BoundsError{Index: index, Count: len(d.boxes)}
	}
	mb := *d.boxes[index]
	return &SheetPage{owner: t, sheet: index, media: &mb}, nil
}

// SheetPage is a pending copy of one sheet.
type SheetPage struct {
	owner *Target
	sheet int
	media *types.Rectangle
	crop  *types.Rectangle
}

// Size returns the sheet's MediaBox size.
func (p *SheetPage) Size() (w, h float64) { return p.media.Width(), p.media.Height() }

// SetCropBox restricts the visible region. Coordinates are relative to the
// MediaBox lower-left corner.
func (p *SheetPage) SetCropBox(x0, y0, x1, y1 float64) {
	ll := p.media.LL
	p.crop = types.NewRectangle(ll.X+x0, ll.Y+y0, ll.X+x1, ll.Y+y1)
}

// Sheet returns the 0-based source sheet index.
func (p *SheetPage) Sheet() int { return p.sheet }

// CropBox returns the crop window in absolute page space, or nil if unset.
func (p *SheetPage) CropBox() *types.Rectangle { return p.crop }

// Target is an output document assembled from one source Document.
type Target struct {
	src   *Document
	pages []*SheetPage
}

// NewTarget creates an empty output document for pages copied from src.
func NewTarget(src *Document) *Target {
	return &Target{src: src}
}

// Append adds p as the last page.
func (t *Target) Append(p booklet.Page) error {
	sp, ok := p.(*SheetPage)
	if !ok || sp.owner != t {
		return ErrForeignPage
	}
	t.pages = append(t.pages, sp)
	return nil
}

// PageCount returns the number of appended pages.
func (t *Target) PageCount() int { return len(t.pages) }

// Save serializes the output document to w.
func (t *Target) Save(w io.Writer) error {
	if len(t.pages) == 0 {
		return ErrEmptyTarget
	}

	pageNrs := make([]int, len(t.pages))
	for i, p := range t.pages {
		pageNrs[i] = p.sheet + 1
	}

	out, err := pdfcpu.ExtractPages(t.src.ctx, pageNrs, false)
	if err != nil {
		return fmt.Errorf("copy sheets: %w", err)
	}
	// ExtractPages grows the page tree but leaves the cached count at zero,
	// which makes PageDict reject every page number.
	out.PageCount = len(pageNrs)

	for i, p := range t.pages {
		if p.crop == nil {
			continue
		}
		d, _, _, err := out.PageDict(i+1, false)
		if err != nil {
			return fmt.Errorf("output page %d: %w", i+1, err)
		}
		if d == nil {
			return fmt.Errorf("output page %d: missing page dict", i+1)
		}
		d["CropBox"] = p.crop.Array()
	}

	if err := api.WriteContext(out, w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
