// Package pdftest generates small booklet PDFs in memory for tests and reads
// page text back out of converted documents.
//
// Each generated sheet is a single page with a MediaBox of the requested
// size and a content stream that labels both halves, e.g. "sheet 3 left".
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// A3 landscape in points: two A4 portrait pages side by side.
const (
	A3Width  = 1190.55
	A3Height = 841.89
)

// Options describes a generated booklet.
type Options struct {
	Sheets int
	Width  float64
	Height float64
}

// Booklet returns a PDF with opts.Sheets two-up pages. It panics if pdfcpu
// cannot assemble the document.
func Booklet(opts Options) []byte {
	data, err := Build(opts)
	if err != nil {
		panic(fmt.Sprintf("pdftest: %v", err))
	}
	return data
}

// Build assembles the booklet described by opts with pdfcpu.
func Build(opts Options) ([]byte, error) {
	if opts.Width <= 0 {
		opts.Width = A3Width
	}
	if opts.Height <= 0 {
		opts.Height = A3Height
	}

	ctx, err := pdfcpu.CreateContextWithXRefTable(nil, &types.Dim{Width: opts.Width, Height: opts.Height})
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	catalog, err := ctx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	pagesRef := catalog.IndirectRefEntry("Pages")
	if pagesRef == nil {
		return nil, fmt.Errorf("catalog has no page tree")
	}
	pages, err := ctx.DereferenceDict(*pagesRef)
	if err != nil || pages == nil {
		return nil, fmt.Errorf("page tree: %v", err)
	}

	fontRef, err := ctx.IndRefForNewObject(types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name("Helvetica"),
	})
	if err != nil {
		return nil, fmt.Errorf("font: %w", err)
	}

	kids := types.Array{}
	for i := 0; i < opts.Sheets; i++ {
		contentRef, err := labelStream(ctx, i, opts.Width, opts.Height)
		if err != nil {
			return nil, fmt.Errorf("sheet %d: %w", i, err)
		}
		pageRef, err := ctx.IndRefForNewObject(types.Dict{
			"Type":      types.Name("Page"),
			"Parent":    *pagesRef,
			"MediaBox":  types.NewRectangle(0, 0, opts.Width, opts.Height).Array(),
			"Resources": types.Dict{"Font": types.Dict{"F1": *fontRef}},
			"Contents":  *contentRef,
		})
		if err != nil {
			return nil, fmt.Errorf("sheet %d: %w", i, err)
		}
		kids = append(kids, *pageRef)
	}
	pages["Kids"] = kids
	pages["Count"] = types.Integer(len(kids))
	ctx.PageCount = len(kids)

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	return buf.Bytes(), nil
}

// labelStream writes the "sheet N left" and "sheet N right" labels, each
// centred vertically in its half.
func labelStream(ctx *model.Context, sheet int, w, h float64) (*types.IndirectRef, error) {
	content := fmt.Sprintf(
		"BT /F1 24 Tf %.2f %.2f Td (sheet %d left) Tj ET\nBT /F1 24 Tf %.2f %.2f Td (sheet %d right) Tj ET\n",
		w/8, h/2, sheet, w/2+w/8, h/2, sheet)
	sd, err := ctx.NewStreamDictForBuf([]byte(content))
	if err != nil {
		return nil, err
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return ctx.IndRefForNewObject(*sd)
}

// WriteBooklet writes a generated booklet into t.TempDir and returns its path.
func WriteBooklet(t testing.TB, name string, opts Options) string {
	t.Helper()
	data, err := Build(opts)
	if err != nil {
		t.Fatalf("building test booklet: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing test booklet: %v", err)
	}
	return path
}
