package pdftest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func TestBookletIsValidAndLabelled(t *testing.T) {
	data, err := Build(Options{Sheets: 3, Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := api.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ctx.PageCount != 3 {
		t.Fatalf("expected 3 pages, got %d", ctx.PageCount)
	}
	_, _, attrs, err := ctx.PageDict(2, false)
	if err != nil {
		t.Fatal(err)
	}
	if attrs.MediaBox.Width() != 800 || attrs.MediaBox.Height() != 600 {
		t.Errorf("unexpected media box %v", attrs.MediaBox)
	}

	texts := PageTexts(t, data)
	if len(texts) != 3 {
		t.Fatalf("expected text for 3 pages, got %d", len(texts))
	}
	for i, text := range texts {
		for _, side := range []string{"left", "right"} {
			if want := fmt.Sprintf("sheet %d %s", i, side); !strings.Contains(text, want) {
				t.Errorf("page %d: %q missing %q", i+1, text, want)
			}
		}
	}
}
