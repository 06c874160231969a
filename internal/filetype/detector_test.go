package filetype

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/local/debooklet/internal/pdftest"
)

func TestDetectBytes(t *testing.T) {
	d := New()
	tests := []struct {
		name      string
		data      []byte
		supported bool
	}{
		{"generated booklet", pdftest.Booklet(pdftest.Options{Sheets: 2}), true},
		{"plain text", []byte("hello, this is not a pdf\n"), false},
		{"png header", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := d.DetectBytes(tt.data)
			if info.Supported != tt.supported {
				t.Errorf("supported = %v, want %v (mime %s)", info.Supported, tt.supported, info.MIMEType)
			}
			if tt.supported && info.MIMEType != PDF {
				t.Errorf("mime = %s", info.MIMEType)
			}
		})
	}
}

func TestDetectReader(t *testing.T) {
	info, err := New().DetectReader(bytes.NewReader(pdftest.Booklet(pdftest.Options{Sheets: 1})))
	if err != nil {
		t.Fatal(err)
	}
	if !info.Supported {
		t.Errorf("expected PDF, got %s", info.MIMEType)
	}
}

func TestRequirePDF(t *testing.T) {
	d := New()
	pdf := pdftest.WriteBooklet(t, "in.pdf", pdftest.Options{Sheets: 2})
	if err := d.RequirePDF(pdf); err != nil {
		t.Errorf("expected PDF to pass: %v", err)
	}

	// Extension does not matter, content does.
	fake := filepath.Join(t.TempDir(), "fake.pdf")
	if err := os.WriteFile(fake, []byte("just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.RequirePDF(fake); !errors.Is(err, ErrNotPDF) {
		t.Errorf("expected ErrNotPDF, got %v", err)
	}

	if err := d.RequirePDF(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}
