package pdftest

import (
	"testing"
)

// Doc abstracts a PDF document for text extraction.
type Doc interface {
	NumPage() int
	Text(i int) (string, error)
	Close() error
}

// Opener abstracts opening PDF bytes into a Doc.
type Opener interface {
	Open(data []byte) (Doc, error)
}

// defaultOpener is provided in doc_open_fitz.go using go-fitz.
var defaultOpener Opener

// setDefaultOpener allows swapping the default opener for alternate backends.
func setDefaultOpener(o Opener) { defaultOpener = o }

// PageTexts returns the extracted text of every page in data, in page order.
func PageTexts(t testing.TB, data []byte) []string {
	t.Helper()
	if defaultOpener == nil {
		t.Fatal("pdftest: no PDF opener registered")
	}
	doc, err := defaultOpener.Open(data)
	if err != nil {
		t.Fatalf("opening pdf for text: %v", err)
	}
	defer doc.Close()

	texts := make([]string, doc.NumPage())
	for i := range texts {
		if texts[i], err = doc.Text(i); err != nil {
			t.Fatalf("page %d text: %v", i+1, err)
		}
	}
	return texts
}
