package orchestrator

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/local/debooklet/internal/filetype"
	"github.com/local/debooklet/internal/imposition"
)

// errUnreadablePDF marks inputs that sniff as PDF but pdfcpu cannot parse.
var errUnreadablePDF = errors.New("pdf page count failed")

// CountSheets returns the number of sheets (physical pages) in a PDF.
func CountSheets(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errUnreadablePDF, err)
	}
	return n, nil
}

// inspectBooklet checks that data is a PDF whose unfolded page count is a
// valid booklet size and returns its sheet count.
func inspectBooklet(data []byte) (int, error) {
	if info := filetype.New().DetectBytes(data); !info.Supported {
		return 0, fmt.Errorf("%w: detected %s", filetype.ErrNotPDF, info.MIMEType)
	}
	sheets, err := CountSheets(data)
	if err != nil {
		return 0, err
	}
	if err := imposition.Validate(imposition.TotalPagesForSheets(sheets)); err != nil {
		return sheets, fmt.Errorf("%d sheets: %w", sheets, err)
	}
	return sheets, nil
}
