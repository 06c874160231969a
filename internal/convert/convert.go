// Package convert drives one booklet-to-document conversion: load the
// booklet, compute the page layout, extract every logical page in order and
// serialize the result.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/debooklet/internal/booklet"
	"github.com/local/debooklet/internal/filetype"
	"github.com/local/debooklet/internal/imposition"
	"github.com/local/debooklet/internal/metrics"
	"github.com/local/debooklet/internal/pdfdoc"
	"github.com/local/debooklet/internal/storage"
)

// ErrUnreadable wraps failures to parse or validate the input PDF.
var ErrUnreadable = errors.New("unreadable PDF")

// Result labels used for metrics and job status.
const (
	ResultSuccess   = "success"
	ResultInvalid   = "invalid"
	ResultCancelled = "cancelled"
	ResultFailed    = "failed"
)

// Report summarizes a finished conversion.
type Report struct {
	Sheets   int           `json:"sheets"`
	Pages    int           `json:"pages"`
	Duration time.Duration `json:"duration"`
}

// Option configures a conversion.
type Option func(*options)

type options struct {
	logger   zerolog.Logger
	progress func(done, total int)
}

// WithLogger sets the logger used for per-page messages.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProgress registers fn to be called after each extracted page.
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// Convert reads a booklet from in and writes the reconstructed document to
// out. The document is serialized in memory first, so out receives nothing
// unless the whole conversion succeeded.
func Convert(ctx context.Context, in io.ReadSeeker, out io.Writer, opts ...Option) (rep *Report, err error) {
	o := &options{logger: log.Logger}
	for _, opt := range opts {
		opt(o)
	}

	start := time.Now()
	rep = &Report{}
	defer func() {
		rep.Duration = time.Since(start)
		metrics.ObserveConversion(Classify(err), rep.Pages, rep.Duration)
	}()

	doc, err := pdfdoc.Open(in)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	rep.Sheets = doc.SheetCount()

	total := imposition.TotalPagesForSheets(rep.Sheets)
	layout, err := imposition.Layout(total)
	if err != nil {
		return rep, fmt.Errorf("booklet with %d sheets: %w", rep.Sheets, err)
	}

	o.logger.Info().Int("sheets", rep.Sheets).Int("pages", total).Msg("booklet loaded")

	dst := pdfdoc.NewTarget(doc)
	err = booklet.Build(ctx, doc, dst, layout, booklet.WithProgress(func(page int, pos imposition.Position) {
		o.logger.Info().
			Int("page", page).
			Int("sheet", pos.SheetIndex).
			Str("side", pos.Side().String()).
			Msgf("Extracting page %d: sheet %d, %s", page, pos.SheetIndex, pos.Side())
		if o.progress != nil {
			o.progress(page, total)
		}
	}))
	if err != nil {
		return rep, err
	}

	var buf bytes.Buffer
	if err := dst.Save(&buf); err != nil {
		return rep, fmt.Errorf("save output: %w", err)
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		return rep, fmt.Errorf("write output: %w", err)
	}
	rep.Pages = dst.PageCount()

	o.logger.Info().Int("pages", rep.Pages).Dur("duration", time.Since(start)).Msg("conversion complete")
	return rep, nil
}

// ConvertBytes converts an in-memory booklet. The input must sniff as PDF.
func ConvertBytes(ctx context.Context, data []byte, opts ...Option) ([]byte, *Report, error) {
	if info := filetype.New().DetectBytes(data); !info.Supported {
		metrics.ObserveConversion(ResultInvalid, 0, 0)
		return nil, nil, fmt.Errorf("%w: detected %s", filetype.ErrNotPDF, info.MIMEType)
	}
	var buf bytes.Buffer
	rep, err := Convert(ctx, bytes.NewReader(data), &buf, opts...)
	if err != nil {
		return nil, rep, err
	}
	return buf.Bytes(), rep, nil
}

// ConvertFile converts inPath into outPath. The output file only appears
// once the whole document has been written.
func ConvertFile(ctx context.Context, inPath, outPath string, opts ...Option) (*Report, error) {
	if err := filetype.New().RequirePDF(inPath); err != nil {
		metrics.ObserveConversion(ResultInvalid, 0, 0)
		return nil, err
	}

	f, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	rep, err := Convert(ctx, f, &buf, opts...)
	if err != nil {
		return rep, err
	}
	if err := storage.WriteFileAtomic(outPath, buf.Bytes()); err != nil {
		return rep, err
	}
	return rep, nil
}

// Classify maps a conversion error onto a result label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCancelled
	case IsPermanent(err):
		return ResultInvalid
	default:
		return ResultFailed
	}
}

// IsPermanent reports whether retrying the same input can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, imposition.ErrInvalidPageCount) ||
		errors.Is(err, imposition.ErrPageOutOfRange) ||
		errors.Is(err, booklet.ErrSheetOutOfBounds) ||
		errors.Is(err, filetype.ErrNotPDF) ||
		errors.Is(err, ErrUnreadable)
}
