package filetype

import (
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const PDF = "application/pdf"

// ErrNotPDF is returned when an input is sniffed as anything but a PDF.
var ErrNotPDF = errors.New("input is not a PDF document")

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Supported   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the file type of path using magic bytes, not the filename.
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	log.Debug().Str("mime", mtype.String()).Str("ext", mtype.Extension()).Str("file", filePath).Msg("detected file type")
	return classify(mtype), nil
}

// DetectBytes detects the type of an in-memory document.
func (d *Detector) DetectBytes(data []byte) *FileTypeInfo {
	return classify(mimetype.Detect(data))
}

// DetectReader sniffs r. Only the header is consumed, so callers that need
// the content afterwards must rewind.
func (d *Detector) DetectReader(r io.Reader) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	return classify(mtype), nil
}

// RequirePDF returns ErrNotPDF unless path holds a PDF.
func (d *Detector) RequirePDF(filePath string) error {
	info, err := d.Detect(filePath)
	if err != nil {
		return err
	}
	if !info.Supported {
		return fmt.Errorf("%w: detected %s", ErrNotPDF, info.MIMEType)
	}
	return nil
}

func classify(mtype *mimetype.MIME) *FileTypeInfo {
	info := &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}
	if mtype.Is(PDF) {
		info.MIMEType = PDF
		info.Supported = true
		info.Description = "PDF document"
		return info
	}
	info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	return info
}
