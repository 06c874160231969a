// Package imposition maps logical page numbers of a saddle-stitched booklet
// to the document sheet and side that carry them.
//
// A booklet document holds totalPages/2 sheets, each showing two logical
// pages side by side. Sheet 0 is the outermost (cover) side, the last sheet
// is the centre spread:
//
//	Sheet 0: [LEFT: 16] [RIGHT:  1]
//	Sheet 1: [LEFT:  2] [RIGHT: 15]
//	Sheet 2: [LEFT: 14] [RIGHT:  3]
//	...
//	Sheet 7: [LEFT:  8] [RIGHT:  9]
//
// Odd pages sit on the right, fanning out over even sheets and then back
// over odd sheets; even pages mirror that on the left.
package imposition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPageCount is returned when totalPages is not a positive multiple of 4.
	ErrInvalidPageCount = errors.New("imposition: page count must be a positive multiple of 4")
	// ErrPageOutOfRange is returned when a logical page falls outside [1, totalPages].
	ErrPageOutOfRange = errors.New("imposition: logical page out of range")
	// ErrLayoutDefect signals a computed sheet index outside the document.
	ErrLayoutDefect = errors.New("imposition: computed sheet index out of range")
)

// Side is the horizontal half of a sheet.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// Position is the physical location of one logical page.
type Position struct {
	SheetIndex int  `json:"sheet_index"`
	RightSide  bool `json:"is_right_side"`
}

// Side returns the half of the sheet the page occupies.
func (p Position) Side() Side {
	if p.RightSide {
		return Right
	}
	return Left
}

// Sheet lists the two logical pages printed on one document sheet.
type Sheet struct {
	Index int `json:"sheet"`
	Left  int `json:"left"`
	Right int `json:"right"`
}

// TotalPagesForSheets returns the logical page count of a booklet with sheetCount sheets.
func TotalPagesForSheets(sheetCount int) int { return 2 * sheetCount }

// Validate checks that totalPages describes a complete saddle-stitch booklet.
// Totals of the form 4n+2 leave one folded sheet with a single printed side
// and are rejected.
func Validate(totalPages int) error {
	if totalPages <= 0 || totalPages%4 != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPageCount, totalPages)
	}
	return nil
}

// Locate returns the sheet and side holding logicalPage (1-based).
func Locate(logicalPage, totalPages int) (Position, error) {
	if err := Validate(totalPages); err != nil {
		return Position{}, err
	}
	if logicalPage < 1 || logicalPage > totalPages {
		return Position{}, fmt.Errorf("%w: page %d not in [1, %d]", ErrPageOutOfRange, logicalPage, totalPages)
	}

	sheets := totalPages / 2
	half := sheets / 2
	pos := Position{RightSide: logicalPage%2 == 1}

	if pos.RightSide {
		k := (logicalPage - 1) / 2
		if k < half {
			pos.SheetIndex = 2 * k
		} else {
			pos.SheetIndex = sheets - 1 - 2*(k-half)
		}
	} else {
		k := logicalPage/2 - 1
		if k < half {
			pos.SheetIndex = 2*k + 1
		} else {
			pos.SheetIndex = sheets - 2 - 2*(k-half)
		}
	}

	if pos.SheetIndex < 0 || pos.SheetIndex >= sheets {
		return Position{}, fmt.Errorf("%w: page %d of %d mapped to sheet %d", ErrLayoutDefect, logicalPage, totalPages, pos.SheetIndex)
	}
	return pos, nil
}

// Layout returns the position of every logical page; element i belongs to page i+1.
func Layout(totalPages int) ([]Position, error) {
	if err := Validate(totalPages); err != nil {
		return nil, err
	}
	out := make([]Position, totalPages)
	for page := 1; page <= totalPages; page++ {
		pos, err := Locate(page, totalPages)
		if err != nil {
			return nil, err
		}
		out[page-1] = pos
	}
	return out, nil
}

// Sheets returns the layout grouped by sheet, in physical order.
func Sheets(totalPages int) ([]Sheet, error) {
	layout, err := Layout(totalPages)
	if err != nil {
		return nil, err
	}
	sheets := make([]Sheet, totalPages/2)
	for i := range sheets {
		sheets[i].Index = i
	}
	for i, pos := range layout {
		if pos.RightSide {
			sheets[pos.SheetIndex].Right = i + 1
		} else {
			sheets[pos.SheetIndex].Left = i + 1
		}
	}
	return sheets, nil
}
