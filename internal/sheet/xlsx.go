package sheet

import (
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// readXLSX reads the first worksheet. Numeric cells keep their raw value in
// RawCell.Number next to the displayed text; date-formatted numbers stay text.
func readXLSX(r io.Reader) ([]core.RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("open workbook: no worksheets")
	}

	display, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	rows := make([]core.RawRow, len(display))
	for r, cells := range display {
		row := make(core.RawRow, len(cells))
		for c, text := range cells {
			row[c] = core.RawCell{Text: text}
			if text == "" {
				continue
			}
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				continue
			}
			typ, err := f.GetCellType(sheet, axis)
			if err != nil {
				continue
			}
			if n, ok := numericCell(typ, text, rawAt(raw, r, c)); ok {
				row[c].Number = &n
			}
		}
		rows[r] = row
	}
	return rows, nil
}

// numericCell returns the raw number of a numeric cell whose display is also
// a number. Dates and percentages are numbers in the file but not on screen.
func numericCell(typ excelize.CellType, display, raw string) (decimal.Decimal, bool) {
	if typ != excelize.CellTypeNumber && typ != excelize.CellTypeUnset {
		return decimal.Decimal{}, false
	}
	if _, ok := core.ParseNumber(display); !ok {
		return decimal.Decimal{}, false
	}
	n, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return n, true
}

func rawAt(rows [][]string, r, c int) string {
	if r >= len(rows) || c >= len(rows[r]) {
		return ""
	}
	return rows[r][c]
}
