// Package sheet turns uploaded spreadsheet files into raw rows for the importer.
//
// CSV and TSV files are read with encoding/csv; XLSX workbooks with excelize.
// Blank rows are dropped, so the first returned row is the header.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/repoimport/internal/core"
)

// ErrUnsupportedFile is returned for file types the tokenizer cannot read.
var ErrUnsupportedFile = errors.New("unsupported file")

// ErrEmptyFile is returned when a file holds no non-blank rows.
var ErrEmptyFile = errors.New("file is empty")

// ErrFileTooLarge is returned when a file exceeds the byte limit.
var ErrFileTooLarge = errors.New("file too large")

// Format identifies a spreadsheet file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks the format from a file name.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFile, name)
}

// Read tokenizes an in-memory file by name. The first row of the result is the header.
func Read(name string, data []byte) ([]core.RawRow, error) {
	return ReadFrom(name, bytes.NewReader(data), 0)
}

// ReadFrom tokenizes r, picking the format from name. When maxBytes is
// positive, reading more than maxBytes fails with ErrFileTooLarge.
func ReadFrom(name string, r io.Reader, maxBytes int64) ([]core.RawRow, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	return ReadFormat(format, r, maxBytes)
}

// Open tokenizes the file at path.
func Open(path string, maxBytes int64) ([]core.RawRow, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadFormat(format, f, maxBytes)
}

// ReadFormat tokenizes r in the given format.
func ReadFormat(format Format, r io.Reader, maxBytes int64) ([]core.RawRow, error) {
	if maxBytes > 0 {
		r = newLimitReader(r, maxBytes)
	}

	var (
		rows []core.RawRow
		err  error
	)
	switch format {
	case FormatCSV:
		rows, err = readDelimited(r, ',')
	case FormatTSV:
		rows, err = readDelimited(r, '\t')
	case FormatXLSX:
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedFile, format)
	}
	if err != nil {
		return nil, err
	}

	rows = dropBlankRows(rows)
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	return rows, nil
}

func dropBlankRows(rows []core.RawRow) []core.RawRow {
	out := rows[:0]
	for _, row := range rows {
		if !isBlank(row) {
			out = append(out, row)
		}
	}
	return out
}

func isBlank(row core.RawRow) bool {
	for _, c := range row {
		if c.Number != nil || strings.TrimSpace(c.Text) != "" {
			return false
		}
	}
	return true
}
