package sheet

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func texts(row core.RawRow) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = c.Text
	}
	return out
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{name: "items.csv", want: FormatCSV},
		{name: "ITEMS.CSV", want: FormatCSV},
		{name: "items.tsv", want: FormatTSV},
		{name: "items.xlsx", want: FormatXLSX},
		{name: "items.xls", wantErr: true},
		{name: "items.pdf", wantErr: true},
		{name: "items", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFile) {
					t.Errorf("DetectFormat(%q) error = %v, want ErrUnsupportedFile", tt.name, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("DetectFormat(%q) = %v, %v; want %v", tt.name, got, err, tt.want)
			}
		})
	}
}

func TestRead_CSV(t *testing.T) {
	data := "\xEF\xBB\xBFID,Name,Qty\n,Widget,3\n\n , , \nIT4,\"Gadget, large\",5\n"

	rows, err := Read("items.csv", []byte(data))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"ID", "Name", "Qty"}, texts(rows[0]))
	require.Equal(t, []string{"", "Widget", "3"}, texts(rows[1]))
	require.Equal(t, []string{"IT4", "Gadget, large", "5"}, texts(rows[2]))
	require.Nil(t, rows[1][2].Number)
}

func TestRead_TSV(t *testing.T) {
	rows, err := Read("items.tsv", []byte("Name\tQty\nWidget\t3\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"Widget", "3"}, texts(rows[1]))
}

func TestRead_RaggedAndLazyQuotes(t *testing.T) {
	rows, err := Read("items.csv", []byte("Name,Qty,Note\nWidget\nBolt,2,say \"hi\"\n"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Len(t, rows[1], 1)
	require.Equal(t, `say "hi"`, rows[2][2].Text)
}

func TestRead_InvalidUTF8(t *testing.T) {
	rows, err := Read("items.csv", []byte("Name\nCaf\xe9\n"))
	require.NoError(t, err)
	require.Equal(t, "Caf\uFFFD", rows[1][0].Text)
}

func TestRead_Empty(t *testing.T) {
	_, err := Read("items.csv", []byte("\n , \n"))
	require.ErrorIs(t, err, ErrEmptyFile)
}

func TestRead_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"ID", "Name", "Qty"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"", "Widget", 3.5}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]any{"IT7", "Gadget", 12}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := Read("items.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "Name", rows[0][1].Text)
	require.Nil(t, rows[0][1].Number)

	require.Equal(t, "Widget", rows[1][1].Text)
	require.NotNil(t, rows[1][2].Number)
	require.Equal(t, "3.5", rows[1][2].Number.String())

	require.Equal(t, "IT7", rows[2][0].Text)
	require.NotNil(t, rows[2][2].Number)
	require.Equal(t, "12", core.CellText(rows[2][2]))
}

func TestRead_BadWorkbook(t *testing.T) {
	_, err := Read("items.xlsx", []byte("not a zip"))
	require.Error(t, err)
}

func TestReadFrom_SizeLimit(t *testing.T) {
	data := "Name,Qty\nWidget,3\n"

	rows, err := ReadFrom("items.csv", strings.NewReader(data), int64(len(data)))
	require.NoError(t, err, "a file of exactly the limit is accepted")
	require.Len(t, rows, 2)

	_, err = ReadFrom("items.csv", strings.NewReader(data), 8)
	require.ErrorIs(t, err, ErrFileTooLarge)

	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow(f.GetSheetName(0), "A1", &[]any{"Name"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	_, err = ReadFrom("items.xlsx", bytes.NewReader(buf.Bytes()), 100)
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.tsv")
	require.NoError(t, os.WriteFile(path, []byte("Name\tQty\nBolt\t2\n"), 0o600))

	rows, err := Open(path, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"Bolt", "2"}, texts(rows[1]))

	_, err = Open(filepath.Join(t.TempDir(), "missing.csv"), 0)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Open("items.pdf", 0)
	require.ErrorIs(t, err, ErrUnsupportedFile)
}
