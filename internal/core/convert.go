package core

// convert.go provides the text parsing primitives the value coercers build on.
//
// These functions handle the messy reality of user-provided spreadsheet data:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Currency symbols and thousand separators in numbers
//   - Excel formula prefixes (="value")
//   - Decimals that the tokenizer already parsed from numeric cells
//
// All Parse* functions return ok=false for empty or malformed input.

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
	timeSuffixes = []string{" 15:04:05", " 15:04", "T15:04:05", "T15:04"}
)

// NormalizeDecimal renders a decimal the way it would be typed: a zero
// fractional part renders as an integer ("3.0" -> "3"), otherwise the
// fractional digits are kept.
func NormalizeDecimal(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return d.Truncate(0).String()
	}
	return d.String()
}

// CellText returns the text of a raw cell, normalizing tokenizer decimals.
// The same normalization applies to the name field and every target column,
// so re-importing an export is idempotent.
func CellText(c RawCell) string {
	if c.Number != nil {
		return NormalizeDecimal(*c.Number)
	}
	return CleanCell(c.Text)
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	return strings.TrimSpace(s)
}

// ParseNumber converts a string to a decimal.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParseDate converts a string to a date (midnight UTC).
// The preferred layout, usually the importing user's date format, is tried first.
func ParseDate(s, preferred string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if preferred != "" {
		if t, err := time.Parse(preferred, s); err == nil {
			return t, true
		}
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// ParseDateTime converts a string to a timestamp.
// Accepts RFC3339 and "<date> 15:04[:05]" built from any supported date layout.
func ParseDateTime(s, preferred string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}

	layouts := make([]string, 0, len(fourDigitYearLayouts)+1)
	if preferred != "" {
		layouts = append(layouts, preferred)
	}
	layouts = append(layouts, fourDigitYearLayouts...)

	for _, date := range layouts {
		for _, suffix := range timeSuffixes {
			if t, err := time.Parse(date+suffix, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// isEmptyRow reports whether every cell of the row is blank.
func isEmptyRow(row RawRow) bool {
	for _, c := range row {
		if c.Number != nil || strings.TrimSpace(c.Text) != "" {
			return false
		}
	}
	return true
}
