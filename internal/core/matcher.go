package core

import (
	"strconv"
	"strings"
)

// DefaultIDPrefix is the prefix exported record identifiers carry ("IT42").
const DefaultIDPrefix = "IT"

// MatchKind classifies how an incoming row relates to existing records.
type MatchKind int

const (
	MatchNew MatchKind = iota
	MatchExisting
	MatchNotFound
)

func (k MatchKind) String() string {
	switch k {
	case MatchNew:
		return "new"
	case MatchExisting:
		return "existing"
	case MatchNotFound:
		return "not_found"
	}
	return "unknown"
}

// MatchResult is the outcome of matching one row.
type MatchResult struct {
	Kind   MatchKind
	Record *Record // set for MatchExisting
	ID     string  // identifier as written in the sheet, set for MatchNotFound
}

// MatchRow finds the existing record an incoming row refers to.
// idIndex is the position of the identifier column, or -1 when none is mapped.
func MatchRow(existing map[int64]*Record, row RawRow, idIndex int, idPrefix string) MatchResult {
	if idIndex < 0 || idIndex >= len(row) {
		return MatchResult{Kind: MatchNew}
	}

	original := CellText(row[idIndex])
	id, ok, blank := parseRecordID(original, idPrefix)
	if blank {
		return MatchResult{Kind: MatchNew}
	}
	if !ok {
		return MatchResult{Kind: MatchNotFound, ID: original}
	}

	rec, found := existing[id]
	if !found {
		return MatchResult{Kind: MatchNotFound, ID: original}
	}
	return MatchResult{Kind: MatchExisting, Record: rec}
}

// parseRecordID strips the id prefix and parses the remaining digits.
// blank is true when nothing remains after stripping.
func parseRecordID(text, idPrefix string) (id int64, ok, blank bool) {
	text = strings.TrimSpace(text)
	if idPrefix != "" && len(text) >= len(idPrefix) && strings.EqualFold(text[:len(idPrefix)], idPrefix) {
		text = strings.TrimSpace(text[len(idPrefix):])
	}
	if text == "" {
		return 0, false, true
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, false
	}
	return id, true, false
}

// RecordIDs returns the distinct record ids referenced by the identifier
// column of rows, skipping the header. The second result lists ids that occur
// more than once.
func RecordIDs(rows []RawRow, idIndex int, idPrefix string) (ids []int64, repeated []int64) {
	if idIndex < 0 {
		return nil, nil
	}

	seen := make(map[int64]int)
	for i, row := range rows {
		if i == 0 || idIndex >= len(row) || isEmptyRow(row) {
			continue
		}
		id, ok, _ := parseRecordID(CellText(row[idIndex]), idPrefix)
		if !ok {
			continue
		}
		seen[id]++
		switch seen[id] {
		case 1:
			ids = append(ids, id)
		case 2:
			repeated = append(repeated, id)
		}
	}
	return ids, repeated
}
