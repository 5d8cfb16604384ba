package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Mapping markers as sent by clients.
const (
	MarkerIdentifier  = "0"
	MarkerName        = "-1"
	MarkerDoNotImport = "do_not_import"
)

// MaxMappingColumns bounds the width of a mapping. It matches the XLSX
// column limit (XFD).
const MaxMappingColumns = 16384

// MappingKind is the role of one spreadsheet column.
type MappingKind int

const (
	Unmapped MappingKind = iota
	IdentifierColumn
	NameColumn
	TargetColumn
)

// MappingEntry maps one spreadsheet column.
type MappingEntry struct {
	Kind     MappingKind
	ColumnID int64 // TargetColumn only
}

// Mapping aligns spreadsheet columns (by position) with repository columns.
type Mapping []MappingEntry

// ParseMapping converts wire markers into a Mapping: "0" is the identifier
// column, "-1" the name column, "" or "do_not_import" skips the column and
// any other value is a target column id.
func ParseMapping(markers []string) (Mapping, error) {
	if len(markers) > MaxMappingColumns {
		return nil, fmt.Errorf("mapping has %d columns, the limit is %d", len(markers), MaxMappingColumns)
	}
	m := make(Mapping, len(markers))
	for i, raw := range markers {
		marker := strings.TrimSpace(raw)
		switch marker {
		case "", MarkerDoNotImport:
			m[i] = MappingEntry{Kind: Unmapped}
		case MarkerIdentifier:
			m[i] = MappingEntry{Kind: IdentifierColumn}
		case MarkerName:
			m[i] = MappingEntry{Kind: NameColumn}
		default:
			id, err := strconv.ParseInt(marker, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("column %d: invalid mapping marker %q", i, raw)
			}
			m[i] = MappingEntry{Kind: TargetColumn, ColumnID: id}
		}
	}
	return m, nil
}

// MappingFromIndex builds a Mapping from a sparse column-index -> marker map.
func MappingFromIndex(markers map[int]string) (Mapping, error) {
	width := 0
	for idx := range markers {
		if idx < 0 || idx >= MaxMappingColumns {
			return nil, fmt.Errorf("invalid column index %d", idx)
		}
		if idx+1 > width {
			width = idx + 1
		}
	}
	list := make([]string, width)
	for idx, marker := range markers {
		list[idx] = marker
	}
	return ParseMapping(list)
}

// MappingError reports a mapping that cannot be imported. No row is touched.
type MappingError struct {
	DuplicateColumns []int64
	Reason           string
}

func (e *MappingError) Error() string {
	if len(e.DuplicateColumns) > 0 {
		ids := make([]string, len(e.DuplicateColumns))
		for i, id := range e.DuplicateColumns {
			ids[i] = strconv.FormatInt(id, 10)
		}
		return fmt.Sprintf("mapping: columns mapped more than once: %s", strings.Join(ids, ", "))
	}
	return "mapping: " + e.Reason
}

// Validate checks the mapping invariants: at most one identifier column, at
// most one name column and distinct target columns.
func (m Mapping) Validate() error {
	var ids, names int
	seen := make(map[int64]int)
	for _, e := range m {
		switch e.Kind {
		case IdentifierColumn:
			ids++
		case NameColumn:
			names++
		case TargetColumn:
			seen[e.ColumnID]++
		}
	}

	var dups []int64
	for id, n := range seen {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	if len(dups) > 0 {
		sort.Slice(dups, func(i, j int) bool { return dups[i] < dups[j] })
		return &MappingError{DuplicateColumns: dups}
	}
	if ids > 1 {
		return &MappingError{Reason: "more than one identifier column"}
	}
	if names > 1 {
		return &MappingError{Reason: "more than one name column"}
	}
	return nil
}

// IdentifierIndex returns the position of the identifier column, or -1.
func (m Mapping) IdentifierIndex() int {
	for i, e := range m {
		if e.Kind == IdentifierColumn {
			return i
		}
	}
	return -1
}

// resolve binds target entries to schema columns. Targets that are not
// importable columns of the repository are skipped.
func (m Mapping) resolve(schema Schema, logger *slog.Logger) plan {
	p := plan{idIndex: -1, nameIndex: -1}
	for i, e := range m {
		switch e.Kind {
		case IdentifierColumn:
			p.idIndex = i
		case NameColumn:
			p.nameIndex = i
		case TargetColumn:
			col, ok := schema.Column(e.ColumnID)
			if !ok || !col.Type.Importable() {
				logger.Warn("skipping unknown target column", "index", i, "column_id", e.ColumnID)
				continue
			}
			p.targets = append(p.targets, target{index: i, col: col})
		}
	}
	return p
}

// Report statuses.
const (
	ReportOK    = "ok"
	ReportError = "error"
)

// BatchReport summarizes one import batch.
type BatchReport struct {
	ImportID    string         `json:"import_id,omitempty"`
	Status      string         `json:"status"`
	Preview     bool           `json:"preview"`
	TotalRows   int            `json:"total_rows_count"`
	CreatedRows int            `json:"created_rows_count"`
	UpdatedRows int            `json:"updated_rows_count"`
	Changes     []RecordChange `json:"changes"`
	Outcomes    []RowOutcome   `json:"outcomes"`
	Error       string         `json:"error,omitempty"`
	ImportDate  time.Time      `json:"import_date"`
}

// MappingErrorReport is the report returned for a rejected mapping.
func MappingErrorReport(err *MappingError, preview bool, now time.Time) *BatchReport {
	return &BatchReport{
		Status:     ReportError,
		Preview:    preview,
		Changes:    []RecordChange{},
		Outcomes:   []RowOutcome{},
		Error:      err.Error(),
		ImportDate: now,
	}
}

// BatchInput is everything one batch needs besides options.
type BatchInput struct {
	Schema  Schema
	Mapping Mapping
	// Rows includes the header row.
	Rows []RawRow
	// Existing holds the records referenced by the identifier column, by id.
	Existing map[int64]*Record
	// DuplicateCodes are codes shared by more than one existing record.
	DuplicateCodes []string
}

// Coordinator drives import batches. Tx is only used when committing.
type Coordinator struct {
	Users  UserDirectory
	Tx     TxRunner
	Logger *slog.Logger
}

// Run imports every data row of in. A mapping conflict returns a
// *MappingError before any row is processed. If ctx is cancelled between
// rows, the partial report is returned together with the context error.
func (c *Coordinator) Run(ctx context.Context, in BatchInput, opts Options) (*BatchReport, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := in.Mapping.Validate(); err != nil {
		return nil, err
	}
	if !opts.Preview && c.Tx == nil {
		return nil, fmt.Errorf("commit import requires a transaction runner")
	}

	p := in.Mapping.resolve(in.Schema, logger)
	existing := in.Existing
	if existing == nil {
		existing = map[int64]*Record{}
	}

	ri := &rowImporter{
		schema: in.Schema,
		plan:   p,
		opts:   opts,
		env: CoerceEnv{
			TeamID:     in.Schema.TeamID,
			DateFormat: opts.DateFormat,
			Users:      c.Users,
		},
		tx:       c.Tx,
		preview:  NewPreviewSink(),
		existing: existing,
		dupCodes: make(map[string]struct{}, len(in.DuplicateCodes)),
		dupIDs:   make(map[int64]struct{}),
		logger:   logger,
	}
	for _, code := range in.DuplicateCodes {
		ri.dupCodes[code] = struct{}{}
	}
	_, repeated := RecordIDs(in.Rows, p.idIndex, opts.IDPrefix)
	for _, id := range repeated {
		ri.dupIDs[id] = struct{}{}
	}

	report := &BatchReport{
		Status:   ReportOK,
		Preview:  opts.Preview,
		Changes:  []RecordChange{},
		Outcomes: []RowOutcome{},
	}
	for i, row := range in.Rows {
		if i > 0 && !isEmptyRow(row) {
			report.TotalRows++
		}
	}

	for i, row := range in.Rows {
		if i == 0 || isEmptyRow(row) {
			continue
		}
		if err := ctx.Err(); err != nil {
			logger.Info("import cancelled", "processed", len(report.Outcomes), "total", report.TotalRows)
			c.finalize(report, opts)
			return report, err
		}

		// A started row always finishes; cancellation takes effect between rows.
		outcome := ri.importRow(context.WithoutCancel(ctx), i+1, row)
		switch outcome.Status {
		case StatusCreated:
			report.CreatedRows++
		case StatusUpdated:
			report.UpdatedRows++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	c.finalize(report, opts)
	logger.Info("import finished",
		"total", report.TotalRows,
		"created", report.CreatedRows,
		"updated", report.UpdatedRows,
	)
	return report, nil
}

// finalize serializes the kept rows: every row in preview, attempted rows
// (invalid ones included) when committing.
func (c *Coordinator) finalize(report *BatchReport, opts Options) {
	for _, o := range report.Outcomes {
		if o.record == nil || (!opts.Preview && !o.attempted) {
			continue
		}
		report.Changes = append(report.Changes, SerializeRecord(o.record))
	}
	report.ImportDate = opts.now()
}
