package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ColumnType is the declared value type of a repository column.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnNumber   ColumnType = "number"
	ColumnDate     ColumnType = "date"
	ColumnDateTime ColumnType = "date_time"
	ColumnUser     ColumnType = "user"
	ColumnList     ColumnType = "list"
	ColumnStatus   ColumnType = "status"
	ColumnStock    ColumnType = "stock"
)

// Importable reports whether values of this type can be imported from a spreadsheet.
func (t ColumnType) Importable() bool {
	switch t {
	case ColumnText, ColumnNumber, ColumnDate, ColumnDateTime,
		ColumnUser, ColumnList, ColumnStatus, ColumnStock:
		return true
	}
	return false
}

// ListItem is one entry of a list column's controlled vocabulary.
type ListItem struct {
	ID   int64  `json:"id"`
	Data string `json:"data"`
}

// StatusItem is one entry of a status column's controlled vocabulary.
type StatusItem struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Icon   string `json:"icon,omitempty"`
}

// StockUnit is a unit a stock column may be measured in.
type StockUnit struct {
	ID   int64  `json:"id"`
	Data string `json:"data"`
}

// ColumnDefinition describes a repository column. It is read-only for the importer.
type ColumnDefinition struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Type        ColumnType   `json:"data_type"`
	Decimals    int          `json:"decimals,omitempty"`     // number columns; 0 keeps input precision
	ListItems   []ListItem   `json:"list_items,omitempty"`   // list columns
	StatusItems []StatusItem `json:"status_items,omitempty"` // status columns
	StockUnits  []StockUnit  `json:"stock_units,omitempty"`  // stock columns
}

// Schema is the set of importable columns of one repository.
type Schema struct {
	RepositoryID int64
	TeamID       int64
	Columns      []ColumnDefinition
}

// Column returns the column with the given id.
func (s Schema) Column(id int64) (ColumnDefinition, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// RawCell is one spreadsheet cell as produced by the tokenizer.
// Number is set when the source cell was numeric (e.g. an XLSX number cell).
type RawCell struct {
	Text   string
	Number *decimal.Decimal
}

// RawRow is one spreadsheet row.
type RawRow []RawCell

// TextRow builds a RawRow from plain strings.
func TextRow(cells ...string) RawRow {
	row := make(RawRow, len(cells))
	for i, c := range cells {
		row[i] = RawCell{Text: c}
	}
	return row
}

// RowStatus is the import outcome of a single row.
type RowStatus string

const (
	StatusCreated    RowStatus = "created"
	StatusUpdated    RowStatus = "updated"
	StatusUnchanged  RowStatus = "unchanged"
	StatusInvalid    RowStatus = "invalid"
	StatusArchived   RowStatus = "archived"
	StatusDuplicated RowStatus = "duplicated"
)

// Cell is the value of one record at one column.
type Cell struct {
	ID       int64
	ColumnID int64
	Value    Value

	// Preview-only fields.
	SyntheticID string
	ToDestroy   bool
}

// Record is a repository row, existing or about to be created.
type Record struct {
	ID               int64
	RepositoryID     int64
	Code             string
	Name             string
	Archived         bool
	CreatedByID      int64
	LastModifiedByID int64
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Cells keyed by column id.
	Cells map[int64]*Cell

	ImportStatus  RowStatus
	ImportMessage string
	SyntheticID   string
}

// IsNew reports whether the record has not been persisted yet.
func (r *Record) IsNew() bool {
	return r.ID == 0
}

// Cell returns the record's cell for a column, or nil.
func (r *Record) Cell(columnID int64) *Cell {
	if r.Cells == nil {
		return nil
	}
	return r.Cells[columnID]
}

// SetCell binds a cell to the record.
func (r *Record) SetCell(c *Cell) {
	if r.Cells == nil {
		r.Cells = make(map[int64]*Cell)
	}
	r.Cells[c.ColumnID] = c
}

// Clone returns a deep copy of the record so preview mutations never leak into
// the caller's data.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Cells = make(map[int64]*Cell, len(r.Cells))
	for id, c := range r.Cells {
		cc := *c
		if c.Value != nil {
			cc.Value = c.Value.clone()
		}
		cp.Cells[id] = &cc
	}
	return &cp
}

// User is an entry in the team directory.
type User struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// SchemaProvider exposes the importable columns of a repository.
type SchemaProvider interface {
	ImportableSchema(ctx context.Context, repositoryID int64) (Schema, error)
}

// RecordSource loads existing records for matching.
type RecordSource interface {
	// LoadRecords returns the records with the given ids, keyed by id.
	// Ids that do not exist are simply absent from the result.
	LoadRecords(ctx context.Context, repositoryID int64, ids []int64) (map[int64]*Record, error)

	// DuplicateCodes returns the codes shared by more than one record of the repository.
	DuplicateCodes(ctx context.Context, repositoryID int64) ([]string, error)
}

// UserDirectory resolves user references for user-typed columns.
type UserDirectory interface {
	// FindUsers returns every team member whose id, full name, or e-mail matches text.
	FindUsers(ctx context.Context, teamID int64, text string) ([]User, error)
}

// TxRunner runs fn inside a single database transaction. Returning an error
// from fn rolls the transaction back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, sink RowSink) error) error
}

// Store is the full persistence surface the Service needs.
type Store interface {
	SchemaProvider
	RecordSource
	UserDirectory
	TxRunner
}
