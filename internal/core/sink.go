package core

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// RowSink receives the writes of one row. The committing implementation lives
// in the store and writes inside the row's transaction; PreviewSink keeps
// everything in memory. The row importer drives both through the same code path.
type RowSink interface {
	// SaveRecord inserts a new record (assigning its ID) or updates an existing one.
	SaveRecord(ctx context.Context, rec *Record) error
	// CreateCell persists a new cell of rec, including its initial ledger entries.
	CreateCell(ctx context.Context, rec *Record, cell *Cell) error
	// UpdateCell persists a changed cell value and appends unsaved ledger entries.
	UpdateCell(ctx context.Context, rec *Record, cell *Cell) error
	// DeleteCell removes a cell from rec.
	DeleteCell(ctx context.Context, rec *Record, cell *Cell) error
}

// PreviewSink is the in-memory RowSink used for dry runs. It never touches
// the store; new records and cells get synthetic ids so they can be rendered.
type PreviewSink struct{}

// NewPreviewSink creates a preview sink.
func NewPreviewSink() *PreviewSink {
	return &PreviewSink{}
}

func (p *PreviewSink) SaveRecord(_ context.Context, rec *Record) error {
	if rec.IsNew() && rec.SyntheticID == "" {
		rec.SyntheticID = SyntheticID()
	}
	return nil
}

func (p *PreviewSink) CreateCell(_ context.Context, rec *Record, cell *Cell) error {
	if cell.SyntheticID == "" {
		cell.SyntheticID = SyntheticID()
	}
	rec.SetCell(cell)
	return nil
}

func (p *PreviewSink) UpdateCell(_ context.Context, rec *Record, cell *Cell) error {
	rec.SetCell(cell)
	return nil
}

// DeleteCell marks the cell for destruction instead of removing it, so the
// preview can show what would be cleared.
func (p *PreviewSink) DeleteCell(_ context.Context, rec *Record, cell *Cell) error {
	cp := *cell
	cp.ToDestroy = true
	rec.SetCell(&cp)
	return nil
}

// SyntheticID returns a numeric identifier for objects that are never
// persisted. It is derived from a random UUID with every non-digit removed.
func SyntheticID() string {
	id := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, uuid.NewString())
	if id == "" || id[0] == '0' {
		id = "1" + id
	}
	return id
}
