package core

// importer.go runs a single spreadsheet row end to end.
//
// A row moves through Start -> Matched -> Reconciling -> Finalizing and ends
// either committed or rolled back. Matching may short-circuit (archived,
// duplicated, not found, locked) before any unit of work is opened. Otherwise
// the row's reconciliation and writes happen inside one scope: a store
// transaction when committing, a PreviewSink when previewing. Returning an
// error from the scope rolls back that row only.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MaxNameLength is the longest record name accepted, in runes.
const MaxNameLength = 255

// errRowInvalid aborts a row scope whose cells failed to reconcile.
var errRowInvalid = errors.New("row is invalid")

// Options controls one import batch.
type Options struct {
	// Preview simulates the import without writing anything.
	Preview bool
	// OverwriteWithEmpty clears existing cells whose incoming value is empty.
	OverwriteWithEmpty bool
	// LockExisting reports rows matching existing records as unchanged
	// without touching them.
	LockExisting bool
	// IDPrefix is stripped from identifiers before matching.
	IDPrefix string
	// DateFormat is the Go layout tried first for date cells.
	DateFormat string
	// ActorID is recorded as created_by / last_modified_by.
	ActorID int64
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns options for a committing import.
func DefaultOptions() Options {
	return Options{
		IDPrefix: DefaultIDPrefix,
		Now:      time.Now,
	}
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}

// RowOutcome is the result of importing one spreadsheet row.
type RowOutcome struct {
	Line     int       `json:"line"` // 1-based line in the sheet; the header is line 1
	Status   RowStatus `json:"status"`
	RecordID int64     `json:"record_id,omitempty"`
	Message  string    `json:"message,omitempty"`

	record    *Record
	attempted bool
}

// Record returns the record shape the row produced, if any.
func (o RowOutcome) Record() *Record {
	return o.record
}

type target struct {
	index int
	col   ColumnDefinition
}

// plan is a mapping resolved against a schema.
type plan struct {
	idIndex   int
	nameIndex int
	targets   []target
}

type rowImporter struct {
	schema   Schema
	plan     plan
	opts     Options
	env      CoerceEnv
	tx       TxRunner
	preview  *PreviewSink
	existing map[int64]*Record
	dupCodes map[string]struct{}
	dupIDs   map[int64]struct{}
	logger   *slog.Logger
}

func (ri *rowImporter) importRow(ctx context.Context, line int, row RawRow) RowOutcome {
	match := MatchRow(ri.existing, row, ri.plan.idIndex, ri.opts.IDPrefix)

	switch match.Kind {
	case MatchNotFound:
		rec := ri.shell(row)
		rec.SyntheticID = SyntheticID()
		msg := fmt.Sprintf("Item %s not found", match.ID)
		return ri.finish(line, rec, StatusInvalid, msg, false)
	case MatchExisting:
		rec := match.Record
		switch {
		case ri.opts.LockExisting:
			return ri.finish(line, rec.Clone(), StatusUnchanged, "", false)
		case rec.Archived:
			return ri.finish(line, rec.Clone(), StatusArchived, "", false)
		case ri.isDuplicate(rec):
			return ri.finish(line, rec.Clone(), StatusDuplicated, "", false)
		}
		return ri.reconcileRow(ctx, line, row, rec)
	default:
		return ri.reconcileRow(ctx, line, row, nil)
	}
}

func (ri *rowImporter) isDuplicate(rec *Record) bool {
	if _, ok := ri.dupIDs[rec.ID]; ok {
		return true
	}
	if rec.Code == "" {
		return false
	}
	_, ok := ri.dupCodes[rec.Code]
	return ok
}

// shell builds the record a new row would create.
func (ri *rowImporter) shell(row RawRow) *Record {
	rec := &Record{
		RepositoryID:     ri.schema.RepositoryID,
		CreatedByID:      ri.opts.ActorID,
		LastModifiedByID: ri.opts.ActorID,
		ImportStatus:     StatusCreated,
	}
	if ri.plan.nameIndex >= 0 && ri.plan.nameIndex < len(row) {
		rec.Name = CellText(row[ri.plan.nameIndex])
	}
	return rec
}

func (ri *rowImporter) reconcileRow(ctx context.Context, line int, row RawRow, existing *Record) RowOutcome {
	var rec *Record
	if existing == nil {
		rec = ri.shell(row)
	} else {
		rec = existing.Clone()
	}
	isNew := rec.IsNew()
	now := ri.opts.now()
	ropts := ReconcileOptions{
		OverwriteWithEmpty: ri.opts.OverwriteWithEmpty,
		ActorID:            ri.opts.ActorID,
		Now:                now,
	}

	var (
		errs    []string
		changes []CellChange
		changed bool
		unsaved []*int64
	)

	err := ri.scope(ctx, func(ctx context.Context, sink RowSink) error {
		if !isNew && ri.plan.nameIndex >= 0 && ri.plan.nameIndex < len(row) {
			if name := CellText(row[ri.plan.nameIndex]); name != rec.Name {
				rec.Name = name
				changed = true
			}
		}

		for _, t := range ri.plan.targets {
			raw := ""
			if t.index < len(row) {
				raw = CellText(row[t.index])
			}
			v, err := Coerce(ctx, t.col, raw, ri.env)
			if err != nil {
				errs = append(errs, cellError(t.col, err))
				continue
			}
			ch := ReconcileCell(t.col, rec.Cell(t.col.ID), v, ropts)
			if ch.Err != nil {
				errs = append(errs, cellError(t.col, ch.Err))
				continue
			}
			changed = changed || ch.Changed
			if ch.Action != CellNoop {
				changes = append(changes, ch)
			}
		}

		if err := validateRecord(rec); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return errRowInvalid
		}

		if !isNew && !changed {
			return nil
		}
		if isNew {
			rec.CreatedAt = now
		}
		rec.LastModifiedByID = ri.opts.ActorID
		rec.UpdatedAt = now
		unsaved = unsavedIDs(changes)
		if err := sink.SaveRecord(ctx, rec); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
		for _, ch := range changes {
			if err := applyChange(ctx, sink, rec, ch); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case errors.Is(err, errRowInvalid):
		for _, ch := range changes {
			if ch.Action != CellDelete {
				rec.SetCell(ch.Cell)
			}
		}
		if isNew {
			rec.SyntheticID = SyntheticID()
		}
		return ri.finish(line, rec, StatusInvalid, strings.Join(errs, ", "), true)
	case err != nil:
		ri.logger.Warn("row rolled back", "line", line, "record_id", rec.ID, "error", err)
		if isNew {
			rec.ID = 0
			rec.Code = ""
		}
		for _, id := range unsaved {
			*id = 0
		}
		return ri.finish(line, rec, StatusInvalid, err.Error(), true)
	case isNew:
		return ri.finish(line, rec, StatusCreated, "", true)
	case changed:
		return ri.finish(line, rec, StatusUpdated, "", true)
	default:
		return ri.finish(line, rec, StatusUnchanged, "", true)
	}
}

// scope runs fn in the row's unit of work.
func (ri *rowImporter) scope(ctx context.Context, fn func(ctx context.Context, sink RowSink) error) error {
	if ri.opts.Preview {
		return fn(ctx, ri.preview)
	}
	return ri.tx.InTx(ctx, fn)
}

func (ri *rowImporter) finish(line int, rec *Record, status RowStatus, msg string, attempted bool) RowOutcome {
	rec.ImportStatus = status
	rec.ImportMessage = msg
	return RowOutcome{
		Line:      line,
		Status:    status,
		RecordID:  rec.ID,
		Message:   msg,
		record:    rec,
		attempted: attempted,
	}
}

func applyChange(ctx context.Context, sink RowSink, rec *Record, ch CellChange) error {
	var err error
	switch ch.Action {
	case CellCreate:
		err = sink.CreateCell(ctx, rec, ch.Cell)
	case CellUpdate:
		err = sink.UpdateCell(ctx, rec, ch.Cell)
	case CellDelete:
		err = sink.DeleteCell(ctx, rec, ch.Cell)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s cell %d: %w", ch.Action, ch.Cell.ColumnID, err)
	}
	return nil
}

// unsavedIDs points at the cell and ledger ids a transaction is about to
// assign, so a rollback can clear them again.
func unsavedIDs(changes []CellChange) []*int64 {
	var ids []*int64
	for _, ch := range changes {
		if ch.Action == CellDelete || ch.Cell == nil {
			continue
		}
		if ch.Cell.ID == 0 {
			ids = append(ids, &ch.Cell.ID)
		}
		if sv, ok := ch.Cell.Value.(*StockValue); ok {
			for i := range sv.Ledger {
				if sv.Ledger[i].ID == 0 {
					ids = append(ids, &sv.Ledger[i].ID)
				}
			}
		}
	}
	return ids
}

func cellError(col ColumnDefinition, err error) string {
	return fmt.Sprintf("%s: %v", col.Name, err)
}

func validateRecord(rec *Record) error {
	return validation.ValidateStruct(rec,
		validation.Field(&rec.Name, validation.Required, validation.RuneLength(1, MaxNameLength)),
	)
}
