package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/JonMunkholm/repoimport/internal/logging"
	"github.com/jackc/pgx/v5"
)

const insertRecord = `
INSERT INTO records (repository_id, code, name, archived, created_by_id, last_modified_by_id, created_at, updated_at)
VALUES ($1, $2, $3, false, $4, $5, COALESCE($6, now()), COALESCE($7, now()))
RETURNING id`

const setRecordCode = `UPDATE records SET code = $2 WHERE id = $1`

const updateRecord = `
UPDATE records
SET name = $2, last_modified_by_id = $3, updated_at = COALESCE($4, now())
WHERE id = $1 AND archived = false`

const insertCell = `
INSERT INTO cells (record_id, column_id, value)
VALUES ($1, $2, $3)
RETURNING id`

const updateCell = `UPDATE cells SET value = $2, updated_at = now() WHERE id = $1`

const deleteCell = `DELETE FROM cells WHERE id = $1`

const insertLedgerEntry = `
INSERT INTO stock_ledger (cell_id, amount, balance, unit, comment, created_by_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
RETURNING id`

// InTx runs fn in a transaction. The transaction commits only if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, sink core.RowSink) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logging.FromContext(ctx).Warn("rollback failed", "error", err)
		}
	}()

	if err := fn(ctx, &txSink{db: tx, codePrefix: s.codePrefix}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txSink is the committing core.RowSink.
type txSink struct {
	db         DBTX
	codePrefix string
}

func (t *txSink) SaveRecord(ctx context.Context, rec *core.Record) error {
	if !rec.IsNew() {
		tag, err := t.db.Exec(ctx, updateRecord, rec.ID, rec.Name, rec.LastModifiedByID, toPgTimestamptz(rec.UpdatedAt))
		if err != nil {
			return describeWriteError("update record", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update record %d: record is missing or archived", rec.ID)
		}
		return nil
	}

	var id int64
	err := t.db.QueryRow(ctx, insertRecord,
		rec.RepositoryID,
		rec.Code,
		rec.Name,
		rec.CreatedByID,
		rec.LastModifiedByID,
		toPgTimestamptz(rec.CreatedAt),
		toPgTimestamptz(rec.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return describeWriteError("insert record", err)
	}
	rec.ID = id

	if rec.Code == "" {
		rec.Code = fmt.Sprintf("%s%d", t.codePrefix, id)
		if _, err := t.db.Exec(ctx, setRecordCode, id, rec.Code); err != nil {
			return describeWriteError("set record code", err)
		}
	}
	return nil
}

func (t *txSink) CreateCell(ctx context.Context, rec *core.Record, cell *core.Cell) error {
	data, err := core.EncodeValue(cell.Value)
	if err != nil {
		return err
	}
	if err := t.db.QueryRow(ctx, insertCell, rec.ID, cell.ColumnID, data).Scan(&cell.ID); err != nil {
		return describeWriteError("insert cell", err)
	}
	if err := t.appendLedger(ctx, cell); err != nil {
		return err
	}
	rec.SetCell(cell)
	return nil
}

func (t *txSink) UpdateCell(ctx context.Context, rec *core.Record, cell *core.Cell) error {
	data, err := core.EncodeValue(cell.Value)
	if err != nil {
		return err
	}
	if _, err := t.db.Exec(ctx, updateCell, cell.ID, data); err != nil {
		return describeWriteError("update cell", err)
	}
	if err := t.appendLedger(ctx, cell); err != nil {
		return err
	}
	rec.SetCell(cell)
	return nil
}

func (t *txSink) DeleteCell(ctx context.Context, rec *core.Record, cell *core.Cell) error {
	if _, err := t.db.Exec(ctx, deleteCell, cell.ID); err != nil {
		return describeWriteError("delete cell", err)
	}
	delete(rec.Cells, cell.ColumnID)
	return nil
}

// appendLedger inserts the unsaved ledger entries of a stock cell.
func (t *txSink) appendLedger(ctx context.Context, cell *core.Cell) error {
	sv, ok := cell.Value.(*core.StockValue)
	if !ok {
		return nil
	}
	for i := range sv.Ledger {
		e := &sv.Ledger[i]
		if e.ID != 0 {
			continue
		}
		err := t.db.QueryRow(ctx, insertLedgerEntry,
			cell.ID,
			toPgNumeric(e.Amount),
			toPgNumeric(e.Balance),
			toPgText(e.Unit),
			toPgText(e.Comment),
			e.CreatedByID,
			toPgTimestamptz(e.CreatedAt),
		).Scan(&e.ID)
		if err != nil {
			return describeWriteError("insert ledger entry", err)
		}
	}
	return nil
}
