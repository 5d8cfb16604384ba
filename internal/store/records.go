package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/jackc/pgx/v5/pgtype"
)

const listRecordsByID = `
SELECT id, repository_id, code, name, archived, created_by_id, last_modified_by_id, created_at, updated_at
FROM records
WHERE repository_id = $1 AND id = ANY($2)`

const listCells = `
SELECT c.id, c.record_id, c.column_id, col.data_type, c.value
FROM cells c
JOIN repository_columns col ON col.id = c.column_id
WHERE c.record_id = ANY($1)`

const listLedger = `
SELECT id, cell_id, amount, balance, unit, comment, created_by_id, created_at
FROM stock_ledger
WHERE cell_id = ANY($1)
ORDER BY cell_id, id`

const listDuplicateCodes = `
SELECT code FROM records
WHERE repository_id = $1 AND code <> ''
GROUP BY code
HAVING count(*) > 1
ORDER BY code`

// LoadRecords returns the records of a repository with the given ids,
// including their cells and stock ledgers.
func (s *Store) LoadRecords(ctx context.Context, repositoryID int64, ids []int64) (map[int64]*core.Record, error) {
	out := make(map[int64]*core.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, listRecordsByID, repositoryID, ids)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	for rows.Next() {
		var (
			rec                  core.Record
			createdAt, updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&rec.ID, &rec.RepositoryID, &rec.Code, &rec.Name, &rec.Archived,
			&rec.CreatedByID, &rec.LastModifiedByID, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.CreatedAt = createdAt.Time
		rec.UpdatedAt = updatedAt.Time
		rec.Cells = make(map[int64]*core.Cell)
		out[rec.ID] = &rec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	found := make([]int64, 0, len(out))
	for id := range out {
		found = append(found, id)
	}
	stocks, err := s.loadCells(ctx, found, out)
	if err != nil {
		return nil, err
	}
	if err := s.loadLedger(ctx, stocks); err != nil {
		return nil, err
	}
	return out, nil
}

// loadCells attaches decoded cells to records and returns the stock values by cell id.
func (s *Store) loadCells(ctx context.Context, recordIDs []int64, records map[int64]*core.Record) (map[int64]*core.StockValue, error) {
	rows, err := s.pool.Query(ctx, listCells, recordIDs)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	stocks := make(map[int64]*core.StockValue)
	for rows.Next() {
		var (
			cell     core.Cell
			recordID int64
			dataType string
			raw      []byte
		)
		if err := rows.Scan(&cell.ID, &recordID, &cell.ColumnID, &dataType, &raw); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		v, err := core.DecodeValue(core.ColumnType(dataType), raw)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", cell.ID, err)
		}
		cell.Value = v
		if sv, ok := v.(*core.StockValue); ok {
			stocks[cell.ID] = sv
		}
		if rec, ok := records[recordID]; ok {
			rec.SetCell(&cell)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	return stocks, nil
}

func (s *Store) loadLedger(ctx context.Context, stocks map[int64]*core.StockValue) error {
	if len(stocks) == 0 {
		return nil
	}
	cellIDs := make([]int64, 0, len(stocks))
	for id := range stocks {
		cellIDs = append(cellIDs, id)
	}

	rows, err := s.pool.Query(ctx, listLedger, cellIDs)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entry           core.LedgerEntry
			cellID          int64
			amount, balance pgtype.Numeric
			createdAt       pgtype.Timestamptz
		)
		if err := rows.Scan(&entry.ID, &cellID, &amount, &balance, &entry.Unit, &entry.Comment,
			&entry.CreatedByID, &createdAt); err != nil {
			return fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Amount = fromPgNumeric(amount)
		entry.Balance = fromPgNumeric(balance)
		entry.CreatedAt = createdAt.Time
		sv := stocks[cellID]
		sv.Ledger = append(sv.Ledger, entry)
	}
	return rows.Err()
}

// DuplicateCodes returns codes used by more than one record of the repository.
func (s *Store) DuplicateCodes(ctx context.Context, repositoryID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, listDuplicateCodes, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list duplicate codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan duplicate code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list duplicate codes: %w", err)
	}
	return codes, nil
}
