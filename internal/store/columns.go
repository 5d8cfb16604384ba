package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/repoimport/internal/core"
)

const getRepository = `
SELECT team_id FROM repositories
WHERE id = $1 AND archived = false`

const listColumns = `
SELECT id, name, data_type, decimals
FROM repository_columns
WHERE repository_id = $1
ORDER BY position, id`

const listColumnItems = `
SELECT i.column_id, i.id, i.kind, i.data, i.icon
FROM column_items i
JOIN repository_columns c ON c.id = i.column_id
WHERE c.repository_id = $1
ORDER BY i.position, i.id`

// ImportableSchema returns the importable columns of a repository together
// with their controlled vocabularies.
func (s *Store) ImportableSchema(ctx context.Context, repositoryID int64) (core.Schema, error) {
	schema := core.Schema{RepositoryID: repositoryID}

	if err := s.pool.QueryRow(ctx, getRepository, repositoryID).Scan(&schema.TeamID); err != nil {
		if IsNoRows(err) {
			return core.Schema{}, fmt.Errorf("repository %d: %w", repositoryID, core.ErrRepositoryNotFound)
		}
		return core.Schema{}, fmt.Errorf("get repository: %w", err)
	}

	rows, err := s.pool.Query(ctx, listColumns, repositoryID)
	if err != nil {
		return core.Schema{}, fmt.Errorf("list columns: %w", err)
	}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			col      core.ColumnDefinition
			dataType string
		)
		if err := rows.Scan(&col.ID, &col.Name, &dataType, &col.Decimals); err != nil {
			rows.Close()
			return core.Schema{}, fmt.Errorf("scan column: %w", err)
		}
		col.Type = core.ColumnType(dataType)
		if !col.Type.Importable() {
			continue
		}
		index[col.ID] = len(schema.Columns)
		schema.Columns = append(schema.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.Schema{}, fmt.Errorf("list columns: %w", err)
	}

	rows, err = s.pool.Query(ctx, listColumnItems, repositoryID)
	if err != nil {
		return core.Schema{}, fmt.Errorf("list column items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			columnID, id     int64
			kind, data, icon string
		)
		if err := rows.Scan(&columnID, &id, &kind, &data, &icon); err != nil {
			return core.Schema{}, fmt.Errorf("scan column item: %w", err)
		}
		i, ok := index[columnID]
		if !ok {
			continue
		}
		addColumnItem(&schema.Columns[i], kind, id, data, icon)
	}
	if err := rows.Err(); err != nil {
		return core.Schema{}, fmt.Errorf("list column items: %w", err)
	}
	return schema, nil
}

func addColumnItem(col *core.ColumnDefinition, kind string, id int64, data, icon string) {
	switch kind {
	case "list":
		col.ListItems = append(col.ListItems, core.ListItem{ID: id, Data: data})
	case "status":
		col.StatusItems = append(col.StatusItems, core.StatusItem{ID: id, Status: data, Icon: icon})
	case "unit":
		col.StockUnits = append(col.StockUnits, core.StockUnit{ID: id, Data: data})
	}
}
