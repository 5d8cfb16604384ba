// Package store is the PostgreSQL implementation of core.Store.
//
// Every import row runs in its own transaction (InTx). The sink handed to the
// row writes records, cells and stock ledger entries through that transaction,
// so a failed row leaves nothing behind.
package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the subset of pgx shared by the pool and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads schemas and records and runs per-row import transactions.
type Store struct {
	pool       *pgxpool.Pool
	codePrefix string
}

var _ core.Store = (*Store)(nil)

// New creates a Store. codePrefix is used for the default code of new
// records ("IT" + id); empty means core.DefaultIDPrefix.
func New(pool *pgxpool.Pool, codePrefix string) *Store {
	if codePrefix == "" {
		codePrefix = core.DefaultIDPrefix
	}
	return &Store{pool: pool, codePrefix: codePrefix}
}

// Migrate creates the tables the importer needs.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
