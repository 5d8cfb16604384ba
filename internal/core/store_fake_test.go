package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// fakeStore is an in-memory Store. InTx stages writes and only publishes
// them when fn succeeds.
type fakeStore struct {
	mu       sync.Mutex
	schema   Schema
	records  map[int64]*Record
	users    []User
	nextID   int64
	nextCell int64
	nextLedg int64
	writes   int

	// failSave injects a persistence failure for matching records.
	failSave func(rec *Record) error
	// failCell injects a failure for cell writes.
	failCell func(cell *Cell) error
}

func newFakeStore(schema Schema) *fakeStore {
	return &fakeStore{
		schema:  schema,
		records: make(map[int64]*Record),
		nextID:  100,
	}
}

// put stores a record as if it had been created earlier.
func (f *fakeStore) put(rec *Record) *Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == 0 {
		f.nextID++
		rec.ID = f.nextID
	}
	if rec.Code == "" {
		rec.Code = fmt.Sprintf("IT%d", rec.ID)
	}
	rec.RepositoryID = f.schema.RepositoryID
	for _, c := range rec.Cells {
		if c.ID == 0 {
			f.nextCell++
			c.ID = f.nextCell
		}
	}
	f.records[rec.ID] = rec.Clone()
	return rec
}

func (f *fakeStore) get(id int64) *Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil
	}
	return rec.Clone()
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeStore) ImportableSchema(_ context.Context, repositoryID int64) (Schema, error) {
	if repositoryID != f.schema.RepositoryID {
		return Schema{}, fmt.Errorf("repository %d: %w", repositoryID, ErrRepositoryNotFound)
	}
	return f.schema, nil
}

func (f *fakeStore) LoadRecords(_ context.Context, _ int64, ids []int64) (map[int64]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]*Record, len(ids))
	for _, id := range ids {
		if rec, ok := f.records[id]; ok {
			out[id] = rec.Clone()
		}
	}
	return out, nil
}

func (f *fakeStore) DuplicateCodes(_ context.Context, _ int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range f.records {
		counts[rec.Code]++
	}
	var dups []string
	for code, n := range counts {
		if n > 1 {
			dups = append(dups, code)
		}
	}
	return dups, nil
}

func (f *fakeStore) FindUsers(_ context.Context, _ int64, text string) ([]User, error) {
	var out []User
	for _, u := range f.users {
		if strings.EqualFold(u.FullName, text) || strings.EqualFold(u.Email, text) || strconv.FormatInt(u.ID, 10) == text {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, sink RowSink) error) error {
	tx := &fakeTx{store: f, staged: make(map[int64]*Record)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, rec := range tx.staged {
		f.records[id] = rec.Clone()
	}
	f.writes += tx.writes
	return nil
}

type fakeTx struct {
	store  *fakeStore
	staged map[int64]*Record
	writes int
}

func (t *fakeTx) SaveRecord(_ context.Context, rec *Record) error {
	if t.store.failSave != nil {
		if err := t.store.failSave(rec); err != nil {
			return err
		}
	}
	t.store.mu.Lock()
	if rec.IsNew() {
		t.store.nextID++
		rec.ID = t.store.nextID
		rec.Code = fmt.Sprintf("IT%d", rec.ID)
	}
	t.store.mu.Unlock()
	t.staged[rec.ID] = rec
	t.writes++
	return nil
}

func (t *fakeTx) CreateCell(_ context.Context, rec *Record, cell *Cell) error {
	if err := t.cellFailure(cell); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.nextCell++
	cell.ID = t.store.nextCell
	t.store.mu.Unlock()
	t.persistLedger(cell)
	rec.SetCell(cell)
	t.staged[rec.ID] = rec
	t.writes++
	return nil
}

func (t *fakeTx) UpdateCell(_ context.Context, rec *Record, cell *Cell) error {
	if err := t.cellFailure(cell); err != nil {
		return err
	}
	t.persistLedger(cell)
	rec.SetCell(cell)
	t.staged[rec.ID] = rec
	t.writes++
	return nil
}

func (t *fakeTx) cellFailure(cell *Cell) error {
	if t.store.failCell == nil {
		return nil
	}
	return t.store.failCell(cell)
}

func (t *fakeTx) DeleteCell(_ context.Context, rec *Record, cell *Cell) error {
	delete(rec.Cells, cell.ColumnID)
	t.staged[rec.ID] = rec
	t.writes++
	return nil
}

func (t *fakeTx) persistLedger(cell *Cell) {
	sv, ok := cell.Value.(*StockValue)
	if !ok {
		return
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := range sv.Ledger {
		if sv.Ledger[i].ID == 0 {
			t.store.nextLedg++
			sv.Ledger[i].ID = t.store.nextLedg
		}
	}
}
