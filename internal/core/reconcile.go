package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNegativeBalance is returned when a stock change would leave a negative balance.
var ErrNegativeBalance = errors.New("stock balance cannot be negative")

// CellAction is what the row importer must do with a reconciled cell.
type CellAction int

const (
	CellNoop CellAction = iota
	CellCreate
	CellUpdate
	CellDelete
)

func (a CellAction) String() string {
	switch a {
	case CellNoop:
		return "noop"
	case CellCreate:
		return "create"
	case CellUpdate:
		return "update"
	case CellDelete:
		return "delete"
	}
	return "unknown"
}

// CellChange is the reconciler's decision for one (record, column) pair.
type CellChange struct {
	Cell    *Cell // resulting cell; the existing one for CellDelete
	Action  CellAction
	Changed bool
	Err     error
}

// ReconcileOptions carries the row-level settings the reconciler needs.
type ReconcileOptions struct {
	OverwriteWithEmpty bool
	ActorID            int64
	Now                time.Time
}

// ReconcileCell decides how an incoming value changes the existing cell of col.
// incoming is nil for an empty spreadsheet cell. The existing cell is never
// modified; updates return a new cell.
func ReconcileCell(col ColumnDefinition, existing *Cell, incoming Value, opts ReconcileOptions) CellChange {
	if incoming == nil {
		if existing != nil && opts.OverwriteWithEmpty {
			return CellChange{Cell: existing, Action: CellDelete, Changed: true}
		}
		return CellChange{Cell: existing, Action: CellNoop}
	}

	if incoming.Type() != col.Type {
		return CellChange{Cell: existing, Err: fmt.Errorf("value of type %s does not fit a %s column", incoming.Type(), col.Type)}
	}

	switch v := incoming.(type) {
	case StockAdjustment:
		return reconcileStock(col, existing, v, opts)
	case *StockValue:
		return CellChange{Cell: existing, Err: fmt.Errorf("stock values are changed through adjustments")}
	case TextValue, NumberValue, DateValue, DateTimeValue, UserValue, ListValue, StatusValue:
		return reconcileScalar(col, existing, v)
	default:
		return CellChange{Cell: existing, Err: fmt.Errorf("unsupported value %T", incoming)}
	}
}

func reconcileScalar(col ColumnDefinition, existing *Cell, v Value) CellChange {
	if existing == nil {
		return CellChange{
			Cell:    &Cell{ColumnID: col.ID, Value: v},
			Action:  CellCreate,
			Changed: true,
		}
	}
	if existing.Value != nil && existing.Value.Equal(v) {
		return CellChange{Cell: existing, Action: CellNoop}
	}
	updated := *existing
	updated.Value = v
	return CellChange{Cell: &updated, Action: CellUpdate, Changed: true}
}

// reconcileStock applies an adjustment to the current balance, appending one
// ledger entry for the delta.
func reconcileStock(col ColumnDefinition, existing *Cell, adj StockAdjustment, opts ReconcileOptions) CellChange {
	var current *StockValue
	if existing != nil {
		current, _ = existing.Value.(*StockValue)
	}

	balance := decimal.Zero
	unitID, unit := adj.UnitID, adj.Unit
	if current != nil {
		balance = current.Amount
		if unitID == 0 {
			unitID, unit = current.UnitID, current.Unit
		}
	}

	target := adj.Amount
	if adj.Relative {
		target = balance.Add(adj.Amount)
	}
	if target.IsNegative() {
		return CellChange{Cell: existing, Err: fmt.Errorf("%w: %s %s", ErrNegativeBalance, balance.String(), adj.String())}
	}

	delta := target.Sub(balance)
	if current != nil && delta.IsZero() && unitID == current.UnitID {
		return CellChange{Cell: existing, Action: CellNoop}
	}

	next := &StockValue{
		Amount:  target,
		UnitID:  unitID,
		Unit:    unit,
		Comment: adj.Comment,
	}
	if current != nil {
		next.Ledger = append([]LedgerEntry(nil), current.Ledger...)
	}
	next.Ledger = append(next.Ledger, LedgerEntry{
		Amount:      delta,
		Balance:     target,
		Unit:        unit,
		Comment:     adj.Comment,
		CreatedByID: opts.ActorID,
		CreatedAt:   opts.Now,
	})

	if existing == nil {
		return CellChange{Cell: &Cell{ColumnID: col.ID, Value: next}, Action: CellCreate, Changed: true}
	}
	updated := *existing
	updated.Value = next
	return CellChange{Cell: &updated, Action: CellUpdate, Changed: true}
}

// PendingLedger returns the ledger entries of a stock value that have not been persisted.
func PendingLedger(v Value) []LedgerEntry {
	sv, ok := v.(*StockValue)
	if !ok {
		return nil
	}
	var pending []LedgerEntry
	for _, e := range sv.Ledger {
		if e.ID == 0 {
			pending = append(pending, e)
		}
	}
	return pending
}
