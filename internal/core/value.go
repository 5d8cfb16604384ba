package core

// value.go defines the typed cell values.
//
// Value is a closed union: every implementation lives in this file and the
// unexported clone method keeps other packages from adding variants. Code that
// dispatches on values (coercion, reconciliation, encoding) uses type switches
// that name every variant.

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Value is a typed cell value.
type Value interface {
	// Type returns the column type this value belongs to.
	Type() ColumnType
	// Equal reports whether two values have the same stored representation.
	Equal(other Value) bool
	// String renders the value the way an export would.
	String() string

	clone() Value
}

// TextValue is free text of at most TextMaxLength characters.
type TextValue struct {
	Text string `json:"text"`
}

// NumberValue is a decimal number. Its String form drops a zero fraction.
type NumberValue struct {
	Number decimal.Decimal `json:"number"`
}

// DateValue is a calendar date; only the day is stored.
type DateValue struct {
	Date time.Time `json:"date"`
}

// DateTimeValue is a point in time.
type DateTimeValue struct {
	Time time.Time `json:"time"`
}

// UserValue references a member of the repository's team.
type UserValue struct {
	UserID   int64  `json:"user_id"`
	FullName string `json:"full_name"`
}

// ListValue is one item of a list column.
type ListValue struct {
	ItemID int64  `json:"item_id"`
	Data   string `json:"data"`
}

// StatusValue is one status of a status column.
type StatusValue struct {
	ItemID int64  `json:"item_id"`
	Status string `json:"status"`
	Icon   string `json:"icon,omitempty"`
}

// StockValue is a stored stock amount. Amount always equals the balance of the
// last ledger entry.
type StockValue struct {
	Amount  decimal.Decimal `json:"amount"`
	UnitID  int64           `json:"unit_id,omitempty"`
	Unit    string          `json:"unit,omitempty"`
	Comment string          `json:"comment,omitempty"`

	// Ledger is persisted separately and never rewritten.
	Ledger []LedgerEntry `json:"-"`
}

// LedgerEntry is one append-only balance change of a stock value.
// ID is zero until the entry has been persisted.
type LedgerEntry struct {
	ID          int64
	Amount      decimal.Decimal
	Balance     decimal.Decimal
	Unit        string
	Comment     string
	CreatedByID int64
	CreatedAt   time.Time
}

// StockAdjustment is what a stock cell coerces to: a proposed change that the
// reconciler applies to the current balance. It is never stored.
type StockAdjustment struct {
	Amount   decimal.Decimal
	Relative bool // signed input: Amount is a delta, otherwise the target balance
	UnitID   int64
	Unit     string
	Comment  string
}

func (TextValue) Type() ColumnType       { return ColumnText }
func (NumberValue) Type() ColumnType     { return ColumnNumber }
func (DateValue) Type() ColumnType       { return ColumnDate }
func (DateTimeValue) Type() ColumnType   { return ColumnDateTime }
func (UserValue) Type() ColumnType       { return ColumnUser }
func (ListValue) Type() ColumnType       { return ColumnList }
func (StatusValue) Type() ColumnType     { return ColumnStatus }
func (*StockValue) Type() ColumnType     { return ColumnStock }
func (StockAdjustment) Type() ColumnType { return ColumnStock }

func (v TextValue) Equal(o Value) bool {
	ov, ok := o.(TextValue)
	return ok && ov.Text == v.Text
}

func (v NumberValue) Equal(o Value) bool {
	ov, ok := o.(NumberValue)
	return ok && ov.Number.Equal(v.Number)
}

func (v DateValue) Equal(o Value) bool {
	ov, ok := o.(DateValue)
	return ok && ov.Date.Equal(v.Date)
}

func (v DateTimeValue) Equal(o Value) bool {
	ov, ok := o.(DateTimeValue)
	return ok && ov.Time.Equal(v.Time)
}

func (v UserValue) Equal(o Value) bool {
	ov, ok := o.(UserValue)
	return ok && ov.UserID == v.UserID
}

func (v ListValue) Equal(o Value) bool {
	ov, ok := o.(ListValue)
	return ok && ov.ItemID == v.ItemID
}

func (v StatusValue) Equal(o Value) bool {
	ov, ok := o.(StatusValue)
	return ok && ov.ItemID == v.ItemID
}

func (v *StockValue) Equal(o Value) bool {
	ov, ok := o.(*StockValue)
	return ok && ov.Amount.Equal(v.Amount) && ov.UnitID == v.UnitID
}

func (v StockAdjustment) Equal(o Value) bool {
	ov, ok := o.(StockAdjustment)
	return ok && ov.Amount.Equal(v.Amount) && ov.Relative == v.Relative &&
		ov.UnitID == v.UnitID && ov.Comment == v.Comment
}

func (v TextValue) String() string     { return v.Text }
func (v NumberValue) String() string   { return v.Number.String() }
func (v DateValue) String() string     { return v.Date.Format("2006-01-02") }
func (v DateTimeValue) String() string { return v.Time.Format("2006-01-02 15:04") }
func (v UserValue) String() string     { return v.FullName }
func (v ListValue) String() string     { return v.Data }
func (v StatusValue) String() string   { return v.Status }

func (v *StockValue) String() string {
	if v.Unit == "" {
		return v.Amount.String()
	}
	return v.Amount.String() + " " + v.Unit
}

func (v StockAdjustment) String() string {
	s := v.Amount.String()
	if v.Relative && v.Amount.IsPositive() {
		s = "+" + s
	}
	if v.Unit != "" {
		s += " " + v.Unit
	}
	return s
}

func (v TextValue) clone() Value       { return v }
func (v NumberValue) clone() Value     { return v }
func (v DateValue) clone() Value       { return v }
func (v DateTimeValue) clone() Value   { return v }
func (v UserValue) clone() Value       { return v }
func (v ListValue) clone() Value       { return v }
func (v StatusValue) clone() Value     { return v }
func (v StockAdjustment) clone() Value { return v }

func (v *StockValue) clone() Value {
	cp := *v
	cp.Ledger = append([]LedgerEntry(nil), v.Ledger...)
	return &cp
}

// EncodeValue serializes a stored value for persistence.
func EncodeValue(v Value) ([]byte, error) {
	switch v.(type) {
	case TextValue, NumberValue, DateValue, DateTimeValue, UserValue, ListValue, StatusValue, *StockValue:
		return json.Marshal(v)
	case StockAdjustment:
		return nil, fmt.Errorf("encode value: stock adjustment is not storable")
	default:
		return nil, fmt.Errorf("encode value: unsupported %T", v)
	}
}

// DecodeValue restores a stored value of the given column type.
func DecodeValue(t ColumnType, data []byte) (Value, error) {
	var (
		v   Value
		err error
	)
	switch t {
	case ColumnText:
		var tv TextValue
		err = json.Unmarshal(data, &tv)
		v = tv
	case ColumnNumber:
		var nv NumberValue
		err = json.Unmarshal(data, &nv)
		v = nv
	case ColumnDate:
		var dv DateValue
		err = json.Unmarshal(data, &dv)
		v = dv
	case ColumnDateTime:
		var dv DateTimeValue
		err = json.Unmarshal(data, &dv)
		v = dv
	case ColumnUser:
		var uv UserValue
		err = json.Unmarshal(data, &uv)
		v = uv
	case ColumnList:
		var lv ListValue
		err = json.Unmarshal(data, &lv)
		v = lv
	case ColumnStatus:
		var sv StatusValue
		err = json.Unmarshal(data, &sv)
		v = sv
	case ColumnStock:
		sv := &StockValue{}
		err = json.Unmarshal(data, sv)
		v = sv
	default:
		return nil, fmt.Errorf("decode value: unsupported column type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s value: %w", t, err)
	}
	return v, nil
}
