package core

import (
	"sort"
	"strconv"
)

// RecordChange is the rendering-ready shape of one imported row.
type RecordChange struct {
	ID            string     `json:"id"`
	Code          string     `json:"code,omitempty"`
	Name          string     `json:"name"`
	Archived      bool       `json:"archived"`
	ImportStatus  RowStatus  `json:"import_status"`
	ImportMessage string     `json:"import_message,omitempty"`
	Values        []CellView `json:"cells"`
}

// CellView is the rendering-ready shape of one cell.
type CellView struct {
	ID        string     `json:"id"`
	ColumnID  int64      `json:"column_id"`
	DataType  ColumnType `json:"data_type"`
	Value     any        `json:"value"`
	ToDestroy bool       `json:"to_destroy,omitempty"`
}

type itemView struct {
	ID   int64  `json:"id"`
	Data string `json:"data"`
}

type userView struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

type statusView struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Icon   string `json:"icon,omitempty"`
}

type ledgerView struct {
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
	Comment string `json:"comment,omitempty"`
	Unit    string `json:"unit,omitempty"`
}

type stockView struct {
	Amount  string       `json:"amount"`
	Unit    *itemView    `json:"unit"`
	Comment string       `json:"comment,omitempty"`
	Records []ledgerView `json:"records"`
}

// SerializeRecord renders a record and its cells, ordered by column id.
// Records that were never persisted carry their synthetic id.
func SerializeRecord(rec *Record) RecordChange {
	rc := RecordChange{
		ID:            recordKey(rec.ID, rec.SyntheticID),
		Code:          rec.Code,
		Name:          rec.Name,
		Archived:      rec.Archived,
		ImportStatus:  rec.ImportStatus,
		ImportMessage: rec.ImportMessage,
		Values:        []CellView{},
	}

	ids := make([]int64, 0, len(rec.Cells))
	for id := range rec.Cells {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		c := rec.Cells[id]
		if c.Value == nil {
			continue
		}
		rc.Values = append(rc.Values, CellView{
			ID:        recordKey(c.ID, c.SyntheticID),
			ColumnID:  c.ColumnID,
			DataType:  c.Value.Type(),
			Value:     renderValue(c.Value),
			ToDestroy: c.ToDestroy,
		})
	}
	return rc
}

func recordKey(id int64, synthetic string) string {
	if id != 0 {
		return strconv.FormatInt(id, 10)
	}
	return synthetic
}

func renderValue(v Value) any {
	switch v := v.(type) {
	case TextValue:
		return v.Text
	case NumberValue:
		return NormalizeDecimal(v.Number)
	case DateValue, DateTimeValue:
		return v.String()
	case UserValue:
		return userView{ID: v.UserID, FullName: v.FullName}
	case ListValue:
		return itemView{ID: v.ItemID, Data: v.Data}
	case StatusValue:
		return statusView{ID: v.ItemID, Status: v.Status, Icon: v.Icon}
	case *StockValue:
		sv := stockView{
			Amount:  NormalizeDecimal(v.Amount),
			Comment: v.Comment,
			Records: make([]ledgerView, 0, len(v.Ledger)),
		}
		if v.UnitID != 0 {
			sv.Unit = &itemView{ID: v.UnitID, Data: v.Unit}
		}
		for _, e := range v.Ledger {
			sv.Records = append(sv.Records, ledgerView{
				Amount:  NormalizeDecimal(e.Amount),
				Balance: NormalizeDecimal(e.Balance),
				Comment: e.Comment,
				Unit:    e.Unit,
			})
		}
		return sv
	case StockAdjustment:
		return v.String()
	default:
		return nil
	}
}
