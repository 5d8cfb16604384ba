package core

// coerce.go converts raw cell text into typed values, one handler per column type.
//
// Coercers are pure apart from user lookups, which go through the caller's
// UserDirectory. Malformed input yields an error wrapping ErrUnparseable;
// empty input yields a nil value and no error.

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TextMaxLength is the longest text value a text column accepts, in runes.
const TextMaxLength = 10000

// ErrUnparseable is returned when raw text cannot be coerced to a column's type.
var ErrUnparseable = errors.New("incorrect format")

// CoerceEnv carries the per-batch context coercers need.
type CoerceEnv struct {
	TeamID     int64
	DateFormat string // Go layout preferred for dates, e.g. "02/01/2006"
	Users      UserDirectory
}

// Coerce converts raw text into a value for column.
func Coerce(ctx context.Context, col ColumnDefinition, raw string, env CoerceEnv) (Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	switch col.Type {
	case ColumnText:
		return coerceText(raw)
	case ColumnNumber:
		return coerceNumber(col, raw)
	case ColumnDate:
		t, ok := ParseDate(raw, env.DateFormat)
		if !ok {
			return nil, unparseable(raw)
		}
		return DateValue{Date: t}, nil
	case ColumnDateTime:
		t, ok := ParseDateTime(raw, env.DateFormat)
		if !ok {
			return nil, unparseable(raw)
		}
		return DateTimeValue{Time: t}, nil
	case ColumnUser:
		return coerceUser(ctx, raw, env)
	case ColumnList:
		return coerceList(col, raw)
	case ColumnStatus:
		return coerceStatus(col, raw)
	case ColumnStock:
		return coerceStock(col, raw)
	default:
		return nil, fmt.Errorf("column %d: type %q is not importable", col.ID, col.Type)
	}
}

func unparseable(raw string) error {
	return fmt.Errorf("%w: %q", ErrUnparseable, raw)
}

func coerceText(raw string) (Value, error) {
	if utf8.RuneCountInString(raw) > TextMaxLength {
		return nil, fmt.Errorf("%w: text longer than %d characters", ErrUnparseable, TextMaxLength)
	}
	return TextValue{Text: raw}, nil
}

func coerceNumber(col ColumnDefinition, raw string) (Value, error) {
	d, ok := ParseNumber(raw)
	if !ok {
		return nil, unparseable(raw)
	}
	if col.Decimals > 0 {
		d = d.Round(int32(col.Decimals))
	}
	return NumberValue{Number: d}, nil
}

func coerceUser(ctx context.Context, raw string, env CoerceEnv) (Value, error) {
	if env.Users == nil {
		return nil, fmt.Errorf("%w: no user directory", ErrUnparseable)
	}
	users, err := env.Users.FindUsers(ctx, env.TeamID, raw)
	if err != nil {
		return nil, fmt.Errorf("resolve user %q: %w", raw, err)
	}
	switch len(users) {
	case 0:
		return nil, fmt.Errorf("%w: no user matches %q", ErrUnparseable, raw)
	case 1:
		return UserValue{UserID: users[0].ID, FullName: users[0].FullName}, nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d users", ErrUnparseable, raw, len(users))
	}
}

func coerceList(col ColumnDefinition, raw string) (Value, error) {
	for _, item := range col.ListItems {
		if strings.EqualFold(strings.TrimSpace(item.Data), raw) {
			return ListValue{ItemID: item.ID, Data: item.Data}, nil
		}
	}
	return nil, unparseable(raw)
}

func coerceStatus(col ColumnDefinition, raw string) (Value, error) {
	for _, item := range col.StatusItems {
		if strings.EqualFold(strings.TrimSpace(item.Status), raw) {
			return StatusValue{ItemID: item.ID, Status: item.Status, Icon: item.Icon}, nil
		}
	}
	return nil, unparseable(raw)
}

// coerceStock parses "AMOUNT [UNIT][; COMMENT]". A leading sign makes the
// amount a relative delta; otherwise it is the target balance.
func coerceStock(col ColumnDefinition, raw string) (Value, error) {
	body, comment, _ := strings.Cut(raw, ";")
	comment = strings.TrimSpace(comment)

	fields := strings.Fields(body)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, unparseable(raw)
	}

	amountText := fields[0]
	d, ok := ParseNumber(amountText)
	if !ok {
		return nil, unparseable(raw)
	}

	adj := StockAdjustment{
		Amount:   d,
		Relative: strings.HasPrefix(amountText, "+") || strings.HasPrefix(amountText, "-"),
		Comment:  comment,
	}

	if !adj.Relative && d.IsNegative() {
		return nil, fmt.Errorf("%w: negative stock amount %q", ErrUnparseable, raw)
	}

	if len(fields) == 2 {
		unit, ok := findStockUnit(col, fields[1])
		if !ok {
			return nil, fmt.Errorf("%w: unknown unit %q", ErrUnparseable, fields[1])
		}
		adj.UnitID = unit.ID
		adj.Unit = unit.Data
	}
	return adj, nil
}

func findStockUnit(col ColumnDefinition, text string) (StockUnit, bool) {
	for _, u := range col.StockUnits {
		if strings.EqualFold(u.Data, text) {
			return u, true
		}
	}
	if id, err := strconv.ParseInt(text, 10, 64); err == nil {
		for _, u := range col.StockUnits {
			if u.ID == id {
				return u, true
			}
		}
	}
	return StockUnit{}, false
}
