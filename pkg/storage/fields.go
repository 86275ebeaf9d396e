package storage

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"math/big"
	"sort"
	"strconv"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/shopspring/decimal"
)

// Fields is a row of column values. Canonical value types per column type are:
// text string, integer int64, bool bool, numeric decimal.Decimal, felt starknet.Felt.
type Fields map[string]any

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	return maps.Clone(f)
}

// Merge applies changes on top of f, field by field, and returns the result.
// Fields absent from changes keep their previous value.
func (f Fields) Merge(changes Fields) Fields {
	out := f.Clone()
	maps.Copy(out, changes)
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Felt returns a felt field or the zero felt.
func (f Fields) Felt(name string) starknet.Felt {
	v, _ := f[name].(starknet.Felt)
	return v
}

// Text returns a text field or "".
func (f Fields) Text(name string) string {
	v, _ := f[name].(string)
	return v
}

// Bool returns a bool field or false.
func (f Fields) Bool(name string) bool {
	v, _ := f[name].(bool)
	return v
}

// Int returns an integer field or 0.
func (f Fields) Int(name string) int64 {
	v, _ := f[name].(int64)
	return v
}

// Decimal returns a numeric field or zero.
func (f Fields) Decimal(name string) decimal.Decimal {
	v, _ := f[name].(decimal.Decimal)
	return v
}

// NormalizeRow converts raw column values (as scanned from a database or decoded
// from JSON) to canonical types. Columns not declared on t are rejected.
func NormalizeRow(t Table, raw map[string]any) (Fields, error) {
	out := make(Fields, len(raw))
	for name, v := range raw {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("table %s has no column %q", t.Name, name)
		}

		nv, err := NormalizeValue(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", t.Name, name, err)
		}
		out[name] = nv
	}
	return out, nil
}

// NormalizeValue converts v to the canonical Go type of typ. nil stays nil.
func NormalizeValue(typ ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch typ {
	case ColumnText:
		switch x := v.(type) {
		case string:
			return x, nil
		case fmt.Stringer:
			return x.String(), nil
		}
	case ColumnInteger:
		return toInt64(v)
	case ColumnBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(x)
		default:
			n, err := toInt64(v)
			if err != nil {
				return nil, err
			}
			return n != 0, nil
		}
	case ColumnNumeric:
		switch x := v.(type) {
		case decimal.Decimal:
			return x, nil
		case *big.Int:
			return decimal.NewFromBigInt(x, 0), nil
		case string:
			return decimal.NewFromString(x)
		case json.Number:
			return decimal.NewFromString(x.String())
		default:
			n, err := toInt64(v)
			if err != nil {
				return nil, err
			}
			return decimal.NewFromInt(n), nil
		}
	case ColumnFelt:
		switch x := v.(type) {
		case starknet.Felt:
			return x, nil
		case string:
			return starknet.FeltFromHex(x)
		case *big.Int:
			return starknet.FeltFromBig(x)
		}
	default:
		return nil, fmt.Errorf("unknown column type %q", typ)
	}

	return nil, fmt.Errorf("cannot convert %T to %s", v, typ)
}

// SQLValue converts a canonical value to what SQL drivers store for typ.
// Felts are stored as padded hex so equality filters and ordering work on text.
func SQLValue(typ ColumnType, v any) (any, error) {
	nv, err := NormalizeValue(typ, v)
	if err != nil || nv == nil {
		return nil, err
	}

	switch x := nv.(type) {
	case decimal.Decimal:
		return x.String(), nil
	case starknet.Felt:
		return x.PaddedHex(), nil
	default:
		return x, nil
	}
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("value %v is not an integer", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		return strconv.ParseInt(x, 10, 64)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", v)
	}
}
