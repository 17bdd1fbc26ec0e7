// Package types describes column types and converts values between the
// application and the database driver.
//
// A Type is a base Kind plus options. Behavior is chosen by switching on
// the kind rather than by type hierarchies:
//
//	types.String(255)
//	types.Numeric(10, 2)
//	types.MsgPack() // mutable, compared by encoding
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind is the base kind of a column type.
type Kind uint8

// Column kinds.
const (
	KindNull Kind = iota
	KindInteger
	KindBigInteger
	KindSmallInteger
	KindString
	KindText
	KindBoolean
	KindFloat
	KindNumeric
	KindDate
	KindDateTime
	KindTime
	KindBinary
	KindUUID
	KindJSON
	KindMsgPack
	KindEnum
)

var kindNames = [...]string{
	KindNull:         "null",
	KindInteger:      "integer",
	KindBigInteger:   "biginteger",
	KindSmallInteger: "smallinteger",
	KindString:       "string",
	KindText:         "text",
	KindBoolean:      "boolean",
	KindFloat:        "float",
	KindNumeric:      "numeric",
	KindDate:         "date",
	KindDateTime:     "datetime",
	KindTime:         "time",
	KindBinary:       "binary",
	KindUUID:         "uuid",
	KindJSON:         "json",
	KindMsgPack:      "msgpack",
	KindEnum:         "enum",
}

// String returns the catalog name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Type is a column type descriptor.
type Type struct {
	Kind      Kind
	Length    int
	Precision int
	Scale     int
	Timezone  bool
	Enums     []string
}

// Constructors for the supported kinds.
func Null() Type                    { return Type{Kind: KindNull} }
func Integer() Type                 { return Type{Kind: KindInteger} }
func BigInteger() Type              { return Type{Kind: KindBigInteger} }
func SmallInteger() Type            { return Type{Kind: KindSmallInteger} }
func String(length int) Type        { return Type{Kind: KindString, Length: length} }
func Text() Type                    { return Type{Kind: KindText} }
func Boolean() Type                 { return Type{Kind: KindBoolean} }
func Float() Type                   { return Type{Kind: KindFloat} }
func Numeric(precision, scale int) Type {
	return Type{Kind: KindNumeric, Precision: precision, Scale: scale}
}
func Date() Type                  { return Type{Kind: KindDate} }
func DateTime(timezone bool) Type { return Type{Kind: KindDateTime, Timezone: timezone} }
func Time() Type                  { return Type{Kind: KindTime} }
func Binary(length int) Type      { return Type{Kind: KindBinary, Length: length} }
func UUID() Type                  { return Type{Kind: KindUUID} }
func JSON() Type                  { return Type{Kind: KindJSON} }
func MsgPack() Type               { return Type{Kind: KindMsgPack} }
func Enum(values ...string) Type  { return Type{Kind: KindEnum, Enums: values} }

// String returns a readable form of the type, e.g. "string(255)".
func (t Type) String() string {
	switch {
	case t.Kind == KindNumeric && t.Precision > 0:
		return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
	case t.Kind == KindEnum:
		return "enum(" + strings.Join(t.Enums, ",") + ")"
	case t.Kind == KindDateTime && t.Timezone:
		return "timestamptz"
	case t.Length > 0:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Length)
	}
	return t.Kind.String()
}

// Equal reports whether two descriptors describe the same type.
func (t Type) Equal(o Type) bool {
	return t.Kind == o.Kind && t.Length == o.Length && t.Precision == o.Precision &&
		t.Scale == o.Scale && t.Timezone == o.Timezone && slicesEqual(t.Enums, o.Enums)
}

// IsInteger reports whether the type holds integers, which makes it
// eligible for autoincrement.
func (t Type) IsInteger() bool {
	switch t.Kind {
	case KindInteger, KindBigInteger, KindSmallInteger:
		return true
	}
	return false
}

// Mutable reports whether values of this type can be changed in place,
// so that change detection must compare against a copy.
func (t Type) Mutable() bool {
	switch t.Kind {
	case KindJSON, KindMsgPack, KindBinary:
		return true
	}
	return false
}

// Copy returns a deep copy of v for mutable types and v itself otherwise.
func (t Type) Copy(v any) any {
	if v == nil || !t.Mutable() {
		return v
	}
	if b, ok := v.([]byte); ok {
		return bytes.Clone(b)
	}
	enc, err := encode(v)
	if err != nil {
		return v
	}
	out := reflect.New(reflect.TypeOf(v))
	if err := msgpack.Unmarshal(enc, out.Interface()); err != nil {
		return v
	}
	return out.Elem().Interface()
}

// Compare reports whether a and b are equal values of this type. Mutable
// values are compared by their encoded form.
func (t Type) Compare(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch t.Kind {
	case KindBinary:
		ab, aok := a.([]byte)
		bb, bok := b.([]byte)
		if aok && bok {
			return bytes.Equal(ab, bb)
		}
	case KindJSON, KindMsgPack:
		ea, err1 := encode(a)
		eb, err2 := encode(b)
		if err1 == nil && err2 == nil {
			return bytes.Equal(ea, eb)
		}
		return reflect.DeepEqual(a, b)
	case KindNumeric:
		da, aok := a.(decimal.Decimal)
		db, bok := b.(decimal.Decimal)
		if aok && bok {
			return da.Equal(db)
		}
	case KindDate, KindDateTime, KindTime:
		ta, aok := a.(time.Time)
		tb, bok := b.(time.Time)
		if aok && bok {
			return ta.Equal(tb)
		}
	}
	if ia, ok := toInt64(a); ok {
		if ib, ok := toInt64(b); ok {
			return ia == ib
		}
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Bind converts an application value into a driver value.
func (t Type) Bind(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String(), nil
		case string:
			if _, err := uuid.Parse(u); err != nil {
				return nil, fmt.Errorf("types: invalid uuid %q: %w", u, err)
			}
			return u, nil
		}
	case KindNumeric:
		switch d := v.(type) {
		case decimal.Decimal:
			return d.String(), nil
		case string:
			if _, err := decimal.NewFromString(d); err != nil {
				return nil, fmt.Errorf("types: invalid numeric %q: %w", d, err)
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(d).String(), nil
		}
	case KindJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("types: encode json: %w", err)
		}
		return string(b), nil
	case KindMsgPack:
		b, err := encode(v)
		if err != nil {
			return nil, fmt.Errorf("types: encode msgpack: %w", err)
		}
		return b, nil
	case KindEnum:
		s := fmt.Sprint(v)
		if len(t.Enums) > 0 && !contains(t.Enums, s) {
			return nil, fmt.Errorf("types: %q is not a valid enum value", s)
		}
		return s, nil
	case KindInteger, KindBigInteger, KindSmallInteger:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	}
	return v, nil
}

// Result converts a driver value into an application value.
func (t Type) Result(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindInteger, KindBigInteger, KindSmallInteger:
		switch x := v.(type) {
		case []byte:
			return strconv.ParseInt(string(x), 10, 64)
		case string:
			return strconv.ParseInt(x, 10, 64)
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		}
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case KindString, KindText, KindEnum:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
	case KindBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case []byte:
			return strconv.ParseBool(string(x))
		case string:
			return strconv.ParseBool(x)
		}
		if i, ok := toInt64(v); ok {
			return i != 0, nil
		}
	case KindFloat:
		switch x := v.(type) {
		case []byte:
			return strconv.ParseFloat(string(x), 64)
		case string:
			return strconv.ParseFloat(x, 64)
		case float32:
			return float64(x), nil
		}
		if i, ok := toInt64(v); ok {
			return float64(i), nil
		}
	case KindNumeric:
		switch x := v.(type) {
		case []byte:
			return decimal.NewFromString(string(x))
		case string:
			return decimal.NewFromString(x)
		case float64:
			return decimal.NewFromFloat(x), nil
		case int64:
			return decimal.NewFromInt(x), nil
		}
	case KindUUID:
		switch x := v.(type) {
		case []byte:
			if len(x) == 16 {
				return uuid.FromBytes(x)
			}
			return uuid.ParseBytes(x)
		case string:
			return uuid.Parse(x)
		}
	case KindJSON:
		var raw []byte
		switch x := v.(type) {
		case []byte:
			raw = x
		case string:
			raw = []byte(x)
		default:
			return v, nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("types: decode json: %w", err)
		}
		return out, nil
	case KindMsgPack:
		var raw []byte
		switch x := v.(type) {
		case []byte:
			raw = x
		case string:
			raw = []byte(x)
		default:
			return v, nil
		}
		var out any
		if err := msgpack.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("types: decode msgpack: %w", err)
		}
		return out, nil
	case KindBinary:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
		if b, ok := v.([]byte); ok {
			return bytes.Clone(b), nil
		}
	case KindDate, KindDateTime, KindTime:
		switch x := v.(type) {
		case []byte:
			return parseTime(string(x))
		case string:
			return parseTime(x)
		}
	}
	return v, nil
}

// encode returns a deterministic msgpack encoding of v.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("types: unrecognized time value %q", s)
}

// toInt64 converts any Go integer value to int64.
func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), true
		}
	}
	return 0, false
}

// ToInt64 converts any Go integer value to int64.
func ToInt64(v any) (int64, bool) { return toInt64(v) }

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
