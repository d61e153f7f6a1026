package tags

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueBool
	ValueInt
	ValueFloat
	ValueString
)

// Value is a tagged variant over the raw types an upstream update can carry.
// The variant is decided once at ingestion; comparisons and status coercion
// switch on the kind instead of re-testing runtime types.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
}

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: ValueBool, b: b} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{kind: ValueInt, i: i} }

// FloatValue wraps a float.
func FloatValue(f float64) Value { return Value{kind: ValueFloat, f: f} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: ValueString, s: s} }

// Kind returns the variant of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNone reports whether the value is absent.
func (v Value) IsNone() bool { return v.kind == ValueNone }

// Equal compares two values by typed value equality. Numeric values compare
// by numeric value across the int/float variants.
func (v Value) Equal(other Value) bool {
	switch v.kind {
	case ValueNone:
		return other.kind == ValueNone
	case ValueBool:
		return other.kind == ValueBool && v.b == other.b
	case ValueString:
		return other.kind == ValueString && v.s == other.s
	case ValueInt, ValueFloat:
		if other.kind != ValueInt && other.kind != ValueFloat {
			return false
		}
		return v.numeric() == other.numeric()
	default:
		return false
	}
}

// StatusCode interprets a numeric value as a status code. Absent values map
// to the StatusUnknown code, matching a rule evaluation without a result.
func (v Value) StatusCode() (int, bool) {
	switch v.kind {
	case ValueInt:
		return int(v.i), true
	case ValueFloat:
		return int(v.f), true
	case ValueNone:
		return StatusUnknown.Int(), true
	default:
		return 0, false
	}
}

func (v Value) numeric() float64 {
	if v.kind == ValueInt {
		return float64(v.i)
	}
	return v.f
}

func (v Value) String() string {
	switch v.kind {
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueInt:
		return strconv.FormatInt(v.i, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case ValueString:
		return v.s
	default:
		return ""
	}
}

// MarshalJSON encodes the value as the underlying JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueBool:
		return json.Marshal(v.b)
	case ValueInt:
		return json.Marshal(v.i)
	case ValueFloat:
		return json.Marshal(v.f)
	case ValueString:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar, picking the variant once.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*v = Value{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
		return nil
	default:
		if i, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
			*v = IntValue(i)
			return nil
		}
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return errors.New("value: unsupported JSON scalar")
		}
		*v = FloatValue(f)
		return nil
	}
}
