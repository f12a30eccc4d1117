package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
)

// Value is a loosely typed job parameter: an int, float, string or bool.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
}

func IntValue(v int) Value { return Value{kind: KindInt, i: int64(v)} }
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }
func StringValue(v string) Value { return Value{kind: KindString, s: v} }
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsInt converts the value to an int. Whole floats and numeric strings convert.
func (v Value) AsInt() (int, bool) {
	switch v.kind {
	case KindInt:
		return int(v.i), true
	case KindFloat:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) {
			return int(v.f), true
		}
	case KindString:
		if n, err := strconv.Atoi(v.s); err == nil {
			return n, true
		}
	}
	return 0, false
}

// AsFloat converts the value to a float64. Ints and numeric strings convert.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindString:
		if f, err := strconv.ParseFloat(v.s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// AsString returns the string variant only.
func (v Value) AsString() (string, bool) {
	if v.kind == KindString {
		return v.s, true
	}
	return "", false
}

// AsBool returns the bool variant, also accepting "true"/"false" strings.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindString:
		if b, err := strconv.ParseBool(v.s); err == nil {
			return b, true
		}
	}
	return false, false
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return "<invalid>"
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindBool:
		return json.Marshal(v.b)
	}
	return nil, fmt.Errorf("marshal invalid parameter value")
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch x := raw.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			*v = Value{kind: KindInt, i: n}
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("parameter number %q: %w", x, err)
		}
		*v = FloatValue(f)
	case string:
		*v = StringValue(x)
	case bool:
		*v = BoolValue(x)
	default:
		return fmt.Errorf("parameter must be a number, string or bool, got %s", string(data))
	}
	return nil
}

// Params maps parameter names to values.
type Params map[string]Value

// Int returns the named parameter as an int, or def when missing or mis-typed.
func (p Params) Int(key string, def int) int {
	if n, ok := p[key].AsInt(); ok {
		return n
	}
	return def
}

// Float returns the named parameter as a float64, or def.
func (p Params) Float(key string, def float64) float64 {
	if f, ok := p[key].AsFloat(); ok {
		return f
	}
	return def
}

// String returns the named string parameter, or def.
func (p Params) String(key string, def string) string {
	if s, ok := p[key].AsString(); ok {
		return s
	}
	return def
}

// Bool returns the named parameter as a bool, or def.
func (p Params) Bool(key string, def bool) bool {
	if b, ok := p[key].AsBool(); ok {
		return b
	}
	return def
}

// Clone returns an independent copy; nil stays nil.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	cp := make(Params, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}
