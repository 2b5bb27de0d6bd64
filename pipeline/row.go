package pipeline

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Value is one cell of a FeatureRow. Text is always kept so categorical
// columns can be encoded from it; Numeric reports whether Num is usable.
type Value struct {
	Text    string
	Num     float64
	Numeric bool
}

func Number(v float64) Value {
	return Value{Text: strconv.FormatFloat(v, 'f', -1, 64), Num: v, Numeric: true}
}

func Category(label string) Value {
	return Value{Text: label}
}

// ParseValue keeps s as text and also parses it as a number when it is a
// finite one.
func ParseValue(s string) Value {
	trimmed := strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Value{Text: s, Num: f, Numeric: true}
	}
	return Value{Text: s}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Numeric {
		return json.Marshal(v.Num)
	}
	return json.Marshal(v.Text)
}

// FeatureRow is an ordered mapping of feature name to value.
type FeatureRow struct {
	names  []string
	values map[string]Value
}

func NewFeatureRow() *FeatureRow {
	return &FeatureRow{values: make(map[string]Value)}
}

// Set replaces the value of an existing name in place or appends a new one.
func (r *FeatureRow) Set(name string, v Value) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

func (r *FeatureRow) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

func (r *FeatureRow) Delete(name string) {
	if _, ok := r.values[name]; !ok {
		return
	}
	delete(r.values, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i:i], r.names[i+1:]...)
			break
		}
	}
}

func (r *FeatureRow) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *FeatureRow) Len() int {
	return len(r.names)
}

func (r *FeatureRow) Clone() *FeatureRow {
	clone := &FeatureRow{
		names:  append([]string(nil), r.names...),
		values: make(map[string]Value, len(r.values)),
	}
	for k, v := range r.values {
		clone.values[k] = v
	}
	return clone
}

// Equal reports whether both rows hold the same names, in the same order,
// with the same values.
func (r *FeatureRow) Equal(other *FeatureRow) bool {
	if len(r.names) != len(other.names) {
		return false
	}
	for i, name := range r.names {
		if other.names[i] != name || r.values[name] != other.values[name] {
			return false
		}
	}
	return true
}

// MarshalJSON writes the row as a JSON object in column order.
func (r *FeatureRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
