package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"salaryclf/config"
)

// AssembleRow builds the single-record FeatureRow from raw form values, in
// field order. Missing values fall back to the field default.
func AssembleRow(fields []config.FieldSpec, raw map[string]string) (*FeatureRow, error) {
	known := make(map[string]bool, len(fields))
	for _, field := range fields {
		known[field.Name] = true
	}
	var unexpected []string
	for name := range raw {
		if !known[name] {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, &FormatError{Reason: "unexpected fields " + strings.Join(unexpected, ", ")}
	}

	row := NewFeatureRow()
	for _, field := range fields {
		text, ok := raw[field.Name]
		if !ok || strings.TrimSpace(text) == "" {
			text = field.Default
		}
		if text == "" {
			return nil, &FormatError{Column: field.Name, Reason: "value is required"}
		}
		value, err := fieldValue(field, text)
		if err != nil {
			return nil, err
		}
		row.Set(field.Name, value)
	}
	return row, nil
}

func fieldValue(field config.FieldSpec, text string) (Value, error) {
	if field.Kind == config.KindCategory {
		return Category(text), nil
	}
	value := ParseValue(text)
	if !value.Numeric {
		return Value{}, &FormatError{Column: field.Name, Reason: fmt.Sprintf("%q is not a number", text)}
	}
	if field.Kind == config.KindInt && value.Num != math.Trunc(value.Num) {
		return Value{}, &FormatError{Column: field.Name, Reason: fmt.Sprintf("%q is not an integer", text)}
	}
	if field.Min != nil && value.Num < *field.Min {
		return Value{}, &FormatError{Column: field.Name, Reason: fmt.Sprintf("%v is below the minimum %v", value.Num, *field.Min)}
	}
	if field.Max != nil && value.Num > *field.Max {
		return Value{}, &FormatError{Column: field.Name, Reason: fmt.Sprintf("%v is above the maximum %v", value.Num, *field.Max)}
	}
	return Number(value.Num), nil
}
