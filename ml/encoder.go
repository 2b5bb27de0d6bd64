package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

var ErrUnknownLabel = errors.New("label not seen during training")

// LabelEncoder maps the labels of one categorical column to the integer codes
// they had at training time. The code of a label is its index in Classes.
type LabelEncoder struct {
	classes []string
	codes   map[string]int
}

func NewLabelEncoder(classes []string) (*LabelEncoder, error) {
	if len(classes) == 0 {
		return nil, errors.New("encoder has no classes")
	}
	codes := make(map[string]int, len(classes))
	for i, label := range classes {
		if _, dup := codes[label]; dup {
			return nil, fmt.Errorf("duplicate label %q", label)
		}
		codes[label] = i
	}
	return &LabelEncoder{classes: append([]string(nil), classes...), codes: codes}, nil
}

func (e *LabelEncoder) Encode(label string) (int, error) {
	code, ok := e.codes[label]
	if !ok {
		return 0, fmt.Errorf("%q: %w", label, ErrUnknownLabel)
	}
	return code, nil
}

func (e *LabelEncoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.classes) {
		return "", fmt.Errorf("code %d out of range [0, %d)", code, len(e.classes))
	}
	return e.classes[code], nil
}

func (e *LabelEncoder) Has(label string) bool {
	_, ok := e.codes[label]
	return ok
}

func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// EncoderTable holds one LabelEncoder per categorical column. It is built once
// and only read afterwards.
type EncoderTable struct {
	encoders map[string]*LabelEncoder
}

func NewEncoderTable(vocab map[string][]string) (*EncoderTable, error) {
	table := &EncoderTable{encoders: make(map[string]*LabelEncoder, len(vocab))}
	for column, classes := range vocab {
		enc, err := NewLabelEncoder(classes)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		table.encoders[column] = enc
	}
	return table, nil
}

// LoadEncoders reads a JSON object of column name to ordered class list.
func LoadEncoders(path string) (*EncoderTable, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vocab map[string][]string
	if err := json.Unmarshal(payload, &vocab); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	table, err := NewEncoderTable(vocab)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

func (t *EncoderTable) Lookup(column string) (*LabelEncoder, bool) {
	enc, ok := t.encoders[column]
	return enc, ok
}

func (t *EncoderTable) Columns() []string {
	columns := make([]string, 0, len(t.encoders))
	for column := range t.encoders {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// Vocabulary returns the known labels of every column, keyed by column name.
func (t *EncoderTable) Vocabulary() map[string][]string {
	vocab := make(map[string][]string, len(t.encoders))
	for column, enc := range t.encoders {
		vocab[column] = enc.Classes()
	}
	return vocab
}
