package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"salaryclf/config"
)

func TestEncodeRowKnownLabels(t *testing.T) {
	enc := NewEncoder(testEncoders(t, nil), config.Default().Encoding, zap.NewNop())
	for code, label := range occupations {
		row := NewFeatureRow()
		row.Set("age", Number(30))
		row.Set("occupation", Category(label))

		out, report, err := enc.EncodeRow(row)
		require.NoError(t, err, label)
		v, _ := out.Get("occupation")
		assert.True(t, v.Numeric)
		assert.Equal(t, float64(code), v.Num)
		assert.Empty(t, report.Dropped)

		original, _ := row.Get("occupation")
		assert.Equal(t, label, original.Text, "input row must not be modified")
	}
}

func TestEncodeRowUnknownLabel(t *testing.T) {
	enc := NewEncoder(testEncoders(t, nil), config.Default().Encoding, zap.NewNop())
	for _, label := range []string{"Astronaut", "tech-support", "Tech-support "} {
		row := NewFeatureRow()
		row.Set("occupation", Category(label))
		_, _, err := enc.EncodeRow(row)

		var unknown *UnknownCategoryError
		require.True(t, errors.As(err, &unknown), "expected UnknownCategoryError for %q, got %v", label, err)
		assert.Equal(t, "occupation", unknown.Column)
		assert.Equal(t, label, unknown.Value)
	}
}

func TestEncodeRowRemapsPlaceholder(t *testing.T) {
	withUnknown := append(append([]string(nil), occupations...), "Unknown")
	enc := NewEncoder(testEncoders(t, map[string][]string{"occupation": withUnknown}), config.Default().Encoding, zap.NewNop())

	row := NewFeatureRow()
	row.Set("occupation", Category("?"))
	out, report, err := enc.EncodeRow(row)
	require.NoError(t, err)
	v, _ := out.Get("occupation")
	assert.Equal(t, float64(len(occupations)), v.Num)
	assert.Equal(t, []string{"occupation"}, report.Remapped)

	// no canonical label in the table: the placeholder is just an unseen label
	plain := NewEncoder(testEncoders(t, nil), config.Default().Encoding, zap.NewNop())
	_, _, err = plain.EncodeRow(row)
	assert.Equal(t, KindUnknownCategory, ErrorKind(err))

	// remap disabled
	cfg := config.Default().Encoding
	cfg.RemapUnknown = false
	strict := NewEncoder(testEncoders(t, map[string][]string{"occupation": withUnknown}), cfg, zap.NewNop())
	_, _, err = strict.EncodeRow(row)
	assert.Equal(t, KindUnknownCategory, ErrorKind(err))
}

func TestEncodeRowMissingEncoderPolicy(t *testing.T) {
	cfg := config.Default().Encoding
	cfg.CategoricalColumns = []string{"occupation", "workclass"}

	row := NewFeatureRow()
	row.Set("occupation", Category("Sales"))
	row.Set("workclass", Category("Private"))

	cfg.MissingEncoder = config.PolicyDrop
	out, report, err := NewEncoder(testEncoders(t, nil), cfg, zap.NewNop()).EncodeRow(row)
	require.NoError(t, err)
	assert.Equal(t, []string{"workclass"}, report.Dropped)
	_, ok := out.Get("workclass")
	assert.False(t, ok)

	cfg.MissingEncoder = config.PolicyFail
	_, _, err = NewEncoder(testEncoders(t, nil), cfg, zap.NewNop()).EncodeRow(row)
	var missing *MissingEncoderError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "workclass", missing.Column)
}

func TestEncodeRowsAbortsOnFirstBadRow(t *testing.T) {
	enc := NewEncoder(testEncoders(t, nil), config.Default().Encoding, zap.NewNop())
	var rows []*FeatureRow
	for _, label := range []string{"Sales", "Tech-support", "Astronaut", "Sales"} {
		row := NewFeatureRow()
		row.Set("occupation", Category(label))
		rows = append(rows, row)
	}
	out, _, err := enc.EncodeRows(rows)
	assert.Nil(t, out)
	var unknown *UnknownCategoryError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, 3, unknown.Row)
	assert.Contains(t, err.Error(), "row 3")
}
