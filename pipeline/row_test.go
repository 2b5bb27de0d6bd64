package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		numeric bool
		num     float64
	}{
		{in: "40", numeric: true, num: 40},
		{in: " 2.5 ", numeric: true, num: 2.5},
		{in: "Sales"},
		{in: ""},
		{in: "NaN"},
		{in: "Inf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v := ParseValue(tt.in)
			assert.Equal(t, tt.numeric, v.Numeric)
			assert.Equal(t, tt.in, v.Text)
			if tt.numeric {
				assert.Equal(t, tt.num, v.Num)
			}
		})
	}
}

func TestFeatureRowKeepsOrder(t *testing.T) {
	row := NewFeatureRow()
	row.Set("b", Number(1))
	row.Set("a", Category("x"))
	row.Set("c", Number(3))
	row.Set("b", Number(2))
	assert.Equal(t, []string{"b", "a", "c"}, row.Names())

	row.Delete("a")
	row.Delete("missing")
	assert.Equal(t, []string{"b", "c"}, row.Names())

	payload, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"b":2,"c":3}`, string(payload))
}

func TestFeatureRowCloneIsIndependent(t *testing.T) {
	row := NewFeatureRow()
	row.Set("occupation", Category("Sales"))
	clone := row.Clone()
	clone.Set("occupation", Number(11))
	clone.Set("age", Number(30))

	v, _ := row.Get("occupation")
	assert.Equal(t, "Sales", v.Text)
	assert.Equal(t, 1, row.Len())
	assert.False(t, row.Equal(clone))
}
