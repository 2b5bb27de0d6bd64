package pipeline

import "salaryclf/ml"

// Alignment is a row reshaped to a model's feature list.
type Alignment struct {
	Row     *FeatureRow
	Filled  []string
	Dropped []string
}

// Align returns a row holding exactly the trained features, in trained order.
// Absent features are zero-filled and extra columns dropped; both are reported
// so callers can surface the drift. Aligning an aligned row changes nothing.
func Align(row *FeatureRow, features *ml.FeatureList) Alignment {
	aligned := NewFeatureRow()
	var filled []string
	for _, name := range features.Names() {
		if v, ok := row.Get(name); ok {
			aligned.Set(name, v)
			continue
		}
		aligned.Set(name, Number(0))
		filled = append(filled, name)
	}
	var dropped []string
	for _, name := range row.Names() {
		if !features.Contains(name) {
			dropped = append(dropped, name)
		}
	}
	return Alignment{Row: aligned, Filled: filled, Dropped: dropped}
}
