package pipeline

import (
	"fmt"

	"salaryclf/ml"
)

// Vectorize turns aligned rows into the numeric table the classifier expects.
// A value that is still not a number after encoding is rejected here.
func Vectorize(rows []*FeatureRow, features *ml.FeatureList, firstRow int) ([][]float64, error) {
	names := features.Names()
	table := make([][]float64, len(rows))
	for i, row := range rows {
		if row.Len() != len(names) {
			return nil, &PredictionError{
				Row:    firstRow + i,
				Reason: fmt.Sprintf("row has %d columns, model expects %d", row.Len(), len(names)),
			}
		}
		vector := make([]float64, len(names))
		for j, name := range names {
			v, ok := row.Get(name)
			if !ok {
				return nil, &PredictionError{Row: firstRow + i, Column: name, Reason: "column missing"}
			}
			if !v.Numeric {
				return nil, &PredictionError{Row: firstRow + i, Column: name, Reason: fmt.Sprintf("non-numeric value %q", v.Text)}
			}
			vector[j] = v.Num
		}
		table[i] = vector
	}
	return table, nil
}

// Classify invokes the model and, when requested and supported, its
// probability output. The label count always matches the row count.
func Classify(model ml.Model, table [][]float64, withProba bool) ([]string, [][]float64, error) {
	labels, err := model.Predict(table)
	if err != nil {
		return nil, nil, &PredictionError{Reason: "classifier rejected input", Err: err}
	}
	if len(labels) != len(table) {
		return nil, nil, &PredictionError{
			Reason: fmt.Sprintf("classifier returned %d labels for %d rows", len(labels), len(table)),
		}
	}
	if !withProba {
		return labels, nil, nil
	}
	probModel, ok := model.(ml.ProbabilityModel)
	if !ok {
		return labels, nil, nil
	}
	proba, err := probModel.PredictProba(table)
	if err != nil {
		return nil, nil, &PredictionError{Reason: "classifier rejected input", Err: err}
	}
	return labels, proba, nil
}
