package ml

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoaded     = errors.New("model not loaded")
	ErrShapeMismatch = errors.New("feature count mismatch")
)

// Model is a pre-trained classifier. Rows must already be encoded and aligned
// to the feature list the model was trained on.
type Model interface {
	Classes() []string
	NumFeatures() int
	Predict(rows [][]float64) ([]string, error)
}

// ProbabilityModel is implemented by models that can report per-class
// probabilities, ordered like Classes().
type ProbabilityModel interface {
	Model
	PredictProba(rows [][]float64) ([][]float64, error)
}

func checkShape(rows [][]float64, want int) error {
	if want <= 0 {
		return nil
	}
	for i, row := range rows {
		if len(row) != want {
			return &ShapeError{Row: i, Got: len(row), Want: want}
		}
	}
	return nil
}

// ShapeError reports a row whose column count differs from the trained one.
type ShapeError struct {
	Row  int
	Got  int
	Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("row %d: got %d features, model expects %d", e.Row, e.Got, e.Want)
}

func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }
