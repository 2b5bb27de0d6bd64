package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

const TypeLogisticRegression = "logistic_regression"

// LogisticRegression is a fitted binary classifier. Classes[1] is the positive
// class; a row is positive when its sigmoid score reaches Threshold.
type LogisticRegression struct {
	classes   []string
	weights   []float64
	bias      float64
	threshold float64
}

type logisticArtifact struct {
	Type      string    `json:"type"`
	Classes   []string  `json:"classes"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Threshold float64   `json:"threshold,omitempty"`
}

func NewLogisticRegression(classes []string, weights []float64, bias, threshold float64) (*LogisticRegression, error) {
	m := &LogisticRegression{
		classes:   append([]string(nil), classes...),
		weights:   append([]float64(nil), weights...),
		bias:      bias,
		threshold: threshold,
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LogisticRegression) Classes() []string {
	return append([]string(nil), m.classes...)
}

func (m *LogisticRegression) NumFeatures() int {
	return len(m.weights)
}

func (m *LogisticRegression) Predict(rows [][]float64) ([]string, error) {
	scores, err := m.scores(rows)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(scores))
	for i, p := range scores {
		if p >= m.threshold {
			labels[i] = m.classes[1]
		} else {
			labels[i] = m.classes[0]
		}
	}
	return labels, nil
}

func (m *LogisticRegression) PredictProba(rows [][]float64) ([][]float64, error) {
	scores, err := m.scores(rows)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(scores))
	for i, p := range scores {
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

func (m *LogisticRegression) scores(rows [][]float64) ([]float64, error) {
	if len(m.weights) == 0 {
		return nil, ErrNotLoaded
	}
	if err := checkShape(rows, len(m.weights)); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		sum := m.bias
		for j, v := range row {
			sum += m.weights[j] * v
		}
		out[i] = sigmoid(sum)
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func (m *LogisticRegression) Save(path string) error {
	if len(m.weights) == 0 {
		return ErrNotLoaded
	}
	payload, err := json.Marshal(logisticArtifact{
		Type:      TypeLogisticRegression,
		Classes:   m.classes,
		Weights:   m.weights,
		Bias:      m.bias,
		Threshold: m.threshold,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func (m *LogisticRegression) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var artifact logisticArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if artifact.Type != "" && artifact.Type != TypeLogisticRegression {
		return fmt.Errorf("%s holds a %q model, not %q", path, artifact.Type, TypeLogisticRegression)
	}
	loaded := LogisticRegression{
		classes:   artifact.Classes,
		weights:   artifact.Weights,
		bias:      artifact.Bias,
		threshold: artifact.Threshold,
	}
	if err := loaded.validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*m = loaded
	return nil
}

func (m *LogisticRegression) validate() error {
	if len(m.classes) != 2 {
		return fmt.Errorf("logistic regression needs exactly 2 classes, got %d", len(m.classes))
	}
	if len(m.weights) == 0 {
		return errors.New("logistic regression has no weights")
	}
	if m.threshold == 0 {
		m.threshold = 0.5
	}
	if m.threshold <= 0 || m.threshold >= 1 {
		return fmt.Errorf("threshold %v outside (0, 1)", m.threshold)
	}
	return nil
}
