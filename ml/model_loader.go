package ml

import (
	"fmt"
)

// LoadModel reads a model artifact of the configured type.
func LoadModel(modelType, path string) (Model, error) {
	switch modelType {
	case TypeDecisionTree:
		model := &DecisionTree{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	case TypeLogisticRegression:
		model := &LogisticRegression{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}
