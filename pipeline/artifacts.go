package pipeline

import (
	"fmt"

	"salaryclf/config"
	"salaryclf/ml"
)

// LoadArtifacts reads the model, encoder table and feature list named in cfg.
func LoadArtifacts(cfg *config.Config) (Artifacts, error) {
	model, err := ml.LoadModel(cfg.ML.ModelType, cfg.ML.ModelPath)
	if err != nil {
		return Artifacts{}, fmt.Errorf("load model: %w", err)
	}
	encoders, err := ml.LoadEncoders(cfg.ML.EncodersPath)
	if err != nil {
		return Artifacts{}, fmt.Errorf("load encoders: %w", err)
	}
	features, err := ml.LoadFeatureList(cfg.ML.FeaturesPath)
	if err != nil {
		return Artifacts{}, fmt.Errorf("load feature list: %w", err)
	}
	return Artifacts{Model: model, Encoders: encoders, Features: features}, nil
}
