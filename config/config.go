package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"
)

// Missing-encoder policies for categorical columns with no trained encoder.
const (
	PolicyDrop = "drop"
	PolicyFail = "fail"
)

// Field kinds accepted by the input form.
const (
	KindInt      = "int"
	KindFloat    = "float"
	KindCategory = "category"
)

type Config struct {
	Http     HttpConfig `yaml:"http"`
	Log      LogConfig  `yaml:"log"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	ML struct {
		ModelType           string `yaml:"model_type"`
		ModelPath           string `yaml:"model_path"`
		EncodersPath        string `yaml:"encoders_path"`
		FeaturesPath        string `yaml:"features_path"`
		ExposeProbabilities bool   `yaml:"expose_probabilities"`
	} `yaml:"ml"`
	Encoding EncodingConfig `yaml:"encoding"`
	Form     struct {
		Fields []FieldSpec `yaml:"fields"`
	} `yaml:"form"`
	Batch BatchConfig `yaml:"batch"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
}

type HttpConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type EncodingConfig struct {
	CategoricalColumns []string `yaml:"categorical_columns"`
	MissingEncoder     string   `yaml:"missing_encoder"`
	RemapUnknown       bool     `yaml:"remap_unknown"`
	UnknownToken       string   `yaml:"unknown_token"`
	UnknownLabel       string   `yaml:"unknown_label"`
}

type BatchConfig struct {
	PredictionColumn string `yaml:"prediction_column"`
	StrictHeader     bool   `yaml:"strict_header"`
	Charset          string `yaml:"charset"`
	InboxDir         string `yaml:"inbox_dir"`
	OutboxDir        string `yaml:"outbox_dir"`
}

// FieldSpec describes one input of the single-record form. Min and Max are
// only enforced when set.
type FieldSpec struct {
	Name    string   `yaml:"name" json:"name"`
	Kind    string   `yaml:"kind" json:"kind"`
	Min     *float64 `yaml:"min" json:"min,omitempty"`
	Max     *float64 `yaml:"max" json:"max,omitempty"`
	Default string   `yaml:"default" json:"default,omitempty"`
}

func bound(v float64) *float64 { return &v }

// DefaultFields is the employee form: bounded sliders plus the job role dropdown.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{Name: "age", Kind: KindInt, Min: bound(18), Max: bound(65), Default: "30"},
		{Name: "educational-num", Kind: KindInt, Min: bound(1), Max: bound(16), Default: "10"},
		{Name: "occupation", Kind: KindCategory},
		{Name: "hours-per-week", Kind: KindInt, Min: bound(1), Max: bound(80), Default: "40"},
		{Name: "experience", Kind: KindInt, Min: bound(0), Max: bound(40), Default: "5"},
	}
}

func Default() *Config {
	var cfg Config
	cfg.Http.Port = 8080
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.AllowedOrigins = []string{"*"}
	cfg.Http.MaxUploadBytes = 10 << 20
	cfg.Log = LogConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}
	cfg.Database.Path = "data/predictions.db"
	cfg.ML.ModelType = "decision_tree"
	cfg.ML.ModelPath = "models/best_model.json"
	cfg.ML.EncodersPath = "models/label_encoders.json"
	cfg.ML.FeaturesPath = "models/features.json"
	cfg.Encoding = EncodingConfig{
		CategoricalColumns: []string{"occupation"},
		MissingEncoder:     PolicyDrop,
		RemapUnknown:       true,
		UnknownToken:       "?",
		UnknownLabel:       "Unknown",
	}
	cfg.Form.Fields = DefaultFields()
	cfg.Batch = BatchConfig{
		PredictionColumn: "PredictedClass",
		StrictHeader:     true,
		Charset:          "utf-8",
	}
	cfg.Cache.Size = 1024
	return &cfg
}

// Load decodes path on top of Default() and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	config.resolvePaths(filepath.Dir(path))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Locate returns explicit when set, otherwise config.yaml in the working
// directory or its parent.
func Locate(explicit string) string {
	if explicit != "" {
		return explicit
	}
	configPath := "config.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = filepath.Join("..", "config.yaml")
	}
	return configPath
}

// resolvePaths makes relative artifact and data paths relative to the config file.
func (c *Config) resolvePaths(base string) {
	if base == "" || base == "." {
		return
	}
	for _, p := range []*string{
		&c.Database.Path, &c.ML.ModelPath, &c.ML.EncodersPath, &c.ML.FeaturesPath,
		&c.Log.File, &c.Batch.InboxDir, &c.Batch.OutboxDir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func (c *Config) Validate() error {
	var err error
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("http.port %d out of range", c.Http.Port))
	}
	if c.Http.MaxUploadBytes <= 0 {
		err = multierr.Append(err, fmt.Errorf("http.max_upload_bytes must be positive"))
	}
	if c.ML.ModelPath == "" || c.ML.EncodersPath == "" || c.ML.FeaturesPath == "" {
		err = multierr.Append(err, fmt.Errorf("ml.model_path, ml.encoders_path and ml.features_path are required"))
	}
	switch c.Encoding.MissingEncoder {
	case PolicyDrop, PolicyFail:
	default:
		err = multierr.Append(err, fmt.Errorf("encoding.missing_encoder must be %q or %q, got %q",
			PolicyDrop, PolicyFail, c.Encoding.MissingEncoder))
	}
	if c.Encoding.RemapUnknown && (c.Encoding.UnknownToken == "" || c.Encoding.UnknownLabel == "") {
		err = multierr.Append(err, fmt.Errorf("encoding.unknown_token and encoding.unknown_label are required when remap_unknown is set"))
	}
	if c.Batch.PredictionColumn == "" {
		err = multierr.Append(err, fmt.Errorf("batch.prediction_column is required"))
	}
	if c.Batch.InboxDir != "" && c.Batch.OutboxDir == "" {
		err = multierr.Append(err, fmt.Errorf("batch.outbox_dir is required when batch.inbox_dir is set"))
	}
	if c.Cache.Size < 0 {
		err = multierr.Append(err, fmt.Errorf("cache.size must not be negative"))
	}
	seen := make(map[string]bool)
	for i, field := range c.Form.Fields {
		if field.Name == "" {
			err = multierr.Append(err, fmt.Errorf("form.fields[%d]: name is required", i))
			continue
		}
		if seen[field.Name] {
			err = multierr.Append(err, fmt.Errorf("form.fields[%d]: duplicate field %q", i, field.Name))
		}
		seen[field.Name] = true
		switch field.Kind {
		case KindInt, KindFloat, KindCategory:
		default:
			err = multierr.Append(err, fmt.Errorf("form.fields[%d]: unknown kind %q", i, field.Kind))
		}
		if field.Min != nil && field.Max != nil && *field.Min > *field.Max {
			err = multierr.Append(err, fmt.Errorf("form.fields[%d]: min greater than max", i))
		}
	}
	return err
}
