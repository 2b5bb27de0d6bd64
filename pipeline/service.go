package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"salaryclf/config"
	"salaryclf/ml"
)

// Artifacts are loaded once at start and only read afterwards.
type Artifacts struct {
	Model    ml.Model
	Encoders *ml.EncoderTable
	Features *ml.FeatureList
}

type Options struct {
	Encoding            config.EncodingConfig
	Fields              []config.FieldSpec
	PredictionColumn    string
	StrictHeader        bool
	ExposeProbabilities bool
	CacheSize           int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Encoding:            cfg.Encoding,
		Fields:              cfg.Form.Fields,
		PredictionColumn:    cfg.Batch.PredictionColumn,
		StrictHeader:        cfg.Batch.StrictHeader,
		ExposeProbabilities: cfg.ML.ExposeProbabilities,
		CacheSize:           cfg.Cache.Size,
	}
}

// SingleResult is the outcome of one form submission.
type SingleResult struct {
	ID            string             `json:"id"`
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Input         *FeatureRow        `json:"input"`
	Encoded       *FeatureRow        `json:"encoded"`
	Filled        []string           `json:"filled,omitempty"`
	Dropped       []string           `json:"dropped,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	Cached        bool               `json:"cached"`
}

// BatchResult is the uploaded table with the prediction column appended.
type BatchResult struct {
	ID       string   `json:"id"`
	Output   *Table   `json:"output"`
	Labels   []string `json:"labels"`
	Filled   []string `json:"filled,omitempty"`
	Dropped  []string `json:"dropped,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Schema describes what the service accepts, for building input forms.
type Schema struct {
	Features         []string            `json:"features"`
	Fields           []config.FieldSpec  `json:"fields"`
	Categorical      []string            `json:"categorical"`
	Vocabulary       map[string][]string `json:"vocabulary"`
	Classes          []string            `json:"classes"`
	MissingEncoder   string              `json:"missing_encoder"`
	PredictionColumn string              `json:"prediction_column"`
	UploadColumns    []string            `json:"upload_columns"`
}

type cachedPrediction struct {
	label string
	proba []float64
}

// Service runs Assembly → Encoding → Alignment → Prediction. Runs are
// serialized: one interaction completes before the next starts.
type Service struct {
	mu        sync.Mutex
	artifacts Artifacts
	opts      Options
	encoder   *Encoder
	cache     *lru.Cache[string, cachedPrediction]
	logger    *zap.Logger
	observers []Observer
}

func NewService(artifacts Artifacts, opts Options, logger *zap.Logger, observers ...Observer) (*Service, error) {
	if artifacts.Model == nil || artifacts.Encoders == nil || artifacts.Features == nil {
		return nil, errors.New("model, encoders and feature list are required")
	}
	if n := artifacts.Model.NumFeatures(); n > 0 && n != artifacts.Features.Len() {
		return nil, fmt.Errorf("model expects %d features but feature list has %d", n, artifacts.Features.Len())
	}
	if opts.PredictionColumn == "" {
		opts.PredictionColumn = "PredictedClass"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		artifacts: artifacts,
		opts:      opts,
		encoder:   NewEncoder(artifacts.Encoders, opts.Encoding, logger),
		logger:    logger,
		observers: observers,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, cachedPrediction](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

func (s *Service) Schema() Schema {
	return Schema{
		Features:         s.artifacts.Features.Names(),
		Fields:           s.opts.Fields,
		Categorical:      s.encoder.Categorical(),
		Vocabulary:       s.artifacts.Encoders.Vocabulary(),
		Classes:          s.artifacts.Model.Classes(),
		MissingEncoder:   s.opts.Encoding.MissingEncoder,
		PredictionColumn: s.opts.PredictionColumn,
		UploadColumns:    s.UploadColumns(),
	}
}

// UploadColumns lists the header names a batch upload may use.
func (s *Service) UploadColumns() []string {
	seen := make(map[string]bool)
	var columns []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			columns = append(columns, name)
		}
	}
	for _, name := range s.artifacts.Features.Names() {
		add(name)
	}
	for _, field := range s.opts.Fields {
		add(field.Name)
	}
	for _, name := range s.encoder.Categorical() {
		add(name)
	}
	return columns
}

// PredictOne runs the single-record path on raw form values.
func (s *Service) PredictOne(ctx context.Context, raw map[string]string) (*SingleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	event := Event{ID: uuid.NewString(), Kind: KindSingle, Source: sourceFrom(ctx), Rows: 1}
	result, err := s.predictOne(ctx, event.ID, raw)
	if result != nil {
		event.Labels = []string{result.Label}
		event.Filled = result.Filled
		event.Dropped = result.Dropped
	}
	s.finish(ctx, event, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) predictOne(ctx context.Context, id string, raw map[string]string) (*SingleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input, err := AssembleRow(s.opts.Fields, raw)
	if err != nil {
		return nil, err
	}
	encoded, report, err := s.encoder.EncodeRow(input)
	if err != nil {
		return nil, err
	}
	alignment := Align(encoded, s.artifacts.Features)
	s.logAlignment(id, alignment.Filled, alignment.Dropped)

	table, err := Vectorize([]*FeatureRow{alignment.Row}, s.artifacts.Features, 0)
	if err != nil {
		return nil, err
	}

	result := &SingleResult{
		ID:       id,
		Input:    input,
		Encoded:  alignment.Row,
		Filled:   alignment.Filled,
		Dropped:  alignment.Dropped,
		Warnings: warnings(report, alignment.Filled, alignment.Dropped),
	}

	key := cacheKey(table[0])
	if s.cache != nil {
		if hit, ok := s.cache.Get(key); ok {
			result.Label = hit.label
			result.Probabilities = s.probabilities(hit.proba)
			result.Cached = true
			return result, nil
		}
	}

	labels, proba, err := Classify(s.artifacts.Model, table, s.opts.ExposeProbabilities)
	if err != nil {
		return nil, err
	}
	entry := cachedPrediction{label: labels[0]}
	if proba != nil {
		entry.proba = proba[0]
	}
	if s.cache != nil {
		s.cache.Add(key, entry)
	}
	result.Label = entry.label
	result.Probabilities = s.probabilities(entry.proba)
	return result, nil
}

// PredictBatch runs every row of an uploaded table through the same stages.
// The batch is atomic: any failing row fails the whole upload.
func (s *Service) PredictBatch(ctx context.Context, table *Table) (*BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	event := Event{ID: uuid.NewString(), Kind: KindBatch, Source: sourceFrom(ctx), Rows: len(table.Rows)}
	result, err := s.predictBatch(ctx, event.ID, table)
	if result != nil {
		event.Labels = result.Labels
		event.Filled = result.Filled
		event.Dropped = result.Dropped
	}
	s.finish(ctx, event, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) predictBatch(ctx context.Context, id string, table *Table) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, name := range table.Header {
		if name == s.opts.PredictionColumn {
			return nil, &FormatError{Column: name, Reason: "column already present in upload"}
		}
	}
	if s.opts.StrictHeader {
		if err := table.CheckHeader(s.UploadColumns()); err != nil {
			return nil, err
		}
	}

	encoded, report, err := s.encoder.EncodeRows(table.FeatureRows())
	if err != nil {
		return nil, err
	}

	aligned := make([]*FeatureRow, len(encoded))
	var filled, dropped []string
	for i, row := range encoded {
		alignment := Align(row, s.artifacts.Features)
		aligned[i] = alignment.Row
		for _, name := range alignment.Filled {
			filled = appendOnce(filled, name)
		}
		for _, name := range alignment.Dropped {
			dropped = appendOnce(dropped, name)
		}
	}
	s.logAlignment(id, filled, dropped)

	vectors, err := Vectorize(aligned, s.artifacts.Features, 1)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	labels, _, err := Classify(s.artifacts.Model, vectors, false)
	if err != nil {
		return nil, err
	}
	output, err := table.WithColumn(s.opts.PredictionColumn, labels)
	if err != nil {
		return nil, err
	}
	return &BatchResult{
		ID:       id,
		Output:   output,
		Labels:   labels,
		Filled:   filled,
		Dropped:  dropped,
		Warnings: warnings(report, filled, dropped),
	}, nil
}

func (s *Service) finish(ctx context.Context, event Event, start time.Time, err error) {
	event.Duration = time.Since(start)
	event.Time = start.UTC()
	if err != nil {
		event.Labels = nil
		event.ErrorKind = ErrorKind(err)
		event.Message = err.Error()
		s.logger.Warn("prediction failed",
			zap.String("id", event.ID),
			zap.String("kind", event.Kind),
			zap.String("error_kind", event.ErrorKind),
			zap.Error(err))
	} else {
		s.logger.Info("prediction completed",
			zap.String("id", event.ID),
			zap.String("kind", event.Kind),
			zap.Int("rows", event.Rows),
			zap.Duration("duration", event.Duration))
	}
	for _, o := range s.observers {
		o.Observe(ctx, event)
	}
}

func (s *Service) logAlignment(id string, filled, dropped []string) {
	if len(filled) > 0 {
		s.logger.Warn("features missing from input, filled with 0",
			zap.String("id", id), zap.Strings("features", filled))
	}
	if len(dropped) > 0 {
		s.logger.Debug("columns not used by the model dropped",
			zap.String("id", id), zap.Strings("columns", dropped))
	}
}

func (s *Service) probabilities(proba []float64) map[string]float64 {
	if proba == nil {
		return nil
	}
	classes := s.artifacts.Model.Classes()
	out := make(map[string]float64, len(classes))
	for i, class := range classes {
		if i < len(proba) {
			out[class] = proba[i]
		}
	}
	return out
}

func warnings(report EncodeReport, filled, dropped []string) []string {
	var out []string
	for _, column := range report.Dropped {
		out = append(out, fmt.Sprintf("encoder for %q not found, column removed", column))
	}
	for _, name := range filled {
		out = append(out, fmt.Sprintf("feature %q missing from input, filled with 0", name))
	}
	for _, name := range dropped {
		out = append(out, fmt.Sprintf("column %q is not a model feature, ignored", name))
	}
	return out
}

func cacheKey(vector []float64) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
