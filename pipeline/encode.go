package pipeline

import (
	"sort"

	"go.uber.org/zap"

	"salaryclf/config"
	"salaryclf/ml"
)

// Encoder replaces categorical labels with their training-time codes.
type Encoder struct {
	table       *ml.EncoderTable
	cfg         config.EncodingConfig
	categorical map[string]bool
	logger      *zap.Logger
}

// EncodeReport lists what encoding did besides plain lookups.
type EncodeReport struct {
	Dropped  []string `json:"dropped,omitempty"`
	Remapped []string `json:"remapped,omitempty"`
}

func NewEncoder(table *ml.EncoderTable, cfg config.EncodingConfig, logger *zap.Logger) *Encoder {
	categorical := make(map[string]bool)
	for _, column := range cfg.CategoricalColumns {
		categorical[column] = true
	}
	for _, column := range table.Columns() {
		categorical[column] = true
	}
	return &Encoder{table: table, cfg: cfg, categorical: categorical, logger: logger}
}

// Categorical returns every column the encoder treats as categorical.
func (e *Encoder) Categorical() []string {
	columns := make([]string, 0, len(e.categorical))
	for column := range e.categorical {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// EncodeRow encodes the single-record row. The input row is left untouched.
func (e *Encoder) EncodeRow(row *FeatureRow) (*FeatureRow, EncodeReport, error) {
	var report EncodeReport
	out, err := e.encode(row, 0, &report)
	if err != nil {
		return nil, EncodeReport{}, err
	}
	e.logReport(report)
	return out, report, nil
}

// EncodeRows encodes a batch. The first failing row aborts the whole batch.
func (e *Encoder) EncodeRows(rows []*FeatureRow) ([]*FeatureRow, EncodeReport, error) {
	var report EncodeReport
	out := make([]*FeatureRow, len(rows))
	for i, row := range rows {
		encoded, err := e.encode(row, i+1, &report)
		if err != nil {
			return nil, EncodeReport{}, err
		}
		out[i] = encoded
	}
	e.logReport(report)
	return out, report, nil
}

func (e *Encoder) encode(row *FeatureRow, rowNum int, report *EncodeReport) (*FeatureRow, error) {
	out := row.Clone()
	for _, column := range row.Names() {
		if !e.categorical[column] {
			continue
		}
		enc, ok := e.table.Lookup(column)
		if !ok {
			if e.cfg.MissingEncoder == config.PolicyFail {
				return nil, &MissingEncoderError{Column: column}
			}
			out.Delete(column)
			report.Dropped = appendOnce(report.Dropped, column)
			continue
		}

		value, _ := row.Get(column)
		label := value.Text
		if e.cfg.RemapUnknown && label == e.cfg.UnknownToken && enc.Has(e.cfg.UnknownLabel) {
			label = e.cfg.UnknownLabel
			report.Remapped = appendOnce(report.Remapped, column)
		}
		code, err := enc.Encode(label)
		if err != nil {
			return nil, &UnknownCategoryError{Row: rowNum, Column: column, Value: value.Text}
		}
		out.Set(column, Number(float64(code)))
	}
	return out, nil
}

func (e *Encoder) logReport(report EncodeReport) {
	for _, column := range report.Dropped {
		e.logger.Warn("encoder not found, column removed", zap.String("column", column))
	}
	for _, column := range report.Remapped {
		e.logger.Debug("placeholder remapped before encoding",
			zap.String("column", column),
			zap.String("token", e.cfg.UnknownToken),
			zap.String("label", e.cfg.UnknownLabel))
	}
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
