package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"salaryclf/db"
	"salaryclf/monitoring"
	"salaryclf/pipeline"
)

const (
	downloadName   = "predicted_classes.csv"
	previewRows    = 5
	defaultHistory = 20
	maxHistory     = 500
)

// Predictor is the part of the pipeline service the handlers use.
type Predictor interface {
	Schema() pipeline.Schema
	PredictOne(ctx context.Context, raw map[string]string) (*pipeline.SingleResult, error)
	PredictBatch(ctx context.Context, table *pipeline.Table) (*pipeline.BatchResult, error)
}

// RunHistory serves the audit log.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]db.Run, error)
	LabelCounts(ctx context.Context) (map[string]int, error)
}

// API holds the handler dependencies. Store, Hub and Metrics are optional;
// their routes are only registered when set.
type API struct {
	Service        Predictor
	Store          RunHistory
	Hub            *monitoring.Hub
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
	Charset        string
	MaxUploadBytes int64
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/schema", a.handleSchema)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("POST /api/predict/batch", a.handlePredictBatch)
	if a.Store != nil {
		mux.HandleFunc("GET /api/predictions", a.handlePredictions)
		mux.HandleFunc("GET /api/predictions/labels", a.handleLabelCounts)
	}
	if a.Hub != nil {
		mux.HandleFunc("GET /api/ws/predictions", a.Hub.HandleWebSocket)
	}
	if a.Metrics != nil {
		mux.Handle("GET /metrics", a.Metrics.Handler())
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Row     int    `json:"row,omitempty"`
	Column  string `json:"column,omitempty"`
}

type batchPreview struct {
	ID        string     `json:"id"`
	Header    []string   `json:"header"`
	Rows      [][]string `json:"rows"`
	TotalRows int        `json:"total_rows"`
	Filled    []string   `json:"filled,omitempty"`
	Dropped   []string   `json:"dropped,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Service.Schema())
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeForm(r.Body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	result, err := a.Service.PredictOne(pipeline.WithSource(r.Context(), "http"), raw)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	body, charset, err := a.upload(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer body.Close()

	table, err := pipeline.ReadCSV(body, charset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.Service.PredictBatch(pipeline.WithSource(r.Context(), "http"), table)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		preview := result.Output.Head(previewRows)
		writeJSON(w, http.StatusOK, batchPreview{
			ID:        result.ID,
			Header:    preview.Header,
			Rows:      preview.Rows,
			TotalRows: len(result.Output.Rows),
			Filled:    result.Filled,
			Dropped:   result.Dropped,
			Warnings:  result.Warnings,
		})
		return
	}

	var buf bytes.Buffer
	if err := result.Output.WriteCSV(&buf); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": downloadName}))
	w.Header().Set("X-Prediction-ID", result.ID)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (a *API) handlePredictions(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistory
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "limit must be a positive integer"})
			return
		}
		limit = min(l, maxHistory)
	}

	runs, err := a.Store.RecentRuns(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleLabelCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Store.LabelCounts(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// upload returns the CSV stream from a multipart "file" part or the raw body,
// along with its charset: the query parameter wins over the content type
// parameter, which wins over the configured default.
func (a *API) upload(r *http.Request) (io.ReadCloser, string, error) {
	charset := a.Charset
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if cs := params["charset"]; cs != "" {
		charset = cs
	}

	var body io.ReadCloser = r.Body
	if mediaType == "multipart/form-data" {
		memory := a.MaxUploadBytes
		if memory <= 0 {
			memory = 32 << 20
		}
		if err := r.ParseMultipartForm(memory); err != nil {
			return nil, "", badUpload(err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", &pipeline.FormatError{Reason: `multipart upload needs a "file" part`, Err: err}
		}
		if _, params, err := mime.ParseMediaType(header.Header.Get("Content-Type")); err == nil && params["charset"] != "" {
			charset = params["charset"]
		}
		body = file
	}
	if cs := r.URL.Query().Get("charset"); cs != "" {
		charset = cs
	}
	return body, charset, nil
}

func badUpload(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return &pipeline.FormatError{Reason: "cannot read upload", Err: err}
}

// decodeForm reads a JSON object of raw field values. Numbers and strings are
// both accepted; their text is what the form assembly parses.
func decodeForm(r io.Reader) (map[string]string, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, &pipeline.FormatError{Reason: "request body must be a JSON object", Err: err}
	}
	if payload == nil {
		return nil, &pipeline.FormatError{Reason: "request body must be a JSON object"}
	}

	raw := make(map[string]string, len(payload))
	for name, value := range payload {
		switch v := value.(type) {
		case string:
			raw[name] = v
		case json.Number:
			raw[name] = v.String()
		case nil:
			raw[name] = ""
		default:
			return nil, &pipeline.FormatError{Column: name, Reason: fmt.Sprintf("expected a string or number, got %T", value)}
		}
	}
	return raw, nil
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: pipeline.ErrorKind(err), Message: err.Error()}
	status := http.StatusInternalServerError

	var (
		formatErr  *pipeline.FormatError
		unknownErr *pipeline.UnknownCategoryError
		missingErr *pipeline.MissingEncoderError
		predErr    *pipeline.PredictionError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
		body.Error = "too_large"
		body.Message = fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)
	case errors.As(err, &formatErr):
		status = http.StatusBadRequest
		body.Row, body.Column = formatErr.Row, formatErr.Column
	case errors.As(err, &unknownErr):
		status = http.StatusUnprocessableEntity
		body.Row, body.Column = unknownErr.Row, unknownErr.Column
	case errors.As(err, &missingErr):
		status = http.StatusUnprocessableEntity
		body.Column = missingErr.Column
	case errors.As(err, &predErr):
		body.Row, body.Column = predErr.Row, predErr.Column
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		body.Error = "timeout"
	default:
		body.Error = "internal_error"
	}

	logger := a.Logger.With(zap.String("request_id", GetRequestID(r.Context())))
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Info("request rejected", zap.String("error_kind", body.Error), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
