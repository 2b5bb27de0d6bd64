package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"salaryclf/config"
	"salaryclf/db"
	"salaryclf/ml"
	"salaryclf/monitoring"
	"salaryclf/pipeline"
)

var occupations = []string{
	"Adm-clerical", "Armed-Forces", "Craft-repair", "Exec-managerial",
	"Farming-fishing", "Handlers-cleaners", "Machine-op-inspct", "Other-service",
	"Priv-house-serv", "Prof-specialty", "Protective-serv", "Sales",
	"Tech-support", "Transport-moving",
}

const uploadCSV = `age,educational-num,occupation,hours-per-week,experience
30,10,Tech-support,40,5
45,14,Exec-managerial,50,20
23,9,Sales,20,1
51,16,Prof-specialty,60,25
38,13,Craft-repair,30,12
29,15,Sales,45,4
`

type testEnv struct {
	handler http.Handler
	store   *db.Store
	metrics *monitoring.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	features, err := ml.NewFeatureList([]string{"age", "educational-num", "occupation", "hours-per-week", "experience"})
	if err != nil {
		t.Fatal(err)
	}
	encoders, err := ml.NewEncoderTable(map[string][]string{"occupation": occupations})
	if err != nil {
		t.Fatal(err)
	}
	tree, err := ml.NewDecisionTree([]string{">50K", "≤50K"}, 5, []ml.TreeNode{
		{FeatureIdx: 1, Threshold: 12, LeftChild: 1, RightChild: 2},
		{IsLeaf: true, ClassLabel: 1},
		{IsLeaf: true, ClassLabel: 0},
	})
	if err != nil {
		t.Fatal(err)
	}

	store, err := db.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	metrics := monitoring.NewMetrics()

	cfg := config.Default()
	svc, err := pipeline.NewService(pipeline.Artifacts{Model: tree, Encoders: encoders, Features: features},
		pipeline.OptionsFromConfig(cfg), zap.NewNop(), store.Observer(zap.NewNop()), metrics)
	if err != nil {
		t.Fatal(err)
	}

	api := &API{
		Service: svc,
		Store:   store,
		Metrics: metrics,
		Logger:  zap.NewNop(),
		Charset: cfg.Batch.Charset,
	}
	serverCfg := ServerConfigFrom(cfg.Http)
	serverCfg.MaxUploadBytes = 4096
	return &testEnv{handler: NewHandler(serverCfg, api), store: store, metrics: metrics}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error json %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("unexpected body: %s", got)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestSchemaHandler(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/schema", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var schema pipeline.Schema
	if err := json.Unmarshal(w.Body.Bytes(), &schema); err != nil {
		t.Fatal(err)
	}
	if len(schema.Vocabulary["occupation"]) != len(occupations) {
		t.Errorf("vocabulary has %d occupations", len(schema.Vocabulary["occupation"]))
	}
	if len(schema.Fields) != 5 || schema.Fields[0].Name != "age" {
		t.Errorf("unexpected fields: %+v", schema.Fields)
	}
}

func TestPredictHandler(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		label  string
		kind   string
		column string
	}{
		{
			name:   "numbers and strings",
			body:   `{"age":30,"educational-num":"10","occupation":"Tech-support","hours-per-week":40,"experience":5}`,
			status: http.StatusOK,
			label:  "≤50K",
		},
		{
			name:   "defaults fill empty sliders",
			body:   `{"educational-num":14,"occupation":"Sales"}`,
			status: http.StatusOK,
			label:  ">50K",
		},
		{
			name:   "unknown occupation",
			body:   `{"age":30,"educational-num":10,"occupation":"Astronaut","hours-per-week":40,"experience":5}`,
			status: http.StatusUnprocessableEntity,
			kind:   pipeline.KindUnknownCategory,
			column: "occupation",
		},
		{
			name:   "out of range",
			body:   `{"age":99,"occupation":"Sales"}`,
			status: http.StatusBadRequest,
			kind:   pipeline.KindFormat,
			column: "age",
		},
		{
			name:   "not an object",
			body:   `[1,2]`,
			status: http.StatusBadRequest,
			kind:   pipeline.KindFormat,
		},
		{
			name:   "boolean value",
			body:   `{"age":true}`,
			status: http.StatusBadRequest,
			kind:   pipeline.KindFormat,
			column: "age",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := env.do(req)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusOK {
				var payload map[string]any
				if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
					t.Fatal(err)
				}
				if payload["label"] != tt.label {
					t.Errorf("expected label %s, got %v", tt.label, payload["label"])
				}
				return
			}
			body := decodeError(t, w)
			if body.Error != tt.kind || body.Column != tt.column {
				t.Errorf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestPredictBatchCSVDownload(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/predict/batch", strings.NewReader(uploadCSV))
	req.Header.Set("Content-Type", "text/csv")
	w := env.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != "attachment; filename=predicted_classes.csv" {
		t.Errorf("unexpected content disposition %q", got)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("expected header and 6 rows, got %d lines", len(lines))
	}
	if lines[0] != "age,educational-num,occupation,hours-per-week,experience,PredictedClass" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[1] != "30,10,Tech-support,40,5,≤50K" || lines[2] != "45,14,Exec-managerial,50,20,>50K" {
		t.Errorf("unexpected rows %q", lines[1:3])
	}
}

func TestPredictBatchMultipartPreview(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "employees.csv")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(uploadCSV))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/predict/batch?format=json", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := env.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var preview batchPreview
	if err := json.Unmarshal(w.Body.Bytes(), &preview); err != nil {
		t.Fatal(err)
	}
	if preview.TotalRows != 6 || len(preview.Rows) != 5 {
		t.Errorf("expected 5 of 6 rows, got %d of %d", len(preview.Rows), preview.TotalRows)
	}
	if last := preview.Header[len(preview.Header)-1]; last != "PredictedClass" {
		t.Errorf("unexpected last column %q", last)
	}
}

func TestPredictBatchErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		query  string
		status int
		kind   string
		row    int
	}{
		{name: "empty", body: "", status: http.StatusBadRequest, kind: pipeline.KindFormat},
		{name: "wrong delimiter", body: "age;occupation\n30;Sales\n", status: http.StatusBadRequest, kind: pipeline.KindFormat},
		{
			name:   "unknown category in row 3",
			body:   strings.Replace(uploadCSV, "23,9,Sales", "23,9,Astronaut", 1),
			status: http.StatusUnprocessableEntity,
			kind:   pipeline.KindUnknownCategory,
			row:    3,
		},
		{
			name:   "non-numeric value",
			body:   strings.Replace(uploadCSV, "38,13", "old,13", 1),
			status: http.StatusInternalServerError,
			kind:   pipeline.KindPrediction,
			row:    5,
		},
		{name: "unknown charset", body: uploadCSV, query: "?charset=klingon", status: http.StatusBadRequest, kind: pipeline.KindFormat},
		{name: "too large", body: strings.Repeat(uploadCSV, 40), status: http.StatusRequestEntityTooLarge, kind: "too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := httptest.NewRequest(http.MethodPost, "/api/predict/batch"+tt.query, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "text/csv")
			w := env.do(req)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			body := decodeError(t, w)
			if body.Error != tt.kind || body.Row != tt.row {
				t.Errorf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestPredictionsHandler(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"occupation":"Sales"}`))
		if w := env.do(req); w.Code != http.StatusOK {
			t.Fatalf("predict failed: %d %s", w.Code, w.Body.String())
		}
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/predictions?limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var runs []db.Run
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Source != "http" || runs[0].Status != db.StatusOK {
		t.Errorf("unexpected run %+v", runs[0])
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/predictions?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/predictions/labels", nil))
	var counts map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &counts); err != nil {
		t.Fatal(err)
	}
	if counts["≤50K"] != 3 {
		t.Errorf("unexpected label counts %v", counts)
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)
	env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `salaryclf_http_requests_total{code="200",method="GET"} 1`) {
		t.Errorf("request metric missing:\n%s", w.Body.String())
	}
}

func TestRoutesRejectWrongMethod(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/predict", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestServerStop(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 0
	srv := NewServer(cfg, &API{Service: nil})
	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}
}
