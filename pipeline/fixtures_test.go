package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"salaryclf/config"
	"salaryclf/ml"
)

var occupations = []string{
	"Adm-clerical", "Armed-Forces", "Craft-repair", "Exec-managerial",
	"Farming-fishing", "Handlers-cleaners", "Machine-op-inspct", "Other-service",
	"Priv-house-serv", "Prof-specialty", "Protective-serv", "Sales",
	"Tech-support", "Transport-moving",
}

var trainedFeatures = []string{
	"age", "educational-num", "occupation", "hours-per-week", "experience", "capital-gain",
}

func testFeatures(t *testing.T) *ml.FeatureList {
	t.Helper()
	features, err := ml.NewFeatureList(trainedFeatures)
	require.NoError(t, err)
	return features
}

func testEncoders(t *testing.T, vocab map[string][]string) *ml.EncoderTable {
	t.Helper()
	if vocab == nil {
		vocab = map[string][]string{"occupation": occupations}
	}
	table, err := ml.NewEncoderTable(vocab)
	require.NoError(t, err)
	return table
}

// testModel predicts >50K only for educational-num > 12 and hours-per-week > 35.
func testModel(t *testing.T) ml.Model {
	t.Helper()
	tree, err := ml.NewDecisionTree([]string{">50K", "≤50K"}, len(trainedFeatures), []ml.TreeNode{
		{FeatureIdx: 1, Threshold: 12, LeftChild: 1, RightChild: 2},
		{IsLeaf: true, ClassLabel: 1, Counts: []float64{1, 3}},
		{FeatureIdx: 3, Threshold: 35, LeftChild: 3, RightChild: 4},
		{IsLeaf: true, ClassLabel: 1},
		{IsLeaf: true, ClassLabel: 0, Counts: []float64{3, 1}},
	})
	require.NoError(t, err)
	return tree
}

func testOptions() Options {
	cfg := config.Default()
	return OptionsFromConfig(cfg)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) Observe(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestService(t *testing.T, opts Options, vocab map[string][]string) (*Service, *recordingObserver) {
	t.Helper()
	observer := &recordingObserver{}
	svc, err := NewService(Artifacts{
		Model:    testModel(t),
		Encoders: testEncoders(t, vocab),
		Features: testFeatures(t),
	}, opts, zap.NewNop(), observer)
	require.NoError(t, err)
	return svc, observer
}

func employee() map[string]string {
	return map[string]string{
		"age":             "30",
		"educational-num": "10",
		"occupation":      "Tech-support",
		"hours-per-week":  "40",
		"experience":      "5",
	}
}
