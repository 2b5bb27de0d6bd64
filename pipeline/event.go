package pipeline

import (
	"context"
	"time"
)

// Run kinds.
const (
	KindSingle = "single"
	KindBatch  = "batch"
)

// Event describes one finished pipeline run, successful or not.
type Event struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Source    string        `json:"source"`
	Rows      int           `json:"rows"`
	Labels    []string      `json:"labels,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Filled    []string      `json:"filled,omitempty"`
	Dropped   []string      `json:"dropped,omitempty"`
	Duration  time.Duration `json:"duration"`
	Time      time.Time     `json:"time"`
}

func (e Event) Failed() bool {
	return e.Message != ""
}

// Observer receives every Event after the run completes. Observers must not
// block for long; runs are serialized.
type Observer interface {
	Observe(ctx context.Context, event Event)
}

type sourceKey struct{}

// WithSource tags runs started with ctx, e.g. "http" or "inbox".
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok {
		return s
	}
	return "unknown"
}
