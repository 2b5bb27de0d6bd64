// Package batch runs CSV files dropped into an inbox directory through the
// batch prediction path.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"salaryclf/config"
	"salaryclf/pipeline"
)

const defaultSettle = 500 * time.Millisecond

// Processor is the batch half of the pipeline service.
type Processor interface {
	PredictBatch(ctx context.Context, table *pipeline.Table) (*pipeline.BatchResult, error)
}

// Watcher processes every *.csv that appears in the inbox. For input
// name.csv it writes name.predicted.csv, or name.error.txt holding the
// user-visible message, to the outbox and then moves the input there too.
type Watcher struct {
	inbox     string
	outbox    string
	charset   string
	processor Processor
	logger    *zap.Logger

	// Settle is how long a file must stay quiet before it is read.
	Settle time.Duration
}

func NewWatcher(cfg config.BatchConfig, processor Processor, logger *zap.Logger) (*Watcher, error) {
	if cfg.InboxDir == "" || cfg.OutboxDir == "" {
		return nil, errors.New("inbox and outbox directories are required")
	}
	for _, dir := range []string{cfg.InboxDir, cfg.OutboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Watcher{
		inbox:     cfg.InboxDir,
		outbox:    cfg.OutboxDir,
		charset:   cfg.Charset,
		processor: processor,
		logger:    logger,
		Settle:    defaultSettle,
	}, nil
}

// Run processes files already waiting in the inbox, then watches it until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(w.inbox); err != nil {
		return fmt.Errorf("watch %s: %w", w.inbox, err)
	}
	w.logger.Info("watching batch inbox", zap.String("inbox", w.inbox), zap.String("outbox", w.outbox))

	existing, err := filepath.Glob(filepath.Join(w.inbox, "*"))
	if err != nil {
		return err
	}
	for _, path := range existing {
		if accepts(path) {
			w.handle(ctx, path)
		}
	}

	ready := make(chan string, 16)
	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(w.Settle)
			return
		}
		timers[path] = time.AfterFunc(w.Settle, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if accepts(event.Name) {
					schedule(event.Name)
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", zap.Error(err))
		case path := <-ready:
			w.handle(ctx, path)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// moved away or already handled
		return
	}
	if err := w.Process(ctx, path); err != nil {
		w.logger.Warn("inbox file rejected", zap.String("file", path), zap.Error(err))
	}
}

// Process runs one file. The returned error is the pipeline error already
// written to the outbox; failures to write the outbox are returned wrapped.
func (w *Watcher) Process(ctx context.Context, path string) error {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	runErr := w.predict(ctx, path, filepath.Join(w.outbox, stem+".predicted.csv"))
	if runErr != nil {
		msg := runErr.Error()
		if kind := pipeline.ErrorKind(runErr); kind != "" {
			msg = kind + ": " + msg
		}
		if err := writeFileAtomic(filepath.Join(w.outbox, stem+".error.txt"), []byte(msg+"\n")); err != nil {
			return fmt.Errorf("write error report: %w", err)
		}
	}
	if err := os.Rename(path, filepath.Join(w.outbox, name)); err != nil {
		return fmt.Errorf("move %s to outbox: %w", name, err)
	}
	if runErr == nil {
		w.logger.Info("inbox file processed", zap.String("file", name))
	}
	return runErr
}

func (w *Watcher) predict(ctx context.Context, in, out string) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	table, err := pipeline.ReadCSV(f, w.charset)
	if err != nil {
		return err
	}
	result, err := w.processor.PredictBatch(pipeline.WithSource(ctx, "inbox"), table)
	if err != nil {
		return err
	}

	var buf strings.Builder
	if err := result.Output.WriteCSV(&buf); err != nil {
		return err
	}
	return writeFileAtomic(out, []byte(buf.String()))
}

func accepts(path string) bool {
	name := filepath.Base(path)
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".csv")
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
