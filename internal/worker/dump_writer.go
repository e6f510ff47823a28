package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DumpWriter persists raw scrape content for post-mortem diagnosis of match
// failures. Writes are queued and best-effort: a full queue drops the dump,
// a failed write is logged and retried with backoff, and nothing ever
// propagates back to the booking path.
type DumpWriter struct {
	dir    string
	queue  chan dumpTask
	retry  RetryPolicy
	logger zerolog.Logger
}

type dumpTask struct {
	label   string
	content string
	queued  time.Time
}

func NewDumpWriter(dir string, queueSize int, retry RetryPolicy, logger *zerolog.Logger) *DumpWriter {
	if queueSize <= 0 {
		queueSize = 100
	}
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Second
	}
	return &DumpWriter{
		dir:    dir,
		queue:  make(chan dumpTask, queueSize),
		retry:  retry,
		logger: logger.With().Str("component", "dump-writer").Logger(),
	}
}

// Write enqueues a dump without blocking. When the queue is full the dump is
// dropped; diagnostics never apply backpressure to the processor.
func (w *DumpWriter) Write(label, content string) {
	select {
	case w.queue <- dumpTask{label: label, content: content, queued: time.Now()}:
	default:
		w.logger.Warn().Str("label", label).Msg("diagnostic queue full, dropping dump")
	}
}

// Start consumes the queue until the context is cancelled.
func (w *DumpWriter) Start(ctx context.Context) {
	w.logger.Info().Str("dir", w.dir).Msg("diagnostic dump writer started")
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.queue:
			w.process(ctx, task)
		}
	}
}

func (w *DumpWriter) process(ctx context.Context, task dumpTask) {
	name := fmt.Sprintf("%s_%s.html", sanitizeLabel(task.label), task.queued.Format("20060102_150405"))
	path := filepath.Join(w.dir, name)

	var lastErr error
	for attempt := 1; attempt <= w.retry.MaxRetries; attempt++ {
		if lastErr = w.writeFile(path, task.content); lastErr == nil {
			w.logger.Info().Str("path", path).Msg("diagnostic dump written")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.retry.NextDelay(attempt)):
		}
	}
	w.logger.Error().Err(lastErr).Str("path", path).Msg("giving up on diagnostic dump")
}

func (w *DumpWriter) writeFile(path, content string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
}
