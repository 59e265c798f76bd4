package ladybug

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CorrelationWarning describes a non-fatal problem found while correlating
// point calls, e.g. an unexpected thread topology or a dropped checkpoint.
// Warnings are logged and retained by the tracer, never returned to callers.
type CorrelationWarning struct {
	Time          time.Time `json:"time"`
	CorrelationID string    `json:"correlationId"`
	Thread        string    `json:"thread,omitempty"`
	Message       string    `json:"message"`
	Error         bool      `json:"error,omitempty"`
}

func (w CorrelationWarning) String() string {
	level := "warning"
	if w.Error {
		level = "error"
	}
	if w.Thread != "" {
		return fmt.Sprintf("%s: %s (correlation %q, thread %q)", level, w.Message, w.CorrelationID, w.Thread)
	}
	return fmt.Sprintf("%s: %s (correlation %q)", level, w.Message, w.CorrelationID)
}

func (t *Tracer) warn(ctx context.Context, correlationID, thread, format string, args ...any) {
	t.note(ctx, false, correlationID, thread, format, args...)
}

func (t *Tracer) fail(ctx context.Context, correlationID, thread, format string, args ...any) {
	t.note(ctx, true, correlationID, thread, format, args...)
}

func (t *Tracer) note(ctx context.Context, isErr bool, correlationID, thread, format string, args ...any) {
	w := CorrelationWarning{
		Time:          time.Now().UTC(),
		CorrelationID: correlationID,
		Thread:        thread,
		Message:       fmt.Sprintf(format, args...),
		Error:         isErr,
	}
	t.warnings.Add(w)
	t.metrics.warned()

	level := slog.LevelWarn
	if isErr {
		level = slog.LevelError
	}
	t.logger.Log(ctx, level, w.Message, "correlation_id", correlationID, "thread", thread)
}

// Warnings returns the most recent warnings and errors, newest first.
func (t *Tracer) Warnings() []CorrelationWarning {
	return t.warnings.Values()
}
