package logx

import (
	"context"

	"pkt.systems/pslog"
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return pslog.Ctx(ctx)
}

// OrDefault returns log, or the background context logger when log is nil.
func OrDefault(log pslog.Logger) pslog.Logger {
	if log == nil {
		return pslog.Ctx(context.Background())
	}
	return log
}

// WithRun annotates the logger with pipeline run identifiers.
func WithRun(log pslog.Logger, pipeline, runID string) pslog.Logger {
	log = OrDefault(log)
	if pipeline != "" {
		log = log.With("pipeline", pipeline)
	}
	if runID != "" {
		log = log.With("run_id", runID)
	}
	return log
}

// WithStep annotates the logger with the step being executed.
func WithStep(log pslog.Logger, step string, index int) pslog.Logger {
	log = OrDefault(log)
	if step == "" {
		return log
	}
	return log.With("step", step, "step_index", index)
}

// WithAttempt annotates the logger with a subscription attempt number.
func WithAttempt(log pslog.Logger, attempt uint64) pslog.Logger {
	log = OrDefault(log)
	if attempt == 0 {
		return log
	}
	return log.With("attempt", attempt)
}

// ContextWithRunLogger attaches a run-annotated logger to the context so
// transport calls made inside a step log with the same fields.
func ContextWithRunLogger(ctx context.Context, log pslog.Logger, pipeline, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return pslog.ContextWithLogger(ctx, WithRun(log, pipeline, runID))
}
