package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func TestWithRunAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithRun(newTestLogger(capture), "connect", "run-1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["pipeline"] != "connect" {
		t.Fatalf("expected pipeline field, got %+v", entry)
	}
	if entry["run_id"] != "run-1" {
		t.Fatalf("expected run_id field, got %+v", entry)
	}
}

func TestWithRunSkipsEmptyFields(t *testing.T) {
	capture := &logCapture{}
	log := WithRun(newTestLogger(capture), "disconnect", "")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["run_id"]; ok {
		t.Fatalf("did not expect run_id for empty id")
	}
}

func TestWithStepAndAttempt(t *testing.T) {
	capture := &logCapture{}
	log := WithAttempt(WithStep(newTestLogger(capture), "parse", 2), 7)
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["step"] != "parse" {
		t.Fatalf("expected step field, got %+v", entry)
	}
	if entry["step_index"] != float64(2) {
		t.Fatalf("expected step_index 2, got %+v", entry)
	}
	if entry["attempt"] != float64(7) {
		t.Fatalf("expected attempt 7, got %+v", entry)
	}
}

func TestContextWithRunLogger(t *testing.T) {
	capture := &logCapture{}
	ctx := ContextWithRunLogger(context.Background(), newTestLogger(capture), "connect", "run-2")
	Ctx(ctx).Info("hello")

	entry := capture.firstEntry(t)
	if entry["run_id"] != "run-2" {
		t.Fatalf("expected run_id from context logger, got %+v", entry)
	}
}

func TestOrDefaultNil(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatalf("expected a fallback logger")
	}
}

func newTestLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
