package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pppwaw/white-label-airport-core/internal/metrics"
	"github.com/pppwaw/white-label-airport-core/schema"
)

type callTrace struct {
	mu    sync.Mutex
	calls []string
}

func (c *callTrace) add(name string) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
}

func (c *callTrace) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func traceStep(trace *callTrace, name string, resp any, err error) Step {
	return Step{
		Name: name,
		Call: func(context.Context, any) (any, error) {
			trace.add(name)
			return resp, err
		},
	}
}

func TestPipelineRunsStepsInOrder(t *testing.T) {
	trace := &callTrace{}
	p := NewPipeline()
	out := p.Run(context.Background(), "abc", []Step{
		traceStep(trace, "a", "A", nil),
		traceStep(trace, "b", "B", nil),
		traceStep(trace, "c", schema.CoreInfo{State: schema.CoreStarted}, nil),
	})

	if !out.Succeeded() || out.Err != nil {
		t.Fatalf("expected success, got %s: %v", out.Status, out.Err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, trace.list()); diff != "" {
		t.Fatalf("unexpected call order (-want +got):\n%s", diff)
	}
	if out.Completed != 3 || out.Results.Len() != 3 {
		t.Fatalf("expected 3 completed steps, got %d/%d", out.Completed, out.Results.Len())
	}
	if out.RunID == "" || out.Pipeline != "abc" {
		t.Fatalf("expected run id and pipeline name, got %q/%q", out.RunID, out.Pipeline)
	}
	state, ok := out.State()
	if !ok || state != schema.CoreStarted {
		t.Fatalf("expected carried started state, got %v (ok=%v)", state, ok)
	}
}

func TestPipelineApplicationFailureStopsRun(t *testing.T) {
	trace := &callTrace{}
	b := traceStep(trace, "b", schema.ParseResponse{Code: schema.ResponseCodeFailed, Message: "bad config"}, nil)
	b.Check = func(resp any) error {
		if resp.(schema.ParseResponse).Code != schema.ResponseCodeOK {
			return ApplicationFailure("b", resp.(schema.ParseResponse).Message)
		}
		return nil
	}
	out := NewPipeline().Run(context.Background(), "abc", []Step{
		traceStep(trace, "a", "A", nil),
		b,
		traceStep(trace, "c", schema.CoreInfo{State: schema.CoreStarted}, nil),
	})

	if out.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", out.Status)
	}
	if diff := cmp.Diff([]string{"a", "b"}, trace.list()); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
	if out.FailedStep() != "b" {
		t.Fatalf("expected step b to fail, got %q", out.FailedStep())
	}
	if KindOf(out.Err) != ErrorKindApplication {
		t.Fatalf("expected application failure, got %q", KindOf(out.Err))
	}
	if out.Err.Error() != `step "b" failed: bad config` {
		t.Fatalf("unexpected error text: %q", out.Err.Error())
	}
	if _, ok := out.State(); ok {
		t.Fatalf("failed run must not carry a state")
	}
}

func TestPipelineClassifiesFailures(t *testing.T) {
	transport := NewError(ErrorKindTransport, "call", errBoom)
	cases := []struct {
		name string
		step Step
		want ErrorKind
	}{
		{
			name: "unclassified call error",
			step: Step{Name: "s", Call: func(context.Context, any) (any, error) { return nil, errBoom }},
			want: ErrorKindRemote,
		},
		{
			name: "transport error",
			step: Step{Name: "s", Call: func(context.Context, any) (any, error) { return nil, transport }},
			want: ErrorKindTransport,
		},
		{
			name: "plain check error",
			step: Step{
				Name:  "s",
				Call:  func(context.Context, any) (any, error) { return "ok", nil },
				Check: func(any) error { return errBoom },
			},
			want: ErrorKindApplication,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := NewPipeline().Run(context.Background(), "p", []Step{tc.step})
			if out.Status != StatusFailed {
				t.Fatalf("expected failed status, got %s", out.Status)
			}
			var stepErr *StepError
			if !errors.As(out.Err, &stepErr) {
				t.Fatalf("expected StepError, got %T", out.Err)
			}
			if stepErr.Kind() != tc.want {
				t.Fatalf("expected kind %q, got %q", tc.want, stepErr.Kind())
			}
			if !errors.Is(out.Err, errBoom) {
				t.Fatalf("expected cause to be preserved, got %v", out.Err)
			}
		})
	}
}

func TestPipelineInputSeesPriorResults(t *testing.T) {
	var got string
	steps := []Step{
		NewStep("first", nil, func(context.Context, struct{}) (string, error) { return "hello", nil }, nil),
		NewStep("second",
			func(prior Results) (string, error) {
				first, ok := ResultOf[string](prior, "first")
				if !ok {
					return "", errors.New("missing first")
				}
				return first + " world", nil
			},
			func(_ context.Context, in string) (string, error) {
				got = in
				return in, nil
			}, nil),
	}
	out := NewPipeline().Run(context.Background(), "p", steps)
	if !out.Succeeded() {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if got != "hello world" {
		t.Fatalf("expected derived input, got %q", got)
	}
	if out.Results.Last() != "hello world" {
		t.Fatalf("unexpected last result %v", out.Results.Last())
	}
}

func TestPipelineInputFailureSkipsCall(t *testing.T) {
	called := false
	step := NewStep("s",
		func(Results) (string, error) { return "", schema.ErrEmptyConfig },
		func(context.Context, string) (string, error) {
			called = true
			return "", nil
		}, nil)
	out := NewPipeline().Run(context.Background(), "p", []Step{step})
	if called {
		t.Fatalf("call must not run when input fails")
	}
	if !errors.Is(out.Err, schema.ErrEmptyConfig) {
		t.Fatalf("expected empty config error, got %v", out.Err)
	}
	if KindOf(out.Err) != ErrorKindApplication {
		t.Fatalf("expected input failure classified as application, got %q", KindOf(out.Err))
	}
	if out.Status != StatusFailed || out.FailedStep() != "s" {
		t.Fatalf("expected failure at s, got %s at %q", out.Status, out.FailedStep())
	}
}

func TestPipelineCompensatesInReverseOrder(t *testing.T) {
	reg := prometheus.NewRegistry()
	trace := &callTrace{}
	compensated := func(name string, err error) Step {
		step := traceStep(trace, name, name+"-resp", nil)
		step.Compensate = func(_ context.Context, resp any) error {
			trace.add("undo-" + resp.(string))
			return err
		}
		return step
	}
	panicking := traceStep(trace, "p", "p-resp", nil)
	panicking.Compensate = func(context.Context, any) error {
		trace.add("undo-p")
		panic("undo exploded")
	}

	out := NewPipeline(WithPipelineMetrics(metrics.New(reg))).Run(context.Background(), "undo", []Step{
		compensated("a", nil),
		traceStep(trace, "plain", "plain", nil),
		compensated("b", errBoom),
		panicking,
		traceStep(trace, "fail", nil, errBoom),
	})

	if out.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", out.Status)
	}
	want := []string{"a", "plain", "b", "p", "fail", "undo-p", "undo-b-resp", "undo-a-resp"}
	if diff := cmp.Diff(want, trace.list()); diff != "" {
		t.Fatalf("unexpected call order (-want +got):\n%s", diff)
	}
	if got := counterValue(t, reg, "corectl_pipeline_compensation_failures_total", "step", "b"); got != 1 {
		t.Fatalf("expected compensation failure for b, got %v", got)
	}
	if got := counterValue(t, reg, "corectl_pipeline_compensation_failures_total", "step", "p"); got != 1 {
		t.Fatalf("expected compensation failure for p, got %v", got)
	}
	if got := counterValue(t, reg, "corectl_pipeline_runs_total", "outcome", string(StatusFailed)); got != 1 {
		t.Fatalf("expected one failed run, got %v", got)
	}
}

func TestPipelineNoCompensationOnSuccess(t *testing.T) {
	undone := false
	step := Step{
		Name:       "s",
		Call:       func(context.Context, any) (any, error) { return nil, nil },
		Compensate: func(context.Context, any) error { undone = true; return nil },
	}
	if out := NewPipeline().Run(context.Background(), "p", []Step{step}); !out.Succeeded() {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if undone {
		t.Fatalf("successful run must not compensate")
	}
}

func TestPipelineZeroSteps(t *testing.T) {
	out := NewPipeline().Run(context.Background(), "empty", nil)
	if !out.Succeeded() || out.Completed != 0 {
		t.Fatalf("expected trivial success, got %s (%d)", out.Status, out.Completed)
	}
	if _, ok := out.State(); ok {
		t.Fatalf("empty run must not carry a state")
	}
}

func TestPipelineAbortsWhenContextCancelled(t *testing.T) {
	trace := &callTrace{}
	ctx, cancel := context.WithCancel(context.Background())
	var compensateCtxErr error
	first := traceStep(trace, "a", "A", nil)
	first.Compensate = func(ctx context.Context, _ any) error {
		compensateCtxErr = ctx.Err()
		trace.add("undo-a")
		return nil
	}
	cancelling := Step{
		Name: "b",
		Call: func(context.Context, any) (any, error) {
			trace.add("b")
			cancel()
			return "B", nil
		},
	}

	out := NewPipeline().Run(ctx, "p", []Step{first, cancelling, traceStep(trace, "c", "C", nil)})
	if out.Status != StatusAborted {
		t.Fatalf("expected aborted status, got %s", out.Status)
	}
	if out.FailedStep() != "c" {
		t.Fatalf("expected abort before c, got %q", out.FailedStep())
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", out.Err)
	}
	if diff := cmp.Diff([]string{"a", "b", "undo-a"}, trace.list()); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
	if compensateCtxErr != nil {
		t.Fatalf("compensation must run with a live context, got %v", compensateCtxErr)
	}
}

func TestPipelineAbortedDuringCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	step := Step{
		Name: "slow",
		Call: func(ctx context.Context, _ any) (any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	out := NewPipeline().Run(ctx, "p", []Step{step})
	if out.Status != StatusAborted {
		t.Fatalf("expected aborted status, got %s", out.Status)
	}
	if KindOf(out.Err) != "" {
		t.Fatalf("cancellation must stay unclassified, got %q", KindOf(out.Err))
	}
}

func TestPipelineConcurrentRunsAreIndependent(t *testing.T) {
	p := NewPipeline()
	var wg sync.WaitGroup
	outs := make([]Outcome, 16)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			steps := []Step{
				NewStep("n", nil, func(context.Context, struct{}) (int, error) { return i, nil }, nil),
			}
			if i%2 == 1 {
				steps = append(steps, Step{Name: "fail", Call: func(context.Context, any) (any, error) { return nil, errBoom }})
			}
			outs[i] = p.Run(context.Background(), "p", steps)
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i, out := range outs {
		if ids[out.RunID] {
			t.Fatalf("duplicate run id %q", out.RunID)
		}
		ids[out.RunID] = true
		n, _ := ResultOf[int](out.Results, "n")
		if n != i {
			t.Fatalf("run %d saw result %d", i, n)
		}
		if want := i%2 == 0; out.Succeeded() != want {
			t.Fatalf("run %d: expected success=%v, got %s", i, want, out.Status)
		}
	}
}
