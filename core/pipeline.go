package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pppwaw/white-label-airport-core/internal/logx"
	"github.com/pppwaw/white-label-airport-core/internal/metrics"
	"github.com/pppwaw/white-label-airport-core/schema"
	"pkt.systems/pslog"
)

// Step is one remote call in a pipeline run.
type Step struct {
	Name string
	// Input builds the request from earlier step responses. Nil means the
	// call takes no input.
	Input func(prior Results) (any, error)
	// Call performs the remote call.
	Call func(ctx context.Context, input any) (any, error)
	// Check judges the response. A non-nil error is an application failure.
	Check func(resp any) error
	// Compensate undoes the step if a later step fails. Failures are logged.
	Compensate func(ctx context.Context, resp any) error
}

// NewStep builds a Step from typed closures. input and check may be nil.
func NewStep[Req, Resp any](
	name string,
	input func(prior Results) (Req, error),
	call func(ctx context.Context, req Req) (Resp, error),
	check func(resp Resp) error,
) Step {
	step := Step{
		Name: name,
		Call: func(ctx context.Context, in any) (any, error) {
			req, _ := in.(Req)
			return call(ctx, req)
		},
	}
	if input != nil {
		step.Input = func(prior Results) (any, error) {
			return input(prior)
		}
	}
	if check != nil {
		step.Check = func(resp any) error {
			typed, ok := resp.(Resp)
			if !ok {
				return fmt.Errorf("unexpected response type %T", resp)
			}
			return check(typed)
		}
	}
	return step
}

// Compensated returns step with a typed compensating action attached.
func Compensated[Resp any](step Step, compensate func(ctx context.Context, resp Resp) error) Step {
	step.Compensate = func(ctx context.Context, resp any) error {
		typed, _ := resp.(Resp)
		return compensate(ctx, typed)
	}
	return step
}

// Results holds the responses of completed steps by step name.
type Results struct {
	values map[string]any
	last   any
}

// Get returns the response recorded for a step.
func (r Results) Get(step string) (any, bool) {
	v, ok := r.values[step]
	return v, ok
}

// Last returns the response of the most recently completed step.
func (r Results) Last() any {
	return r.last
}

// Len returns the number of recorded responses.
func (r Results) Len() int {
	return len(r.values)
}

func (r *Results) put(step string, resp any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	r.values[step] = resp
	r.last = resp
}

// ResultOf returns the typed response recorded for a step.
func ResultOf[T any](r Results, step string) (T, bool) {
	v, ok := r.values[step]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Status is the terminal status of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// StateCarrier is implemented by responses that report a lifecycle state.
type StateCarrier interface {
	CoreState() (schema.CoreState, bool)
}

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	RunID     string
	Pipeline  string
	Status    Status
	Completed int
	Results   Results
	// Err is a *StepError for failed and aborted runs.
	Err error
}

// Succeeded reports whether every step succeeded.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// FailedStep returns the name of the step that failed or was not started
// because the run was aborted.
func (o Outcome) FailedStep() string {
	var stepErr *StepError
	if errors.As(o.Err, &stepErr) {
		return stepErr.Step
	}
	return ""
}

// State returns the lifecycle state carried by the final response of a
// successful run.
func (o Outcome) State() (schema.CoreState, bool) {
	if !o.Succeeded() {
		return schema.CoreStopped, false
	}
	carrier, ok := o.Results.Last().(StateCarrier)
	if !ok {
		return schema.CoreStopped, false
	}
	return carrier.CoreState()
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(log pslog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = log }
}

// WithPipelineMetrics records run outcomes and compensation failures.
func WithPipelineMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline executes ordered step sequences. It keeps no per-run state, so
// concurrent runs are independent.
type Pipeline struct {
	log     pslog.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// NewPipeline constructs a Pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{newID: uuid.NewString}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logx.OrDefault(p.log)
	return p
}

type completedStep struct {
	step Step
	resp any
}

// Run executes steps in order and returns exactly one Outcome. The first
// failing call or check stops the run; later steps never start. Completed
// steps with a compensating action are undone in reverse order before the
// outcome is returned. A context cancelled between steps aborts the run.
func (p *Pipeline) Run(ctx context.Context, name string, steps []Step) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	out := Outcome{RunID: p.newID(), Pipeline: name}
	log := logx.WithRun(p.log, name, out.RunID)
	ctx = logx.ContextWithRunLogger(ctx, p.log, name, out.RunID)
	log.Debug("pipeline run start", "steps", len(steps))

	var done []completedStep
	for i, step := range steps {
		stepLog := logx.WithStep(log, step.Name, i)
		if err := ctx.Err(); err != nil {
			out.Status = StatusAborted
			out.Err = &StepError{Pipeline: name, Step: step.Name, Index: i, Err: err}
			break
		}
		resp, err := p.runStep(ctx, step, out.Results)
		if err != nil {
			out.Status = StatusFailed
			if ctx.Err() != nil {
				out.Status = StatusAborted
			}
			out.Err = &StepError{Pipeline: name, Step: step.Name, Index: i, Err: err}
			stepLog.Warn("pipeline step failed", "kind", string(KindOf(err)), "err", err)
			break
		}
		stepLog.Debug("pipeline step ok")
		out.Results.put(step.Name, resp)
		out.Completed++
		done = append(done, completedStep{step: step, resp: resp})
	}

	if out.Err == nil {
		out.Status = StatusSucceeded
		log.Info("pipeline run succeeded", "steps", out.Completed)
	} else {
		p.compensate(context.WithoutCancel(ctx), log, name, done)
		log.Warn("pipeline run failed", "status", string(out.Status), "step", out.FailedStep(), "completed", out.Completed, "err", out.Err)
	}
	p.metrics.IncPipelineRun(name, string(out.Status))
	return out
}

func (p *Pipeline) runStep(ctx context.Context, step Step, prior Results) (any, error) {
	if step.Call == nil {
		return nil, fmt.Errorf("step %q has no call", step.Name)
	}
	var input any
	if step.Input != nil {
		in, err := step.Input(prior)
		if err != nil {
			if KindOf(err) == "" {
				err = &Error{Kind: ErrorKindApplication, Op: step.Name, Err: fmt.Errorf("build input: %w", err)}
			}
			return nil, err
		}
		input = in
	}
	resp, err := step.Call(ctx, input)
	if err != nil {
		if KindOf(err) == "" && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = NewError(ErrorKindRemote, step.Name, err)
		}
		return nil, err
	}
	if step.Check != nil {
		if err := step.Check(resp); err != nil {
			if KindOf(err) == "" {
				err = &Error{Kind: ErrorKindApplication, Op: step.Name, Err: err}
			}
			return nil, err
		}
	}
	return resp, nil
}

func (p *Pipeline) compensate(ctx context.Context, log pslog.Logger, name string, done []completedStep) {
	for i := len(done) - 1; i >= 0; i-- {
		entry := done[i]
		if entry.step.Compensate == nil {
			continue
		}
		stepLog := logx.WithStep(log, entry.step.Name, i)
		if err := p.safeCompensate(ctx, entry); err != nil {
			p.metrics.IncCompensationFailure(name, entry.step.Name)
			stepLog.Warn("pipeline compensation failed", "err", err)
			continue
		}
		stepLog.Debug("pipeline step compensated")
	}
}

func (p *Pipeline) safeCompensate(ctx context.Context, entry completedStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panic: %v", r)
		}
	}()
	return entry.step.Compensate(ctx, entry.resp)
}
