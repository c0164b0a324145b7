package core

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pppwaw/white-label-airport-core/schema"
)

type streamEvent struct {
	info schema.CoreInfo
	err  error
}

type fakeStream struct {
	events chan streamEvent

	mu     sync.Mutex
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan streamEvent, 16)}
}

func (s *fakeStream) Next(ctx context.Context) (schema.CoreInfo, error) {
	select {
	case <-ctx.Done():
		return schema.CoreInfo{}, ctx.Err()
	case ev := <-s.events:
		return ev.info, ev.err
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) push(state schema.CoreState) {
	s.events <- streamEvent{info: schema.CoreInfo{State: state}}
}

func (s *fakeStream) end() {
	s.events <- streamEvent{err: io.EOF}
}

func (s *fakeStream) fail(err error) {
	s.events <- streamEvent{err: err}
}

type fakeSource struct {
	mu       sync.Mutex
	opens    int
	openErrs []error
	streams  chan *fakeStream
}

func newFakeSource(openErrs ...error) *fakeSource {
	return &fakeSource{openErrs: openErrs, streams: make(chan *fakeStream, 16)}
}

func (f *fakeSource) WatchState(ctx context.Context) (StateStream, error) {
	f.mu.Lock()
	f.opens++
	var err error
	if len(f.openErrs) > 0 {
		err = f.openErrs[0]
		f.openErrs = f.openErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	stream := newFakeStream()
	f.streams <- stream
	return stream, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeSource) nextStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case stream := <-f.streams:
		return stream
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream to open")
		return nil
	}
}

type recordingSink struct {
	mu     sync.Mutex
	states []schema.CoreState
}

func (r *recordingSink) ObserveRemoteState(state schema.CoreState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true
}

func (r *recordingSink) snapshot() []schema.CoreState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.CoreState, len(r.states))
	copy(out, r.states)
	return out
}

type recordingListener struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *recordingListener) OnStateChange(change StateChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	return nil
}

func (r *recordingListener) states() []schema.CoreState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.CoreState, 0, len(r.changes))
	for _, change := range r.changes {
		out = append(out, change.State)
	}
	return out
}

type fakeClient struct {
	*fakeSource

	mu           sync.Mutex
	calls        []string
	settings     string
	changes      []string
	settingsErr  error
	changeErr    error
	capabilities schema.Capabilities
	capErr       error
	parseResp    schema.ParseResponse
	parseErr     error
	lastParse    schema.ParseRequest
	startResp    schema.CoreInfo
	startErr     error
	lastStart    schema.StartRequest
	stopResp     schema.CoreInfo
	stopErr      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		fakeSource: newFakeSource(),
		settings:   `{"region":"other"}`,
		parseResp:  schema.ParseResponse{Code: schema.ResponseCodeOK, Content: "parsed"},
		startResp:  schema.CoreInfo{State: schema.CoreStarted},
		stopResp:   schema.CoreInfo{State: schema.CoreStopped},
	}
}

func (c *fakeClient) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *fakeClient) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *fakeClient) ChangeSettings(_ context.Context, req schema.ChangeSettingsRequest) (schema.SettingsResponse, error) {
	c.record("change-settings")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, req.SettingsJSON)
	if c.changeErr != nil {
		return schema.SettingsResponse{}, c.changeErr
	}
	c.settings = req.SettingsJSON
	return schema.SettingsResponse{SettingsJSON: c.settings}, nil
}

func (c *fakeClient) Settings(context.Context) (schema.SettingsResponse, error) {
	c.record("settings")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settingsErr != nil {
		return schema.SettingsResponse{}, c.settingsErr
	}
	return schema.SettingsResponse{SettingsJSON: c.settings}, nil
}

func (c *fakeClient) Capabilities(context.Context) (schema.Capabilities, error) {
	c.record("capabilities")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities, c.capErr
}

func (c *fakeClient) Parse(_ context.Context, req schema.ParseRequest) (schema.ParseResponse, error) {
	c.record("parse")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastParse = req
	return c.parseResp, c.parseErr
}

func (c *fakeClient) Start(_ context.Context, req schema.StartRequest) (schema.CoreInfo, error) {
	c.record("start")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastStart = req
	return c.startResp, c.startErr
}

func (c *fakeClient) Stop(context.Context) (schema.CoreInfo, error) {
	c.record("stop")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopResp, c.stopErr
}

var errBoom = errors.New("boom")

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
