package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/cadlink/attr"
	"github.com/m4xw311/cadlink/cad/memcad"
	"github.com/m4xw311/cadlink/dispatch"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/handle"
	"github.com/m4xw311/cadlink/query"
	"github.com/m4xw311/cadlink/tools"
	"github.com/m4xw311/cadlink/transport"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	d := memcad.NewSampleDesign()
	h := handle.New()
	env := &tools.Env{Design: d, Handles: h, Attrs: attr.New(h), Query: query.NewEngine(d, h)}
	return dispatch.New(tools.NewRegistry(tools.DefaultModules()), env)
}

// fakeChannel serves queued events and blocks until the deadline when the
// queue is empty. onSend may queue replies.
type fakeChannel struct {
	mu     sync.Mutex
	queue  []transport.Event
	sent   []transport.Message
	resets int
	onSend func(transport.Message) []transport.Event
}

func (f *fakeChannel) Send(ctx context.Context, m transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	if f.onSend != nil {
		f.queue = append(f.queue, f.onSend(m)...)
	}
	return nil
}

func (f *fakeChannel) Receive(ctx context.Context) (transport.Event, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		ev := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return ev, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return transport.Event{}, ctx.Err()
}

func (f *fakeChannel) Reset()       { f.mu.Lock(); f.resets++; f.mu.Unlock() }
func (f *fakeChannel) Close() error { return nil }

type recordingSink struct {
	events   []transport.Event
	connErrs []error
}

func (s *recordingSink) Forward(ev transport.Event) { s.events = append(s.events, ev) }
func (s *recordingSink) ConnectionError(err error)  { s.connErrs = append(s.connErrs, err) }

func event(name, run string) transport.Event {
	return transport.Event{ResponseType: transport.ResponseEvent, Event: name, RunID: run}
}

func TestSubmitRunsToolCallsAndBatchesOutputs(t *testing.T) {
	requires := event(transport.EventRequiresAction, "run_1")
	requires.ToolCalls = []transport.ToolCall{
		{ID: "c1", Name: "run_sql_query", Arguments: `{"query": "SELECT name FROM Occurrence ORDER BY name"}`},
		{ID: "c2", Name: "list_timeline", Arguments: ""},
		{ID: "c3", Name: "explode_everything", Arguments: "{}"},
	}
	replay := transport.NewReplayerFromEvents(
		event(transport.EventRunCreated, "run_1"),
		event(transport.EventStepCreated, "run_1"),
		requires,
		transport.Event{ResponseType: transport.ResponseEvent, Event: transport.EventMessageDelta, RunID: "run_1", Content: "Done."},
		event(transport.EventRunCompleted, "run_1"),
	)
	sink := &recordingSink{}
	c := New(replay, newDispatcher(t), WithSink(sink))

	state, err := c.Submit(context.Background(), "list the occurrences")
	if err != nil || state != Completed {
		t.Fatalf("Submit = %v, %v", state, err)
	}
	if c.State() != Completed {
		t.Errorf("State() = %v", c.State())
	}
	if len(sink.events) != 5 {
		t.Errorf("expected 5 forwarded events, got %d", len(sink.events))
	}

	sent := replay.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected prompt and one tool_outputs message, got %+v", sent)
	}
	if sent[0].MessageType != transport.MessageThreadUpdate || sent[0].Content != "list the occurrences" {
		t.Errorf("first message = %+v", sent[0])
	}
	outputs := sent[1].ToolOutputs
	if sent[1].MessageType != transport.MessageToolOutputs || sent[1].RunID != "run_1" || len(outputs) != 3 {
		t.Fatalf("tool outputs = %+v", sent[1])
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if outputs[i].ToolCallID != id {
			t.Errorf("output %d answers %s, want %s", i, outputs[i].ToolCallID, id)
		}
		if !json.Valid([]byte(outputs[i].Output)) {
			t.Errorf("output %d is not JSON: %s", i, outputs[i].Output)
		}
	}
	if !strings.Contains(outputs[0].Output, "Shaft") {
		t.Errorf("query output missing rows: %s", outputs[0].Output)
	}
	if !strings.Contains(outputs[2].Output, "unknown tool") {
		t.Errorf("unknown tool not reported as data: %s", outputs[2].Output)
	}
}

func TestToolCycleCeiling(t *testing.T) {
	var events []transport.Event
	events = append(events, event(transport.EventRunCreated, "run_2"))
	for i := 0; i < 3; i++ {
		ev := event(transport.EventRequiresAction, "run_2")
		ev.ToolCalls = []transport.ToolCall{{ID: "c", Name: "list_handles", Arguments: "{}"}}
		events = append(events, ev)
	}
	replay := transport.NewReplayerFromEvents(events...)
	c := New(replay, newDispatcher(t), WithMaxToolCycles(2))

	state, err := c.Submit(context.Background(), "loop forever")
	if state != Failed || !errors.Is(err, ErrTooManyToolCycles) {
		t.Fatalf("Submit = %v, %v", state, err)
	}
	sent := replay.Sent()
	last := sent[len(sent)-1]
	if last.MessageType != transport.MessageFunctionCall || last.FunctionName != transport.FunctionCancelRun || last.RunID != "run_2" {
		t.Errorf("expected cancel_run, got %+v", last)
	}
	if got := len(sent); got != 4 {
		t.Errorf("expected prompt, 2 tool_outputs and cancel_run, got %d messages", got)
	}
}

func TestRunFailedAndAgentError(t *testing.T) {
	tests := []struct {
		name string
		ev   transport.Event
	}{
		{"run failed", transport.Event{ResponseType: transport.ResponseEvent, Event: transport.EventRunFailed, RunID: "r", Content: "rate limited"}},
		{"error frame", transport.Event{ResponseType: transport.ResponseError, Event: transport.EventError, Content: "bad request"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replay := transport.NewReplayerFromEvents(event(transport.EventRunCreated, "r"), tt.ev)
			c := New(replay, newDispatcher(t))
			state, err := c.Submit(context.Background(), "x")
			if state != Failed || !errors.Is(err, ErrRunFailed) {
				t.Fatalf("Submit = %v, %v", state, err)
			}
			if !strings.Contains(err.Error(), tt.ev.Content) {
				t.Errorf("error %q does not carry %q", err, tt.ev.Content)
			}
		})
	}
}

func TestConnectionLossResetsChannel(t *testing.T) {
	replay := transport.NewReplayerFromEvents(event(transport.EventRunCreated, "r"))
	ch := &resettingChannel{Channel: replay}
	sink := &recordingSink{}
	c := New(ch, newDispatcher(t), WithSink(sink))

	state, err := c.Submit(context.Background(), "x")
	if state != Failed || err == nil {
		t.Fatalf("Submit = %v, %v", state, err)
	}
	if ch.resets != 1 || len(sink.connErrs) != 1 {
		t.Errorf("resets=%d connErrs=%d", ch.resets, len(sink.connErrs))
	}
}

type resettingChannel struct {
	transport.Channel
	resets int
}

func (r *resettingChannel) Reset() { r.resets++ }

func TestCancelFromPump(t *testing.T) {
	ch := &fakeChannel{queue: []transport.Event{event(transport.EventRunCreated, "run_3")}}
	ch.onSend = func(m transport.Message) []transport.Event {
		if m.FunctionName == transport.FunctionCancelRun {
			return []transport.Event{
				event(transport.EventRunCancelled, m.RunID),
				{ResponseType: transport.ResponseEvent, Event: transport.EventFunctionResult, FunctionName: transport.FunctionCancelRun, RunID: m.RunID},
			}
		}
		return nil
	}
	var c *Client
	pumps := 0
	c = New(ch, newDispatcher(t), WithPump(time.Millisecond, func() {
		pumps++
		c.Cancel()
	}))

	state, err := c.Submit(context.Background(), "slow")
	if err != nil || state != Cancelled {
		t.Fatalf("Submit = %v, %v", state, err)
	}
	if pumps == 0 {
		t.Error("pump never ran")
	}

	// The late function result belongs to the cancelled run and is dropped;
	// a new run proceeds normally.
	ch.mu.Lock()
	ch.queue = append(ch.queue, event(transport.EventRunCreated, "run_4"), event(transport.EventRunCompleted, "run_4"))
	ch.mu.Unlock()
	c.pump = nil
	state, err = c.Submit(context.Background(), "next")
	if err != nil || state != Completed {
		t.Fatalf("second Submit = %v, %v", state, err)
	}
}

func TestCallWaitsForFunctionResult(t *testing.T) {
	ch := &fakeChannel{}
	ch.onSend = func(m transport.Message) []transport.Event {
		return []transport.Event{
			event(transport.EventMessageDelta, ""),
			{ResponseType: transport.ResponseEvent, Event: transport.EventFunctionResult, FunctionName: m.FunctionName, Content: `{"ok":true}`},
		}
	}
	sink := &recordingSink{}
	c := New(ch, newDispatcher(t), WithSink(sink))

	specs := []tools.Spec{{Name: "list_timeline", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)}}
	if err := c.UploadTools(context.Background(), specs); err != nil {
		t.Fatalf("UploadTools: %v", err)
	}
	if len(ch.sent) != 1 || ch.sent[0].FunctionName != transport.FunctionUploadTools {
		t.Fatalf("sent = %+v", ch.sent)
	}
	var uploaded []tools.Spec
	if err := json.Unmarshal([]byte(ch.sent[0].FunctionArgs), &uploaded); err != nil || uploaded[0].Name != "list_timeline" {
		t.Errorf("uploaded specs = %s (%v)", ch.sent[0].FunctionArgs, err)
	}
	if len(sink.events) != 1 {
		t.Errorf("interleaved event not forwarded: %+v", sink.events)
	}
}

func TestCallReportsAgentError(t *testing.T) {
	ch := &fakeChannel{}
	ch.onSend = func(m transport.Message) []transport.Event {
		return []transport.Event{{ResponseType: transport.ResponseError, FunctionName: m.FunctionName, Content: "unknown setting 'colour'"}}
	}
	c := New(ch, newDispatcher(t))
	if _, err := c.UpdateSettings(context.Background(), map[string]any{"colour": "red"}); err == nil || !strings.Contains(err.Error(), "colour") {
		t.Fatalf("UpdateSettings error = %v", err)
	}
}

func TestStaleRunsAreBounded(t *testing.T) {
	ch := &fakeChannel{}
	ch.onSend = func(m transport.Message) []transport.Event {
		return []transport.Event{{ResponseType: transport.ResponseEvent, Event: transport.EventFunctionResult, FunctionName: m.FunctionName}}
	}
	sink := &recordingSink{}
	c := New(ch, newDispatcher(t), WithSink(sink))
	for i := 0; i < 3*maxStale; i++ {
		c.markStale(fmt.Sprintf("run_%d", i))
	}
	c.markStale("run_47")
	if len(c.stale) != maxStale || len(c.staleOrder) != maxStale {
		t.Fatalf("stale = %d ids, order = %d", len(c.stale), len(c.staleOrder))
	}
	if c.stale["run_0"] || !c.stale[fmt.Sprintf("run_%d", 3*maxStale-1)] {
		t.Errorf("oldest ids should be forgotten first")
	}

	if err := c.NewThread(context.Background()); err != nil {
		t.Fatalf("NewThread: %v", err)
	}
	if len(c.stale) != 0 || len(c.staleOrder) != 0 {
		t.Errorf("NewThread kept %d stale ids", len(c.stale))
	}
}

func TestStateNames(t *testing.T) {
	if ToolCallPending.String() != "tool_call_pending" || State(42).String() != "unknown" {
		t.Errorf("unexpected names %q %q", ToolCallPending, State(42))
	}
	if !Streaming.Active() || Completed.Active() {
		t.Error("Active() wrong")
	}
}
