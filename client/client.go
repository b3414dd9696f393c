// Package client drives one agent run at a time from the CAD side: it sends
// the prompt, forwards streamed events, runs requested tool calls through the
// dispatcher and returns their outputs in one batch.
package client

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/dispatch"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/metrics"
	"github.com/m4xw311/cadlink/tools"
	"github.com/m4xw311/cadlink/transport"
)

type State int32

const (
	Idle State = iota
	Submitted
	Streaming
	ToolCallPending
	Completed
	Failed
	Cancelled
)

var stateNames = [...]string{"idle", "submitted", "streaming", "tool_call_pending", "completed", "failed", "cancelled"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Active reports whether a run is in flight.
func (s State) Active() bool {
	return s == Submitted || s == Streaming || s == ToolCallPending
}

const (
	DefaultMaxToolCycles = 20
	DefaultPumpInterval  = 50 * time.Millisecond
	// cancelDrain bounds how long a cancelled run waits for the agent to
	// confirm.
	cancelDrain = 5 * time.Second
	// maxStale bounds the abandoned run ids remembered.
	maxStale = 16
)

var (
	ErrBusy              = errors.Sentinel("a run is already in progress")
	ErrTooManyToolCycles = errors.Sentinel("tool call ceiling reached")
	ErrRunFailed         = errors.Sentinel("run failed")
)

// Sink receives every agent event as-is, and transport failures.
type Sink interface {
	Forward(ev transport.Event)
	ConnectionError(err error)
}

type nopSink struct{}

func (nopSink) Forward(transport.Event) {}
func (nopSink) ConnectionError(error)   {}

// Client is the CAD-side state machine. Submit and the function calls must
// be called from one goroutine; Cancel and State from any.
type Client struct {
	channel       transport.Channel
	dispatcher    *dispatch.Dispatcher
	sink          Sink
	log           *zap.Logger
	metrics       *metrics.Metrics
	maxToolCycles int
	pumpInterval  time.Duration
	pump          func()

	state      atomic.Int32
	cancelled  atomic.Bool
	stale      map[string]bool
	staleOrder []string
}

type Option func(*Client)

func WithSink(s Sink) Option {
	return func(c *Client) {
		if s != nil {
			c.sink = s
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithMaxToolCycles(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxToolCycles = n
		}
	}
}

// WithPump runs fn every interval while waiting for events, so the host can
// process its own UI events.
func WithPump(interval time.Duration, fn func()) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pumpInterval = interval
		}
		c.pump = fn
	}
}

func New(ch transport.Channel, d *dispatch.Dispatcher, opts ...Option) *Client {
	c := &Client{
		channel:       ch,
		dispatcher:    d,
		sink:          nopSink{},
		log:           zap.NewNop(),
		maxToolCycles: DefaultMaxToolCycles,
		pumpInterval:  DefaultPumpInterval,
		stale:         map[string]bool{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Debug("run state", zap.Stringer("from", old), zap.Stringer("to", s))
	}
	switch s {
	case Completed, Failed, Cancelled:
		c.metrics.RunFinished(s.String())
	}
}

// Cancel asks the run in flight to stop. It is a no-op when idle.
func (c *Client) Cancel() {
	if c.State().Active() {
		c.cancelled.Store(true)
	}
}

// Submit sends prompt and drives the run to a terminal state.
func (c *Client) Submit(ctx context.Context, prompt string) (State, error) {
	if c.State().Active() {
		return c.State(), ErrBusy
	}
	c.cancelled.Store(false)
	c.setState(Submitted)

	if err := c.send(ctx, transport.Message{MessageType: transport.MessageThreadUpdate, Content: prompt}); err != nil {
		return c.connectionLost(err)
	}

	var runID string
	cycles := 0
	for {
		if c.cancelled.Load() {
			return c.cancelRun(ctx, runID)
		}
		ev, err := c.receive(ctx)
		if err == errTick {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				c.cancelled.Store(true)
				return c.cancelRun(context.WithoutCancel(ctx), runID)
			}
			return c.connectionLost(err)
		}
		if c.stale[ev.RunID] {
			continue
		}
		c.metrics.AgentEvent(eventName(ev))
		c.sink.Forward(ev)

		switch {
		case ev.ResponseType == transport.ResponseError:
			c.setState(Failed)
			return Failed, errors.Wrapf(ErrRunFailed, "agent error: %s", ev.Content)
		case ev.Event == transport.EventRunCreated:
			runID = ev.RunID
			c.setState(Streaming)
		case ev.Event == transport.EventRequiresAction:
			if runID == "" {
				runID = ev.RunID
			}
			cycles++
			if cycles > c.maxToolCycles {
				c.log.Warn("tool call ceiling reached", zap.String("run", runID), zap.Int("cycles", cycles-1))
				c.abandon(ctx, runID)
				c.setState(Failed)
				return Failed, ErrTooManyToolCycles
			}
			if err := c.runTools(ctx, ev); err != nil {
				return c.connectionLost(err)
			}
		case ev.Event == transport.EventRunCompleted:
			c.setState(Completed)
			return Completed, nil
		case ev.Event == transport.EventRunFailed:
			c.setState(Failed)
			return Failed, errors.Wrapf(ErrRunFailed, "%s", ev.Content)
		case ev.Event == transport.EventRunCancelled:
			c.setState(Cancelled)
			return Cancelled, nil
		default:
			if c.State() == Submitted {
				c.setState(Streaming)
			}
		}
	}
}

// runTools executes every requested call in order and answers with a single
// tool_outputs message.
func (c *Client) runTools(ctx context.Context, ev transport.Event) error {
	c.setState(ToolCallPending)
	calls := make([]dispatch.Call, len(ev.ToolCalls))
	for i, tc := range ev.ToolCalls {
		calls[i] = dispatch.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	results := c.dispatcher.CallAll(ctx, calls)
	outputs := make([]transport.ToolOutput, len(results))
	for i, r := range results {
		outputs[i] = transport.ToolOutput{ToolCallID: r.ID, Output: r.Output}
	}
	if err := c.send(ctx, transport.Message{
		MessageType: transport.MessageToolOutputs,
		RunID:       ev.RunID,
		ToolOutputs: outputs,
	}); err != nil {
		return err
	}
	c.setState(Streaming)
	return nil
}

// cancelRun tells the agent to stop and waits briefly for it to confirm.
// Events of the run that arrive later are dropped.
func (c *Client) cancelRun(ctx context.Context, runID string) (State, error) {
	c.abandon(ctx, runID)
	deadline := time.Now().Add(cancelDrain)
	for time.Now().Before(deadline) {
		ev, err := c.receive(ctx)
		if err == errTick {
			continue
		}
		if err != nil {
			break
		}
		if runID == "" && ev.Event == transport.EventRunCreated {
			// The run started before the agent saw the cancel.
			runID = ev.RunID
			c.markStale(runID)
			continue
		}
		if runID == "" && ev.FunctionName == transport.FunctionCancelRun {
			break
		}
		if runID != "" && ev.RunID == runID && ev.Terminal() {
			break
		}
	}
	c.cancelled.Store(false)
	c.setState(Cancelled)
	c.sink.Forward(transport.Event{ResponseType: transport.ResponseEvent, Event: transport.EventRunCancelled, RunID: runID})
	return Cancelled, nil
}

// abandon sends cancel_run and marks runID stale.
func (c *Client) abandon(ctx context.Context, runID string) {
	c.markStale(runID)
	args, _ := json.Marshal(map[string]string{"run_id": runID})
	if err := c.send(ctx, transport.Message{
		MessageType:  transport.MessageFunctionCall,
		RunID:        runID,
		FunctionName: transport.FunctionCancelRun,
		FunctionArgs: string(args),
	}); err != nil {
		c.log.Warn("could not cancel run", zap.String("run", runID), zap.Error(err))
	}
}

func (c *Client) connectionLost(err error) (State, error) {
	c.log.Error("agent connection lost", zap.Error(err))
	c.channel.Reset()
	c.sink.ConnectionError(err)
	c.setState(Failed)
	return Failed, err
}

var errTick = errors.Sentinel("tick")

// receive waits one pump interval for an event. errTick means nothing
// arrived and the pump ran.
func (c *Client) receive(ctx context.Context) (transport.Event, error) {
	rctx, cancel := context.WithTimeout(ctx, c.pumpInterval)
	defer cancel()
	ev, err := c.channel.Receive(rctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		if c.pump != nil {
			c.pump()
		}
		return ev, errTick
	}
	return ev, err
}

func (c *Client) send(ctx context.Context, m transport.Message) error {
	return c.channel.Send(ctx, m)
}

// Call invokes an agent function and waits for its result. Events that
// arrive meanwhile are forwarded to the sink.
func (c *Client) Call(ctx context.Context, name string, args any) (string, error) {
	if c.State().Active() {
		return "", ErrBusy
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s arguments", name)
	}
	if err := c.send(ctx, transport.Message{
		MessageType:  transport.MessageFunctionCall,
		FunctionName: name,
		FunctionArgs: string(payload),
	}); err != nil {
		c.channel.Reset()
		c.sink.ConnectionError(err)
		return "", err
	}
	for {
		ev, err := c.receive(ctx)
		if err == errTick {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				c.channel.Reset()
				c.sink.ConnectionError(err)
			}
			return "", err
		}
		if ev.FunctionName == name {
			if ev.ResponseType == transport.ResponseError {
				return "", errors.New("%s failed: %s", name, ev.Content)
			}
			if ev.Event == transport.EventFunctionResult {
				return ev.Content, nil
			}
		}
		if !c.stale[ev.RunID] {
			c.sink.Forward(ev)
		}
	}
}

// UploadTools publishes the tool catalogue to the agent.
func (c *Client) UploadTools(ctx context.Context, specs []tools.Spec) error {
	_, err := c.Call(ctx, transport.FunctionUploadTools, specs)
	return err
}

// UpdateSettings changes agent settings such as model or instructions.
func (c *Client) UpdateSettings(ctx context.Context, settings map[string]any) (string, error) {
	return c.Call(ctx, transport.FunctionUpdateSettings, settings)
}

// NewThread starts a fresh conversation on the agent side. Runs abandoned
// on the old thread are forgotten.
func (c *Client) NewThread(ctx context.Context) error {
	_, err := c.Call(ctx, transport.FunctionNewThread, struct{}{})
	if err == nil {
		c.stale = map[string]bool{}
		c.staleOrder = nil
	}
	return err
}

// markStale remembers the last maxStale abandoned runs so their late events
// are dropped.
func (c *Client) markStale(runID string) {
	if runID == "" || c.stale[runID] {
		return
	}
	c.stale[runID] = true
	c.staleOrder = append(c.staleOrder, runID)
	if len(c.staleOrder) > maxStale {
		delete(c.stale, c.staleOrder[0])
		c.staleOrder = c.staleOrder[1:]
	}
}

// Settings fetches the agent's current settings as JSON.
func (c *Client) Settings(ctx context.Context) (string, error) {
	return c.Call(ctx, transport.FunctionGetSettings, struct{}{})
}

// Relay forwards an opaque message such as start_record.
func (c *Client) Relay(ctx context.Context, messageType, content string) error {
	err := c.send(ctx, transport.Message{MessageType: messageType, Content: content})
	if err != nil {
		c.channel.Reset()
		c.sink.ConnectionError(err)
	}
	return err
}

func eventName(ev transport.Event) string {
	if ev.Event != "" {
		return ev.Event
	}
	return ev.ResponseType
}
