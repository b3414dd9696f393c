// Package bridge relays between the user's palette and the agent client:
// palette actions become client calls, agent events become palette events.
package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/client"
	"github.com/m4xw311/cadlink/dispatch"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/tools"
	"github.com/m4xw311/cadlink/transport"
)

// Inbound palette actions.
const (
	ActionSubmitPrompt   = "submit_prompt"
	ActionUpdateSettings = "update_settings"
	ActionStartRecord    = "start_record"
	ActionStopRecord     = "stop_record"
	ActionGetTools       = "get_tools"
	ActionGetInitial     = "get_initial"
	ActionCancel         = "cancel_run"
)

// Setting classes of an update_settings entry.
const (
	ServerSetting = "server-setting"
	HostSetting   = "fusion-setting"
)

// Outbound palette event names not derived from agent events.
const (
	OutToolCallResponse = "toolCallResponse"
	OutConnectionError  = "connection_error"
	OutTools            = "tools"
	OutInitial          = "initial"
	OutSettingsUpdated  = "settingsUpdated"
	OutError            = "error"
)

// actionQueue bounds the palette actions waiting for Run.
const actionQueue = 32

var outboundNames = map[string]string{
	transport.EventRunCreated:     "runCreated",
	transport.EventStepCreated:    "stepCreated",
	transport.EventMessageCreated: "messageCreated",
	transport.EventMessageDelta:   "messageDelta",
	transport.EventStepDelta:      "stepDelta",
	transport.EventRequiresAction: "requiresAction",
	transport.EventStepCompleted:  "stepCompleted",
	transport.EventRunCompleted:   "runCompleted",
	transport.EventRunCancelled:   "runCancelled",
	transport.EventRunFailed:      "runFailed",
	transport.EventError:          OutError,
}

// Action is one message from the palette.
type Action struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Outbound is one message to the palette.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Setting is one entry of an update_settings action.
type Setting struct {
	InputType    string `json:"input_type"`
	SettingName  string `json:"setting_name"`
	SettingVal   any    `json:"setting_val"`
	SettingClass string `json:"setting_class"`
}

// Palette renders outbound events for the user.
type Palette interface {
	Send(o Outbound) error
}

// Agent is the part of the client the bridge drives.
type Agent interface {
	Submit(ctx context.Context, prompt string) (client.State, error)
	Cancel()
	State() client.State
	UpdateSettings(ctx context.Context, settings map[string]any) (string, error)
	Relay(ctx context.Context, messageType, content string) error
}

// ToolLister supplies the tool catalogue for get_tools.
type ToolLister interface {
	List() ([]tools.Spec, error)
}

// Bridge handles palette actions on one goroutine (Run) and fans agent
// events out to every attached palette.
type Bridge struct {
	agent   Agent
	tools   ToolLister
	log     *zap.Logger
	actions chan Action

	mu       sync.Mutex
	palettes map[int]Palette
	nextID   int
	settings map[string]any
}

type Option func(*Bridge)

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.log = logging.OrNop(l) }
}

// WithSettings seeds the host-side settings reported by get_initial.
func WithSettings(s map[string]any) Option {
	return func(b *Bridge) {
		for k, v := range s {
			b.settings[k] = v
		}
	}
}

func New(agent Agent, tl ToolLister, opts ...Option) *Bridge {
	b := &Bridge{
		tools:    tl,
		agent:    agent,
		log:      zap.NewNop(),
		actions:  make(chan Action, actionQueue),
		palettes: map[int]Palette{},
		settings: map[string]any{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetAgent installs the agent once it exists; the client needs the bridge
// as its sink, so the two are built in turn.
func (b *Bridge) SetAgent(a Agent) {
	b.agent = a
}

// Attach registers p for outbound events and returns its detach func.
func (b *Bridge) Attach(p Palette) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.palettes[id] = p
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.palettes, id)
		b.mu.Unlock()
	}
}

// Post queues an action for Run. Cancel is applied at once so it can stop a
// run that is blocking the loop. Post never blocks; when the queue is full
// the action is dropped and the palette gets an error.
func (b *Bridge) Post(a Action) {
	if a.Action == ActionCancel {
		b.agent.Cancel()
		return
	}
	select {
	case b.actions <- a:
	default:
		b.log.Warn("palette action dropped, queue full", zap.String("action", a.Action))
		b.emit(Outbound{Event: OutError, Data: map[string]string{
			"action": a.Action,
			"error":  "too many pending actions; wait for the current run to finish or cancel it",
		}})
	}
}

// Run handles posted actions until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-b.actions:
			b.Handle(ctx, a)
		}
	}
}

// Drain handles every queued action without blocking. Hosts call it from
// their own event loop instead of Run.
func (b *Bridge) Drain(ctx context.Context) {
	for {
		select {
		case a := <-b.actions:
			b.Handle(ctx, a)
		default:
			return
		}
	}
}

// Handle executes one action. Failures are reported to the palette.
func (b *Bridge) Handle(ctx context.Context, a Action) {
	if err := b.handle(ctx, a); err != nil {
		b.log.Warn("palette action failed", zap.String("action", a.Action), zap.Error(err))
		b.emit(Outbound{Event: OutError, Data: map[string]string{"action": a.Action, "error": err.Error()}})
	}
}

func (b *Bridge) handle(ctx context.Context, a Action) error {
	switch a.Action {
	case ActionSubmitPrompt:
		var in struct {
			PromptText string `json:"promptText"`
		}
		if err := json.Unmarshal(a.Data, &in); err != nil {
			return errors.Wrapf(err, "malformed submit_prompt")
		}
		state, err := b.agent.Submit(ctx, in.PromptText)
		b.log.Info("run finished", zap.Stringer("state", state), zap.Error(err))
		if errors.Is(err, client.ErrBusy) {
			return err
		}
		return nil
	case ActionUpdateSettings:
		var in []Setting
		if err := json.Unmarshal(a.Data, &in); err != nil {
			return errors.Wrapf(err, "malformed update_settings")
		}
		return b.updateSettings(ctx, in)
	case ActionStartRecord, ActionStopRecord:
		return b.agent.Relay(ctx, a.Action, string(a.Data))
	case ActionGetTools:
		specs, err := b.tools.List()
		if err != nil {
			return err
		}
		b.emit(Outbound{Event: OutTools, Data: specs})
		return nil
	case ActionGetInitial:
		specs, err := b.tools.List()
		if err != nil {
			return err
		}
		b.emit(Outbound{Event: OutInitial, Data: map[string]any{
			"settings":  b.Settings(),
			"toolCount": len(specs),
			"state":     b.agent.State().String(),
		}})
		return nil
	}
	return errors.New("unknown palette action '%s'", a.Action)
}

// updateSettings forwards server settings to the agent in one call and keeps
// host settings locally.
func (b *Bridge) updateSettings(ctx context.Context, in []Setting) error {
	server := map[string]any{}
	b.mu.Lock()
	for _, s := range in {
		switch s.SettingClass {
		case ServerSetting:
			server[s.SettingName] = s.SettingVal
		case HostSetting, "":
			b.settings[s.SettingName] = s.SettingVal
		default:
			b.mu.Unlock()
			return errors.New("unknown setting class '%s' for %s", s.SettingClass, s.SettingName)
		}
	}
	b.mu.Unlock()

	var agentSettings any
	if len(server) > 0 {
		out, err := b.agent.UpdateSettings(ctx, server)
		if err != nil {
			return err
		}
		if json.Valid([]byte(out)) {
			agentSettings = json.RawMessage(out)
		} else {
			agentSettings = out
		}
	}
	b.emit(Outbound{Event: OutSettingsUpdated, Data: map[string]any{
		"host":  b.Settings(),
		"agent": agentSettings,
	}})
	return nil
}

// Settings returns a copy of the host-side settings.
func (b *Bridge) Settings() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.settings))
	for k, v := range b.settings {
		out[k] = v
	}
	return out
}

// Forward relays an agent event. Function results are acknowledgements for
// the client and are not shown.
func (b *Bridge) Forward(ev transport.Event) {
	name, ok := outboundNames[ev.Event]
	if !ok {
		if ev.ResponseType != transport.ResponseError {
			return
		}
		name = OutError
	}
	b.emit(Outbound{Event: name, Data: ev})
}

// ConnectionError tells the palette the agent is unreachable.
func (b *Bridge) ConnectionError(err error) {
	b.emit(Outbound{Event: OutConnectionError, Data: map[string]string{
		"error":   err.Error(),
		"message": "The agent process is unreachable; the next prompt reconnects.",
	}})
}

// Echo relays a tool call and its result; install it with dispatch.WithEcho.
func (b *Bridge) Echo(call dispatch.Call, res dispatch.Result) {
	b.emit(Outbound{Event: OutToolCallResponse, Data: map[string]any{
		"tool_call_id":  call.ID,
		"function_name": call.Name,
		"function_args": call.Arguments,
		"output":        res.Output,
		"error":         res.Err,
	}})
}

func (b *Bridge) emit(o Outbound) {
	b.mu.Lock()
	targets := make([]Palette, 0, len(b.palettes))
	for _, p := range b.palettes {
		targets = append(targets, p)
	}
	b.mu.Unlock()
	for _, p := range targets {
		if err := p.Send(o); err != nil {
			b.log.Debug("palette send failed", zap.String("event", o.Event), zap.Error(err))
		}
	}
}
