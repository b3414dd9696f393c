package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/config"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/llm"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/session"
	"github.com/m4xw311/cadlink/tools"
	"github.com/m4xw311/cadlink/transport"
)

var (
	ErrRunActive = errors.Sentinel("a run is already in progress")
	ErrNoRun     = errors.Sentinel("no run is waiting for tool outputs")
)

// Settings are the agent parameters the CAD side may read and change.
type Settings struct {
	Provider        string `json:"llm"`
	Model           string `json:"model"`
	Instructions    string `json:"instructions"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	AssistantID     string `json:"assistant_id,omitempty"`
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Provider:        cfg.LLMClient,
		Model:           cfg.Model,
		Instructions:    cfg.Instructions,
		ReasoningEffort: cfg.ReasoningEffort,
		AssistantID:     cfg.AssistantID,
	}
}

// Factory builds the model client for s. It runs again whenever the model or
// reasoning effort changes.
type Factory func(ctx context.Context, s Settings) (llm.LLMClient, error)

// ProviderFactory builds real provider clients authenticated with apiKey.
func ProviderFactory(apiKey string) Factory {
	return func(ctx context.Context, s Settings) (llm.LLMClient, error) {
		return llm.New(ctx, s.Provider, llm.Options{
			APIKey:          apiKey,
			Model:           s.Model,
			ReasoningEffort: s.ReasoningEffort,
		})
	}
}

// LocalTools are tools the agent runs itself rather than asking the CAD side.
type LocalTools interface {
	Specs() []tools.Spec
	Has(name string) bool
	Call(ctx context.Context, name, args string) (string, error)
}

// Emitter delivers events to the CAD side.
type Emitter interface {
	Send(v any) error
}

// Agent owns the conversation thread, the tool catalogue uploaded by the CAD
// side and at most one run.
type Agent struct {
	factory Factory
	local   LocalTools
	dir     string
	log     *zap.Logger

	mu       sync.Mutex
	settings Settings
	model    llm.LLMClient
	catalog  []tools.Spec
	thread   *session.Session
	run      *run
}

type Option func(*Agent)

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.log = logging.OrNop(l) }
}

func WithLocalTools(t LocalTools) Option {
	return func(a *Agent) { a.local = t }
}

// WithSessionsDir sets where threads are saved.
func WithSessionsDir(dir string) Option {
	return func(a *Agent) { a.dir = dir }
}

func New(ctx context.Context, s Settings, factory Factory, opts ...Option) (*Agent, error) {
	a := &Agent{factory: factory, settings: s, log: zap.NewNop(), dir: session.DefaultDir}
	for _, o := range opts {
		o(a)
	}
	model, err := factory(ctx, s)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s client", s.Provider)
	}
	a.model = model
	if err := a.newThread(); err != nil {
		return nil, err
	}
	return a, nil
}

// Resume continues the saved thread name instead of a fresh one.
func (a *Agent) Resume(name string) error {
	sess, err := session.Load(a.dir, name)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run != nil {
		return ErrRunActive
	}
	a.thread = sess
	return nil
}

func (a *Agent) newThread() error {
	sess, err := session.New(a.dir, "thread_"+uuid.NewString())
	if err != nil {
		return err
	}
	a.thread = sess
	return nil
}

// Thread returns the name of the current thread.
func (a *Agent) Thread() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thread.Name
}

type run struct {
	id      string
	out     Emitter
	cancel  context.CancelFunc
	outputs chan []transport.ToolOutput
	done    chan struct{}
}

func (r *run) emit(name, content string) error {
	return r.out.Send(transport.Event{
		ResponseType: transport.ResponseEvent,
		Event:        name,
		RunID:        r.id,
		Content:      content,
	})
}

// Start appends prompt to the thread and begins a run whose events go to
// out. run.created is sent before Start returns.
func (a *Agent) Start(ctx context.Context, out Emitter, prompt string) (string, error) {
	a.mu.Lock()
	if a.run != nil {
		a.mu.Unlock()
		return "", ErrRunActive
	}
	r := &run{
		id:      "run_" + uuid.NewString(),
		out:     out,
		outputs: make(chan []transport.ToolOutput, 1),
		done:    make(chan struct{}),
	}
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	a.run = r
	a.thread.AddMessage(session.Message{Role: "user", Content: prompt})
	a.mu.Unlock()

	a.log.Info("run started", zap.String("run", r.id))
	if err := r.emit(transport.EventRunCreated, ""); err != nil {
		a.finish(r)
		return "", err
	}
	go a.execute(rctx, r)
	return r.id, nil
}

// Wait blocks until the current run, if any, has ended.
func (a *Agent) Wait() {
	a.mu.Lock()
	r := a.run
	a.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

func (a *Agent) execute(ctx context.Context, r *run) {
	defer a.finish(r)
	step := func(name string) bool {
		if err := r.emit(name, ""); err != nil {
			a.log.Warn("event not delivered", zap.String("run", r.id), zap.String("event", name), zap.Error(err))
			return false
		}
		return true
	}

	if !step(transport.EventStepCreated) {
		return
	}
	for {
		model, msgs, specs := a.snapshot()
		reply, err := model.Chat(ctx, msgs, specs)
		if ctx.Err() != nil {
			step(transport.EventRunCancelled)
			return
		}
		if err != nil {
			a.log.Error("model call failed", zap.String("run", r.id), zap.Error(err))
			_ = r.emit(transport.EventRunFailed, err.Error())
			return
		}
		reply.Role = "assistant"
		a.append(*reply)

		if reply.Content != "" {
			if !step(transport.EventMessageCreated) || r.emit(transport.EventMessageDelta, reply.Content) != nil {
				return
			}
		}
		if len(reply.ToolCalls) == 0 {
			step(transport.EventStepCompleted)
			step(transport.EventRunCompleted)
			return
		}

		results, err := a.resolve(ctx, r, reply.ToolCalls)
		if ctx.Err() != nil {
			step(transport.EventRunCancelled)
			return
		}
		if err != nil {
			_ = r.emit(transport.EventRunFailed, err.Error())
			return
		}
		for _, m := range results {
			a.append(m)
		}
		if !step(transport.EventStepCompleted) || !step(transport.EventStepCreated) {
			return
		}
	}
}

// resolve runs local calls itself and sends the rest to the CAD side in one
// requires_action event. Results come back in call order.
func (a *Agent) resolve(ctx context.Context, r *run, calls []session.ToolCall) ([]session.Message, error) {
	outputs := make(map[string]string, len(calls))
	var remote []transport.ToolCall
	for _, tc := range calls {
		args, err := json.Marshal(tc.Args)
		if err != nil || tc.Args == nil {
			args = []byte("{}")
		}
		if a.local != nil && a.local.Has(tc.Name) && !a.uploaded(tc.Name) {
			out, err := a.local.Call(ctx, tc.Name, string(args))
			if err != nil {
				out = errorJSON(err.Error())
			}
			a.log.Debug("local tool", zap.String("tool", tc.Name), zap.Error(err))
			outputs[tc.ToolCallID] = out
			continue
		}
		remote = append(remote, transport.ToolCall{ID: tc.ToolCallID, Name: tc.Name, Arguments: string(args)})
	}

	if len(remote) > 0 {
		if err := r.out.Send(transport.Event{
			ResponseType: transport.ResponseEvent,
			Event:        transport.EventRequiresAction,
			RunID:        r.id,
			RunStatus:    "requires_action",
			ToolCalls:    remote,
		}); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case outs := <-r.outputs:
			for _, o := range outs {
				outputs[o.ToolCallID] = o.Output
			}
		}
	}

	msgs := make([]session.Message, len(calls))
	for i, tc := range calls {
		out, ok := outputs[tc.ToolCallID]
		if !ok {
			out = errorJSON("no output returned for this call")
		}
		msgs[i] = session.Message{
			Role:      "tool",
			Content:   out,
			ToolCalls: []session.ToolCall{{ToolCallID: tc.ToolCallID, Name: tc.Name}},
		}
	}
	return msgs, nil
}

func errorJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func (a *Agent) finish(r *run) {
	r.cancel()
	a.mu.Lock()
	if a.run == r {
		a.run = nil
	}
	thread := a.thread
	a.mu.Unlock()
	if err := thread.Save(); err != nil {
		a.log.Warn("failed to save thread", zap.String("thread", thread.Name), zap.Error(err))
	}
	a.log.Info("run finished", zap.String("run", r.id))
	close(r.done)
}

// snapshot returns the model, the history prefixed with the instructions
// and the catalogue for one model call.
func (a *Agent) snapshot() (llm.LLMClient, []session.Message, []tools.Spec) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var msgs []session.Message
	if a.settings.Instructions != "" {
		msgs = append(msgs, session.Message{Role: "system", Content: a.settings.Instructions})
	}
	msgs = append(msgs, a.thread.Messages...)

	specs := append([]tools.Spec(nil), a.catalog...)
	if a.local != nil {
		for _, s := range a.local.Specs() {
			if !a.uploadedLocked(s.Name) {
				specs = append(specs, s)
			}
		}
	}
	return a.model, msgs, specs
}

func (a *Agent) append(m session.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thread.AddMessage(m)
}

func (a *Agent) uploaded(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uploadedLocked(name)
}

func (a *Agent) uploadedLocked(name string) bool {
	for _, s := range a.catalog {
		if s.Name == name {
			return true
		}
	}
	return false
}

// SubmitOutputs hands tool outputs to the run waiting for them.
func (a *Agent) SubmitOutputs(runID string, outs []transport.ToolOutput) error {
	a.mu.Lock()
	r := a.run
	a.mu.Unlock()
	if r == nil || (runID != "" && r.id != runID) {
		return errors.Wrapf(ErrNoRun, "run '%s'", runID)
	}
	select {
	case r.outputs <- outs:
		return nil
	default:
		return errors.Wrapf(ErrNoRun, "outputs for run '%s' already pending", runID)
	}
}

// Cancel stops the run with runID, or the current run when runID is empty,
// and returns the id of the run it stopped.
func (a *Agent) Cancel(runID string) string {
	a.mu.Lock()
	r := a.run
	a.mu.Unlock()
	if r == nil || (runID != "" && r.id != runID) {
		return ""
	}
	a.log.Info("cancelling run", zap.String("run", r.id))
	r.cancel()
	return r.id
}

// cancelOwnedBy stops the run whose events go to out.
func (a *Agent) cancelOwnedBy(out Emitter) {
	a.mu.Lock()
	r := a.run
	a.mu.Unlock()
	if r != nil && r.out == out {
		r.cancel()
	}
}

// Function executes one agent function. The returned run id is set for
// cancel_run.
func (a *Agent) Function(ctx context.Context, name, args string) (string, string, error) {
	switch name {
	case transport.FunctionUploadTools:
		var specs []tools.Spec
		if err := json.Unmarshal([]byte(args), &specs); err != nil {
			return "", "", errors.Wrapf(err, "malformed tool catalogue")
		}
		for _, s := range specs {
			if s.Name == "" {
				return "", "", errors.New("tool catalogue entry without a name")
			}
		}
		a.mu.Lock()
		a.catalog = specs
		a.mu.Unlock()
		a.log.Info("tool catalogue uploaded", zap.Int("tools", len(specs)))
		return jsonString(map[string]int{"tools": len(specs)}), "", nil
	case transport.FunctionUpdateSettings:
		var in map[string]any
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", "", errors.Wrapf(err, "malformed settings")
		}
		s, err := a.UpdateSettings(ctx, in)
		if err != nil {
			return "", "", err
		}
		return jsonString(s), "", nil
	case transport.FunctionCancelRun:
		var in struct {
			RunID string `json:"run_id"`
		}
		_ = json.Unmarshal([]byte(args), &in)
		id := a.Cancel(in.RunID)
		return jsonString(map[string]string{"run_id": id}), id, nil
	case transport.FunctionNewThread:
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.run != nil {
			return "", "", ErrRunActive
		}
		if err := a.newThread(); err != nil {
			return "", "", err
		}
		return jsonString(map[string]string{"thread": a.thread.Name}), "", nil
	case transport.FunctionGetSettings:
		a.mu.Lock()
		defer a.mu.Unlock()
		return jsonString(map[string]any{
			"settings": a.settings,
			"thread":   a.thread.Name,
			"tools":    len(a.catalog),
		}), "", nil
	}
	return "", "", errors.New("unknown function '%s'", name)
}

// UpdateSettings applies string-valued settings. The model client is
// rebuilt when the model or reasoning effort changes; on failure nothing
// changes.
func (a *Agent) UpdateSettings(ctx context.Context, in map[string]any) (Settings, error) {
	a.mu.Lock()
	next := a.settings
	a.mu.Unlock()

	rebuild := false
	for k, v := range in {
		s, ok := v.(string)
		if !ok {
			return Settings{}, errors.New("setting '%s' must be a string", k)
		}
		switch k {
		case "model":
			rebuild = rebuild || s != next.Model
			next.Model = s
		case "reasoning_effort":
			rebuild = rebuild || s != next.ReasoningEffort
			next.ReasoningEffort = s
		case "instructions":
			next.Instructions = s
		default:
			return Settings{}, errors.New("unknown setting '%s'", k)
		}
	}

	var model llm.LLMClient
	if rebuild {
		m, err := a.factory(ctx, next)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "switching to model '%s'", next.Model)
		}
		model = m
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = next
	if model != nil {
		a.model = model
	}
	a.log.Info("settings updated", zap.String("model", next.Model), zap.Bool("rebuilt", rebuild))
	return next, nil
}

func jsonString(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
