package addin

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/cadlink/agent"
	"github.com/m4xw311/cadlink/bridge"
	"github.com/m4xw311/cadlink/cad/memcad"
	"github.com/m4xw311/cadlink/client"
	"github.com/m4xw311/cadlink/config"
	"github.com/m4xw311/cadlink/llm"
	"github.com/m4xw311/cadlink/session"
	"github.com/m4xw311/cadlink/tools"
	"github.com/m4xw311/cadlink/transport"
)

type palette struct {
	mu     sync.Mutex
	events []bridge.Outbound
}

func (p *palette) Send(o bridge.Outbound) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, o)
	return nil
}

func (p *palette) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, o := range p.events {
		out = append(out, o.Event)
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.LLMClient = "mock"
	cfg.AgentSecret = "s3cret"
	cfg.Record.Dir = t.TempDir()
	cfg.SessionsDir = t.TempDir()
	return cfg
}

func TestReplayDrivesTools(t *testing.T) {
	dir := t.TempDir()
	rec, err := transport.NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	requires := transport.Event{ResponseType: transport.ResponseEvent, Event: transport.EventRequiresAction, RunID: "r1",
		ToolCalls: []transport.ToolCall{{ID: "c1", Name: "list_timeline", Arguments: "{}"}}}
	for _, ev := range []transport.Event{
		{ResponseType: transport.ResponseEvent, Event: transport.EventRunCreated, RunID: "r1"},
		requires,
		{ResponseType: transport.ResponseEvent, Event: transport.EventMessageDelta, RunID: "r1", Content: "Two features."},
		{ResponseType: transport.ResponseEvent, Event: transport.EventRunCompleted, RunID: "r1"},
	} {
		if err := rec.Record(ev); err != nil {
			t.Fatal(err)
		}
	}
	rec.Close()

	cfg := testConfig(t)
	cfg.ReplayFile = rec.Path()
	a, err := New(cfg, memcad.NewSampleDesign())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()
	p := &palette{}
	a.Bridge.Attach(p)

	state, err := a.Client.Submit(context.Background(), "how many features?")
	if err != nil || state != client.Completed {
		t.Fatalf("Submit = %v, %v", state, err)
	}
	want := "runCreated,requiresAction,toolCallResponse,messageDelta,runCompleted"
	if got := strings.Join(p.names(), ","); got != want {
		t.Errorf("palette events = %s", got)
	}
}

func TestStartUploadsFilteredCatalogue(t *testing.T) {
	m := &llm.MockLLMClient{Replies: []*session.Message{
		{ToolCalls: []session.ToolCall{{ToolCallID: "c1", Name: "list_document_tree"}}},
		{Content: "done"},
	}}
	cfg := testConfig(t)
	cfg.Tools = tools.Filter{Disabled: []string{"create_*_list"}}
	cfg.Record.Enabled = true

	ag, err := agent.New(context.Background(), agent.Settings{Provider: "mock"},
		func(context.Context, agent.Settings) (llm.LLMClient, error) { return m, nil },
		agent.WithSessionsDir(cfg.SessionsDir))
	if err != nil {
		t.Fatal(err)
	}
	l, err := transport.Listen("127.0.0.1:0", cfg.AgentSecret)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go ag.Serve(ctx, l)

	a, err := New(cfg, memcad.NewSampleDesign(),
		WithChannel(transport.NewClient(l.Addr().String(), cfg.AgentSecret, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, name := range a.Registry.Names() {
		if strings.HasSuffix(name, "_list") {
			t.Errorf("filtered tool %s registered", name)
		}
	}
	out, err := a.Client.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	var got struct {
		Tools int `json:"tools"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil || got.Tools != len(a.Registry.Names()) {
		t.Errorf("agent has %s, registry %d", out, len(a.Registry.Names()))
	}

	if state, err := a.Client.Submit(ctx, "show the tree"); err != nil || state != client.Completed {
		t.Fatalf("Submit = %v, %v", state, err)
	}
	if a.Handles.Len() == 0 {
		t.Error("list_document_tree interned no handles")
	}
	path := a.Recording()
	a.Stop()
	if a.Handles.Len() != 0 {
		t.Error("Stop kept handles")
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), transport.EventRequiresAction) {
		t.Errorf("recording %s: %v", path, err)
	}
}
