// Package addin assembles the CAD side: handle table, tool registry,
// dispatcher, agent client, palette bridge and the agent process it launches.
package addin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/attr"
	"github.com/m4xw311/cadlink/bridge"
	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/client"
	"github.com/m4xw311/cadlink/config"
	"github.com/m4xw311/cadlink/dispatch"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/handle"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/metrics"
	"github.com/m4xw311/cadlink/query"
	"github.com/m4xw311/cadlink/tools"
	"github.com/m4xw311/cadlink/transport"
)

// uploadAttempts bounds how long Start waits for a freshly launched agent.
const uploadAttempts = 20

type AddIn struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics

	Handles    *handle.Table
	Registry   *tools.Registry
	Dispatcher *dispatch.Dispatcher
	Client     *client.Client
	Bridge     *bridge.Bridge

	channel   transport.Channel
	recorder  *transport.Recorder
	replaying bool
	launch    bool
	pump      func()
	agent     *exec.Cmd
}

type Option func(*AddIn)

func WithLogger(l *zap.Logger) Option {
	return func(a *AddIn) { a.log = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *AddIn) { a.metrics = m }
}

// WithChannel replaces the agent connection; no agent process is launched.
func WithChannel(ch transport.Channel) Option {
	return func(a *AddIn) {
		a.channel = ch
		a.launch = false
	}
}

// WithPump installs the host's event pump, run while waiting on the agent.
func WithPump(fn func()) Option {
	return func(a *AddIn) { a.pump = fn }
}

// New wires every CAD-side component around design. Nothing runs until
// Start.
func New(cfg *config.Config, design cad.Design, opts ...Option) (*AddIn, error) {
	a := &AddIn{cfg: cfg, log: zap.NewNop(), launch: true}
	for _, o := range opts {
		o(a)
	}
	if cfg.AgentSecret == "" {
		cfg.AgentSecret = uuid.NewString()
	}

	if a.channel == nil {
		switch {
		case cfg.ReplayFile != "":
			r, err := transport.NewReplayer(cfg.ReplayFile)
			if err != nil {
				return nil, err
			}
			a.channel = r
			a.replaying = true
			a.launch = false
			a.log.Info("replaying agent events", zap.String("file", cfg.ReplayFile))
		default:
			a.channel = transport.NewClient(cfg.AgentAddress, cfg.AgentSecret, a.log)
		}
	}
	if cfg.Record.Enabled && !a.replaying {
		rec, err := transport.NewRecorder(cfg.Record.Dir)
		if err != nil {
			return nil, err
		}
		a.recorder = rec
		a.channel = transport.Record(a.channel, rec)
		a.log.Info("recording agent events", zap.String("file", rec.Path()))
	}

	a.Handles = handle.New(handle.WithLogger(a.log), handle.WithMetrics(a.metrics))
	env := &tools.Env{
		Design:  design,
		Handles: a.Handles,
		Attrs:   attr.New(a.Handles),
		Query:   query.NewEngine(design, a.Handles, query.WithLogger(a.log), query.WithMetrics(a.metrics)),
		Log:     a.log,
	}
	a.Registry = tools.NewRegistry(tools.DefaultModules(), tools.WithFilter(cfg.Tools), tools.WithLogger(a.log))

	a.Bridge = bridge.New(nil, a.Registry, bridge.WithLogger(a.log), bridge.WithSettings(map[string]any{
		"record": cfg.Record.Enabled,
		"model":  cfg.Model,
	}))
	a.Dispatcher = dispatch.New(a.Registry, env,
		dispatch.WithEcho(a.Bridge.Echo),
		dispatch.WithLogger(a.log),
		dispatch.WithMetrics(a.metrics))
	clientOpts := []client.Option{
		client.WithSink(a.Bridge),
		client.WithLogger(a.log),
		client.WithMetrics(a.metrics),
		client.WithMaxToolCycles(cfg.MaxToolCycles),
	}
	if a.pump != nil {
		clientOpts = append(clientOpts, client.WithPump(client.DefaultPumpInterval, a.pump))
	}
	a.Client = client.New(a.channel, a.Dispatcher, clientOpts...)
	a.Bridge.SetAgent(a.Client)
	return a, nil
}

// Start builds the tool registry, launches the agent process and uploads the
// tool catalogue.
func (a *AddIn) Start(ctx context.Context) error {
	if err := a.Registry.Build(); err != nil {
		return err
	}
	if a.replaying {
		return nil
	}
	if a.launch {
		if err := a.launchAgent(ctx); err != nil {
			return err
		}
	}
	specs, err := a.Registry.List()
	if err != nil {
		return err
	}

	// The agent may still be binding its socket.
	delay := 50 * time.Millisecond
	for i := 1; ; i++ {
		err = a.Client.UploadTools(ctx, specs)
		if err == nil || i == uploadAttempts || ctx.Err() != nil {
			break
		}
		a.log.Debug("agent not ready", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay *= 2
		}
	}
	if err != nil {
		return errors.Wrapf(err, "uploading %d tools to the agent", len(specs))
	}
	a.log.Info("add-in started", zap.Int("tools", len(specs)))
	return nil
}

func (a *AddIn) launchAgent(ctx context.Context) error {
	args := []string{"-listen", a.cfg.AgentAddress}
	if p := a.cfg.Path(); p != "" {
		// The agent runs in cad_working_dir.
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		args = append(args, "-config", p)
	}
	cmd := exec.CommandContext(ctx, a.cfg.AgentPath, args...)
	cmd.Dir = a.cfg.CADWorkingDir
	cmd.Env = append(os.Environ(), config.SecretEnv+"="+a.cfg.AgentSecret)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "starting agent %s", a.cfg.AgentPath)
	}
	a.agent = cmd
	a.log.Info("agent launched", zap.String("path", a.cfg.AgentPath), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Recording returns the file agent events are recorded to, or "".
func (a *AddIn) Recording() string {
	if a.recorder == nil {
		return ""
	}
	return a.recorder.Path()
}

// Stop drops every handle, closes the agent connection and ends the agent
// process.
func (a *AddIn) Stop() {
	a.Handles.Reset()
	if err := a.channel.Close(); err != nil {
		a.log.Debug("closing agent channel", zap.Error(err))
	}
	if a.agent != nil && a.agent.Process != nil {
		a.agent.Process.Kill()
		a.agent.Wait()
		a.agent = nil
	}
	a.log.Info("add-in stopped")
}
