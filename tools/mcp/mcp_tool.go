// Package mcp exposes tools of external MCP servers to the agent process.
// They run beside the model, not inside the CAD document, so the agent
// executes them itself instead of asking the add-in.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/config"
	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/tools"
)

var emptyObject = json.RawMessage(`{"type":"object","properties":{}}`)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	specs []tools.Spec
	log   *zap.Logger
}

// NewMCPClient starts the MCP server subprocess and lists its tools.
func NewMCPClient(ctx context.Context, name, command string, args []string, log *zap.Logger) (*MCPClient, error) {
	log = logging.OrNop(log)
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "cadagent", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{Name: name, cmd: cmd, conn: conn, log: log}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			client.specs = append(client.specs, specFromTool(t))
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	log.Info("initialized MCP client", zap.String("server", name), zap.Int("tools", len(client.specs)))
	return client, nil
}

// Specs returns the server's tools in catalogue form.
func (c *MCPClient) Specs() []tools.Spec {
	return c.specs
}

// Call runs one tool and concatenates its text content.
func (c *MCPClient) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", name)
	}
	text := textOf(result.Content)
	if result.IsError {
		return "", errors.New("tool '%s' failed: %s", name, text)
	}
	return text, nil
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.log.Info("terminating MCP server", zap.String("server", c.Name))
		return c.cmd.Process.Kill()
	}
	return nil
}

func specFromTool(t *mcpsdk.Tool) tools.Spec {
	spec := tools.Spec{Name: t.Name, Description: t.Description, Parameters: emptyObject}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil && string(raw) != "null" {
			spec.Parameters = raw
		}
	}
	return spec
}

func textOf(content []mcpsdk.Content) string {
	var b strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// Toolset aggregates the tools of several MCP servers. A nil Toolset has no
// tools.
type Toolset struct {
	clients []*MCPClient
	owner   map[string]*MCPClient
	log     *zap.Logger
}

// Start launches every configured server. A server that fails to start is
// logged and skipped.
func Start(ctx context.Context, servers []config.MCPServer, log *zap.Logger) *Toolset {
	ts := &Toolset{owner: map[string]*MCPClient{}, log: logging.OrNop(log)}
	for _, s := range servers {
		c, err := NewMCPClient(ctx, s.Name, s.Command, s.Args, log)
		if err != nil {
			ts.log.Warn("skipping MCP server", zap.String("server", s.Name), zap.Error(err))
			continue
		}
		ts.add(c)
	}
	return ts
}

func (ts *Toolset) add(c *MCPClient) {
	ts.clients = append(ts.clients, c)
	for _, spec := range c.specs {
		if prev, ok := ts.owner[spec.Name]; ok {
			ts.log.Warn("duplicate MCP tool name", zap.String("tool", spec.Name),
				zap.String("kept", prev.Name), zap.String("dropped", c.Name))
			continue
		}
		ts.owner[spec.Name] = c
	}
}

// Specs lists every tool, sorted by name.
func (ts *Toolset) Specs() []tools.Spec {
	if ts == nil {
		return nil
	}
	var out []tools.Spec
	for _, c := range ts.clients {
		for _, spec := range c.specs {
			if ts.owner[spec.Name] == c {
				out = append(out, spec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (ts *Toolset) Has(name string) bool {
	if ts == nil {
		return false
	}
	_, ok := ts.owner[name]
	return ok
}

// Call runs the named tool with JSON-encoded arguments.
func (ts *Toolset) Call(ctx context.Context, name, args string) (string, error) {
	if !ts.Has(name) {
		return "", errors.New("unknown MCP tool '%s'", name)
	}
	c := ts.owner[name]
	params := map[string]any{}
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", errors.Wrapf(err, "arguments of '%s' are not a JSON object", name)
		}
	}
	return c.Call(ctx, name, params)
}

// Stop terminates every server.
func (ts *Toolset) Stop() {
	if ts == nil {
		return
	}
	for _, c := range ts.clients {
		if err := c.Stop(); err != nil {
			ts.log.Debug("MCP server stop", zap.String("server", c.Name), zap.Error(err))
		}
	}
}
