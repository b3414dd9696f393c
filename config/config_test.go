package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(SecretEnv, "")
	path := writeConfig(t, `
api_key: sk-test
llm: anthropic
model: claude-sonnet-4
agent_path: /opt/cadlink/cadagent
cad_working_dir: /tmp/cad
max_tool_cycles: 5
tools:
  disabled: ["create_*_list"]
additional_mcp_servers:
  - name: units
    command: units-mcp
    args: ["--stdio"]
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMClient != "anthropic" || cfg.Model != "claude-sonnet-4" || cfg.MaxToolCycles != 5 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.AgentAddress != "127.0.0.1:6000" {
		t.Errorf("default agent_address lost: %q", cfg.AgentAddress)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log config = %+v", cfg.Log)
	}
	if len(cfg.AdditionalMCPServers) != 1 || cfg.AdditionalMCPServers[0].Args[0] != "--stdio" {
		t.Errorf("mcp servers = %+v", cfg.AdditionalMCPServers)
	}
	if cfg.Tools.Allows("create_point3d_list") {
		t.Error("disabled tool pattern not applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestUserConfigIsOverridden(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".cadlink"), 0755); err != nil {
		t.Fatal(err)
	}
	user := "model: user-model\ninstructions: from user\n"
	if err := os.WriteFile(filepath.Join(home, ".cadlink", "config.yaml"), []byte(user), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(writeConfig(t, "model: project-model\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "project-model" || cfg.Instructions != "from user" {
		t.Errorf("merge order wrong: model=%q instructions=%q", cfg.Model, cfg.Instructions)
	}
}

func TestValidateNamesMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	tests := []struct {
		name string
		cfg  func(*Config)
		want string
	}{
		{"agent path", func(c *Config) { c.CADWorkingDir = "/tmp"; c.APIKey = "k" }, "agent_path"},
		{"working dir", func(c *Config) { c.AgentPath = "/bin/agent"; c.APIKey = "k" }, "cad_working_dir"},
		{"api key", func(c *Config) { c.AgentPath = "/bin/agent"; c.CADWorkingDir = "/tmp" }, "api_key"},
		{"bad pattern", func(c *Config) {
			c.AgentPath, c.CADWorkingDir, c.APIKey = "/bin/agent", "/tmp", "k"
			c.Tools.Enabled = []string{"[unclosed"}
		}, "invalid tool pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.cfg(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if strings.Contains(err.Error(), "\n") {
				t.Errorf("diagnostic spans lines: %q", err)
			}
		})
	}
}

func TestKeyAndSecretFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv(SecretEnv, "s3cret")
	cfg, err := Load(writeConfig(t, "agent_path: a\ncad_working_dir: b\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "sk-env" || cfg.AgentSecret != "s3cret" {
		t.Errorf("env not applied: key=%q secret=%q", cfg.APIKey, cfg.AgentSecret)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestMockNeedsNoKey(t *testing.T) {
	cfg := Default()
	cfg.LLMClient = "mock"
	if err := cfg.ValidateAgent(); err != nil {
		t.Errorf("ValidateAgent: %v", err)
	}
}

func TestExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}
