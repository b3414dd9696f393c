package config

import (
	"os"
	"path/filepath"

	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/llm"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/session"
	"github.com/m4xw311/cadlink/tools"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up beside the add-in.
const FileName = "cadlink.yaml"

// SecretEnv carries the transport secret from the add-in to the agent process
// it launches.
const SecretEnv = "CADLINK_AGENT_SECRET"

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Record struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type Config struct {
	APIKey          string `yaml:"api_key"`
	AssistantID     string `yaml:"assistant_id"`
	LLMClient       string `yaml:"llm"`
	Model           string `yaml:"model"`
	Instructions    string `yaml:"instructions"`
	ReasoningEffort string `yaml:"reasoning_effort"`

	AgentPath      string `yaml:"agent_path"`
	AgentAddress   string `yaml:"agent_address"`
	AgentSecret    string `yaml:"agent_secret"`
	PaletteAddress string `yaml:"palette_address"`
	CADWorkingDir  string `yaml:"cad_working_dir"`
	MaxToolCycles  int    `yaml:"max_tool_cycles"`

	Record     Record `yaml:"record"`
	ReplayFile string `yaml:"replay_file"`

	Tools                tools.Filter   `yaml:"tools"`
	AdditionalMCPServers []MCPServer    `yaml:"additional_mcp_servers"`
	Log                  logging.Config `yaml:"log"`
	SessionsDir          string         `yaml:"sessions_dir"`

	path string
}

// Default returns the configuration used for keys no file sets.
func Default() *Config {
	return &Config{
		LLMClient:      "openai",
		Model:          "gpt-4o",
		Instructions:   DefaultInstructions,
		AgentAddress:   "127.0.0.1:6000",
		PaletteAddress: "127.0.0.1:6001",
		MaxToolCycles:  20,
		Record:         Record{Dir: filepath.Join(".cadlink", "recordings")},
		Log:            logging.Config{Level: "info", Format: "console"},
		SessionsDir:    session.DefaultDir,
	}
}

// DefaultInstructions is the system prompt sent when none is configured.
const DefaultInstructions = `You operate a parametric CAD application through tools.
Entities are referred to by short handles returned from tools; pass them back
verbatim. Use describe_object to learn attribute paths and run_sql_query to find
entities. Lengths are in centimetres.`

// Load reads the user-level config (~/.cadlink/config.yaml) and then path,
// with the latter taking precedence. An empty path means cadlink.yaml in the
// working directory, which may be absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".cadlink", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	explicit := path != ""
	if !explicit {
		path = FileName
	}
	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading %s", path)
		}
		cfg.path = path
	} else if explicit {
		return nil, errors.Wrapf(err, "config file %s", path)
	}

	if s := os.Getenv(SecretEnv); s != "" {
		cfg.AgentSecret = s
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(llm.KeyEnv[cfg.LLMClient])
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, so later files
	// replace earlier ones key by key.
	return yaml.Unmarshal(data, cfg)
}

// Path returns the file the config was read from, or "" when only defaults
// and the user config applied.
func (c *Config) Path() string {
	return c.path
}

// Validate checks what the add-in needs before it can start: the agent
// binary, its working directory and a model key.
func (c *Config) Validate() error {
	if c.AgentPath == "" {
		return errors.New("agent_path is not set in %s", FileName)
	}
	if c.CADWorkingDir == "" {
		return errors.New("cad_working_dir is not set in %s", FileName)
	}
	return c.ValidateAgent()
}

// ValidateAgent checks what the agent process needs.
func (c *Config) ValidateAgent() error {
	if c.needsKey() && c.APIKey == "" {
		return errors.New("api_key is not set in %s and %s is empty", FileName, llm.KeyEnv[c.LLMClient])
	}
	if c.MaxToolCycles <= 0 {
		return errors.New("max_tool_cycles must be positive, got %d", c.MaxToolCycles)
	}
	return c.Tools.Validate()
}

func (c *Config) needsKey() bool {
	_, ok := llm.KeyEnv[c.LLMClient]
	return ok
}

// LLMOptions returns the provider options derived from the config.
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		APIKey:          c.APIKey,
		Model:           c.Model,
		ReasoningEffort: c.ReasoningEffort,
	}
}
