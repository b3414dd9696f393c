package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/session"
	"github.com/m4xw311/cadlink/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Spec) (*session.Message, error)
}

// Options configures a provider client.
type Options struct {
	// APIKey overrides the provider's environment variable.
	APIKey          string
	Model           string
	ReasoningEffort string
	MaxTokens       int64
}

func (o Options) key(envVar string) (string, error) {
	if o.APIKey != "" {
		return o.APIKey, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	return "", errors.New("%s environment variable not set", envVar)
}

func (o Options) maxTokens() int64 {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return 4096
}

// KeyEnv names the environment variable each provider reads its key from.
var KeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// New builds the client for provider.
func New(ctx context.Context, provider string, opts Options) (LLMClient, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicLLMClient(ctx, opts)
	case "openai", "":
		return NewOpenAILLMClient(ctx, opts)
	case "gemini":
		return NewGeminiLLMClient(ctx, opts)
	case "bedrock":
		return NewBedrockLLMClient(ctx, opts)
	case "mock":
		return &MockLLMClient{}, nil
	}
	return nil, errors.New("unknown llm provider '%s'", provider)
}

// schemaMap decodes a tool's parameter schema, falling back to an empty
// object schema.
func schemaMap(spec tools.Spec) map[string]any {
	var m map[string]any
	if len(spec.Parameters) > 0 {
		if err := json.Unmarshal(spec.Parameters, &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// MockLLMClient replays scripted replies. With no script left it echoes the
// last message.
type MockLLMClient struct {
	mu      sync.Mutex
	Replies []*session.Message
	// Calls records the history and tool names of every Chat call.
	Calls []MockCall
}

type MockCall struct {
	Messages []session.Message
	Tools    []string
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Spec) (*session.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, t := range availableTools {
		names = append(names, t.Name)
	}
	m.Calls = append(m.Calls, MockCall{Messages: append([]session.Message(nil), messages...), Tools: names})

	if len(m.Replies) > 0 {
		next := m.Replies[0]
		m.Replies = m.Replies[1:]
		return next, nil
	}
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return &session.Message{
		Role:    "assistant",
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", last),
	}, nil
}
