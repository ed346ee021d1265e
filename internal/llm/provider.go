package llm

import (
	"fmt"
	"strings"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is "openai", "anthropic" or "" for none.
	Provider  string
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
}

// New builds the configured provider. An empty provider returns
// ErrNotConfigured so callers can fall back to deterministic behavior.
func New(cfg Config) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, ErrNotConfigured
	case "openai":
		return NewOpenAI(cfg.OpenAI)
	case "anthropic":
		return NewAnthropic(cfg.Anthropic)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
