// Package llm sends conversation history to a chat completion provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrUpstream wraps every failure reported by a completion provider.
var ErrUpstream = errors.New("llm provider failure")

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the history sent to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized completion request.
type Request struct {
	UserEmail string    `json:"user_email"`
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

// LastUserText returns the content of the most recent user message.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Response is the final reply after streaming deltas.
type Response struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter produces assistant replies.
type Adapter interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Observer receives the outcome of every provider call.
type Observer interface {
	ObserveLLMCall(provider, outcome string, d time.Duration)
}

// Config controls adapter construction.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
	Logger      zerolog.Logger
	Observer    Observer
}

// NewAdapter builds the configured adapter. In auto mode an API key selects
// the OpenAI-compatible provider; without one replies come from the mock.
func NewAdapter(cfg Config) (Adapter, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			cfg.Logger.Warn().Msg("no LLM API key configured, using mock replies")
			return NewMockAdapter(), nil
		}
		return newOpenAIWithRetry(cfg)
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("LLM API key is required for the openai provider")
		}
		return newOpenAIWithRetry(cfg)
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

func newOpenAIWithRetry(cfg Config) (Adapter, error) {
	a, err := NewOpenAIAdapter(cfg)
	if err != nil {
		return nil, err
	}
	return NewRetryAdapter(a, cfg.MaxRetries, cfg.Logger), nil
}
