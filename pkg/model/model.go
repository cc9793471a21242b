package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Role tags a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTaskDelegation marks a task handed over by a peer agent.
	RoleTaskDelegation Role = "task-delegation"
)

// Message is one role-tagged conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Backend produces the next model turn for a conversation.
type Backend interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ErrNoResponse is returned when a backend has nothing to answer with.
var ErrNoResponse = errors.New("model returned no response")

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	// ProviderScripted answers only from MockResponses.
	ProviderScripted = "scripted"
)

// Config selects and configures a backend.
type Config struct {
	Provider       string
	BaseURL        string
	Model          string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	MaxTokens      int
	RetryBaseDelay time.Duration
	MockResponses  []string
	Logger         zerolog.Logger
}

// NewBackend builds the backend named by cfg.Provider. When MockResponses is
// non-empty the backend answers from that queue first.
func NewBackend(cfg Config) (Backend, error) {
	var backend Backend

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		b, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	case ProviderAnthropic:
		b, err := NewAnthropic(cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	case ProviderScripted:
		return NewScripted(cfg.MockResponses, nil), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}

	if len(cfg.MockResponses) > 0 {
		cfg.Logger.Warn().
			Int("responses", len(cfg.MockResponses)).
			Msg("Scripted model responses enabled")
		return NewScripted(cfg.MockResponses, backend), nil
	}
	return backend, nil
}
