package model

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	retry     retryPolicy
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ensureTrailingSlash(cfg.BaseURL)))
	}

	name := cfg.Model
	if name == "" {
		name = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     name,
		maxTokens: maxTokens,
		retry:     newRetryPolicy(cfg),
	}, nil
}

// Complete sends the conversation and returns the concatenated text blocks.
func (p *Anthropic) Complete(ctx context.Context, messages []Message) (string, error) {
	var system []string
	var turns []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  turns,
		MaxTokens: int64(p.maxTokens),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}

	return p.retry.do(ctx, func(ctx context.Context) (string, error) {
		response, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return "", err
		}

		var sb strings.Builder
		for _, block := range response.Content {
			if b, ok := block.AsAny().(anthropic.TextBlock); ok {
				sb.WriteString(b.Text)
			}
		}
		if sb.Len() == 0 {
			return "", ErrNoResponse
		}
		return sb.String(), nil
	})
}
