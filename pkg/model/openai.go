package model

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
	retry     retryPolicy
}

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	opts := []option.RequestOption{
		// Retries are handled by retryPolicy so they are logged and bounded in one place.
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey("not-needed"))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ensureTrailingSlash(cfg.BaseURL)))
	}

	name := cfg.Model
	if name == "" {
		name = "gpt-4o-mini"
	}

	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     name,
		maxTokens: cfg.MaxTokens,
		retry:     newRetryPolicy(cfg),
	}, nil
}

// Complete sends the conversation and returns the first choice's text.
func (p *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: toOpenAIMessages(messages),
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}

	return p.retry.do(ctx, func(ctx context.Context) (string, error) {
		response, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", err
		}
		if len(response.Choices) == 0 {
			return "", ErrNoResponse
		}
		return response.Choices[0].Message.Content, nil
	})
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			// user and task-delegation both reach the model as user turns
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func ensureTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
