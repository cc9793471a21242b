package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServedRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry("math", time.Second, zerolog.Nop())
	require.NoError(t, reg.Register(Definition{
		Name:        "add",
		Description: "Adds two numbers",
		Parameters: []Parameter{
			{Name: "a", Type: "number", Required: true},
			{Name: "b", Type: "number", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"sum": args["a"].(float64) + args["b"].(float64)}, nil
		},
	}))
	require.NoError(t, reg.Register(Definition{
		Name:        "shout",
		Description: "Returns text with an exclamation mark",
		Parameters:  []Parameter{{Name: "text", Type: "string", Required: true}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"].(string) + "!", nil
		},
	}))
	require.NoError(t, reg.Register(Definition{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("backend exploded")
		},
	}))
	return reg
}

func startMCPServer(t *testing.T, reg *Registry) (*MCPServer, string) {
	t.Helper()
	s, err := NewMCPServer(reg, "test", zerolog.Nop())
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle(MCPPath, s.Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		srv.Close()
	})
	return s, srv.URL + MCPPath
}

func TestMCPServer_ToolNames(t *testing.T) {
	s, _ := startMCPServer(t, newServedRegistry(t))
	assert.Equal(t, []string{"add", "fail", "shout"}, s.ToolNames())
}

func TestMCPServer_RoundTrip(t *testing.T) {
	_, url := startMCPServer(t, newServedRegistry(t))

	p, err := NewMCPProvider(MCPConfig{Name: "remote-math", URL: url, Timeout: 5 * time.Second, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()

	t.Run("should discover the registry tools", func(t *testing.T) {
		tools, err := p.Discover(ctx)
		require.NoError(t, err)
		require.Len(t, tools, 3)

		byName := map[string]Tool{}
		for _, tool := range tools {
			byName[tool.Name] = tool
		}
		assert.Equal(t, "Adds two numbers", byName["add"].Description)
		assert.Equal(t, "remote-math", byName["add"].Provider)
		props, ok := byName["add"].InputSchema["properties"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, props, "a")
		assert.Contains(t, props, "b")
	})

	t.Run("should return structured results", func(t *testing.T) {
		res, err := p.Call(ctx, "add", map[string]any{"a": 2.0, "b": 3.0})
		require.NoError(t, err)

		m, ok := res.(map[string]any)
		require.True(t, ok, "got %T", res)
		assert.Equal(t, 5.0, m["sum"])
	})

	t.Run("should return text results", func(t *testing.T) {
		res, err := p.Call(ctx, "shout", map[string]any{"text": "hello"})
		require.NoError(t, err)
		assert.Equal(t, "hello!", res)
	})

	t.Run("should surface tool failures as errors", func(t *testing.T) {
		_, err := p.Call(ctx, "fail", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backend exploded")
		assert.False(t, errors.Is(err, ErrUnavailable))
		assert.True(t, p.Active(), "a failing tool keeps the session")
	})

	t.Run("should validate arguments on the client", func(t *testing.T) {
		_, err := p.Call(ctx, "add", map[string]any{"a": "two", "b": 3.0})
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})
}
