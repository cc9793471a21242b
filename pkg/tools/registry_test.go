package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry("local", 200*time.Millisecond, zerolog.Nop())

	require.NoError(t, r.Register(Definition{
		Name:        "add",
		Description: "Adds two numbers",
		Parameters: []Parameter{
			{Name: "a", Type: "number", Description: "first", Required: true},
			{Name: "b", Type: "number", Description: "second", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	}))
	return r
}

func TestRegistry_Call(t *testing.T) {
	r := setupTestRegistry(t)

	out, err := r.Call(context.Background(), "add", map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, out)
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := setupTestRegistry(t)

	_, err := r.Call(context.Background(), "subtract", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_InvalidArguments(t *testing.T) {
	r := setupTestRegistry(t)

	_, err := r.Call(context.Background(), "add", map[string]any{"a": 1.0})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = r.Call(context.Background(), "add", map[string]any{"a": "one", "b": 2.0})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = r.Call(context.Background(), "add", map[string]any{"a": 1.0, "b": 2.0, "c": 3.0})
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry("", 0, zerolog.Nop())
	assert.Equal(t, "local", r.Name())
	assert.Equal(t, DefaultToolTimeout, r.timeout)

	handler := func(context.Context, map[string]any) (any, error) { return nil, nil }

	assert.Error(t, r.Register(Definition{Description: "d", Handler: handler}))
	assert.Error(t, r.Register(Definition{Name: "x", Handler: handler}))
	assert.Error(t, r.Register(Definition{Name: "x", Description: "d"}))
	assert.Error(t, r.Register(Definition{
		Name: "x", Description: "d", Handler: handler,
		Parameters: []Parameter{{Name: "p", Type: "date"}},
	}))

	require.NoError(t, r.Register(Definition{Name: "x", Description: "d", Handler: handler}))
	assert.Error(t, r.Register(Definition{Name: "x", Description: "d", Handler: handler}))
}

func TestRegistry_HandlerErrorAndPanic(t *testing.T) {
	r := NewRegistry("local", time.Second, zerolog.Nop())
	require.NoError(t, r.Register(Definition{
		Name: "fail", Description: "always fails",
		Handler: func(context.Context, map[string]any) (any, error) { return nil, errors.New("disk full") },
	}))
	require.NoError(t, r.Register(Definition{
		Name: "boom", Description: "panics",
		Handler: func(context.Context, map[string]any) (any, error) { panic("kaboom") },
	}))

	_, err := r.Call(context.Background(), "fail", nil)
	assert.EqualError(t, err, "disk full")

	_, err = r.Call(context.Background(), "boom", nil)
	assert.ErrorContains(t, err, "panicked")
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry("local", 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, r.Register(Definition{
		Name: "slow", Description: "sleeps",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	_, err := r.Call(context.Background(), "slow", nil)
	assert.ErrorContains(t, err, "timed out")
}

func TestRegistry_TruncatesLargeOutput(t *testing.T) {
	r := NewRegistry("local", time.Second, zerolog.Nop())
	require.NoError(t, r.Register(Definition{
		Name: "big", Description: "large output",
		Handler: func(context.Context, map[string]any) (any, error) {
			return strings.Repeat("x", maxOutputSize*2), nil
		},
	}))

	out, err := r.Call(context.Background(), "big", nil)
	require.NoError(t, err)
	s, ok := out.(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(s, "[output truncated]"))
	assert.Less(t, len(s), maxOutputSize+100)
}

func TestRegistry_ToolsAndDescribe(t *testing.T) {
	r := setupTestRegistry(t)

	tools, err := r.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].Name)
	assert.Equal(t, "local", tools[0].Provider)

	desc := Describe(tools)
	assert.Equal(t, "- add: Adds two numbers (arguments: a, b)\n", desc)
}
