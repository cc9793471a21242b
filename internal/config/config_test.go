package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-test-key"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "meshagent", cfg.Agent.Name)
	assert.Equal(t, "meshagent", cfg.Agent.AppName)
	assert.Equal(t, "user", cfg.Agent.UserID)

	assert.Equal(t, 5, cfg.Loop.MaxSteps)
	assert.Equal(t, 6, cfg.Loop.MemoryContextLimit)
	assert.Equal(t, 20, cfg.Loop.ContextWindow)

	assert.Equal(t, 1000, cfg.Memory.MaxSessions)
	assert.Equal(t, 500, cfg.Memory.MaxEventsPerSession)
	assert.Equal(t, "@every 1h", cfg.Memory.CleanupSchedule)
	assert.Equal(t, 24*time.Hour, cfg.Memory.CleanupMaxAge)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestConfigString(t *testing.T) {
	cfg := validConfig()
	cfg.Server.SharedSecret = "s3cret"

	out := cfg.String()
	assert.Contains(t, out, `"agent"`)
	assert.NotContains(t, out, "sk-test-key")
	assert.NotContains(t, out, "s3cret")
	assert.Equal(t, "sk-test-key", cfg.Model.APIKey, "String must not modify the config")
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults with a key are valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("openai needs a key for the hosted api", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.ErrorContains(t, cfg.Validate(), "openai API key cannot be empty")

		cfg.Model.URL = "http://localhost:11434/v1"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("mock responses need no key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model.MockResponses = `["hi"]`
		assert.NoError(t, cfg.Validate())
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agent.Name = ""
		cfg.Loop.MaxSteps = 0
		cfg.Logging.Level = "loud"

		err := cfg.Validate()
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Len(t, verr.Errors, 3)
		assert.Contains(t, err.Error(), "agent.name is required")
		assert.Contains(t, err.Error(), "loop.max_steps must be >= 1")
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("rejects duplicate and self peers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Peers = []PeerConfig{
			{Name: "worker", CardURL: "http://worker:8080"},
			{Name: "worker", CardURL: "http://worker:8080"},
			{Name: "meshagent", CardURL: "http://self:8080"},
		}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate name worker")
		assert.Contains(t, err.Error(), "cannot delegate to itself")
	})

	t.Run("rejects bad tool servers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tools = []ToolServerConfig{
			{Name: "math", URL: "ftp://math"},
			{URL: "http://calc:9000/mcp"},
		}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheme must be http or https")
		assert.Contains(t, err.Error(), "tools[1]: name is required")
	})
}
