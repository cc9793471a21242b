package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MESHAGENT_SERVER_PORT.
const EnvPrefix = "MESHAGENT"

// MockResponsesEnv feeds canned model replies, mainly for tests and demos.
const MockResponsesEnv = "DEBUG_MOCK_RESPONSES"

// Loader handles configuration loading
type Loader struct {
	configPath string

	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a new config loader. An empty path selects
// $HOME/.meshagent/meshagent.json.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, if present, and applies environment
// overrides on top of the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("model.mock_responses", EnvPrefix+"_MODEL_MOCK_RESPONSES", MockResponsesEnv); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if filepath.Ext(configPath) == "" {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.v = v
	l.mu.Unlock()

	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Model.APIKey == "" {
		switch strings.ToLower(cfg.Model.Provider) {
		case "anthropic":
			cfg.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai", "":
			cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	return cfg, nil
}

// setDefaults registers every scalar key so that environment overrides
// apply even without a config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("agent.name", cfg.Agent.Name)
	v.SetDefault("agent.description", cfg.Agent.Description)
	v.SetDefault("agent.instructions", cfg.Agent.Instructions)
	v.SetDefault("agent.app_name", cfg.Agent.AppName)
	v.SetDefault("agent.user_id", cfg.Agent.UserID)
	v.SetDefault("agent.builtin_tools", cfg.Agent.BuiltinTools)

	v.SetDefault("loop.max_steps", cfg.Loop.MaxSteps)
	v.SetDefault("loop.memory_context_limit", cfg.Loop.MemoryContextLimit)
	v.SetDefault("loop.context_window", cfg.Loop.ContextWindow)

	v.SetDefault("memory.max_sessions", cfg.Memory.MaxSessions)
	v.SetDefault("memory.max_events_per_session", cfg.Memory.MaxEventsPerSession)
	v.SetDefault("memory.cleanup_schedule", cfg.Memory.CleanupSchedule)
	v.SetDefault("memory.cleanup_max_age", cfg.Memory.CleanupMaxAge)

	v.SetDefault("model.provider", cfg.Model.Provider)
	v.SetDefault("model.url", cfg.Model.URL)
	v.SetDefault("model.name", cfg.Model.Name)
	v.SetDefault("model.api_key", cfg.Model.APIKey)
	v.SetDefault("model.timeout", cfg.Model.Timeout)
	v.SetDefault("model.max_retries", cfg.Model.MaxRetries)
	v.SetDefault("model.max_tokens", cfg.Model.MaxTokens)
	v.SetDefault("model.mock_responses", cfg.Model.MockResponses)

	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", cfg.Telemetry.ServiceName)
	v.SetDefault("telemetry.sample_ratio", cfg.Telemetry.SampleRatio)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.shared_secret", cfg.Server.SharedSecret)
	v.SetDefault("server.cors_origins", cfg.Server.CORSOrigins)
	v.SetDefault("server.requests_per_minute", cfg.Server.RequestsPerMinute)
	v.SetDefault("server.max_concurrent", cfg.Server.MaxConcurrent)
}

// Watch re-reads the loaded config file whenever it changes and hands the
// result to onChange. err is set when the new file does not decode or
// validate; cfg is nil in that case.
func (l *Loader) Watch(onChange func(cfg *Config, err error)) error {
	l.mu.Lock()
	v := l.v
	l.mu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file loaded")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			onChange(nil, err)
			return
		}
		onChange(cfg, nil)
	})
	v.WatchConfig()

	return nil
}

// Save writes cfg to the config path in the format its extension names.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("no config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Round-trip through JSON so every format sees the json key names.
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	v := viper.New()
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("json")
	}
	if err := v.MergeConfigMap(settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".meshagent", "meshagent.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
