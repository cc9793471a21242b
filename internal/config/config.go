package config

import (
	"encoding/json"
	"time"
)

// Config represents the main meshagent configuration
type Config struct {
	Agent     AgentConfig        `json:"agent" mapstructure:"agent"`
	Loop      LoopConfig         `json:"loop" mapstructure:"loop"`
	Memory    MemoryConfig       `json:"memory" mapstructure:"memory"`
	Model     ModelConfig        `json:"model" mapstructure:"model"`
	Tools     []ToolServerConfig `json:"tools" mapstructure:"tools"`
	Peers     []PeerConfig       `json:"peers" mapstructure:"peers"`
	Telemetry TelemetryConfig    `json:"telemetry" mapstructure:"telemetry"`
	Logging   LoggingConfig      `json:"logging" mapstructure:"logging"`
	Server    ServerConfig       `json:"server" mapstructure:"server"`
}

// AgentConfig describes this agent to callers and to the model
type AgentConfig struct {
	Name         string `json:"name" mapstructure:"name"`
	Description  string `json:"description" mapstructure:"description"`
	Instructions string `json:"instructions" mapstructure:"instructions"`
	AppName      string `json:"app_name" mapstructure:"app_name"`
	UserID       string `json:"user_id" mapstructure:"user_id"`
	// BuiltinTools offers the in-process core tools alongside any MCP servers.
	BuiltinTools bool `json:"builtin_tools" mapstructure:"builtin_tools"`
}

// LoopConfig bounds the reasoning loop
type LoopConfig struct {
	MaxSteps           int `json:"max_steps" mapstructure:"max_steps"`
	MemoryContextLimit int `json:"memory_context_limit" mapstructure:"memory_context_limit"`
	ContextWindow      int `json:"context_window" mapstructure:"context_window"`
}

// MemoryConfig bounds the session store
type MemoryConfig struct {
	MaxSessions         int           `json:"max_sessions" mapstructure:"max_sessions"`
	MaxEventsPerSession int           `json:"max_events_per_session" mapstructure:"max_events_per_session"`
	CleanupSchedule     string        `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
	CleanupMaxAge       time.Duration `json:"cleanup_max_age" mapstructure:"cleanup_max_age"`
}

// ModelConfig selects the language model backend
type ModelConfig struct {
	Provider   string        `json:"provider" mapstructure:"provider"` // openai, anthropic, scripted
	URL        string        `json:"url" mapstructure:"url"`
	Name       string        `json:"name" mapstructure:"name"`
	APIKey     string        `json:"api_key" mapstructure:"api_key"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	MaxTokens  int           `json:"max_tokens" mapstructure:"max_tokens"`
	// MockResponses is a JSON array of canned replies, or a single reply.
	MockResponses string `json:"mock_responses" mapstructure:"mock_responses"`
}

// ToolServerConfig points at an MCP tool server
type ToolServerConfig struct {
	Name    string        `json:"name" mapstructure:"name"`
	URL     string        `json:"url" mapstructure:"url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// PeerConfig points at another agent's card
type PeerConfig struct {
	Name             string        `json:"name" mapstructure:"name"`
	CardURL          string        `json:"card_url" mapstructure:"card_url"`
	DiscoveryTimeout time.Duration `json:"discovery_timeout" mapstructure:"discovery_timeout"`
	InvokeTimeout    time.Duration `json:"invoke_timeout" mapstructure:"invoke_timeout"`
	// Version is a semver constraint the peer card must satisfy.
	Version string `json:"version" mapstructure:"version"`
}

// TelemetryConfig controls span recording
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host              string        `json:"host" mapstructure:"host"`
	Port              int           `json:"port" mapstructure:"port"`
	BaseURL           string        `json:"base_url" mapstructure:"base_url"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	SharedSecret      string        `json:"shared_secret" mapstructure:"shared_secret"`
	CORSOrigins       []string      `json:"cors_origins" mapstructure:"cors_origins"`
	RequestsPerMinute int           `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int           `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:    "meshagent",
			AppName: "meshagent",
			UserID:  "user",
		},
		Loop: LoopConfig{
			MaxSteps:           5,
			MemoryContextLimit: 6,
			ContextWindow:      20,
		},
		Memory: MemoryConfig{
			MaxSessions:         1000,
			MaxEventsPerSession: 500,
			CleanupSchedule:     "@every 1h",
			CleanupMaxAge:       24 * time.Hour,
		},
		Model: ModelConfig{
			Provider:   "openai",
			Name:       "gpt-4o-mini",
			Timeout:    2 * time.Minute,
			MaxRetries: 2,
		},
		Tools: []ToolServerConfig{},
		Peers: []PeerConfig{},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "meshagent",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ShutdownTimeout:   30 * time.Second,
			CORSOrigins:       []string{},
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	cp := *c
	if cp.Model.APIKey != "" {
		cp.Model.APIKey = "***"
	}
	if cp.Server.SharedSecret != "" {
		cp.Server.SharedSecret = "***"
	}
	data, _ := json.MarshalIndent(cp, "", "  ")
	return string(data)
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	return joinErrors(NewValidator().ValidateConfig(c))
}
