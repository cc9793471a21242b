package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var validProviders = []string{"openai", "anthropic", "scripted"}

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

// Validator validates configuration values
type Validator struct {
	cronParser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateProvider validates a model provider name
func (v *Validator) ValidateProvider(provider string) error {
	for _, p := range validProviders {
		if strings.EqualFold(provider, p) {
			return nil
		}
	}
	return fmt.Errorf("invalid model provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey checks that hosted providers have a key. An OpenAI
// compatible server at a custom URL may not need one.
func (v *Validator) ValidateAPIKey(m ModelConfig) error {
	if m.MockResponses != "" || m.APIKey != "" {
		return nil
	}
	switch strings.ToLower(m.Provider) {
	case "anthropic":
		return fmt.Errorf("anthropic API key cannot be empty")
	case "openai", "":
		if m.URL == "" {
			return fmt.Errorf("openai API key cannot be empty without a custom url")
		}
	}
	return nil
}

// ValidateURL validates an absolute http(s) URL
func (v *Validator) ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	return nil
}

// ValidateSchedule validates a cron spec or descriptor such as "@every 1h"
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := v.cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateVersionConstraint validates a semver range such as "^0.3"
func (v *Validator) ValidateVersionConstraint(constraint string) error {
	if _, err := semver.NewConstraint(constraint); err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if _, err := zerolog.ParseLevel(level); err != nil || level == "" {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
	return nil
}

// ValidatePort validates a listen port. Zero picks a free port.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if strings.TrimSpace(cfg.Agent.Name) == "" {
		errors = append(errors, fmt.Errorf("agent.name is required"))
	}

	if cfg.Loop.MaxSteps < 1 {
		errors = append(errors, fmt.Errorf("loop.max_steps must be >= 1"))
	}
	if cfg.Loop.MemoryContextLimit < 0 {
		errors = append(errors, fmt.Errorf("loop.memory_context_limit must be >= 0"))
	}
	if cfg.Loop.ContextWindow < 0 {
		errors = append(errors, fmt.Errorf("loop.context_window must be >= 0"))
	}

	if cfg.Memory.MaxSessions < 1 {
		errors = append(errors, fmt.Errorf("memory.max_sessions must be >= 1"))
	}
	if cfg.Memory.MaxEventsPerSession < 1 {
		errors = append(errors, fmt.Errorf("memory.max_events_per_session must be >= 1"))
	}
	if cfg.Memory.CleanupMaxAge < 0 {
		errors = append(errors, fmt.Errorf("memory.cleanup_max_age must be >= 0"))
	}
	if cfg.Memory.CleanupSchedule != "" {
		if err := v.ValidateSchedule(cfg.Memory.CleanupSchedule); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateProvider(cfg.Model.Provider); err != nil {
		errors = append(errors, err)
	} else if err := v.ValidateAPIKey(cfg.Model); err != nil {
		errors = append(errors, err)
	}
	if cfg.Model.URL != "" {
		if err := v.ValidateURL(cfg.Model.URL); err != nil {
			errors = append(errors, fmt.Errorf("model.url: %w", err))
		}
	}
	if cfg.Model.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("model.max_retries must be >= 0"))
	}
	if cfg.Model.MaxTokens < 0 {
		errors = append(errors, fmt.Errorf("model.max_tokens must be >= 0"))
	}

	toolNames := make(map[string]bool)
	for i, tool := range cfg.Tools {
		if tool.Name == "" {
			errors = append(errors, fmt.Errorf("tools[%d]: name is required", i))
		} else if toolNames[tool.Name] {
			errors = append(errors, fmt.Errorf("tools[%d]: duplicate name %s", i, tool.Name))
		}
		toolNames[tool.Name] = true
		if err := v.ValidateURL(tool.URL); err != nil {
			errors = append(errors, fmt.Errorf("tools[%d] (%s): %w", i, tool.Name, err))
		}
	}

	peerNames := make(map[string]bool)
	for i, p := range cfg.Peers {
		if p.Name == "" {
			errors = append(errors, fmt.Errorf("peers[%d]: name is required", i))
		} else if peerNames[p.Name] {
			errors = append(errors, fmt.Errorf("peers[%d]: duplicate name %s", i, p.Name))
		} else if p.Name == cfg.Agent.Name {
			errors = append(errors, fmt.Errorf("peers[%d]: an agent cannot delegate to itself", i))
		}
		peerNames[p.Name] = true
		if err := v.ValidateURL(p.CardURL); err != nil {
			errors = append(errors, fmt.Errorf("peers[%d] (%s): %w", i, p.Name, err))
		}
		if p.Version != "" {
			if err := v.ValidateVersionConstraint(p.Version); err != nil {
				errors = append(errors, fmt.Errorf("peers[%d] (%s): %w", i, p.Name, err))
			}
		}
	}

	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, err)
	}
	if cfg.Server.BaseURL != "" {
		if err := v.ValidateURL(cfg.Server.BaseURL); err != nil {
			errors = append(errors, fmt.Errorf("server.base_url: %w", err))
		}
	}
	if cfg.Server.RequestsPerMinute < 0 {
		errors = append(errors, fmt.Errorf("server.requests_per_minute must be >= 0"))
	}
	if cfg.Server.MaxConcurrent < 0 {
		errors = append(errors, fmt.Errorf("server.max_concurrent must be >= 0"))
	}

	return errors
}
