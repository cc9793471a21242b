package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const DefaultToolTimeout = 30 * time.Second

// Parameter defines a parameter for a registered tool
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

type registered struct {
	def    Definition
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry is an in-process Provider for tools registered with Go handlers.
// Tools are added through Register only; there is no way to load tool code
// at runtime.
type Registry struct {
	name    string
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.RWMutex
	tools map[string]*registered
}

// NewRegistry creates an empty registry. A zero timeout selects DefaultToolTimeout.
func NewRegistry(name string, timeout time.Duration, logger zerolog.Logger) *Registry {
	if name == "" {
		name = "local"
	}
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Registry{
		name:    name,
		timeout: timeout,
		logger:  logger,
		tools:   make(map[string]*registered),
	}
}

// Register validates def, compiles its argument schema and adds it.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := generateSchema(def)
	schema, err := compileSchema(schemaMap)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}

	r.tools[def.Name] = &registered{
		def: def,
		tool: Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaMap,
			Provider:    r.name,
		},
		schema: schema,
	}

	r.logger.Info().Str("tool", def.Name).Str("provider", r.name).Msg("Tool registered")

	return nil
}

// Name implements Provider.
func (r *Registry) Name() string { return r.name }

// Discover implements Provider. A registry is always active.
func (r *Registry) Discover(ctx context.Context) ([]Tool, error) {
	return r.Tools(), nil
}

// Tools implements Provider.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call implements Provider. The handler runs under the registry timeout.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := validateArguments(t.schema, args); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		res, err := t.def.Handler(timeoutCtx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			r.logger.Debug().Str("tool", name).Dur("duration", time.Since(start)).Err(out.err).Msg("Tool execution failed")
			return nil, out.err
		}
		result, truncated := truncateOutput(out.result)
		r.logger.Debug().Str("tool", name).Dur("duration", time.Since(start)).Bool("truncated", truncated).Msg("Tool execution completed")
		return result, nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tool %s timed out after %v", name, r.timeout)
	}
}

// Close implements Provider.
func (r *Registry) Close() error { return nil }

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validParamTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

func generateSchema(def Definition) map[string]any {
	properties := make(map[string]any, len(def.Parameters))
	required := []any{}

	for _, param := range def.Parameters {
		p := map[string]any{"type": param.Type}
		if param.Description != "" {
			p["description"] = param.Description
		}
		if param.Default != nil {
			p["default"] = param.Default
		}
		properties[param.Name] = p

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
