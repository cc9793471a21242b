// Package tools bridges the reasoning loop to external capabilities.
//
// A Provider owns a set of named tools. Providers activate lazily on first
// use, report ErrUnavailable when their backend cannot be reached, and
// ErrNotFound for names they do not own.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnavailable means the provider's backend could not be reached.
	ErrUnavailable = errors.New("tool provider unavailable")
	// ErrNotFound means the provider has no tool with the requested name.
	ErrNotFound = errors.New("tool not found")
	// ErrInvalidArguments means the arguments failed schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Tool describes one callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Provider    string         `json:"provider,omitempty"`
}

// Provider is a source of tools.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string
	// Discover activates the provider if needed and lists its tools.
	Discover(ctx context.Context) ([]Tool, error)
	// Tools returns the last discovered tool list without activating.
	Tools() []Tool
	// Call invokes a tool once.
	Call(ctx context.Context, name string, args map[string]any) (any, error)
	Close() error
}

const maxOutputSize = 10 * 1024

func compileSchema(schema map[string]any) (*gojsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}

// validateArguments validates args against schema. A nil schema accepts anything.
func validateArguments(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
	}

	return nil
}

// truncateOutput caps string renderings of large results.
func truncateOutput(output any) (any, bool) {
	str, ok := output.(string)
	if !ok {
		return output, false
	}
	if len(str) <= maxOutputSize {
		return output, false
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", maxOutputSize).
		Msg("Tool output truncated")

	return str[:maxOutputSize] + "\n... [output truncated]", true
}

// Describe renders tools as a bulleted list for the model preamble.
func Describe(tools []Tool) string {
	var sb strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s", t.Name, t.Description)
		if props, ok := t.InputSchema["properties"].(map[string]any); ok && len(props) > 0 {
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(&sb, " (arguments: %s)", strings.Join(names, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
