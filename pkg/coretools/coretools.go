// Package coretools provides the built-in tools an agent can offer without
// any external tool server: arithmetic, text helpers and the clock.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/meshagent/pkg/tools"
)

// Options configures core tool registration.
type Options struct {
	// Now replaces the clock in tests.
	Now func() time.Time
}

// Register adds the built-in tools to reg.
func Register(reg *tools.Registry, opts Options) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	defs := []tools.Definition{
		calculatorTool(),
		echoTool(),
		textTransformTool(),
		currentTimeTool(opts.Now),
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func calculatorTool() tools.Definition {
	return tools.Definition{
		Name:        "calculator",
		Description: "Apply add, subtract, multiply or divide to two numbers.",
		Parameters: []tools.Parameter{
			{Name: "operation", Type: "string", Description: "One of add, subtract, multiply, divide", Required: true},
			{Name: "a", Type: "number", Description: "Left operand", Required: true},
			{Name: "b", Type: "number", Description: "Right operand", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			a, err := toFloat(args["a"])
			if err != nil {
				return nil, fmt.Errorf("a: %w", err)
			}
			b, err := toFloat(args["b"])
			if err != nil {
				return nil, fmt.Errorf("b: %w", err)
			}

			op, _ := args["operation"].(string)
			var result float64
			switch strings.ToLower(strings.TrimSpace(op)) {
			case "add", "+":
				result = a + b
			case "subtract", "-":
				result = a - b
			case "multiply", "*":
				result = a * b
			case "divide", "/":
				if b == 0 {
					return nil, errors.New("division by zero")
				}
				result = a / b
			default:
				return nil, fmt.Errorf("unsupported operation %q", op)
			}

			return map[string]any{"operation": op, "result": result}, nil
		},
	}
}

func echoTool() tools.Definition {
	return tools.Definition{
		Name:        "echo",
		Description: "Return the given text unchanged.",
		Parameters: []tools.Parameter{
			{Name: "text", Type: "string", Description: "Text to return", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func textTransformTool() tools.Definition {
	return tools.Definition{
		Name:        "text_transform",
		Description: "Transform text: upper, lower, reverse, or length.",
		Parameters: []tools.Parameter{
			{Name: "text", Type: "string", Description: "Input text", Required: true},
			{Name: "operation", Type: "string", Description: "One of upper, lower, reverse, length", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			op, _ := args["operation"].(string)

			switch strings.ToLower(strings.TrimSpace(op)) {
			case "upper":
				return strings.ToUpper(text), nil
			case "lower":
				return strings.ToLower(text), nil
			case "reverse":
				runes := []rune(text)
				for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
					runes[i], runes[j] = runes[j], runes[i]
				}
				return string(runes), nil
			case "length":
				return map[string]any{"length": utf8.RuneCountInString(text)}, nil
			default:
				return nil, fmt.Errorf("unsupported operation %q", op)
			}
		},
	}
}

func currentTimeTool(now func() time.Time) tools.Definition {
	return tools.Definition{
		Name:        "current_time",
		Description: "Return the current date and time, optionally in an IANA time zone.",
		Parameters: []tools.Parameter{
			{Name: "timezone", Type: "string", Description: "IANA zone such as Europe/Berlin, default UTC", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			zone, _ := args["timezone"].(string)
			if zone == "" {
				zone = "UTC"
			}
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", zone)
			}

			t := now().In(loc)
			return map[string]any{
				"time":     t.Format(time.RFC3339),
				"timezone": zone,
				"weekday":  t.Weekday().String(),
			}, nil
		},
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
