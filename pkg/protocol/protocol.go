// Package protocol extracts tool-call and delegation directives from model output.
//
// A directive is a fenced block whose info string names its kind and whose
// body is a JSON object:
//
//	```tool_call
//	{"tool": "calculator", "arguments": {"expression": "2+2"}}
//	```
//
//	```delegate
//	{"agent": "researcher", "task": "find the population of Lisbon"}
//	```
//
// Parsing never fails loudly: a block that is absent, malformed, or missing
// its name field is reported as no directive.
package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Kind names a directive block.
type Kind string

const (
	KindToolCall Kind = "tool_call"
	KindDelegate Kind = "delegate"
)

var patterns = map[Kind]*regexp.Regexp{
	KindToolCall: blockPattern(KindToolCall),
	KindDelegate: blockPattern(KindDelegate),
}

func blockPattern(kind Kind) *regexp.Regexp {
	return regexp.MustCompile("(?s)```" + regexp.QuoteMeta(string(kind)) + `[ \t]*\r?\n(.*?)` + "```")
}

// ToolCall is a parsed tool_call directive.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Delegation is a parsed delegate directive.
type Delegation struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// Extract returns the JSON object inside the first block of the given kind.
func Extract(text string, kind Kind) (map[string]any, bool) {
	re, ok := patterns[kind]
	if !ok {
		return nil, false
	}

	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}

	body := strings.TrimSpace(m[1])
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Ignoring malformed directive block")
		return nil, false
	}
	if obj == nil {
		log.Warn().Str("kind", string(kind)).Msg("Ignoring directive block that is not an object")
		return nil, false
	}
	return obj, true
}

// ParseToolCall finds the first tool_call directive in text.
func ParseToolCall(text string) (ToolCall, bool) {
	obj, ok := Extract(text, KindToolCall)
	if !ok {
		return ToolCall{}, false
	}

	name, _ := obj["tool"].(string)
	if strings.TrimSpace(name) == "" {
		log.Warn().Msg("Ignoring tool_call directive without a tool name")
		return ToolCall{}, false
	}

	args, _ := obj["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	return ToolCall{Tool: name, Arguments: args}, true
}

// ParseDelegation finds the first delegate directive in text.
func ParseDelegation(text string) (Delegation, bool) {
	obj, ok := Extract(text, KindDelegate)
	if !ok {
		return Delegation{}, false
	}

	agent, _ := obj["agent"].(string)
	if strings.TrimSpace(agent) == "" {
		log.Warn().Msg("Ignoring delegate directive without an agent name")
		return Delegation{}, false
	}

	var task string
	switch v := obj["task"].(type) {
	case string:
		task = v
	case nil:
	default:
		task = fmt.Sprint(v)
	}

	return Delegation{Agent: agent, Task: task}, true
}

// FormatInstructions describes both directive formats for the model.
func FormatInstructions(withTools, withPeers bool) string {
	var sb strings.Builder
	if withTools {
		sb.WriteString("To use a tool, respond with exactly one block in this format and nothing else:\n")
		sb.WriteString("```tool_call\n")
		sb.WriteString(`{"tool": "<tool name>", "arguments": {"<param>": "<value>"}}`)
		sb.WriteString("\n```\n")
		sb.WriteString("The tool result will be sent back to you.\n\n")
	}
	if withPeers {
		sb.WriteString("To delegate a task to another agent, respond with exactly one block in this format:\n")
		sb.WriteString("```delegate\n")
		sb.WriteString(`{"agent": "<agent name>", "task": "<what the agent should do>"}`)
		sb.WriteString("\n```\n")
		sb.WriteString("The agent's answer will be sent back to you.\n\n")
	}
	if withTools || withPeers {
		sb.WriteString("When you have the final answer, respond in plain text without any block.")
	}
	return sb.String()
}
