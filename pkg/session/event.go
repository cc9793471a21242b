package session

import (
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// EventType is the closed set of journal entry kinds.
type EventType string

const (
	EventUserMessage            EventType = "user_message"
	EventAgentResponse          EventType = "agent_response"
	EventToolCall               EventType = "tool_call"
	EventToolResult             EventType = "tool_result"
	EventDelegationRequest      EventType = "delegation_request"
	EventDelegationResponse     EventType = "delegation_response"
	EventDelegationError        EventType = "delegation_error"
	EventTaskDelegationReceived EventType = "task_delegation_received"
	EventError                  EventType = "error"
)

// Payload is the typed content of an event. Each event type has exactly one
// payload type, and the event's Type is always taken from its payload.
type Payload interface {
	EventType() EventType
}

// UserMessage is text received from the caller.
type UserMessage struct {
	Text string `json:"text"`
}

// AgentResponse is the final text returned to the caller.
type AgentResponse struct {
	Text string `json:"text"`
}

// TaskDelegationReceived is a task handed to this agent by a peer.
type TaskDelegationReceived struct {
	Text string `json:"text"`
}

// ToolCall records a tool invocation requested by the model.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult records the outcome of a tool invocation. Error is set when the
// call failed and Result holds nothing useful.
type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DelegationRequest records a task sent to a peer agent.
type DelegationRequest struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// DelegationResponse records a peer agent's answer.
type DelegationResponse struct {
	Agent    string `json:"agent"`
	Response string `json:"response"`
}

// DelegationError records a failed delegation.
type DelegationError struct {
	Agent string `json:"agent"`
	Error string `json:"error"`
}

// ErrorReport records an unexpected failure in the reasoning loop.
type ErrorReport struct {
	Message string `json:"message"`
}

func (UserMessage) EventType() EventType            { return EventUserMessage }
func (AgentResponse) EventType() EventType          { return EventAgentResponse }
func (TaskDelegationReceived) EventType() EventType { return EventTaskDelegationReceived }
func (ToolCall) EventType() EventType               { return EventToolCall }
func (ToolResult) EventType() EventType             { return EventToolResult }
func (DelegationRequest) EventType() EventType      { return EventDelegationRequest }
func (DelegationResponse) EventType() EventType     { return EventDelegationResponse }
func (DelegationError) EventType() EventType        { return EventDelegationError }
func (ErrorReport) EventType() EventType            { return EventError }

// Event is one immutable journal entry.
type Event struct {
	ID        string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Content   Payload        `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds an event around payload with a fresh ID and timestamp.
func NewEvent(payload Payload, metadata map[string]any) Event {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Event{
		ID:        newEventID(),
		Timestamp: time.Now().UTC(),
		Type:      payload.EventType(),
		Content:   payload,
		Metadata:  metadata,
	}
}

// Text returns the conversational text carried by the event, if any.
func (e Event) Text() string {
	switch p := e.Content.(type) {
	case UserMessage:
		return p.Text
	case AgentResponse:
		return p.Text
	case TaskDelegationReceived:
		return p.Text
	case ErrorReport:
		return p.Message
	case DelegationResponse:
		return p.Response
	case DelegationError:
		return p.Error
	default:
		return ""
	}
}

// UnmarshalJSON decodes an event, choosing the payload type from event_type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"event_id"`
		Timestamp time.Time       `json:"timestamp"`
		Type      EventType       `json:"event_type"`
		Content   json.RawMessage `json:"content"`
		Metadata  map[string]any  `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := decodePayload(raw.Type, raw.Content)
	if err != nil {
		return err
	}

	*e = Event{
		ID:        raw.ID,
		Timestamp: raw.Timestamp,
		Type:      raw.Type,
		Content:   payload,
		Metadata:  raw.Metadata,
	}
	return nil
}

func decodePayload(t EventType, data json.RawMessage) (Payload, error) {
	switch t {
	case EventUserMessage:
		var v UserMessage
		err := json.Unmarshal(data, &v)
		return v, err
	case EventAgentResponse:
		var v AgentResponse
		err := json.Unmarshal(data, &v)
		return v, err
	case EventTaskDelegationReceived:
		var v TaskDelegationReceived
		err := json.Unmarshal(data, &v)
		return v, err
	case EventToolCall:
		var v ToolCall
		err := json.Unmarshal(data, &v)
		return v, err
	case EventToolResult:
		var v ToolResult
		err := json.Unmarshal(data, &v)
		return v, err
	case EventDelegationRequest:
		var v DelegationRequest
		err := json.Unmarshal(data, &v)
		return v, err
	case EventDelegationResponse:
		var v DelegationResponse
		err := json.Unmarshal(data, &v)
		return v, err
	case EventDelegationError:
		var v DelegationError
		err := json.Unmarshal(data, &v)
		return v, err
	case EventError:
		var v ErrorReport
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

func newEventID() string {
	id, err := gonanoid.Generate("0123456789abcdef", 12)
	if err != nil {
		id = fmt.Sprintf("%012x", time.Now().UnixNano())
	}
	return "event_" + id
}
