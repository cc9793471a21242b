package peer

// Capabilities advertised in an AgentCard.
const (
	CapabilityMessageProcessing = "message_processing"
	CapabilityTaskExecution     = "task_execution"
	CapabilityToolExecution     = "tool_execution"
	CapabilityTaskDelegation    = "task_delegation"
)

// CardPath is where an agent serves its card, relative to its base URL.
const CardPath = "/.well-known/agent"

// ChatPath is the OpenAI-shaped completion endpoint peers are invoked through.
const ChatPath = "/v1/chat/completions"

// Skill is one capability entry of an AgentCard, usually a tool.
type Skill struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// AgentCard is the discovery document an agent publishes about itself.
type AgentCard struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	URL          string   `json:"url"`
	Version      string   `json:"version,omitempty"`
	Skills       []Skill  `json:"skills"`
	Capabilities []string `json:"capabilities"`
}

// HasCapability reports whether the card advertises name.
func (c *AgentCard) HasCapability(name string) bool {
	for _, v := range c.Capabilities {
		if v == name {
			return true
		}
	}
	return false
}

func (c *AgentCard) clone() *AgentCard {
	out := *c
	out.Skills = append([]Skill(nil), c.Skills...)
	out.Capabilities = append([]string(nil), c.Capabilities...)
	return &out
}
