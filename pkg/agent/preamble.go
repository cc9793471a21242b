package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/meshagent/internal/tracing"
	"github.com/harun/meshagent/pkg/model"
	"github.com/harun/meshagent/pkg/peer"
	"github.com/harun/meshagent/pkg/protocol"
	"github.com/harun/meshagent/pkg/tools"
)

// buildPreamble assembles the system message: instructions, tools, peers,
// caller system text and the directive formats. Unreachable tool providers
// and peers are left out of the listing for this request.
func (e *Engine) buildPreamble(ctx context.Context, input []model.Message) []model.Message {
	logger := tracing.LoggerFromContext(ctx, e.logger)
	var sb strings.Builder

	if e.instructions != "" {
		sb.WriteString(e.instructions)
	} else {
		fmt.Fprintf(&sb, "You are %s.", e.name)
		if e.description != "" {
			fmt.Fprintf(&sb, " %s", e.description)
		}
	}
	sb.WriteString("\n\n")

	var available []tools.Tool
	for _, p := range e.tools {
		discovered, err := p.Discover(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("provider", p.Name()).Msg("Tool provider skipped")
			continue
		}
		available = append(available, discovered...)
	}
	if len(available) > 0 {
		sb.WriteString("Available tools:\n")
		sb.WriteString(tools.Describe(available))
		sb.WriteString("\n")
	}

	var reachable int
	var peers strings.Builder
	for _, name := range e.order {
		p := e.peers[name]
		if err := p.EnsureActive(ctx); err != nil {
			logger.Warn().Err(err).Str("peer", name).Msg("Peer agent skipped")
			continue
		}
		reachable++
		fmt.Fprintf(&peers, "- %s", name)
		if card := p.Card(); card != nil && card.Description != "" {
			fmt.Fprintf(&peers, ": %s", card.Description)
		}
		peers.WriteString("\n")
	}
	if reachable > 0 {
		sb.WriteString("Agents you can delegate to:\n")
		sb.WriteString(peers.String())
		sb.WriteString("\n")
	}

	for _, msg := range input {
		if msg.Role == model.RoleSystem && msg.Content != "" {
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString(protocol.FormatInstructions(len(available) > 0, reachable > 0))

	return []model.Message{{Role: model.RoleSystem, Content: strings.TrimSpace(sb.String())}}
}

// Card describes this agent from the tool lists already discovered and the
// configured peers. It never activates anything.
func (e *Engine) Card(baseURL string) peer.AgentCard {
	card := peer.AgentCard{
		Name:         e.name,
		Description:  e.description,
		URL:          strings.TrimRight(baseURL, "/"),
		Version:      e.version,
		Skills:       []peer.Skill{},
		Capabilities: []string{peer.CapabilityMessageProcessing, peer.CapabilityTaskExecution},
	}

	for _, p := range e.tools {
		for _, t := range p.Tools() {
			card.Skills = append(card.Skills, peer.Skill{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	if len(e.tools) > 0 {
		card.Capabilities = append(card.Capabilities, peer.CapabilityToolExecution)
	}
	if len(e.peers) > 0 {
		card.Capabilities = append(card.Capabilities, peer.CapabilityTaskDelegation)
	}
	return card
}
