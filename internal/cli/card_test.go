package cli

import (
	"encoding/json"
	"testing"

	"github.com/harun/meshagent/internal/config"
	"github.com/harun/meshagent/pkg/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardCommand(t *testing.T) {
	t.Run("prints the advertised card", func(t *testing.T) {
		path := writeConfig(t, `{
			"agent": {"name": "coordinator", "description": "Routes work", "builtin_tools": true},
			"peers": [{"name": "researcher", "card_url": "http://127.0.0.1:1"}],
			"server": {"base_url": "https://agents.example.com/coordinator/"}
		}`)

		output, err := execute(t, "card", "--config", path)
		require.NoError(t, err)

		var card peer.AgentCard
		require.NoError(t, json.Unmarshal([]byte(output), &card))
		assert.Equal(t, "coordinator", card.Name)
		assert.Equal(t, "Routes work", card.Description)
		assert.Equal(t, "https://agents.example.com/coordinator", card.URL)
		assert.Equal(t, GetVersion(), card.Version)
		assert.Len(t, card.Skills, 4)
		assert.Contains(t, card.Capabilities, peer.CapabilityToolExecution)
		assert.Contains(t, card.Capabilities, peer.CapabilityTaskDelegation)
	})

	t.Run("plain agent", func(t *testing.T) {
		path := writeConfig(t, `{"agent": {"name": "solo"}}`)

		output, err := execute(t, "card", "--config", path)
		require.NoError(t, err)

		var card peer.AgentCard
		require.NoError(t, json.Unmarshal([]byte(output), &card))
		assert.Equal(t, "http://localhost:8080", card.URL)
		assert.Empty(t, card.Skills)
		assert.Equal(t, []string{peer.CapabilityMessageProcessing, peer.CapabilityTaskExecution}, card.Capabilities)
	})
}

func TestAdvertisedURL(t *testing.T) {
	tests := []struct {
		name   string
		server config.ServerConfig
		want   string
	}{
		{"base url wins", config.ServerConfig{Host: "0.0.0.0", Port: 8080, BaseURL: "https://a.example.com"}, "https://a.example.com"},
		{"wildcard host", config.ServerConfig{Host: "0.0.0.0", Port: 9000}, "http://localhost:9000"},
		{"empty host", config.ServerConfig{Port: 9000}, "http://localhost:9000"},
		{"ipv6 wildcard", config.ServerConfig{Host: "::", Port: 9000}, "http://localhost:9000"},
		{"named host", config.ServerConfig{Host: "agent-a", Port: 8001}, "http://agent-a:8001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Server = tt.server
			assert.Equal(t, tt.want, advertisedURL(cfg))
		})
	}
}
