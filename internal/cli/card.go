package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/harun/meshagent/internal/config"
	"github.com/harun/meshagent/pkg/model"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cardDiscover bool

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Print the agent card this configuration advertises",
	Long: `Print the agent card as JSON without starting the gateway. With
--discover the configured tool servers and peers are contacted first so
their skills and capabilities appear in the card.`,
	RunE: runCard,
}

func init() {
	cardCmd.Flags().BoolVar(&cardDiscover, "discover", false, "contact tool servers and peers before printing")
	rootCmd.AddCommand(cardCmd)
}

func runCard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The card never talks to the model.
	cfg.Model.Provider = model.ProviderScripted
	cfg.Model.MockResponses = ""
	cfg.Telemetry.Enabled = false
	cfg.Memory.CleanupSchedule = ""

	a, err := buildApp(cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer a.engine.Close()

	if cardDiscover {
		a.discover(cmd.Context())
	}

	data, err := json.MarshalIndent(a.engine.Card(advertisedURL(cfg)), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// advertisedURL is server.base_url, or the listen address with wildcard
// hosts replaced by localhost.
func advertisedURL(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		return cfg.Server.BaseURL
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}
