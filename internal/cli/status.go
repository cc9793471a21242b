package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/meshagent/pkg/gateway"
	"github.com/harun/meshagent/pkg/peer"
	"github.com/harun/meshagent/pkg/session"
	"github.com/spf13/cobra"
)

var (
	statusURL     string
	statusSecret  string
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running agent",
	Long: `Probe a running agent's gateway and print its health, its card and,
when a shared secret is given, its session statistics.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://127.0.0.1:8080", "gateway base URL")
	statusCmd.Flags().StringVar(&statusSecret, "secret", "", "shared secret for the session endpoints")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "request timeout")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	base := strings.TrimRight(statusURL, "/")
	out := cmd.OutOrStdout()

	var health struct {
		Status string `json:"status"`
		Name   string `json:"name"`
	}
	start := time.Now()
	if err := getJSON(ctx, base+"/health", "", &health); err != nil {
		fmt.Fprintln(out, "Status: unreachable")
		return err
	}
	fmt.Fprintf(out, "Status: %s\n", health.Status)
	fmt.Fprintf(out, "Agent: %s\n", health.Name)
	fmt.Fprintf(out, "Latency: %s\n", time.Since(start).Round(time.Millisecond))

	var card peer.AgentCard
	if err := getJSON(ctx, base+peer.CardPath, "", &card); err == nil {
		fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(card.Capabilities, ", "))
		fmt.Fprintf(out, "Skills: %d\n", len(card.Skills))
	}

	if statusSecret == "" {
		return nil
	}

	var stats session.Stats
	if err := getJSON(ctx, base+"/memory/stats", statusSecret, &stats); err != nil {
		return err
	}
	fmt.Fprintf(out, "Sessions: %d/%d\n", stats.TotalSessions, stats.MaxSessions)
	fmt.Fprintf(out, "Events: %d (avg %.1f per session)\n", stats.TotalEvents, stats.AvgEventsPerSession)

	return nil
}

func getJSON(ctx context.Context, url, secret string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if secret != "" {
		req.Header.Set(gateway.SecretHeader, secret)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
