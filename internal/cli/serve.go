package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harun/meshagent/internal/config"
	"github.com/spf13/cobra"
)

const stopGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent and its HTTP gateway",
	Long: `Run the agent in the foreground. The gateway serves the chat
completions API, the websocket endpoint, the agent card and the session
inspection endpoints until SIGINT or SIGTERM. Log level changes in the
config file are applied without a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	gin.SetMode(gin.ReleaseMode)

	a, err := buildApp(cfg, log.Zerolog())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		return err
	}

	if logLevel == "" {
		if err := loader.Watch(func(next *config.Config, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring invalid config change")
				return
			}
			if next.Logging.Level == log.Level() {
				return
			}
			if err := log.SetLevel(next.Logging.Level); err != nil {
				log.Warn().Err(err).Msg("Failed to apply log level")
			}
		}); err != nil {
			log.Debug().Err(err).Msg("Config hot reload disabled")
		}
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+stopGrace)
	defer cancel()
	return a.stop(stopCtx)
}
