package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harun/meshagent/pkg/coretools"
	"github.com/harun/meshagent/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	toolsHost string
	toolsPort int
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect or serve the built-in tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in tools",
	RunE:  runToolsList,
}

var toolsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the built-in tools as an MCP server",
	Long: `Serve the built-in tools over MCP streamable HTTP at /mcp so that
agents can list them under tools[] in their configuration.`,
	RunE: runToolsServe,
}

func init() {
	toolsServeCmd.Flags().StringVar(&toolsHost, "host", "0.0.0.0", "listen host")
	toolsServeCmd.Flags().IntVar(&toolsPort, "port", 8002, "listen port")
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsServeCmd)
	rootCmd.AddCommand(toolsCmd)
}

func builtinRegistry(log zerolog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry("builtin", 0, log)
	if err := coretools.Register(reg, coretools.Options{}); err != nil {
		return nil, err
	}
	return reg, nil
}

func runToolsList(cmd *cobra.Command, args []string) error {
	reg, err := builtinRegistry(zerolog.Nop())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), tools.Describe(reg.Tools()))
	return nil
}

// newToolsRouter mounts the MCP endpoint next to health probes.
func newToolsRouter(srv *tools.MCPServer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "tools": srv.ToolNames()})
	})
	r.Any(tools.MCPPath, gin.WrapH(srv.Handler()))
	return r
}

func runToolsServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	reg, err := builtinRegistry(log.Component("tools"))
	if err != nil {
		return err
	}
	srv, err := tools.NewMCPServer(reg, version, log.Component("mcp"))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	addr := net.JoinHostPort(toolsHost, strconv.Itoa(toolsPort))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           newToolsRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("path", tools.MCPPath).Msg("Serving built-in tools")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("tool server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return httpServer.Shutdown(shutdownCtx)
}
