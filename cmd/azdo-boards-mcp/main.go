// Command azdo-boards-mcp serves Azure DevOps Boards tools over MCP, on
// stdio by default or over streamable HTTP with --server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggoodman/azdo-boards-mcp/auth"
	"github.com/ggoodman/azdo-boards-mcp/internal/azdo"
	"github.com/ggoodman/azdo-boards-mcp/internal/boards"
	"github.com/ggoodman/azdo-boards-mcp/internal/config"
	"github.com/ggoodman/azdo-boards-mcp/internal/logctx"
	"github.com/ggoodman/azdo-boards-mcp/mcp"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
	"github.com/ggoodman/azdo-boards-mcp/sessions"
	"github.com/ggoodman/azdo-boards-mcp/sessions/memoryhost"
	"github.com/ggoodman/azdo-boards-mcp/sessions/redishost"
	"github.com/ggoodman/azdo-boards-mcp/stdio"
	"github.com/ggoodman/azdo-boards-mcp/streaminghttp"
)

// Version is set at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

type flags struct {
	server       bool
	port         int
	organization string
	project      string
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "azdo-boards-mcp",
		Short:         "MCP server for Azure DevOps Boards and Work Items",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, &f)
			if err := cfg.Validate(); err != nil {
				return err
			}
			level, _ := config.ParseLevel(cfg.LogLevel)
			log := slog.New(logctx.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, log, cfg, f.server); err != nil {
				log.ErrorContext(ctx, "azdo_boards_mcp.exit", slog.String("err", err.Error()))
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.server, "server", false, "serve streamable HTTP instead of stdio")
	cmd.Flags().IntVar(&f.port, "port", 3000, "HTTP port used with --server (env MCP_PORT)")
	cmd.Flags().StringVar(&f.organization, "organization", "", "default organization (env AZDO_ORGANIZATION)")
	cmd.Flags().StringVar(&f.project, "project", "", "default project (env AZDO_PROJECT)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error (env LOG_LEVEL)")
	return cmd
}

// applyFlags copies explicitly set flags over the environment configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f *flags) {
	set := cmd.Flags().Changed
	if set("port") {
		cfg.Port = f.port
	}
	if set("organization") {
		cfg.Organization = f.organization
	}
	if set("project") {
		cfg.Project = f.project
	}
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}
}

func newServer(log *slog.Logger, cfg *config.Config) (mcpservice.ServerCapabilities, error) {
	tokens, err := azdo.NewCLITokenSource()
	if err != nil {
		return nil, err
	}
	client := azdo.New(tokens,
		azdo.WithBaseURL(cfg.BaseURL),
		azdo.WithVSSPSURL(cfg.VSSPSURL),
		azdo.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		azdo.WithMaxRetries(cfg.MaxRetries),
		azdo.WithLogger(log),
	)
	tools := boards.New(client,
		boards.WithDefaults(cfg.Organization, cfg.Project),
		boards.WithLogger(log),
	)
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "azdo-boards-mcp", Version: Version}),
		mcpservice.WithInstructions(boards.Instructions),
		mcpservice.WithToolsCapability(tools.Container()),
	), nil
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Config, serveHTTP bool) error {
	srv, err := newServer(log, cfg)
	if err != nil {
		return err
	}
	if !serveHTTP {
		log.InfoContext(ctx, "azdo_boards_mcp.start", slog.String("transport", "stdio"))
		err := stdio.NewHandler(srv, stdio.WithLogger(log)).Serve(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return serveStreamingHTTP(ctx, log, cfg, srv)
}

func openSessions(ctx context.Context, cfg *config.Config) (sessions.Store, func(), error) {
	if cfg.Sessions == "redis" {
		h, err := redishost.NewFromEnv(ctx)
		if err != nil {
			return nil, nil, err
		}
		return h, func() { _ = h.Close() }, nil
	}
	return memoryhost.New(), func() {}, nil
}

func serveStreamingHTTP(ctx context.Context, log *slog.Logger, cfg *config.Config, srv mcpservice.ServerCapabilities) error {
	store, closeStore, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port))
	opts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithSessionTTL(cfg.SessionTTL),
	}
	if cfg.AuthIssuer != "" {
		authn, err := auth.NewJWT(ctx, auth.JWTConfig{
			Issuer:    cfg.AuthIssuer,
			Audiences: []string{cfg.AuthAudience},
			JWKSURL:   cfg.AuthJWKSURL,
		})
		if err != nil {
			return fmt.Errorf("configure auth: %w", err)
		}
		resource := cfg.PublicURL
		if resource == "" {
			resource = fmt.Sprintf("http://localhost:%d/mcp", cfg.Port)
		}
		opts = append(opts,
			streaminghttp.WithAuthenticator(authn),
			streaminghttp.WithProtectedResource(resource, cfg.AuthIssuer),
		)
	}

	hs := &http.Server{
		Addr:              addr,
		Handler:           streaminghttp.New(store, srv, opts...),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "azdo_boards_mcp.start",
			slog.String("transport", "streamable-http"),
			slog.String("addr", addr),
			slog.String("sessions", cfg.Sessions),
		)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.InfoContext(ctx, "azdo_boards_mcp.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
