package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/auth"
	"github.com/ekaya-inc/ekaya-query/pkg/database"
	"github.com/ekaya-inc/ekaya-query/pkg/handlers"
	"github.com/ekaya-inc/ekaya-query/pkg/mcp"
	mcpauth "github.com/ekaya-inc/ekaya-query/pkg/mcp/auth"
	"github.com/ekaya-inc/ekaya-query/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/middleware"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question API, the MCP endpoint and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		return err
	}
	if err := a.loadSnapshot(ctx); err != nil {
		return fmt.Errorf("load schema snapshot: %w", err)
	}
	if err := a.buildLLM(); err != nil {
		return err
	}
	if err := a.buildPipeline(); err != nil {
		return err
	}
	if a.refresher != nil {
		go a.refresher.Run(ctx)
	}

	handler, err := a.routes()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(a.cfg.BindAddr, a.cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Answers can take as long as the whole pipeline.
		WriteTimeout: a.cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting ekaya-query",
			zap.String("addr", addr),
			zap.String("version", a.cfg.Version),
			zap.String("env", a.cfg.Env))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.logger.Info("Shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// routes builds the HTTP surface: health, the answer API, metrics and MCP.
func (a *app) routes() (http.Handler, error) {
	cfg := a.cfg

	jwks, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		MarkerClaim:        cfg.Auth.MarkerClaim,
	})
	if err != nil {
		return nil, fmt.Errorf("create JWKS client: %w", err)
	}
	a.jwks = jwks
	authService := auth.NewAuthService(jwks, a.logger)
	authMiddleware := auth.NewMiddleware(authService, cfg.Auth.Required, a.logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, a.logger)

	mux := http.NewServeMux()

	checks := map[string]handlers.Pinger{"database": a.db}
	if a.redis != nil {
		checks["redis"] = database.RedisPinger{Client: a.redis}
	}
	handlers.NewHealthHandler(cfg, a.snapshots, checks, a.logger).RegisterRoutes(mux)

	// Rate limiting keys on the principal, so it runs inside authentication.
	protect := func(h http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.Authenticate(limiter.Middleware(h))
	}
	handlers.NewAnswerHandler(a.pipeline, a.logger).RegisterRoutes(mux, protect)

	mux.Handle("GET /metrics", metrics.Handler())

	toolAuditor := mcp.NewToolAuditor(a.logger)
	mcpServer := mcp.NewServer("ekaya-query", cfg.Version, a.logger, server.WithHooks(toolAuditor.Hooks()))
	tools.RegisterAnswerTool(mcpServer.MCP(), &tools.AnswerToolDeps{Pipeline: a.pipeline, Logger: a.logger})
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, a.snapshots)

	streamable := mcpServer.NewStreamableHTTPServer()
	mcpHandler := mcpauth.NewMiddleware(authService, a.logger).RequireAuth(cfg.Auth.Required)(
		limiter.Middleware(streamable.ServeHTTP))
	mux.Handle("/mcp", middleware.MCPRequestLogger(a.logger)(mcpHandler))

	return middleware.RequestLogger(a.logger)(mux), nil
}
