// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/retroboard/internal/api"
	"github.com/starford/retroboard/internal/boardservice"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/docstore/memstore"
	"github.com/starford/retroboard/internal/docstore/redisstore"
	"github.com/starford/retroboard/internal/docstore/sqlstore"
	"github.com/starford/retroboard/internal/identity"
	"github.com/starford/retroboard/internal/mcpserver"
	"github.com/starford/retroboard/internal/printer"
)

var errConfigRequired = errors.New("config is required")

// Run starts the HTTP server with the given options and blocks until ctx is
// cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stdout)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.setupLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	auth := app.auth
	if auth == nil {
		if auth, err = newAuthenticator(cfg.Auth); err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
	}

	svc, err := app.openService(ctx, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           api.NewServer(svc, auth, logger, api.WithKeepalive(cfg.App.HTTP.Keepalive)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Event streams stay open until their clients leave; Shutdown gives
		// up on them after the timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			_ = httpServer.Close()
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout acting as email. Logs go to
// stderr so they do not corrupt the protocol stream.
func RunMCP(ctx context.Context, email string, opts ...Option) error {
	app, err := newApplication(opts, os.Stderr)
	if err != nil {
		return err
	}
	logger := app.setupLogger()

	svc, err := app.openService(ctx, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Info("MCP server starting", slog.String("principal", email), slog.String("store_driver", app.config.Store.Driver))
	return mcpserver.New(svc, identity.Static(email)).ServeStdio()
}

// ListBoards prints the boards of email.
func ListBoards(ctx context.Context, email string, opts ...Option) error {
	app, err := newApplication(opts, os.Stderr)
	if err != nil {
		return err
	}
	logger := app.setupLogger()

	svc, err := app.openService(ctx, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	list, err := svc.ListBoards(identity.WithPrincipal(ctx, email))
	if err != nil {
		return fmt.Errorf("list boards: %w", err)
	}
	return printer.Boards(app.out, list)
}

// setupLogger installs a structured JSON logger as the default.
func (a *application) setupLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func (a *application) openService(ctx context.Context, logger *slog.Logger) (*boardservice.Service, error) {
	store := a.store
	if store == nil {
		var err error
		if store, err = openStore(ctx, a.config.Store, logger); err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}
	return boardservice.New(store, logger), nil
}

func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (docstore.Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		logger.Warn("memory store selected, boards are lost on exit")
		return memstore.New(), nil
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return sqlstore.OpenSQLite(cfg.SQLite.Path,
			sqlstore.WithLogger(logger),
			sqlstore.WithFileWatch(cfg.SQLite.Watch),
			sqlstore.WithPollInterval(cfg.SQLite.PollInterval))
	case DriverPostgres:
		return sqlstore.OpenPostgres(cfg.Postgres.URL,
			sqlstore.WithLogger(logger),
			sqlstore.WithPollInterval(cfg.Postgres.PollInterval))
	case DriverRedis:
		return redisstore.Open(ctx, cfg.Redis.URL, cfg.Redis.Namespace, logger,
			redisstore.WithIndexes(indexedFields...))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// indexedFields are the fields the services filter on.
var indexedFields = []string{"boardId", "laneId", "authorEmail", "code", "creatorEmail"}

func newAuthenticator(cfg AuthConfig) (identity.Authenticator, error) {
	switch cfg.Mode {
	case AuthModeHeader, "":
		return identity.HeaderAuthenticator{Header: cfg.Header}, nil
	case AuthModeJWT:
		return &identity.TokenAuthenticator{
			Secret:     []byte(cfg.Secret),
			Audience:   cfg.Audience,
			Issuer:     cfg.Issuer,
			EmailClaim: cfg.EmailClaim,
		}, nil
	case AuthModeJWKS:
		return identity.NewJWKSAuthenticator(cfg.JWKSURL, cfg.Audience, cfg.Issuer, cfg.EmailClaim)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
