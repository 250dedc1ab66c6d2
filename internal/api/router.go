package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/retroboard/internal/boardservice"
	"github.com/starford/retroboard/internal/identity"
)

type routerConfig struct {
	keepalive    time.Duration
	accessLog    bool
	logOutput    io.Writer
	readyTimeout time.Duration
}

func defaultRouterConfig() routerConfig {
	return routerConfig{keepalive: 25 * time.Second, accessLog: true, readyTimeout: 2 * time.Second}
}

// RouterOption configures NewServer and NewHandler.
type RouterOption func(*routerConfig)

// WithKeepalive sets the interval between event-stream keepalive comments.
func WithKeepalive(d time.Duration) RouterOption {
	return func(c *routerConfig) {
		if d > 0 {
			c.keepalive = d
		}
	}
}

// WithoutAccessLog disables chi's request logger.
func WithoutAccessLog() RouterOption {
	return func(c *routerConfig) { c.accessLog = false }
}

// WithAccessLogOutput sends the request log to w instead of stdout.
func WithAccessLogOutput(w io.Writer) RouterOption {
	return func(c *routerConfig) {
		c.accessLog = true
		c.logOutput = w
	}
}

// NewRouter creates a chi router with the board routes. Every route requires
// a principal resolved by auth.
func NewRouter(h *Handler, auth identity.Authenticator) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth))

	r.Post("/boards", h.CreateBoard)
	r.Get("/boards", h.ListBoards)

	r.Route("/boards/{code}", func(r chi.Router) {
		r.Get("/", h.GetBoard)
		r.Delete("/", h.DeleteBoard)
		r.Get("/events", h.BoardEvents)
		r.Put("/visibility", h.SetVisibility)

		r.Post("/lanes", h.AddLane)
		r.Patch("/lanes/{laneID}", h.RenameLane)
		r.Delete("/lanes/{laneID}", h.DeleteLane)

		r.Post("/cards", h.AddCard)
		r.Patch("/cards/{cardID}", h.UpdateCard)
	})

	return r
}

// NewServer builds the full HTTP handler: common middleware, unauthenticated
// health checks and the API mounted under /api.
func NewServer(svc *boardservice.Service, auth identity.Authenticator, logger *slog.Logger, opts ...RouterOption) http.Handler {
	h := NewHandler(svc, logger, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if h.cfg.accessLog {
		r.Use(accessLog(h.cfg.logOutput))
	}
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.readyTimeout)
		defer cancel()
		if err := svc.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/api", NewRouter(h, auth))
	return r
}
