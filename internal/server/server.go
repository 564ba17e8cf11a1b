// Package server exposes the ledger over HTTP for manual entry and reporting.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ArionMiles/masrouf/pkg/ledger"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	// maxImportBytes caps the size of an import request body.
	maxImportBytes = 10 << 20
)

// StatusFunc reports the chat poller's state for the health endpoint.
type StatusFunc func() string

// Server serves the JSON API.
type Server struct {
	ledger *ledger.Ledger
	status StatusFunc
	logger *slog.Logger
	engine *gin.Engine
}

// Option customizes the router built by New.
type Option func(*gin.Engine)

// WithCORS allows browser clients served from origins to call the API.
func WithCORS(origins []string) Option {
	return func(e *gin.Engine) {
		if len(origins) == 0 {
			return
		}
		e.Use(cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type"},
			ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
			MaxAge:        12 * time.Hour,
		}))
	}
}

// New builds the router. status may be nil when no chat transport runs.
func New(l *ledger.Ledger, status StatusFunc, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if status == nil {
		status = func() string { return "disabled" }
	}

	engine := gin.New()
	engine.Use(requestLogger(logger), gin.Recovery())
	for _, opt := range opts {
		opt(engine)
	}

	s := &Server{ledger: l, status: status, logger: logger, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)

	api := s.engine.Group("/api")
	api.POST("/expenses", s.createExpense)
	api.POST("/expenses/text", s.ingestText)
	api.GET("/expenses", s.listExpenses)
	api.GET("/expenses/recent", s.recentExpenses)
	api.GET("/expenses/:id", s.getExpense)
	api.PATCH("/expenses/:id", s.updateExpense)
	api.DELETE("/expenses/:id", s.deleteExpense)

	api.GET("/summary", s.summary)

	api.GET("/categories", s.listCategories)
	api.POST("/categories", s.addCategory)
	api.DELETE("/categories/:name", s.removeCategory)

	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.updateSettings)

	api.GET("/export", s.export)
	api.POST("/import", s.importSnapshot)
	api.POST("/reset", s.reset)
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
