// Package webhook exposes the router over HTTP for stateless channels.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/775kkk/logic-signal-protector-sub000/internal/catalog"
	"github.com/775kkk/logic-signal-protector-sub000/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPort is used when StartOpts.Port is unset.
const DefaultPort = 8080

// Handler routes one envelope. *router.Router implements it.
type Handler interface {
	Route(ctx context.Context, env router.Envelope) (router.Response, error)
}

// CommandLister lists the commands advertised to anonymous callers.
type CommandLister interface {
	PublicCommands(ctx context.Context) []catalog.Definition
}

// EngineOpts holds parameters for building the HTTP handler.
type EngineOpts struct {
	Handler       Handler       // required
	Commands      CommandLister // nil: /api/v1/commands returns an empty list
	CorrelationID func() string // defaults to uuid.NewString
	Logger        *zap.Logger
}

// StartOpts holds configuration for the webhook server.
type StartOpts struct {
	EngineOpts
	Port int
	Out  io.Writer
}

// NewEngine builds the gin engine serving the webhook routes.
func NewEngine(opts EngineOpts) (*gin.Engine, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("webhook: handler is required")
	}
	if opts.CorrelationID == nil {
		opts.CorrelationID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(opts.Logger))
	registerRoutes(engine, opts)
	return engine, nil
}

// Start launches the webhook HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	engine, err := NewEngine(opts.EngineOpts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Webhook listening at http://localhost:%d/api/v1/envelopes\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// requestLogger logs one line per request at debug level.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("webhook request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
