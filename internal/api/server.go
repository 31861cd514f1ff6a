// Package api serves the HTTP interface of the service.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/auth"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/ingest"
	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/ratelimit"
	"github.com/nhle/tempmail/internal/realtime"
	"github.com/nhle/tempmail/internal/source"
	isync "github.com/nhle/tempmail/internal/sync"
)

// Sources exposes the poller to the admin routes.
type Sources interface {
	Statuses() []isync.SyncStatus
	Trigger(name string) bool
}

// Injector ingests raw messages submitted through the admin API.
type Injector interface {
	Ingest(ctx context.Context, msg source.RawMessage) (*ingest.Result, error)
}

// Config wires a Server.
type Config struct {
	Inbox       *inbox.Service
	Tokens      *auth.Issuer
	Hub         *realtime.Hub
	Sources     Sources
	Injector    Injector
	Limiter     ratelimit.Limiter
	AdminToken  string
	CORSOrigins []string
	Heartbeat   time.Duration
	Debug       bool
	Logger      *zap.Logger
}

// Server is the HTTP API.
type Server struct {
	gin       *gin.Engine
	inbox     *inbox.Service
	tokens    *auth.Issuer
	hub       *realtime.Hub
	sources   Sources
	injector  Injector
	heartbeat time.Duration
	logger    *zap.Logger
	http      *http.Server

	// stopping is closed by Shutdown so event streams return.
	stopping chan struct{}
	stopOnce sync.Once
}

// NewServer builds the gin engine and registers every route.
func NewServer(cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	engine := gin.New()
	engine.Use(
		ginzap.GinzapWithConfig(log, &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			SkipPaths:  []string{"/healthz", "/metrics"},
		}),
		ginzap.RecoveryWithZap(log, true),
	)

	if len(cfg.CORSOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Authorization", "Content-Type"},
			ExposeHeaders: []string{"Retry-After"},
			MaxAge:        12 * time.Hour,
		}))
	}

	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}

	s := &Server{
		gin:       engine,
		inbox:     cfg.Inbox,
		tokens:    cfg.Tokens,
		hub:       cfg.Hub,
		sources:   cfg.Sources,
		injector:  cfg.Injector,
		heartbeat: heartbeat,
		logger:    log,
		stopping:  make(chan struct{}),
	}
	s.http = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	r := engine.Group("/api")
	r.GET("/domains", s.getDomains)
	r.GET("/server-key", s.getServerKey)

	create := []gin.HandlerFunc{s.createAddress}
	if cfg.Limiter != nil {
		create = append([]gin.HandlerFunc{ratelimit.Middleware(cfg.Limiter, log)}, create...)
	}
	r.POST("/addresses", create...)

	a := r.Group("/addresses/:id", s.tokens.Middleware("id"))
	a.GET("", s.getAddress)
	a.POST("/extend", s.extendAddress)
	a.DELETE("", s.deleteAddress)
	a.GET("/notifications", s.getNotifications)
	a.GET("/messages", s.listMessages)
	a.GET("/messages/:mid", s.getMessage)
	a.GET("/messages/:mid/raw", s.getRawMessage)
	a.PATCH("/messages/:mid", s.patchMessage)
	a.DELETE("/messages/:mid", s.deleteMessage)
	a.GET("/events", s.streamEvents)

	admin := r.Group("/admin", auth.AdminMiddleware(cfg.AdminToken))
	admin.GET("/sources", s.getSources)
	admin.POST("/sources/:name/sync", s.syncSource)
	admin.POST("/messages", s.injectMessage)

	return s
}

// Handler returns the engine for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("http api listening", zap.String("addr", l.Addr().String()))
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open event streams, then drains in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })
	return s.http.Shutdown(ctx)
}
