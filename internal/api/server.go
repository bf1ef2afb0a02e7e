// Package api exposes the core over HTTP: sync control and polling,
// limiter observability, reorder suggestions and purchase-order drafts.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/restockd/restockd/internal/cache"
	"github.com/restockd/restockd/internal/extapi"
	"github.com/restockd/restockd/internal/ratelimit"
	"github.com/restockd/restockd/internal/reorder"
	"github.com/restockd/restockd/internal/syncer"
	"github.com/rs/zerolog"
)

type Server struct {
	log        zerolog.Logger
	manager    *syncer.Manager
	tracker    *syncer.Tracker
	limiter    *ratelimit.Limiter
	aggregator *reorder.Aggregator
	client     *extapi.Client
	cache      cache.Cache
	cacheTTL   time.Duration

	http *http.Server
}

type Deps struct {
	Manager    *syncer.Manager
	Tracker    *syncer.Tracker
	Limiter    *ratelimit.Limiter
	Aggregator *reorder.Aggregator
	Client     *extapi.Client
	Cache      cache.Cache
	CacheTTL   time.Duration
}

func NewServer(log zerolog.Logger, addr string, deps Deps) *Server {
	s := &Server{
		log:        log.With().Str("component", "api").Logger(),
		manager:    deps.Manager,
		tracker:    deps.Tracker,
		limiter:    deps.Limiter,
		aggregator: deps.Aggregator,
		client:     deps.Client,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = time.Minute
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), Logging(s.log))
	s.registerRoutes(router)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync/trigger", s.triggerSync)
		v1.GET("/sync/status", s.syncStatus)
		v1.POST("/sync/cleanup", s.cleanupStuck)
		v1.GET("/sync/limiter", s.limiterStats)

		v1.GET("/reorder/suggestions", s.reorderSuggestions)
		v1.POST("/purchase-orders", s.createPurchaseOrder)
	}
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
