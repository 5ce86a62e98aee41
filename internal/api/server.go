// Package api exposes the operator surface: read-only monitoring of
// positions, attempts, and endpoint health, plus the inbound command
// channel. It never mutates positions directly; every write goes through
// the command queue and is consumed by the control loop.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solana-trading-bot/internal/database"
	"solana-trading-bot/internal/logging"
	"solana-trading-bot/internal/position"
	"solana-trading-bot/internal/rpc"
)

// AttemptReader is the slice of the audit repository the API reads.
type AttemptReader interface {
	AttemptsForMint(ctx context.Context, mint string) ([]*position.ExitAttempt, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server is the gin HTTP server.
type Server struct {
	router   *gin.Engine
	store    database.Store
	attempts AttemptReader
	rpcMgr   *rpc.Manager
	logger   *logging.Logger
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates the API server. attempts may be nil when the audit
// database is not configured; the attempts route then returns 503.
func NewServer(store database.Store, attempts AttemptReader, rpcMgr *rpc.Manager, registry *prometheus.Registry, logger *logging.Logger, cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:   router,
		store:    store,
		attempts: attempts,
		rpcMgr:   rpcMgr,
		logger:   logger.WithComponent("api"),
		cfg:      cfg,
	}

	router.GET("/health", s.handleHealth)
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/positions", s.handleListPositions)
		v1.GET("/positions/stats", s.handlePositionStats)
		v1.GET("/positions/:mint", s.handleGetPosition)
		v1.GET("/positions/:mint/attempts", s.handleListAttempts)
		v1.GET("/endpoints", s.handleListEndpoints)
		v1.POST("/commands", s.handlePostCommand)
	}

	return s
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("API server shutting down")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
