package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/config"
	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
	"github.com/mcdatalink/datalink/internal/health"
	"github.com/mcdatalink/datalink/internal/network"
	"github.com/mcdatalink/datalink/internal/util"
)

// Link is the part of the supervisor the API exposes.
type Link interface {
	Status() connector.LinkStatus
	Reconnect() error
	RequestSendStats(ctx context.Context, id uuid.UUID) error
	RequestSendAllStats(ctx context.Context) error
}

// HealthReporter supplies the latest health check results.
type HealthReporter interface {
	Snapshot() health.Report
}

// Server is the local REST API of DataLink.
type Server struct {
	cfg      *config.Config
	version  string
	eventBus *events.EventBus
	link     Link
	registry *db.PlayersDatabase
	gatherer prometheus.Gatherer
	health   HealthReporter
	logger   zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. gatherer backs /metrics; nil uses the
// default registry.
func NewServer(cfg *config.Config, version string, eventBus *events.EventBus, link Link,
	registry *db.PlayersDatabase, gatherer prometheus.Gatherer) *Server {

	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		version:  version,
		eventBus: eventBus,
		link:     link,
		registry: registry,
		gatherer: gatherer,
		logger:   util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// SetHealth attaches the health reporter behind /api/health.
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	sec := s.cfg.GetApplicationData().Security
	addr := fmt.Sprintf(":%d", sec.APIPort)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if sec.TLSEnabled {
		tlsConfig, err := loadTLSConfig(sec)
		if err != nil {
			ln.Close()
			return err
		}
		s.httpServer.TLSConfig = tlsConfig
		ln = tls.NewListener(ln, tlsConfig)
	}

	s.logger.Info().
		Str("addr", addr).
		Bool("auth", sec.APIToken != "").
		Bool("tls", sec.TLSEnabled).
		Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// loadTLSConfig loads the API certificate, generating a self-signed one on
// first use.
func loadTLSConfig(sec config.SecurityConfig) (*tls.Config, error) {
	if !util.FileExists(sec.TLSCertFile) || !util.FileExists(sec.TLSKeyFile) {
		if err := util.GenerateSelfSignedCert(sec.TLSCertFile, sec.TLSKeyFile); err != nil {
			return nil, fmt.Errorf("failed to generate API certificate: %w", err)
		}
	}

	cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	sec := s.cfg.GetApplicationData().Security
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(sec.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
	}

	auth := RequireToken(sec.APIToken)

	router.GET("/metrics", auth, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	protected := router.Group("/api")
	protected.Use(auth)
	{
		protected.GET("/status", s.handleGetStatus)
		protected.GET("/system", s.handleGetSystem)
		protected.GET("/config", s.handleGetConfig)
		protected.GET("/health", s.handleGetHealth)

		protected.GET("/players", s.handleListPlayers)
		protected.POST("/players/:id/join", s.handlePlayerJoin)
		protected.POST("/players/:id/quit", s.handlePlayerQuit)
		protected.POST("/players/:id/stats", s.handleSendPlayerStats)
		protected.GET("/players/:id/messages", s.handleTakeMessages)

		protected.POST("/stats/sync", s.handleSyncStats)
		protected.POST("/link/reconnect", s.handleReconnect)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "DataLink API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// linkErrorStatus maps link errors to HTTP status codes.
func linkErrorStatus(err error) int {
	switch {
	case errors.Is(err, connector.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, connector.ErrBulkInProgress):
		return http.StatusConflict
	case errors.Is(err, connector.ErrNoStats):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
