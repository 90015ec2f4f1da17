package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/xsbridge/internal/shared/id"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// StatusSource provides the snapshot served on /status
type StatusSource interface {
	Status() types.Status
}

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *logging.Logger
	metrics *monitoring.Metrics
	status  StatusSource
}

// Config contains server configuration
type Config struct {
	Addr         string
	Development  bool
	AllowOrigins []string
	// RequestsPerSecond caps the request rate; zero disables the cap.
	RequestsPerSecond float64
	Burst             int
}

// NewServer creates a new server instance
func NewServer(cfg Config, status StatusSource, metrics *monitoring.Metrics, logger *logging.Logger) *Server {
	logger = logger.Named("status")

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracing.New("status", logger, metrics)))
	router.Use(CORS(cfg.AllowOrigins))
	router.Use(GlobalRateLimit(cfg.RequestsPerSecond, cfg.Burst))

	s := &Server{
		router:  router,
		logger:  logger,
		metrics: metrics,
		status:  status,
	}

	// Register routes
	router.GET("/healthz", s.health)
	router.GET("/status", s.snapshot)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Starting status server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", zap.Error(err))
		}
	}()
	return ln.Addr(), nil
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Debug("Shutting down status server")
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) snapshot(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no debugger attached"})
		return
	}
	status := s.status.Status()
	// ?session= pins the request to one run
	if want := c.Query("session"); want != "" {
		if !id.IsValid(want) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed session id"})
			return
		}
		if want != status.SessionID {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
	}
	c.JSON(http.StatusOK, status)
}
