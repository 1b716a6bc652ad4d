package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/search"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver/handlers"
	v1 "github.com/nbrain-team/vid/internal/interfaces/httpserver/routes/v1"
)

// HealthChecker reports readiness of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HttpServer wraps the gin engine with graceful shutdown helpers.
type HttpServer struct {
	cfg    *config.Config
	engine *gin.Engine
	log    zerolog.Logger
	checks map[string]HealthChecker
}

// New constructs the HTTP server with default middleware and routes.
func New(
	cfg *config.Config,
	log zerolog.Logger,
	ingestor *media.Ingestor,
	mediaService *media.Service,
	searchService *search.Service,
	checks map[string]HealthChecker,
) *HttpServer {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), gin.Logger())
	engine.MaxMultipartMemory = 16 << 20

	handlerProvider := handlers.NewProvider(cfg, ingestor, mediaService, searchService, log)
	routeProvider := v1.NewRoutes(handlerProvider)

	s := &HttpServer{
		cfg:    cfg,
		engine: engine,
		log:    log,
		checks: checks,
	}
	s.registerCoreRoutes(routeProvider)
	return s
}

// Run starts the HTTP listener and handles graceful shutdown via context cancellation.
func (s *HttpServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Engine exposes the router for tests.
func (s *HttpServer) Engine() *gin.Engine {
	return s.engine
}

func (s *HttpServer) registerCoreRoutes(routes *v1.Routes) {
	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": s.cfg.ServiceName, "status": "ok"})
	})
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	s.engine.GET("/readyz", s.readyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.Register(s.engine.Group("/"))
}

// readyz probes every registered dependency. Any failure returns 503 with the
// failing component named.
func (s *HttpServer) readyz(c *gin.Context) {
	statuses := gin.H{}
	healthy := true
	for name, check := range s.checks {
		if err := check.Health(c.Request.Context()); err != nil {
			s.log.Warn().Err(err).Str("dependency", name).Msg("readiness probe failed")
			statuses[name] = err.Error()
			healthy = false
			continue
		}
		statuses[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "dependencies": statuses})
}
