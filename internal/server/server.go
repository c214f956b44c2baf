package server

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/calder-ai/relay/internal/config"
	"github.com/calder-ai/relay/internal/core/services"
	"github.com/calder-ai/relay/internal/server/validator"
	"github.com/calder-ai/relay/internal/store"
	"github.com/calder-ai/relay/internal/tracker"
)

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	service *services.FailoverService
	usage   *tracker.Tracker
	repo    store.Repository
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithRepository exposes durable usage aggregates on the usage surface.
func WithRepository(repo store.Repository) Option {
	return func(s *Server) { s.repo = repo }
}

func New(cfg *config.Config, logger *zap.Logger, service *services.FailoverService, usage *tracker.Tracker, opts ...Option) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator.Init()

	engine := gin.New()
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(otelgin.Middleware("relay"))

	s := &Server{
		router:  engine,
		config:  cfg,
		logger:  logger,
		service: service,
		usage:   usage,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
