package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/redisplay/server/internal/config"
	"github.com/redisplay/server/internal/domain"
	apperrors "github.com/redisplay/server/internal/errors"
)

// messageRateLimit caps broadcast message requests per second per client IP.
const messageRateLimit = 20

// appService is the application surface the HTTP layer depends on.
type appService interface {
	CreateView(ctx context.Context, v *domain.View) (*domain.View, error)
	UpdateView(ctx context.Context, v *domain.View) (*domain.View, error)
	GetView(ctx context.Context, id string) (*domain.View, error)
	ListViews(ctx context.Context) ([]domain.View, error)
	DeleteView(ctx context.Context, id string) error

	SaveChannel(ctx context.Context, name string, cfg *domain.ChannelConfig) error
	GetChannel(ctx context.Context, name string) (*domain.ChannelConfig, error)
	ListChannels(ctx context.Context) (map[string]domain.ChannelConfig, error)
	DeleteChannel(ctx context.Context, name string) error

	AttachSink(ctx context.Context, channel, origin string, sink domain.Sink) error
	CurrentView(ctx context.Context, channel string) (*domain.View, error)
	ActivateView(ctx context.Context, channel, viewID string) error
	NextView(ctx context.Context, channel string) error
	PreviousView(ctx context.Context, channel string) error
	SendMessage(ctx context.Context, channel string, message []byte) error
	Tap(ctx context.Context, channel, zone string) error

	GalleryImages(ctx context.Context, gallery string) ([]string, error)
	AddGalleryImages(ctx context.Context, gallery string, urls ...string) error
	RemoveGalleryImage(ctx context.Context, gallery, url string) error
	UpdateSource(ctx context.Context, kind, source string, blob map[string]any) error
	GetSource(ctx context.Context, kind, source string) (map[string]any, error)
}

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app   appService
	clock clockwork.Clock

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, app appService, clock clockwork.Clock, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			slog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          app,
		clock:        clock,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.echo.GET("/ws/:channel", s.handleSubscribe)

	s.echo.GET("/api/views", s.handleListViews)
	s.echo.POST("/api/views", s.handleCreateView)
	s.echo.GET("/api/views/:id", s.handleGetView)
	s.echo.PUT("/api/views/:id", s.handleUpdateView)
	s.echo.DELETE("/api/views/:id", s.handleDeleteView)

	s.echo.GET("/api/channels", s.handleListChannels)
	s.echo.GET("/api/channels/:channel", s.handleGetChannel)
	s.echo.PUT("/api/channels/:channel", s.handleSaveChannel)
	s.echo.DELETE("/api/channels/:channel", s.handleDeleteChannel)

	s.echo.GET("/api/channels/:channel/current", s.handleCurrentView)
	s.echo.POST("/api/channels/:channel/current", s.handleActivateView)
	s.echo.POST("/api/channels/:channel/next", s.handleNextView)
	s.echo.POST("/api/channels/:channel/previous", s.handlePreviousView)
	// Message relays are cheap to request and fan out to every sink on the
	// channel, so the route carries its own rate limit.
	messageLimiter := echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStore(rate.Limit(messageRateLimit)),
	})
	s.echo.POST("/api/channels/:channel/message", s.handleSendMessage, messageLimiter)
	s.echo.POST("/api/channels/:channel/tap", s.handleTap)

	s.echo.GET("/api/galleries/:gallery/images", s.handleGalleryImages)
	s.echo.POST("/api/galleries/:gallery/images", s.handleAddGalleryImages)
	s.echo.DELETE("/api/galleries/:gallery/images", s.handleRemoveGalleryImage)

	s.echo.GET("/api/sources/:kind/:source", s.handleGetSource)
	s.echo.PUT("/api/sources/:kind/:source", s.handleUpdateSource)

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
