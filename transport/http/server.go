package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/slighter12/rojo-bridge-go/bridge"
	"github.com/slighter12/rojo-bridge-go/config"
	"github.com/slighter12/rojo-bridge-go/logger"
	"github.com/slighter12/rojo-bridge-go/reflection"
	"github.com/slighter12/rojo-bridge-go/session"
	"github.com/slighter12/rojo-bridge-go/tree"
)

// Version is reported by GET /.
var Version = "0.1.0"

const writeTimeout = 10 * time.Second

type Server struct {
	config    *config.Config
	registry  *session.Registry
	classes   *reflection.Holder
	tree      *tree.Tree
	hub       *bridge.Hub
	selection *bridge.Selection
	echo      *echo.Echo
	detach    func()
}

// NewServer wires the API over registry. Registry events are republished on
// the server's hub until Shutdown.
func NewServer(cfg *config.Config, registry *session.Registry, classes *reflection.Holder) *Server {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if classes == nil {
		classes = reflection.NewHolder(nil)
	}
	hub := bridge.NewHub()
	sel := bridge.NewSelection(hub)
	s := &Server{
		config:    cfg,
		registry:  registry,
		classes:   classes,
		tree:      tree.New(classes),
		hub:       hub,
		selection: sel,
		echo:      echo.New(),
	}
	s.detach = bridge.Attach(registry, hub, sel)
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = s.config.Bridge.Debug
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Warn("HTTP request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
				return nil
			}
			logger.Debug("HTTP request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "Last-Event-ID"},
	}))
	RegisterRoutes(s.echo, s)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Hub() *bridge.Hub { return s.hub }

func (s *Server) Selection() *bridge.Selection { return s.selection }

func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Bridge.Host, strconv.Itoa(s.config.Bridge.Port))
}

// Start runs the liveness sweep and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	s.registry.Start(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Bridge server shutdown failed", "error", err)
		}
	}()

	addr := s.Address()
	logger.Info("Bridge server starting to listen", "address", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, detaches from the registry and stops
// the liveness sweep. Sessions stay registered.
func (s *Server) Shutdown(ctx context.Context) error {
	s.detach()
	s.registry.Stop()
	return s.echo.Shutdown(ctx)
}
