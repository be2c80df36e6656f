// Package api is the local control server: a small JSON API to start and
// stop listening, a websocket stream of pipeline events and the Prometheus
// scrape endpoint.
package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/petems/admute/internal/app"
	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/pipeline"
)

// Controller is the part of the application the server drives.
type Controller interface {
	StartListening() error
	StopListening() error
	Status() app.Status
	ListDevices() ([]audio.AudioDevice, error)
	SetDevice(id string) error
}

// Server serves the control API.
type Server struct {
	app  *fiber.App
	ctrl Controller
	hub  *Hub
	log  zerolog.Logger
}

func NewServer(ctrl Controller, log zerolog.Logger) *Server {
	s := &Server{
		ctrl: ctrl,
		log:  log.With().Str("component", "api").Logger(),
	}
	s.hub = NewHub(s.log)

	fapp := fiber.New(fiber.Config{
		AppName:               "admute",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	fapp.Use(recover.New())

	fapp.Get("/healthz", s.handleHealth)
	fapp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := fapp.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Get("/devices", s.handleListDevices)
	api.Put("/device", s.handleSetDevice)

	fapp.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	fapp.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = fapp
	return s
}

// Publish forwards a pipeline event to websocket subscribers.
func (s *Server) Publish(ev pipeline.Event) {
	if err := s.hub.BroadcastJSON(ev); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode event")
	}
}

// Listen runs the hub and serves on addr until ctx ends or the listener
// fails.
func (s *Server) Listen(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Control server listening")
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.Shutdown()
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	switch {
	case errors.As(err, &ferr):
		code = ferr.Code
	case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, pipeline.ErrNotRunning):
		code = fiber.StatusConflict
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
