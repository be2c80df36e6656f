package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.ctrl.StartListening(); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

// handleStop blocks until the queued chunks have been processed.
func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.ctrl.StopListening(); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleListDevices(c *fiber.Ctx) error {
	devices, err := s.ctrl.ListDevices()
	if err != nil {
		return err
	}
	return c.JSON(devices)
}

// SetDeviceRequest is the request body for selecting the input device.
type SetDeviceRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSetDevice(c *fiber.Ctx) error {
	var req SetDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.ctrl.SetDevice(req.ID); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleEventsWS(c *websocket.Conn) {
	NewClient(s.hub, c).Run()
}
