package server

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/redisplay/server/internal/domain"
	apperrors "github.com/redisplay/server/internal/errors"
)

// maxMessageBytes caps broadcast payloads relayed through the message route.
const maxMessageBytes = 64 << 10

func (s *Server) handleListChannels(c echo.Context) error {
	channels, err := s.app.ListChannels(c.Request().Context())
	if err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, channels)
}

func (s *Server) handleGetChannel(c echo.Context) error {
	cfg, err := s.app.GetChannel(c.Request().Context(), c.Param("channel"))
	if err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, cfg)
}

func (s *Server) handleSaveChannel(c echo.Context) error {
	var cfg domain.ChannelConfig
	if err := c.Bind(&cfg); err != nil {
		return apperrors.ValidationError("invalid channel configuration payload")
	}

	if err := s.app.SaveChannel(c.Request().Context(), c.Param("channel"), &cfg); err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, cfg)
}

func (s *Server) handleDeleteChannel(c echo.Context) error {
	if err := s.app.DeleteChannel(c.Request().Context(), c.Param("channel")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCurrentView(c echo.Context) error {
	v, err := s.app.CurrentView(c.Request().Context(), c.Param("channel"))
	if err != nil {
		return err
	}
	// v is nil when the channel has nothing to show; the client sees an
	// explicit null, not an error.
	return jsonResponse(c, http.StatusOK, map[string]*domain.View{"view": v})
}

func (s *Server) handleActivateView(c echo.Context) error {
	var req struct {
		ViewID string `json:"view_id"`
	}
	if err := c.Bind(&req); err != nil || req.ViewID == "" {
		return apperrors.ValidationError("view_id is required")
	}

	if err := s.app.ActivateView(c.Request().Context(), c.Param("channel"), req.ViewID); err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNextView(c echo.Context) error {
	if err := s.app.NextView(c.Request().Context(), c.Param("channel")); err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreviousView(c echo.Context) error {
	if err := s.app.PreviousView(c.Request().Context(), c.Param("channel")); err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSendMessage(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxMessageBytes+1))
	if err != nil {
		return apperrors.ValidationError("could not read message body")
	}
	if len(body) == 0 {
		return apperrors.ValidationError("message body must not be empty")
	}
	if len(body) > maxMessageBytes {
		return apperrors.ValidationError("message body too large")
	}

	if err := s.app.SendMessage(c.Request().Context(), c.Param("channel"), body); err != nil {
		return err
	}
	return jsonResponse(c, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleTap(c echo.Context) error {
	var req struct {
		Zone string `json:"zone"`
	}
	if err := c.Bind(&req); err != nil || req.Zone == "" {
		return apperrors.ValidationError("zone is required")
	}

	if err := s.app.Tap(c.Request().Context(), c.Param("channel"), req.Zone); err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, map[string]string{"status": "ok"})
}
