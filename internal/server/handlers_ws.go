package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	apperrors "github.com/redisplay/server/internal/errors"
	"github.com/redisplay/server/internal/logging"
	"github.com/redisplay/server/internal/sink"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Subscribers are displays on the local network or behind the reverse
	// proxy; browser-origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleSubscribe(c echo.Context) error {
	channel := c.Param("channel")
	origin := c.QueryParam("origin")
	if origin == "" {
		origin = c.RealIP()
	}

	// Reject unknown channels before committing to the upgrade.
	if _, err := s.app.GetChannel(c.Request().Context(), channel); err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return apperrors.ValidationError("websocket upgrade failed")
	}

	snk := sink.NewStreaming(conn, s.clock, s.config.KeepaliveInterval)
	if err := s.app.AttachSink(c.Request().Context(), channel, origin, snk); err != nil {
		logging.WithChannel(channel).Warn("subscription rejected", "origin", origin, "error", err)
		snk.Close("subscription rejected")
		return nil
	}

	logging.WithChannel(channel).Info("sink connected", "origin", origin)

	// Read pump: subscribers send nothing meaningful, but reading drives
	// pong handling and surfaces disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	snk.Close("connection closed")
	logging.WithChannel(channel).Info("sink disconnected", "origin", origin)
	return nil
}
