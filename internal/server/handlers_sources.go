package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/redisplay/server/internal/errors"
)

func (s *Server) handleGalleryImages(c echo.Context) error {
	images, err := s.app.GalleryImages(c.Request().Context(), c.Param("gallery"))
	if err != nil {
		return err
	}
	if images == nil {
		images = []string{}
	}
	return jsonResponse(c, http.StatusOK, map[string][]string{"images": images})
}

func (s *Server) handleAddGalleryImages(c echo.Context) error {
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid gallery payload")
	}

	if err := s.app.AddGalleryImages(c.Request().Context(), c.Param("gallery"), req.URLs...); err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRemoveGalleryImage(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return apperrors.ValidationError("url query parameter is required")
	}

	if err := s.app.RemoveGalleryImage(c.Request().Context(), c.Param("gallery"), url); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetSource(c echo.Context) error {
	blob, err := s.app.GetSource(c.Request().Context(), c.Param("kind"), c.Param("source"))
	if err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, blob)
}

func (s *Server) handleUpdateSource(c echo.Context) error {
	var blob map[string]any
	if err := c.Bind(&blob); err != nil {
		return apperrors.ValidationError("source blob must be a JSON object")
	}

	if err := s.app.UpdateSource(c.Request().Context(), c.Param("kind"), c.Param("source"), blob); err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, map[string]string{"status": "ok"})
}
