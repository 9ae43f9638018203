package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/redisplay/server/internal/domain"
	apperrors "github.com/redisplay/server/internal/errors"
)

func (s *Server) handleListViews(c echo.Context) error {
	views, err := s.app.ListViews(c.Request().Context())
	if err != nil {
		return err
	}
	if views == nil {
		views = []domain.View{}
	}
	return jsonResponse(c, http.StatusOK, views)
}

func (s *Server) handleCreateView(c echo.Context) error {
	var v domain.View
	if err := c.Bind(&v); err != nil {
		return apperrors.ValidationError("invalid view payload")
	}

	created, err := s.app.CreateView(c.Request().Context(), &v)
	if err != nil {
		return err
	}
	return jsonResponse(c, http.StatusCreated, created)
}

func (s *Server) handleGetView(c echo.Context) error {
	v, err := s.app.GetView(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, v)
}

func (s *Server) handleUpdateView(c echo.Context) error {
	var v domain.View
	if err := c.Bind(&v); err != nil {
		return apperrors.ValidationError("invalid view payload")
	}
	v.ID = c.Param("id")

	updated, err := s.app.UpdateView(c.Request().Context(), &v)
	if err != nil {
		return err
	}
	return jsonResponse(c, http.StatusOK, updated)
}

func (s *Server) handleDeleteView(c echo.Context) error {
	if err := s.app.DeleteView(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func jsonResponse(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
