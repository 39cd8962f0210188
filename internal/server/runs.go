package server

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/slerner/deepresearch/internal/store"
)

// RunsHandler serves persisted run history.
type RunsHandler struct {
	Store *store.Store
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("/runs", h.list)
	g.GET("/runs/:id", h.get)
}

func (h *RunsHandler) list(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence not configured")
	}
	userID, _ := c.Get("user_id").(string)
	limit := 0
	if val := c.QueryParam("limit"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			limit = n
		}
	}
	runs, err := h.Store.ListRuns(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) get(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence not configured")
	}
	userID, _ := c.Get("user_id").(string)
	run, err := h.Store.GetRun(c.Request().Context(), c.Param("id"), userID)
	if err == sql.ErrNoRows {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}
