package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/alfhq/alf/internal/index"
	"github.com/alfhq/alf/internal/store"
)

// RunsHandler serves run history and per-run source search.
type RunsHandler struct {
	Store *store.Store
	Index *index.Store
}

func (h *RunsHandler) Register(g *echo.Group, authMW echo.MiddlewareFunc) {
	if authMW != nil {
		g.Use(authMW)
	}
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/sources", h.sources)
	g.GET("/:id/search", h.search)
}

func (h *RunsHandler) list(c echo.Context) error {
	userID := currentUser(c)
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	runs, err := h.Store.ListRuns(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *RunsHandler) get(c echo.Context) error {
	userID := currentUser(c)
	run, err := h.Store.GetRun(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) sources(c echo.Context) error {
	userID := currentUser(c)
	runID := c.Param("id")
	if _, err := h.Store.GetRun(c.Request().Context(), runID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	docs, err := h.Store.GetRunSources(c.Request().Context(), runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sources": docs})
}

// search queries the run's in-memory source index, rebuilding it from the
// persisted documents when it has expired.
func (h *RunsHandler) search(c echo.Context) error {
	userID := currentUser(c)
	runID := c.Param("id")
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k := 10
	if v := c.QueryParam("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}
	if _, err := h.Store.GetRun(c.Request().Context(), runID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	hits, err := h.Index.Search(runID, q, k)
	if errors.Is(err, index.ErrRunNotIndexed) {
		docs, derr := h.Store.GetRunSources(c.Request().Context(), runID)
		if derr != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, derr.Error())
		}
		if len(docs) == 0 {
			return c.JSON(http.StatusOK, RunSearchResponse{RunID: runID, Query: q, Hits: []index.Hit{}})
		}
		if derr := h.Index.IndexRun(runID, docs); derr != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, derr.Error())
		}
		hits, err = h.Index.Search(runID, q, k)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, RunSearchResponse{RunID: runID, Query: q, Hits: hits})
}
