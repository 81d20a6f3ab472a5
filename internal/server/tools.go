package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/alfhq/alf/internal/crawljobs"
	"github.com/alfhq/alf/internal/research"
	"github.com/alfhq/alf/internal/research/fetch"
)

// ToolsHandler exposes the pipeline's tools as standalone endpoints, for
// debugging and for clients that drive their own research loop.
type ToolsHandler struct {
	Search   *research.SearchStage
	Fetcher  research.Fetcher
	MaxChars int
	Jobs     crawljobs.Store
	Runner   *crawljobs.Runner
}

func (h *ToolsHandler) Register(g *echo.Group, authMW echo.MiddlewareFunc) {
	if authMW != nil {
		g.Use(authMW)
	}
	g.POST("/search", h.search)
	g.POST("/scrape", h.scrape)
	g.POST("/extract", h.extract)
	g.POST("/crawl", h.crawl)
	g.GET("/crawl/status/:id", h.crawlStatus)
}

func (h *ToolsHandler) search(c echo.Context) error {
	var req ToolSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	candidates := h.Search.Run(c.Request().Context(), req.Query)
	if req.Max > 0 && len(candidates) > req.Max {
		candidates = candidates[:req.Max]
	}
	return c.JSON(http.StatusOK, ToolResponse{Success: true, Data: candidates})
}

func (h *ToolsHandler) scrape(c echo.Context) error {
	var req ToolScrapeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	doc, err := h.Fetcher.Fetch(c.Request().Context(), req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	doc.Text = research.Truncate(doc.Text, h.MaxChars)
	return c.JSON(http.StatusOK, ToolResponse{Success: true, Data: doc})
}

// extract runs a guided extraction when the fetcher supports it and falls
// back to a plain scrape when the upstream rejects the prompt.
func (h *ToolsHandler) extract(c echo.Context) error {
	var req ToolExtractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	ctx := c.Request().Context()

	if api, ok := h.Fetcher.(*fetch.APIFetcher); ok && req.Prompt != "" {
		doc, err := api.Extract(ctx, req.URL, req.Prompt)
		if err == nil {
			doc.Text = research.Truncate(doc.Text, h.MaxChars)
			return c.JSON(http.StatusOK, ToolResponse{Success: true, Data: doc})
		}
		if !errors.Is(err, research.ErrUnprocessable) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	doc, err := h.Fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	doc.Text = research.Truncate(doc.Text, h.MaxChars)
	return c.JSON(http.StatusOK, ToolResponse{Success: true, Data: doc})
}

func (h *ToolsHandler) crawl(c echo.Context) error {
	var req ToolCrawlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if strings.TrimSpace(u) != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "urls are required")
	}
	job, err := h.Runner.Enqueue(c.Request().Context(), urls)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, ToolResponse{Success: true, Data: job})
}

func (h *ToolsHandler) crawlStatus(c echo.Context) error {
	job, err := h.Jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, crawljobs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "crawl job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ToolResponse{Success: true, Data: job})
}
