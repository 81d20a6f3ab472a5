package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfhq/alf/internal/index"
	"github.com/alfhq/alf/internal/research"
	"github.com/alfhq/alf/internal/store"
	"github.com/alfhq/alf/internal/stream"
)

var researchTracer trace.Tracer = otel.Tracer("alf/internal/server/research")

// ResearchHandler serves the streaming and plain-text research endpoints.
// Store and Index may be nil; persistence is then skipped.
type ResearchHandler struct {
	Orch   *research.Orchestrator
	Store  *store.Store
	Index  *index.Store
	Logger *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group, authMW echo.MiddlewareFunc) {
	grp := g.Group("/research")
	if authMW != nil {
		grp.Use(authMW)
	}
	grp.POST("", h.research)
	grp.POST("/text", h.researchText)
}

// research streams pipeline events as SSE. Request validation happens before
// any upstream call so bad requests get a plain JSON 400.
func (h *ResearchHandler) research(c echo.Context) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return err
	}
	ctx, span := researchTracer.Start(c.Request().Context(), "ResearchHandler.research",
		trace.WithAttributes(attribute.String("research.preset", req.Preset)))
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	preset := h.Orch.Preset(req.Preset)
	relay, err := stream.NewRelay(c.Response())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	acc := newRunAccumulator(req.Query, preset.Name)
	events := h.Orch.Run(ctx, req.Query, preset)
	tee := make(chan research.Event)
	go func() {
		defer close(tee)
		for ev := range events {
			acc.observe(ev)
			if ev.Type == research.EventDone {
				// lets clients hit /api/runs/:id afterwards
				ev.Payload["run_id"] = acc.id
			}
			tee <- ev
		}
	}()
	if err := relay.Pump(tee); err != nil {
		span.RecordError(err)
		h.Logger.Printf("client gone mid-stream: %v", err)
	}

	h.persist(c, acc)
	return nil
}

// researchText buffers nothing: text deltas are written as they arrive with
// Content-Type text/plain. Non-text events are dropped.
func (h *ResearchHandler) researchText(c echo.Context) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return err
	}
	ctx, span := researchTracer.Start(c.Request().Context(), "ResearchHandler.researchText")
	defer span.End()

	preset := h.Orch.Preset(req.Preset)
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	resp.WriteHeader(http.StatusOK)

	acc := newRunAccumulator(req.Query, preset.Name)
	events := h.Orch.Run(ctx, req.Query, preset)
	tee := make(chan research.Event)
	go func() {
		defer close(tee)
		for ev := range events {
			acc.observe(ev)
			tee <- ev
		}
	}()
	if err := stream.WriteText(resp, tee); err != nil {
		span.RecordError(err)
		h.Logger.Printf("text research failed: %v", err)
	}

	h.persist(c, acc)
	return nil
}

func (h *ResearchHandler) bindRequest(c echo.Context) (ResearchRequest, error) {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	return req, nil
}

// persist saves the finished run and indexes its sources. Uses a detached
// context so a dropped client does not lose the record.
func (h *ResearchHandler) persist(c echo.Context, acc *runAccumulator) {
	result, status, sources := acc.result()
	if h.Index != nil && len(sources) > 0 {
		if err := h.Index.IndexRun(result.ID, sources); err != nil {
			h.Logger.Printf("run %s: indexing failed: %v", result.ID, err)
		}
	}
	if h.Store == nil {
		return
	}
	userID := currentUser(c)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Store.SaveRun(ctx, userID, result, status, sources); err != nil {
		h.Logger.Printf("run %s: save failed: %v", result.ID, err)
	}
}
