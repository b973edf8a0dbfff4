package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/capture"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/version"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusCounts carries store totals. -1 means the count could not be
// determined.
type StatusCounts struct {
	Documents int `json:"documents"`
}

// StatusResponse is the response body for GET /v1/status.
type StatusResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
	Counts   StatusCounts      `json:"counts"`
}

// ScrubRequest is the request body for POST /v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}

// CaptureRequest is the request body for POST /v1/capture, the
// session-end hook surface.
type CaptureRequest struct {
	TranscriptPath string `json:"transcript_path"`
	Repository     string `json:"repository,omitempty"`
}

// kindStatus maps an error kind to its HTTP status code.
func kindStatus(kind errs.Kind) int {
	switch kind {
	case errs.InvalidArgument:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.PreconditionFailed:
		return http.StatusPreconditionFailed
	case errs.Conflict:
		return http.StatusConflict
	case errs.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// envelope flattens a tool result into the response body. Results that
// carry their own status field keep it; everything else reports "ok".
func envelope(out any) map[string]any {
	body := map[string]any{}
	data, err := json.Marshal(out)
	if err != nil || json.Unmarshal(data, &body) != nil {
		body = map[string]any{"result": out}
	}
	if _, ok := body["status"]; !ok {
		body["status"] = "ok"
	}
	return body
}

func errorEnvelope(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
		"kind":   string(errs.KindOf(err)),
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get(c.QueryParam("expected_commit")))
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()

	resp := StatusResponse{
		Status:   "ok",
		Version:  version.Version,
		Services: map[string]string{},
		Counts:   StatusCounts{Documents: -1},
	}

	if count, err := s.store.Count(ctx); err != nil {
		resp.Status = "degraded"
		resp.Services["vector_store"] = "unavailable"
		s.logger.Warn(ctx, "status count failed", zap.Error(err))
	} else {
		resp.Services["vector_store"] = "ok"
		resp.Counts.Documents = count
	}

	if st, err := s.capturer.Status(ctx); err != nil {
		resp.Status = "degraded"
		resp.Services["capture_queue"] = "unavailable"
	} else if st.Enabled {
		resp.Services["capture_queue"] = "ok"
	} else {
		resp.Services["capture_queue"] = "disabled"
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListTools(c echo.Context) error {
	infos := s.tools.List()
	return c.JSON(http.StatusOK, map[string]any{
		"tools": infos,
		"count": len(infos),
	})
}

// handleTool dispatches POST /v1/tools/:name through the shared
// toolset. The body passes through as raw JSON arguments; an empty body
// means no arguments.
func (s *Server) handleTool(c echo.Context) error {
	name := c.Param("name")

	var raw json.RawMessage
	if body := c.Request().Body; body != nil {
		data, err := io.ReadAll(body)
		if err != nil {
			wrapped := errs.Wrap(errs.InvalidArgument, "reading request body", err)
			return c.JSON(http.StatusBadRequest, errorEnvelope(wrapped))
		}
		raw = data
	}

	out, err := s.tools.Call(c.Request().Context(), name, raw)
	if err != nil {
		return c.JSON(kindStatus(errs.KindOf(err)), errorEnvelope(err))
	}
	return c.JSON(http.StatusOK, envelope(out))
}

// handleCapture accepts the session-end hook: a transcript path to
// score and, when significant, summarize into memory. The receipt
// reports queued, processed, or skipped; capture never blocks the
// caller longer than the configured sync timeout.
func (s *Server) handleCapture(c echo.Context) error {
	var req CaptureRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid capture request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, errorEnvelope(errs.New(errs.InvalidArgument, "invalid request body")))
	}

	receipt, err := s.capturer.Capture(c.Request().Context(), capture.CaptureInput{
		TranscriptPath: req.TranscriptPath,
		Repository:     req.Repository,
	})
	if err != nil {
		return c.JSON(kindStatus(errs.KindOf(err)), errorEnvelope(err))
	}
	return c.JSON(http.StatusOK, envelope(receipt))
}

// handleScrub redacts secrets from arbitrary content. Diagnostic
// endpoint for verifying scrub rules against real payloads.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)

	s.logger.Debug(c.Request().Context(), "scrubbed content",
		zap.Int("findings", result.TotalFindings),
		zap.Duration("duration", result.Duration),
	)

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: result.TotalFindings,
	})
}
