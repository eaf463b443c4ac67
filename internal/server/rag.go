package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/knowbase/internal/engine"
	"github.com/mohammad-safakhou/knowbase/internal/store"
	"github.com/mohammad-safakhou/knowbase/tools/web_search/models"
)

// maxUploadBytes bounds a single PDF upload.
const maxUploadBytes = 32 << 20

// RagEngine is what the HTTP layer needs from the engine.
type RagEngine interface {
	IngestPDF(ctx context.Context, tenantID, filename string, data []byte) (store.ContentRecord, error)
	IngestURL(ctx context.Context, tenantID, rawURL string) (store.ContentRecord, error)
	Ask(ctx context.Context, tenantID, question string, scopeContentIDs []string) (engine.Answer, error)
	Status(ctx context.Context, tenantID string) (engine.Status, error)
	DeleteContent(ctx context.Context, tenantID, contentID string) error
	WipeTenant(ctx context.Context, tenantID string) error
	History(ctx context.Context, tenantID string) ([]store.HistoryEntry, error)
	ClearHistory(ctx context.Context, tenantID string) error
	Audio(ctx context.Context, tenantID string, queryID int64, text string) ([]byte, error)
	QuotaMessage() string
}

// uploadResponse is the envelope for ingestions, success and rejection
// alike. Rejections carry only the user-facing text and no record.
type uploadResponse struct {
	Text     string               `json:"text"`
	Resource *store.ContentRecord `json:"resource,omitempty"`
}

// askResponse is the envelope for answered questions. Resource names the
// subsystem that produced the text; QueryID keys the audio endpoint.
type askResponse struct {
	Text        string          `json:"text"`
	Resource    askResource     `json:"resource"`
	QueryID     int64           `json:"query_id"`
	Sources     []string        `json:"sources,omitempty"`
	ContextURLs []models.Result `json:"context_urls,omitempty"`
}

type askResource struct {
	Type string  `json:"type"`
	ID   *string `json:"id"`
}

type RagHandler struct {
	Engine RagEngine
}

func (h *RagHandler) Register(g *echo.Group) {
	g.POST("/upload_pdf", h.uploadPDF)
	g.POST("/upload_url", h.uploadURL)
	g.POST("/ask_question", h.askQuestion)
	g.GET("/user_status", h.userStatus)
	g.DELETE("/content/:id", h.deleteContent)
	g.DELETE("/clear_user_data", h.clearUserData)
	g.GET("/history", h.history)
	g.DELETE("/history", h.clearHistory)
	g.GET("/audio", h.audio)
}

func tenantID(c echo.Context) (string, error) {
	if id := c.Request().Header.Get("X-User-ID"); id != "" {
		return id, nil
	}
	if id := c.QueryParam("user_id"); id != "" {
		return id, nil
	}
	if id := c.FormValue("user_id"); id != "" {
		return id, nil
	}
	return "", echo.NewHTTPError(http.StatusBadRequest, "user id required")
}

// ingestReject writes engine rejections in the upload envelope, same
// shape as a success but with no content record. Unexpected errors still
// go through the error handler.
func ingestReject(c echo.Context, err error, duplicateMsg, quotaMsg string) error {
	switch {
	case errors.Is(err, engine.ErrDuplicateContent):
		return c.JSON(http.StatusConflict, uploadResponse{Text: duplicateMsg})
	case errors.Is(err, engine.ErrQuotaExceeded):
		return c.JSON(http.StatusTooManyRequests, uploadResponse{Text: quotaMsg})
	case errors.Is(err, engine.ErrExtractionFailed):
		return c.JSON(http.StatusUnprocessableEntity, uploadResponse{Text: err.Error()})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *RagHandler) uploadPDF(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file required")
	}
	if fh.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	start := time.Now()
	rec, err := h.Engine.IngestPDF(c.Request().Context(), tenant, fh.Filename, data)
	if err != nil {
		ingestsTotal.WithLabelValues(store.SourceTypePDF, "error").Inc()
		return ingestReject(c, err, engine.DuplicatePDFMessage, h.Engine.QuotaMessage())
	}
	ingestsTotal.WithLabelValues(store.SourceTypePDF, "ok").Inc()
	ingestDuration.WithLabelValues(store.SourceTypePDF).Observe(time.Since(start).Seconds())
	return c.JSON(http.StatusCreated, uploadResponse{Text: "PDF uploaded successfully.", Resource: &rec})
}

func (h *RagHandler) uploadURL(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var req struct {
		URL string `json:"url" form:"url"`
	}
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}

	start := time.Now()
	rec, err := h.Engine.IngestURL(c.Request().Context(), tenant, req.URL)
	if err != nil {
		ingestsTotal.WithLabelValues(store.SourceTypeURL, "error").Inc()
		return ingestReject(c, err, engine.DuplicateURLMessage, h.Engine.QuotaMessage())
	}
	ingestsTotal.WithLabelValues(store.SourceTypeURL, "ok").Inc()
	ingestDuration.WithLabelValues(store.SourceTypeURL).Observe(time.Since(start).Seconds())
	return c.JSON(http.StatusCreated, uploadResponse{Text: "URL uploaded successfully.", Resource: &rec})
}

func (h *RagHandler) askQuestion(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var req struct {
		Question   string   `json:"question" form:"question"`
		ContentIDs []string `json:"content_ids" form:"content_ids"`
	}
	if err := c.Bind(&req); err != nil || req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	ans, err := h.Engine.Ask(c.Request().Context(), tenant, req.Question, req.ContentIDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ans.Answer == engine.FallbackAnswer {
		questionsTotal.WithLabelValues("fallback").Inc()
	} else {
		questionsTotal.WithLabelValues("answered").Inc()
	}
	return c.JSON(http.StatusOK, askResponse{
		Text:        ans.Answer,
		Resource:    askResource{Type: "RAG"},
		QueryID:     ans.QueryID,
		Sources:     ans.Sources,
		ContextURLs: ans.ContextURLs,
	})
}

func (h *RagHandler) userStatus(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	st, err := h.Engine.Status(c.Request().Context(), tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (h *RagHandler) deleteContent(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := h.Engine.DeleteContent(c.Request().Context(), tenant, c.Param("id")); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "content not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *RagHandler) clearUserData(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := h.Engine.WipeTenant(c.Request().Context(), tenant); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *RagHandler) history(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	entries, err := h.Engine.History(c.Request().Context(), tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *RagHandler) clearHistory(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := h.Engine.ClearHistory(c.Request().Context(), tenant); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *RagHandler) audio(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	text := c.QueryParam("text")
	var queryID int64
	if raw := c.QueryParam("id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		queryID = v
	}
	if text == "" && queryID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "id or text required")
	}
	data, err := h.Engine.Audio(c.Request().Context(), tenant, queryID, text)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "query not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "audio/mpeg", data)
}
