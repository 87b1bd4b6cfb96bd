package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/http/response"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/services"
)

// LinesHandler serves the row mutation API of REST datasets.
type LinesHandler struct {
	log       *logger.Logger
	datasets  services.DatasetService
	rows      services.RowStore
	keepAlive time.Duration
}

func NewLinesHandler(log *logger.Logger, datasets services.DatasetService, rows services.RowStore) *LinesHandler {
	return &LinesHandler{
		log:       log.With("handler", "LinesHandler"),
		datasets:  datasets,
		rows:      rows,
		keepAlive: 10 * time.Second,
	}
}

func (h *LinesHandler) dataset(c *gin.Context) (*types.Dataset, bool) {
	ds, err := h.datasets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, err)
		return nil, false
	}
	if !ds.IsRest {
		response.RespondServiceError(c, apierr.Validation("dataset %s is not a REST dataset", ds.ID))
		return nil, false
	}
	return ds, true
}

func bindBody(c *gin.Context) (map[string]any, bool) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return nil, false
	}
	return body, true
}

// POST /api/v1/datasets/:id/lines
func (h *LinesHandler) Create(c *gin.Context) {
	ds, ok := h.dataset(c)
	if !ok {
		return
	}
	body, ok := bindBody(c)
	if !ok {
		return
	}
	line, err := h.rows.CreateRow(c.Request.Context(), ds, body)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, line)
}

// GET /api/v1/datasets/:id/lines/:lineId
func (h *LinesHandler) Get(c *gin.Context) {
	ds, ok := h.dataset(c)
	if !ok {
		return
	}
	row, err := h.rows.ReadRow(c.Request.Context(), ds, c.Param("lineId"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if notModified(c, row.UpdatedAt) {
		c.Status(http.StatusNotModified)
		return
	}
	response.RespondOK(c, row.Document())
}

// PUT /api/v1/datasets/:id/lines/:lineId
func (h *LinesHandler) Update(c *gin.Context) {
	h.write(c, h.rows.UpdateRow)
}

// PATCH /api/v1/datasets/:id/lines/:lineId
func (h *LinesHandler) Patch(c *gin.Context) {
	h.write(c, h.rows.PatchRow)
}

type rowWrite func(ctx context.Context, ds *types.Dataset, id string, body map[string]any) (map[string]any, error)

func (h *LinesHandler) write(c *gin.Context, apply rowWrite) {
	ds, ok := h.dataset(c)
	if !ok {
		return
	}
	body, ok := bindBody(c)
	if !ok {
		return
	}
	line, err := apply(c.Request.Context(), ds, c.Param("lineId"), body)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, line)
}

// DELETE /api/v1/datasets/:id/lines/:lineId
func (h *LinesHandler) Delete(c *gin.Context) {
	ds, ok := h.dataset(c)
	if !ok {
		return
	}
	if err := h.rows.DeleteRow(c.Request.Context(), ds, c.Param("lineId")); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/datasets/:id/lines/:lineId/revisions
func (h *LinesHandler) Revisions(c *gin.Context) {
	ds, ok := h.dataset(c)
	if !ok {
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	size, err := queryInt(c, "size", 10)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	revs, err := h.rows.ReadRevisions(c.Request.Context(), ds, c.Param("lineId"), page, size)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, revs)
}

// POST /api/v1/datasets/:id/_bulk_lines
//
// The status is only known once the first flush is applied: 400 when every transaction of
// that flush failed, 200 otherwise. Whitespace keeps the connection alive until the summary
// is written.
func (h *LinesHandler) Bulk(c *gin.Context) {
	ds, ok := h.dataset(c)
	if !ok {
		return
	}
	dec := services.DecoderFor(c.ContentType(), c.Request.Body, ds.SchemaFields())

	var (
		mu       sync.Mutex
		started  bool
		finished bool
	)
	start := func(status int) {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Status(status)
		c.Writer.WriteHeaderNow()
	}
	ping := func() {
		_, _ = c.Writer.WriteString(" ")
		c.Writer.Flush()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(h.keepAlive)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				mu.Lock()
				if started && !finished {
					ping()
				}
				mu.Unlock()
			}
		}
	}()

	summary, err := h.rows.BulkApply(c.Request.Context(), ds, dec, func(s services.Summary) {
		mu.Lock()
		defer mu.Unlock()
		if !started {
			status := http.StatusOK
			if s.NbOk == 0 && s.NbErrors > 0 {
				status = http.StatusBadRequest
			}
			start(status)
		}
		ping()
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		h.log.Warn("bulk lines interrupted", "dataset_id", ds.ID, "error", err)
		if !started {
			status, _ := apierr.StatusOf(err)
			if status == http.StatusInternalServerError {
				status = http.StatusBadRequest
			}
			start(status)
		}
	}
	start(http.StatusOK)
	finished = true
	raw, merr := json.Marshal(summary)
	if merr != nil {
		h.log.Error("encode bulk summary failed", "dataset_id", ds.ID, "error", merr)
		return
	}
	_, _ = c.Writer.Write(raw)
	c.Writer.Flush()
}
