package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/http/response"
	"github.com/yungbote/dataset-engine/internal/services"
)

const filterSuffix = "_eq"

type SearchHandler struct {
	query services.QueryService
}

func NewSearchHandler(query services.QueryService) *SearchHandler {
	return &SearchHandler{query: query}
}

// readable loads the dataset behind :id. With ?wait=true the call blocks until the first
// publication instead of failing with a conflict.
func (h *SearchHandler) readable(c *gin.Context) (*types.Dataset, bool) {
	load := h.query.Readable
	if c.Query("wait") == "true" {
		load = h.query.WaitReadable
	}
	ds, err := load(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, err)
		return nil, false
	}
	if ds.FinalizedAt != nil {
		c.Header("Cache-Control", "private, max-age=0, must-revalidate")
		if notModified(c, *ds.FinalizedAt) {
			c.Status(http.StatusNotModified)
			return nil, false
		}
	} else {
		c.Header("Cache-Control", "no-cache")
	}
	return ds, true
}

// GET /api/v1/datasets/:id/lines
func (h *SearchHandler) Lines(c *gin.Context) {
	ds, ok := h.readable(c)
	if !ok {
		return
	}
	q := services.LinesQuery{
		Q:       c.Query("q"),
		Sort:    c.Query("sort"),
		Select:  queryList(c, "select"),
		Filters: map[string]string{},
	}
	var err error
	if q.Page, err = queryInt(c, "page", 1); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if q.Size, err = queryInt(c, "size", 12); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	for key, values := range c.Request.URL.Query() {
		if field, ok := strings.CutSuffix(key, filterSuffix); ok && field != "" && len(values) > 0 {
			q.Filters[field] = values[0]
		}
	}
	res, err := h.query.Lines(c.Request.Context(), ds, q)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/v1/datasets/:id/values/:field
func (h *SearchHandler) Values(c *gin.Context) {
	ds, ok := h.readable(c)
	if !ok {
		return
	}
	size, err := queryInt(c, "size", 10)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	buckets, err := h.query.Values(c.Request.Context(), ds, c.Param("field"), size)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, buckets)
}
