package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/http/response"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/services"
)

type DatasetHandler struct {
	datasets services.DatasetService
	storage  services.StorageService
}

func NewDatasetHandler(datasets services.DatasetService, storage services.StorageService) *DatasetHandler {
	return &DatasetHandler{datasets: datasets, storage: storage}
}

type datasetList struct {
	Count   int              `json:"count"`
	Results []*types.Dataset `json:"results"`
}

// POST /api/v1/datasets
//
// A JSON body creates a REST or virtual dataset. A multipart body uploads a file; its
// optional "body" part carries the same JSON metadata.
func (h *DatasetHandler) Create(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.createFromFile(c)
		return
	}
	var in services.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	h.withOwner(c, &in)
	ds, err := h.datasets.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, ds)
}

func (h *DatasetHandler) createFromFile(c *gin.Context) {
	var in services.CreateInput
	if raw := c.PostForm("body"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
			return
		}
	}
	if in.Title == "" {
		in.Title = c.PostForm("title")
	}
	if in.Description == "" {
		in.Description = c.PostForm("description")
	}
	h.withOwner(c, &in)

	file, ok := h.formFile(c)
	if !ok {
		return
	}
	defer file.close()
	ds, err := h.datasets.CreateFromFile(c.Request.Context(), in, file.upload)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, ds)
}

func (h *DatasetHandler) withOwner(c *gin.Context, in *services.CreateInput) {
	if in.Owner.ID != "" {
		return
	}
	if owner, ok := requestOwner(c); ok {
		in.Owner = owner
	}
}

type openedFile struct {
	upload services.FileUpload
	close  func()
}

func (h *DatasetHandler) formFile(c *gin.Context) (*openedFile, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return nil, false
	}
	f, err := header.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return nil, false
	}
	return &openedFile{
		upload: services.FileUpload{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Body:     f,
		},
		close: func() { _ = f.Close() },
	}, true
}

// PUT /api/v1/datasets/:id/file
func (h *DatasetHandler) ReplaceFile(c *gin.Context) {
	file, ok := h.formFile(c)
	if !ok {
		return
	}
	defer file.close()
	ds, err := h.datasets.ReplaceFile(c.Request.Context(), c.Param("id"), file.upload)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, ds)
}

// GET /api/v1/datasets
func (h *DatasetHandler) List(c *gin.Context) {
	size, err := queryInt(c, "size", 20)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	f := datasets.ListFilter{
		IDs:    queryList(c, "id"),
		IsRest: queryBool(c, "rest"),
		Limit:  size,
		Offset: skip,
	}
	if owner, ok := requestOwner(c); ok {
		f.OwnerType, f.OwnerID = owner.Type, owner.ID
	}
	for _, s := range queryList(c, "status") {
		st := types.Status(s)
		if !st.Valid() {
			response.RespondServiceError(c, apierr.Validation("unknown status %q", s))
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	list, err := h.datasets.List(c.Request.Context(), f)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, datasetList{Count: len(list), Results: list})
}

// GET /api/v1/datasets/:id
func (h *DatasetHandler) Get(c *gin.Context) {
	ds, err := h.datasets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, ds)
}

// PATCH /api/v1/datasets/:id
func (h *DatasetHandler) Patch(c *gin.Context) {
	var patch services.DatasetPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	ds, err := h.datasets.Patch(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, ds)
}

// DELETE /api/v1/datasets/:id
func (h *DatasetHandler) Delete(c *gin.Context) {
	if err := h.datasets.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/datasets/:id/journal
func (h *DatasetHandler) Journal(c *gin.Context) {
	size, err := queryInt(c, "size", 100)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	events, err := h.datasets.Journal(c.Request.Context(), c.Param("id"), size)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"id": c.Param("id"), "events": events})
}

type advanceRequest struct {
	From types.Status `json:"from" binding:"required"`
	To   types.Status `json:"to" binding:"required"`
}

// POST /api/v1/admin/datasets/:id/_advance
func (h *DatasetHandler) Advance(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	h.control(c, func(id string) error {
		return h.datasets.AdvanceStatus(c.Request.Context(), id, req.From, req.To)
	})
}

// POST /api/v1/admin/datasets/:id/_reindex
func (h *DatasetHandler) Reindex(c *gin.Context) {
	h.control(c, func(id string) error { return h.datasets.ForceReindex(c.Request.Context(), id) })
}

// POST /api/v1/admin/datasets/:id/_refinalize
func (h *DatasetHandler) Refinalize(c *gin.Context) {
	h.control(c, func(id string) error { return h.datasets.ForceRefinalize(c.Request.Context(), id) })
}

func (h *DatasetHandler) control(c *gin.Context, run func(id string) error) {
	id := c.Param("id")
	if err := run(id); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	ds, err := h.datasets.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, ds)
}

// GET /api/v1/limits/:type/:id
func (h *DatasetHandler) Usage(c *gin.Context) {
	usage, err := h.storage.Usage(c.Request.Context(), types.Owner{Type: c.Param("type"), ID: c.Param("id")})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, usage)
}

type limitRequest struct {
	StoreBytesLimit int64 `json:"storeBytesLimit"`
}

// POST /api/v1/admin/limits/:type/:id
func (h *DatasetHandler) SetLimit(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	owner := types.Owner{Type: c.Param("type"), ID: c.Param("id")}
	if err := h.storage.SetLimit(c.Request.Context(), owner, req.StoreBytesLimit); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	h.Usage(c)
}
