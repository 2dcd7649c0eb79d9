package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/datasync/cmd/datasync/container"
	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/cmd/datasync/service"
	"github.com/lyzr/datasync/common/bootstrap"
	dserrors "github.com/lyzr/datasync/common/errors"
)

// DatasetHandler handles ledger and blob requests
type DatasetHandler struct {
	components     *bootstrap.Components
	datasetService *service.DatasetService
}

// NewDatasetHandler creates a new dataset handler
func NewDatasetHandler(c *container.Container) *DatasetHandler {
	return &DatasetHandler{
		components:     c.Components,
		datasetService: c.DatasetService,
	}
}

// versionRequest addresses one version of one dataset
type versionRequest struct {
	RID      string `json:"rid"`
	Checksum string `json:"sha256"`
}

func (r versionRequest) validate() error {
	if strings.TrimSpace(r.RID) == "" {
		return dserrors.NewInvalidRequest("rid is required")
	}
	if strings.TrimSpace(r.Checksum) == "" {
		return dserrors.NewInvalidRequest("sha256 is required")
	}
	return nil
}

// errorResponse writes err with the status of its code
func (h *DatasetHandler) errorResponse(c echo.Context, msg string, err error) error {
	status := dserrors.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.components.Logger.Error(msg, "error", err)
	} else {
		h.components.Logger.Debug(msg, "error", err)
	}
	return c.JSON(status, map[string]interface{}{
		"error": err.Error(),
		"code":  dserrors.CodeOf(err),
	})
}

// bindVersion parses and validates a {rid, sha256} body
func (h *DatasetHandler) bindVersion(c echo.Context) (versionRequest, error) {
	var req versionRequest
	if err := c.Bind(&req); err != nil {
		return req, dserrors.NewInvalidRequest("invalid request body")
	}
	return req, req.validate()
}

// GetVersions returns the ledger entry of one dataset
// GET /dataset/versions/:rid
func (h *DatasetHandler) GetVersions(c echo.Context) error {
	rid := c.Param("rid")

	entry, err := h.datasetService.Versions(c.Request().Context(), rid)
	if err != nil {
		return h.errorResponse(c, "failed to read versions", err)
	}
	return c.JSON(http.StatusOK, entry)
}

// ListDatasets returns every ledger entry
// GET /dataset/list
func (h *DatasetHandler) ListDatasets(c echo.Context) error {
	entries, err := h.datasetService.List(c.Request().Context())
	if err != nil {
		return h.errorResponse(c, "failed to list datasets", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"datasets": entries,
		"count":    len(entries),
	})
}

// Info resolves names and returns their ledger entries
// POST /dataset/info
func (h *DatasetHandler) Info(c echo.Context) error {
	var req struct {
		Names []string `json:"names"`
	}
	if err := c.Bind(&req); err != nil {
		return h.errorResponse(c, "invalid info request", dserrors.NewInvalidRequest("invalid request body"))
	}

	result, err := h.datasetService.Info(c.Request().Context(), req.Names)
	if err != nil {
		return h.errorResponse(c, "failed to resolve datasets", err)
	}
	return c.JSON(http.StatusOK, result)
}

// Zip builds the compressed blob of a version
// POST /dataset/zip
func (h *DatasetHandler) Zip(c echo.Context) error {
	req, err := h.bindVersion(c)
	if err != nil {
		return h.errorResponse(c, "invalid zip request", err)
	}

	entry, err := h.datasetService.Zip(c.Request().Context(), req.RID, req.Checksum)
	if err != nil {
		return h.errorResponse(c, "failed to zip dataset", err)
	}
	return c.JSON(http.StatusOK, entry)
}

// Unzip restores the raw blob of a version
// POST /dataset/unzip
func (h *DatasetHandler) Unzip(c echo.Context) error {
	req, err := h.bindVersion(c)
	if err != nil {
		return h.errorResponse(c, "invalid unzip request", err)
	}

	entry, err := h.datasetService.Unzip(c.Request().Context(), req.RID, req.Checksum)
	if err != nil {
		return h.errorResponse(c, "failed to unzip dataset", err)
	}
	return c.JSON(http.StatusOK, entry)
}

// Delete returns a handler removing the given representations
// POST /dataset/delete/raw, /dataset/delete/zip, /dataset/delete
func (h *DatasetHandler) Delete(reps ...models.Representation) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, err := h.bindVersion(c)
		if err != nil {
			return h.errorResponse(c, "invalid delete request", err)
		}

		entry, err := h.datasetService.Delete(c.Request().Context(), req.RID, req.Checksum, reps...)
		if err != nil {
			return h.errorResponse(c, "failed to delete dataset blobs", err)
		}
		return c.JSON(http.StatusOK, entry)
	}
}

// GetBlob streams a stored blob. Range requests are honored.
// GET /dataset/blob/:sha256/:rep
func (h *DatasetHandler) GetBlob(c echo.Context) error {
	checksum := c.Param("sha256")
	rep, err := models.ParseRepresentation(c.Param("rep"))
	if err != nil {
		return h.errorResponse(c, "invalid blob request", dserrors.NewInvalidRequest(err.Error()))
	}

	f, err := h.datasetService.OpenBlob(checksum, rep)
	if err != nil {
		return h.errorResponse(c, "failed to open blob", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return h.errorResponse(c, "failed to stat blob", dserrors.NewIOFailure("stat blob", err))
	}

	contentType := "text/csv"
	if rep == models.Compressed {
		contentType = "application/zip"
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	http.ServeContent(c.Response(), c.Request(), info.Name(), info.ModTime(), f)
	return nil
}
