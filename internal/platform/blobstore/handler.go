package blobstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DownloadPath is where a blob's content is served, relative to the API
// group. Document records store it as their file URL.
func DownloadPath(id string) string {
	return "/blobs/" + id
}

// Handler serves stored blobs. Uploads go through the document endpoints
// so that every blob has a document record.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/blobs/patient/:patientId", h.handleListByPatient)
	g.GET("/blobs/:id/metadata", h.handleGetMetadata)
	g.GET("/blobs/:id", h.handleDownload)
}

func (h *Handler) handleDownload(c echo.Context) error {
	rc, meta, err := h.store.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return blobError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, meta.FileName))
	c.Response().Header().Set("X-Content-SHA256", meta.Hash)
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *Handler) handleGetMetadata(c echo.Context) error {
	meta, err := h.store.GetMetadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		return blobError(c, err)
	}
	return c.JSON(http.StatusOK, meta)
}

func (h *Handler) handleListByPatient(c echo.Context) error {
	items, err := h.store.ListByPatient(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return blobError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// StatusFor maps a blob store error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrMissingFileName), errors.Is(err, ErrMissingPatient):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func blobError(c echo.Context, err error) error {
	return c.JSON(StatusFor(err), map[string]string{"error": err.Error()})
}
