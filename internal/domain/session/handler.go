package session

import (
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medconsole/clinic/internal/domain/patientdata"
	"github.com/medconsole/clinic/internal/platform/audit"
	"github.com/medconsole/clinic/internal/platform/auth"
	"github.com/medconsole/clinic/internal/platform/blobstore"
	"github.com/medconsole/clinic/internal/platform/docstore"
	"github.com/medconsole/clinic/pkg/pagination"
)

// MaxMockPatients caps a single mock seeding request.
const MaxMockPatients = 50

type Handler struct {
	registry *Registry
	blobs    blobstore.Store
	// blobURLBase is prepended to blob download paths when a document
	// record is created from an upload, e.g. "/api/v1".
	blobURLBase string

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewHandler(registry *Registry, blobs blobstore.Store, blobURLBase string) *Handler {
	return &Handler{
		registry:    registry,
		blobs:       blobs,
		blobURLBase: strings.TrimRight(blobURLBase, "/"),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.StaffRoles...))
	staff.GET("/dashboard", h.GetDashboard)
	staff.POST("/refresh", h.Refresh)
	staff.DELETE("/session", h.EndSession)

	staff.GET("/patients", h.ListPatients)
	staff.POST("/patients", h.CreatePatient)
	staff.POST("/patients/mock", h.AddMockPatients)
	staff.PUT("/patients/:id", h.UpdatePatient)
	staff.PATCH("/patients/:id/status", h.UpdatePatientStatus)
	staff.PUT("/current-patient", h.SetCurrentPatient)

	staff.GET("/patients/:id/documents", h.GetPatientDocuments)
	staff.POST("/patients/:id/documents", h.AddDocument)
	staff.DELETE("/documents/:id", h.DeleteDocument)

	staff.GET("/patients/:id/prescriptions", h.GetPrescriptions)
	prescribers := api.Group("", auth.RequireRole(auth.RoleDoctor))
	prescribers.POST("/patients/:id/prescriptions", h.AddPrescription)
}

// state resolves the acting user's session.
func (h *Handler) state(c echo.Context) (*State, error) {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	return h.registry.Get(ctx, userID), nil
}

// -- Dashboard --

func (h *Handler) GetDashboard(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) Refresh(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	if err := s.Refresh(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) EndSession(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	h.registry.Evict(userID)
	return c.NoContent(http.StatusNoContent)
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	var patients []patientdata.Patient
	switch c.QueryParam("status") {
	case "":
		patients = s.Snapshot().Patients
	case "queued":
		patients = s.QueuedPatients()
	case "completed":
		patients = s.CompletedPatients()
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be queued or completed")
	}
	return c.JSON(http.StatusOK, pagination.Paginate(c, patients))
}

func (h *Handler) CreatePatient(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	var in patientdata.PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.LocationID == "" {
		in.LocationID = auth.LocationFromContext(c.Request().Context())
	}
	p, err := s.CreatePatient(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

// AddMockPatients inserts generated demo patients into the caller's session
// without writing them to the store.
func (h *Handler) AddMockPatients(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	count := 1
	if v := c.QueryParam("count"); v != "" {
		count, err = strconv.Atoi(v)
		if err != nil || count < 1 || count > MaxMockPatients {
			return echo.NewHTTPError(http.StatusBadRequest, "count must be between 1 and "+strconv.Itoa(MaxMockPatients))
		}
	}

	h.rngMu.Lock()
	mocks := patientdata.MockPatients(count, h.rng, auth.LocationFromContext(c.Request().Context()), time.Now())
	h.rngMu.Unlock()

	added := make([]patientdata.Patient, 0, len(mocks))
	for _, p := range mocks {
		added = append(added, s.AddPatient(p))
	}
	return c.JSON(http.StatusCreated, added)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	var u patientdata.PatientUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := s.UpdatePatient(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatientStatus(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	var body struct {
		Status patientdata.Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := s.UpdatePatientStatus(c.Request().Context(), c.Param("id"), body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// SetCurrentPatient selects the patient named in the body; an empty id
// clears the selection.
func (h *Handler) SetCurrentPatient(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	var body struct {
		PatientID string `json:"patient_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.PatientID == "" {
		s.SetCurrentPatient(nil)
		return c.NoContent(http.StatusNoContent)
	}
	p, ok := s.Patient(body.PatientID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	s.SetCurrentPatient(&p)
	return c.JSON(http.StatusOK, p)
}

// -- Documents --

func (h *Handler) GetPatientDocuments(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Paginate(c, s.GetPatientDocuments(c.Param("id"))))
}

// AddDocument accepts either a JSON document record or a multipart upload
// with a "file" part. Uploaded content goes to the blob store and the
// record points at its download URL.
func (h *Handler) AddDocument(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	patientID := c.Param("id")

	if !strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		var in patientdata.DocumentInput
		if err := c.Bind(&in); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.PatientID = patientID
		doc, err := s.AddDocumentToPatient(ctx, in)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusCreated, doc)
	}

	if h.blobs == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "file uploads are not configured")
	}
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	docType := patientdata.DocumentType(c.FormValue("document_type"))
	blob, err := h.blobs.Upload(ctx, blobstore.Metadata{
		FileName:     file.Filename,
		ContentType:  file.Header.Get(echo.HeaderContentType),
		PatientID:    patientID,
		DocumentType: string(docType),
		CreatedBy:    s.UserID(),
	}, src)
	if err != nil {
		return echo.NewHTTPError(blobstore.StatusFor(err), err.Error())
	}

	fileURL := h.blobURLBase + blobstore.DownloadPath(blob.ID)
	notes := c.FormValue("notes")
	doc, err := s.AddDocumentToPatient(ctx, patientdata.DocumentInput{
		PatientID:    patientID,
		FileName:     blob.FileName,
		FileType:     &blob.ContentType,
		FileSize:     &blob.Size,
		FileURL:      &fileURL,
		DocumentType: &docType,
		Notes:        &notes,
	})
	if err != nil {
		if derr := h.blobs.Delete(ctx, blob.ID); derr != nil {
			zerolog.Ctx(ctx).Warn().Err(derr).Str("blob_id", blob.ID).Msg("orphaned blob after failed document create")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) DeleteDocument(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	doc, known := s.Document(id)

	if err := s.DeletePatientDocument(ctx, id); err != nil {
		return httpError(err)
	}

	if blobID, ok := h.blobID(doc.FileURL); known && ok {
		if err := h.blobs.Delete(ctx, blobID); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("blob_id", blobID).Msg("failed to delete document content")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// blobID extracts the blob id from a download URL created by AddDocument.
func (h *Handler) blobID(fileURL string) (string, bool) {
	if h.blobs == nil {
		return "", false
	}
	prefix := h.blobURLBase + blobstore.DownloadPath("")
	id, ok := strings.CutPrefix(fileURL, prefix)
	return id, ok && id != ""
}

// -- Prescriptions --

func (h *Handler) GetPrescriptions(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Paginate(c, s.GetPrescriptionsForPatient(c.Param("id"))))
}

func (h *Handler) AddPrescription(c echo.Context) error {
	s, err := h.state(c)
	if err != nil {
		return err
	}
	var in patientdata.PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.PatientID = c.Param("id")
	if in.LocationID == "" {
		in.LocationID = auth.LocationFromContext(c.Request().Context())
	}
	rx, err := s.AddPrescription(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rx)
}

// httpError maps domain errors to HTTP responses.
func httpError(err error) *echo.HTTPError {
	var (
		auditErr *audit.Error
		writeErr *patientdata.WriteError
		fetchErr *patientdata.FetchError
	)
	switch {
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, docstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, patientdata.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, patientdata.ErrInvalidPatient),
		errors.Is(err, patientdata.ErrInvalidStatus),
		errors.Is(err, patientdata.ErrPatientIDRequired),
		errors.Is(err, patientdata.ErrFileNameRequired),
		errors.Is(err, docstore.ErrUndefinedField):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &auditErr):
		return echo.NewHTTPError(http.StatusInternalServerError, "audit log unavailable").SetInternal(err)
	case errors.As(err, &writeErr), errors.As(err, &fetchErr):
		return echo.NewHTTPError(http.StatusBadGateway, "patient data store unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}
}
