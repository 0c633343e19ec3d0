package patient

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wardsync/wardsync/internal/platform/auth"
	"github.com/wardsync/wardsync/internal/platform/store"
)

// View is the read side the handlers serve from: the sync engine's live,
// sorted snapshot.
type View interface {
	RecordSource
	Snapshot() ([]*PatientRecord, error)
	FilteredView(status Status, term string) ([]*PatientRecord, error)
}

// Handler exposes the census intents over HTTP. All reads go through the
// sync engine's snapshot; all writes round-trip through the service and
// come back on the change feed.
type Handler struct {
	svc  *Service
	view View
}

func NewHandler(svc *Service, view View) *Handler {
	return &Handler{svc: svc, view: view}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("doctor", "nurse", "admin"))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/roster.csv", h.ExportRoster)

	write := api.Group("", auth.RequireRole("doctor", "admin"))
	write.POST("/patients", h.AdmitPatient)
	write.PUT("/patients/:id", h.EditPatient)
	write.POST("/patients/:id/discharge", h.DischargePatient)
	write.POST("/patients/:id/notes", h.AddNote)
}

// ListPatients returns the filtered census view. status defaults to the
// active (hospitalized) roster; q is the case-insensitive search term.
func (h *Handler) ListPatients(c echo.Context) error {
	status := Status(c.QueryParam("status"))
	if status == "" {
		status = StatusHospitalized
	}
	if status != StatusHospitalized && status != StatusDischarged {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be hospitalized or discharged")
	}
	records, err := h.view.FilteredView(status, c.QueryParam("q"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) GetPatient(c echo.Context) error {
	rec, ok := h.view.Lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) AdmitPatient(c echo.Context) error {
	id, ok := auth.CurrentIdentity(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no identity")
	}
	var in AdmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Admit(c.Request().Context(), id.FullName, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) EditPatient(c echo.Context) error {
	var in AdmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.EditDemographics(c.Request().Context(), c.Param("id"), in); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DischargePatient(c echo.Context) error {
	id, ok := auth.CurrentIdentity(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no identity")
	}
	if err := h.svc.Discharge(c.Request().Context(), c.Param("id"), id.FullName); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type addNoteRequest struct {
	Content string   `json:"content"`
	Type    NoteType `json:"type"`
}

func (h *Handler) AddNote(c echo.Context) error {
	id, ok := auth.CurrentIdentity(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no identity")
	}
	var req addNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	note, err := h.svc.AppendNote(c.Request().Context(), c.Param("id"), req.Content, id.FullName, req.Type)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, note)
}

// ExportRoster streams the active census as CSV.
func (h *Handler) ExportRoster(c echo.Context) error {
	records, err := h.view.Snapshot()
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="roster_`+time.Now().UTC().Format("2006-01-02")+`.csv"`)
	c.Response().WriteHeader(http.StatusOK)
	return WriteRosterCSV(c.Response(), records, time.Now().UTC())
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
