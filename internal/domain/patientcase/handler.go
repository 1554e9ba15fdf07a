package patientcase

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/PatientCase", h.ListCases)
	api.GET("/PatientCase/:id", h.GetCase)
	api.POST("/PatientCase", h.CreateCase)

	api.POST("/PatientCase/:id/vitals", h.SubmitVitals,
		auth.RequireCapability(caseflow.CapEditVitals))
	api.POST("/PatientCase/:id/report", h.SubmitReport,
		auth.RequireCapability(caseflow.CapEditReport))
	api.PATCH("/PatientCase/:id/status", h.AdvanceStatus,
		auth.RequireCapability(caseflow.CapEditReport))
}

func (h *Handler) ListCases(c echo.Context) error {
	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	// The status filter is optional; an absent param lists every case.
	var status caseflow.Status
	if raw := c.QueryParam("status"); raw != "" {
		status, err = caseflow.ParseStatus(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	cases, err := h.svc.ListCases(c.Request().Context(), clinicID, status)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, cases)
}

func (h *Handler) GetCase(c echo.Context) error {
	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	detail, err := h.svc.GetCase(c.Request().Context(), clinicID, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) CreateCase(c echo.Context) error {
	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	var body struct {
		PatientID string `json:"patientId"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(body.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
	}
	detail, err := h.svc.CreateCase(c.Request().Context(), clinicID, patientID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, detail)
}

func (h *Handler) SubmitVitals(c echo.Context) error {
	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var vitals caseflow.Vitals
	if err := c.Bind(&vitals); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	merged, err := h.svc.SubmitVitals(c.Request().Context(), clinicID, id, vitals)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, merged)
}

func (h *Handler) SubmitReport(c echo.Context) error {
	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var report caseflow.Report
	if err := c.Bind(&report); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := h.svc.SubmitReport(c.Request().Context(), clinicID, id, report)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) AdvanceStatus(c echo.Context) error {
	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	target, err := caseflow.ParseStatus(c.QueryParam("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	status, err := h.svc.AdvanceStatus(c.Request().Context(), clinicID, id, target)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(status)})
}

func clinicFromContext(c echo.Context) (uuid.UUID, error) {
	clinicID, err := uuid.Parse(auth.ClinicIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no clinic scope")
	}
	return clinicID, nil
}

// toHTTPError maps workflow errors onto status codes. Validation failures
// are 400, workflow conflicts 409, unknown cases 404.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, caseflow.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	case errors.Is(err, caseflow.ErrCaseFinished):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case caseflow.IsInvalidTransition(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case caseflow.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
