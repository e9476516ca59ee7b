package exam

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/examreg/examreg/internal/platform/auth"
	"github.com/examreg/examreg/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "registrar"))
	read.GET("/exams", h.List)
	read.GET("/exams/:id", h.Get)

	write := api.Group("", auth.RequireRole("admin", "registrar"))
	write.POST("/exams", h.Register)
	write.PATCH("/exams/:id", h.Update)
	write.DELETE("/exams/:id", h.Delete)
}

type registerRequest struct {
	Name           string `json:"name"`
	Modality       string `json:"modality"`
	PatientID      string `json:"patient_id"`
	PerformedAt    string `json:"performed_at,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}

	var performed time.Time
	if req.PerformedAt != "" {
		performed, err = time.Parse(time.RFC3339, req.PerformedAt)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "performed_at must be RFC 3339")
		}
	}

	e, created, err := h.svc.Register(c.Request().Context(), RegisterInput{
		Name:           req.Name,
		Modality:       req.Modality,
		PatientID:      patientID,
		PerformedAt:    performed,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPatientNotFound):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrPatientInactive):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidInput):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	// A replay of a previously registered exam is 200, not 201.
	if !created {
		return c.JSON(http.StatusOK, e)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	if pid := c.QueryParam("patient_id"); pid != "" {
		patientID, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		exams, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(exams, total, pg.Limit, pg.Offset))
	}

	exams, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(exams, total, pg.Limit, pg.Offset))
}

type updateRequest struct {
	Name        *string `json:"name,omitempty"`
	Modality    *string `json:"modality,omitempty"`
	PatientID   *string `json:"patient_id,omitempty"`
	PerformedAt *string `json:"performed_at,omitempty"`
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	in := UpdateInput{
		Name:        req.Name,
		Modality:    req.Modality,
		PerformedAt: req.PerformedAt,
	}
	if req.PatientID != nil {
		patientID, err := uuid.Parse(*req.PatientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		in.PatientID = &patientID
	}

	e, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrPatientNotFound):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrPatientInactive):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidInput):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	msg, err := h.svc.Delete(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"message": msg})
}
