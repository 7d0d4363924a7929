package availability

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/therabook/therabook/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/therapists/:id/availability", h.GenerateAvailability)

	therapist := api.Group("", auth.RequireRole("therapist"))
	therapist.GET("/therapists/:id/templates", h.ListTemplates)
	therapist.POST("/therapists/:id/templates", h.CreateTemplate)
	therapist.PUT("/templates/:id", h.UpdateTemplate)
	therapist.DELETE("/templates/:id", h.DeactivateTemplate)
	therapist.GET("/therapists/:id/overrides", h.ListOverrides)
	therapist.PUT("/therapists/:id/overrides/:date", h.PutOverride)
	therapist.DELETE("/therapists/:id/overrides/:date", h.DeleteOverride)
}

func (h *Handler) GenerateAvailability(c echo.Context) error {
	therapistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid therapist id")
	}
	start := c.QueryParam("start")
	end := c.QueryParam("end")
	if start == "" || end == "" {
		return apiError(http.StatusBadRequest, "validation_error", "start and end query parameters are required")
	}

	slots, filtered, err := h.svc.GenerateAvailability(c.Request().Context(), therapistID, start, end)
	if err != nil {
		return mapAvailabilityError(err)
	}
	if slots == nil {
		slots = []Slot{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"therapist_id": therapistID,
		"start":        start,
		"end":          end,
		"filtered":     filtered,
		"slots":        slots,
	})
}

func (h *Handler) ListTemplates(c echo.Context) error {
	therapistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid therapist id")
	}
	includeInactive := c.QueryParam("include_inactive") == "true"
	templates, err := h.svc.ListTemplates(c.Request().Context(), therapistID, includeInactive)
	if err != nil {
		return mapAvailabilityError(err)
	}
	if templates == nil {
		templates = []*Template{}
	}
	return c.JSON(http.StatusOK, templates)
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	therapistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid therapist id")
	}
	var t Template
	if err := c.Bind(&t); err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid request body")
	}
	t.TherapistID = therapistID
	if err := h.svc.CreateTemplate(c.Request().Context(), &t); err != nil {
		return mapAvailabilityError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid template id")
	}
	var t Template
	if err := c.Bind(&t); err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid request body")
	}
	t.ID = id
	if err := h.svc.UpdateTemplate(c.Request().Context(), &t); err != nil {
		return mapAvailabilityError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeactivateTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid template id")
	}
	if err := h.svc.DeactivateTemplate(c.Request().Context(), id); err != nil {
		return mapAvailabilityError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListOverrides(c echo.Context) error {
	therapistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid therapist id")
	}
	start := c.QueryParam("start")
	end := c.QueryParam("end")
	if start == "" || end == "" {
		return apiError(http.StatusBadRequest, "validation_error", "start and end query parameters are required")
	}
	overrides, err := h.svc.ListOverrides(c.Request().Context(), therapistID, start, end)
	if err != nil {
		return mapAvailabilityError(err)
	}
	if overrides == nil {
		overrides = []*Override{}
	}
	return c.JSON(http.StatusOK, overrides)
}

func (h *Handler) PutOverride(c echo.Context) error {
	therapistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid therapist id")
	}
	var o Override
	if err := c.Bind(&o); err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid request body")
	}
	o.TherapistID = therapistID
	o.Date = c.Param("date")
	if err := h.svc.PutOverride(c.Request().Context(), &o); err != nil {
		return mapAvailabilityError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteOverride(c echo.Context) error {
	therapistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid therapist id")
	}
	if err := h.svc.DeleteOverride(c.Request().Context(), therapistID, c.Param("date")); err != nil {
		return mapAvailabilityError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func apiError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, echo.Map{"code": code, "message": message})
}

func mapAvailabilityError(err error) error {
	switch {
	case errors.Is(err, ErrTherapistNotFound),
		errors.Is(err, ErrTemplateNotFound),
		errors.Is(err, ErrOverrideNotFound):
		return apiError(http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidClock),
		errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrValidation):
		return apiError(http.StatusBadRequest, "validation_error", err.Error())
	}
	return apiError(http.StatusInternalServerError, "storage_failure", "internal server error")
}
