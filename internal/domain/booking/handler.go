package booking

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/therabook/therabook/internal/domain/availability"
	"github.com/therabook/therabook/internal/domain/ledger"
	"github.com/therabook/therabook/pkg/pagination"
)

// IdempotencyKeyHeader carries the client's booking idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/bookings", h.BookSlot)
	api.GET("/sessions/:id", h.GetSession)
	api.POST("/sessions/:id/cancel", h.CancelSession)
	api.PATCH("/sessions/:id/status", h.TransitionStatus)
	api.GET("/patients/:id/sessions", h.ListPatientSessions)
	api.GET("/therapists/:id/sessions", h.ListTherapistSessions)
}

func (h *Handler) BookSlot(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid request body")
	}
	req.IdempotencyKey = c.Request().Header.Get(IdempotencyKeyHeader)

	session, err := h.coord.BookSlot(c.Request().Context(), req)
	if err != nil {
		return mapBookingError(err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid session id")
	}
	session, err := h.coord.GetSession(c.Request().Context(), id)
	if err != nil {
		return mapBookingError(err)
	}
	return c.JSON(http.StatusOK, session)
}

type cancelRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Reason    string    `json:"reason"`
}

func (h *Handler) CancelSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid session id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid request body")
	}
	session, err := h.coord.CancelSession(c.Request().Context(), id, req.PatientID, req.Reason)
	if err != nil {
		return mapBookingError(err)
	}
	return c.JSON(http.StatusOK, session)
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *Handler) TransitionStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid session id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid request body")
	}
	session, err := h.coord.TransitionStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return mapBookingError(err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handler) ListPatientSessions(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid patient id")
	}
	params := pagination.FromContext(c)
	sessions, total, err := h.coord.ListPatientSessions(c.Request().Context(), patientID, c.QueryParam("status"), params)
	if err != nil {
		return mapBookingError(err)
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(sessions, total, params.Limit, params.Offset))
}

func (h *Handler) ListTherapistSessions(c echo.Context) error {
	therapistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid therapist id")
	}
	params := pagination.FromContext(c)
	sessions, total, err := h.coord.ListTherapistSessions(c.Request().Context(), therapistID, c.QueryParam("date"), params)
	if err != nil {
		return mapBookingError(err)
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(sessions, total, params.Limit, params.Offset))
}

func apiError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, echo.Map{"code": code, "message": message})
}

func mapBookingError(err error) error {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, availability.ErrInvalidDate),
		errors.Is(err, availability.ErrInvalidClock):
		return apiError(http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrTherapistNotFound),
		errors.Is(err, ErrPatientNotFound):
		return apiError(http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrSlotUnavailable):
		return apiError(http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return apiError(http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		return apiError(http.StatusConflict, "concurrency_conflict", "the slot was contested, please retry")
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotCancellable):
		return apiError(http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, ErrWrongPatient):
		return apiError(http.StatusForbidden, "forbidden", err.Error())
	}
	return apiError(http.StatusInternalServerError, "storage_failure", "internal server error")
}
