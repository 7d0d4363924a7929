package ledger

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/therabook/therabook/internal/platform/auth"
	"github.com/therabook/therabook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/credits", h.GetBalance)
	api.GET("/patients/:id/credits/history", h.GetHistory)
	api.POST("/patients/:id/credits", h.AddCredits, auth.RequireRole("admin"))
}

func (h *Handler) GetBalance(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	balance, err := h.svc.Balance(c.Request().Context(), patientID)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"patient_id": patientID,
		"balance":    balance,
	})
}

func (h *Handler) GetHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	params := pagination.FromContext(c)
	entries, total, err := h.svc.History(c.Request().Context(), patientID, params)
	if err != nil {
		return mapLedgerError(err)
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, params.Limit, params.Offset))
}

type addCreditsRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

func (h *Handler) AddCredits(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req addCreditsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	entry, err := h.svc.Credit(c.Request().Context(), patientID, req.Amount, req.Reason)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidReason):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientCredits):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
