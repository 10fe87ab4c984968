package reservation

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/marquee-ops/inventory-engine/internal/platform/httpx"
	"github.com/marquee-ops/inventory-engine/internal/shared"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// Handler wires HTTP endpoints for reservations.
type Handler struct {
	logger    *slog.Logger
	manager   *Manager
	validator *validator.Validate
}

// NewHandler constructs the reservation handler.
func NewHandler(logger *slog.Logger, manager *Manager) *Handler {
	return &Handler{logger: logger, manager: manager, validator: validator.New()}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/reserve", h.handleReserve)
	r.Post("/fulfill", h.handleFulfill)
	r.Post("/release", h.handleRelease)
}

type reserveRequest struct {
	OrderID    string `json:"orderId" validate:"required"`
	SKUID      string `json:"skuId" validate:"required"`
	LocationID string `json:"locationId" validate:"required"`
	Qty        int64  `json:"qty" validate:"required,gt=0"`
	OperatorID string `json:"operatorId" validate:"required"`
}

type reservationResponse struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"orderId"`
	SKUID      string     `json:"skuId"`
	LocationID string     `json:"locationId"`
	Qty        int64      `json:"qty"`
	Status     string     `json:"status"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}

func toReservationResponse(res Reservation) reservationResponse {
	return reservationResponse{
		ID:         res.ID.String(),
		OrderID:    res.OrderID,
		SKUID:      res.SKUID,
		LocationID: res.LocationID,
		Qty:        res.Qty,
		Status:     string(res.Status),
		ExpiresAt:  res.ExpiresAt,
		ClosedAt:   res.ClosedAt,
	}
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	res, err := h.manager.Hold(r.Context(), HoldInput{
		OrderID:    req.OrderID,
		SKUID:      req.SKUID,
		LocationID: req.LocationID,
		Qty:        req.Qty,
		OperatorID: req.OperatorID,
	})
	if err != nil {
		h.respondErr(w, r, "reserve", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReservationResponse(res))
}

type orderRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	entry, err := h.manager.Fulfill(r.Context(), req.OrderID)
	if err != nil {
		h.respondErr(w, r, "fulfill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orderId":       req.OrderID,
		"ledgerEntryId": entry.ID.String(),
	})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	released, err := h.manager.Release(r.Context(), req.OrderID)
	if err != nil {
		h.respondErr(w, r, "release", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orderId":  req.OrderID,
		"released": released,
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrDuplicateOrder), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Order", err.Error())
	case errors.Is(err, ErrNotHeld):
		httpx.Problem(w, http.StatusConflict, "Not Held", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, stock.ErrVersionConflict):
		httpx.RetryableConflict(w, err.Error())
	default:
		h.logger.Error("reservation request failed",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
