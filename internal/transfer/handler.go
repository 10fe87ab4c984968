package transfer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/marquee-ops/inventory-engine/internal/platform/httpx"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// Handler wires HTTP endpoints for transfer orders.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	validator   *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator) *Handler {
	return &Handler{logger: logger, coordinator: coordinator, validator: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transfers", h.handleCreate)
	r.Get("/transfers/{id}", h.handleGet)
	r.Post("/transfers/{id}/dispatch", h.handleDispatch)
	r.Post("/transfers/{id}/receive", h.handleReceive)
	r.Post("/transfers/{id}/cancel", h.handleCancel)
}

type createRequest struct {
	SKUID          string `json:"skuId" validate:"required"`
	FromLocationID string `json:"fromLocationId" validate:"required"`
	ToLocationID   string `json:"toLocationId" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	OperatorID     string `json:"operatorId" validate:"required"`
}

type orderResponse struct {
	ID             string     `json:"id"`
	SKUID          string     `json:"skuId"`
	FromLocationID string     `json:"fromLocationId"`
	ToLocationID   string     `json:"toLocationId"`
	Quantity       int64      `json:"quantity"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	DispatchedAt   *time.Time `json:"dispatchedAt,omitempty"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
}

func toOrderResponse(order Order) orderResponse {
	return orderResponse{
		ID:             order.ID.String(),
		SKUID:          order.SKUID,
		FromLocationID: order.FromLocationID,
		ToLocationID:   order.ToLocationID,
		Quantity:       order.Quantity,
		Status:         string(order.Status),
		CreatedAt:      order.CreatedAt,
		DispatchedAt:   order.DispatchedAt,
		ClosedAt:       order.ClosedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	order, err := h.coordinator.Create(r.Context(), CreateInput{
		SKUID:          req.SKUID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		OperatorID:     req.OperatorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	order, err := h.coordinator.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

type actionRequest struct {
	OperatorID string `json:"operatorId" validate:"required"`
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.coordinator.Dispatch)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.coordinator.Receive)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.coordinator.Cancel)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, string) (Order, error)) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	order, err := fn(r.Context(), id, req.OperatorID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var transitionErr *TransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &transitionErr), errors.Is(err, ErrStaleStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrSameLocation), errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, stock.ErrNegativeStock), errors.Is(err, stock.ErrNegativeInTransit):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, stock.ErrVersionConflict):
		httpx.RetryableConflict(w, err.Error())
	default:
		h.logger.Error("transfer request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
