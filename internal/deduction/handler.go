package deduction

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/marquee-ops/inventory-engine/internal/bom"
	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/platform/httpx"
	"github.com/marquee-ops/inventory-engine/internal/shared"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// Handler wires the sale deduction endpoint.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	validator   *validator.Validate
}

// NewHandler constructs the deduction handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator) *Handler {
	return &Handler{logger: logger, coordinator: coordinator, validator: validator.New()}
}

// MountRoutes registers deduction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deduct", h.handleDeduct)
}

type saleLineRequest struct {
	SKUID      string `json:"skuId" validate:"required"`
	LocationID string `json:"locationId" validate:"required"`
	Qty        int64  `json:"qty" validate:"required,gt=0"`
}

type deductRequest struct {
	OrderID    string            `json:"orderId" validate:"required"`
	OperatorID string            `json:"operatorId" validate:"required"`
	Lines      []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type entryResponse struct {
	ID            string `json:"id"`
	SKUID         string `json:"skuId"`
	LocationID    string `json:"locationId"`
	Type          string `json:"type"`
	QuantityDelta int64  `json:"quantityDelta"`
}

func (h *Handler) handleDeduct(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	lines := make([]SaleLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, SaleLine{SKUID: line.SKUID, LocationID: line.LocationID, Qty: line.Qty})
	}
	entries, err := h.coordinator.Deduct(r.Context(), req.OrderID, req.OperatorID, lines)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entryResponse{
			ID:            entry.ID.String(),
			SKUID:         entry.SKUID,
			LocationID:    entry.LocationID,
			Type:          string(entry.Type),
			QuantityDelta: entry.QuantityDelta,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orderId": req.OrderID,
		"entries": out,
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *InsufficientComponentError
	var cycle *bom.CycleError
	switch {
	case errors.As(err, &cycle):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Recipe Cycle", cycle.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Order", err.Error())
	case errors.Is(err, ErrInvalidLine), errors.Is(err, bom.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, stock.ErrVersionConflict):
		httpx.RetryableConflict(w, err.Error())
	case errors.Is(err, ledger.ErrKeyQuarantined):
		httpx.Problem(w, http.StatusConflict, "Key Quarantined", err.Error())
	default:
		h.logger.Error("deduction request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
