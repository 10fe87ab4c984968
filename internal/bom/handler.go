package bom

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marquee-ops/inventory-engine/internal/platform/httpx"
)

// Handler exposes read access to recipe expansion. Lines are mirrored from
// the catalog service and maintained there, so there is no write surface.
type Handler struct {
	logger   *slog.Logger
	catalog  Catalog
	expander *Expander
}

// NewHandler constructs the bom handler.
func NewHandler(logger *slog.Logger, catalog Catalog, expander *Expander) *Handler {
	return &Handler{logger: logger, catalog: catalog, expander: expander}
}

// MountRoutes registers bom routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bom/{skuId}", h.handleLines)
	r.Get("/bom/{skuId}/expand", h.handleExpand)
}

type linePayload struct {
	ComponentSKUID string `json:"componentSkuId"`
	QtyPerUnit     int64  `json:"qtyPerUnit"`
	Unit           string `json:"unit,omitempty"`
}

func (h *Handler) handleLines(w http.ResponseWriter, r *http.Request) {
	skuID := chi.URLParam(r, "skuId")
	lines, err := h.catalog.Lines(r.Context(), skuID)
	if err != nil {
		h.logger.Error("bom lines lookup failed", slog.String("sku_id", skuID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]linePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, linePayload{ComponentSKUID: line.ComponentSKUID, QtyPerUnit: line.QtyPerUnit, Unit: line.Unit})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type requirementPayload struct {
	SKUID string `json:"skuId"`
	Qty   int64  `json:"qty"`
}

// handleExpand previews the component requirements for selling qty units
// without touching stock.
func (h *Handler) handleExpand(w http.ResponseWriter, r *http.Request) {
	skuID := chi.URLParam(r, "skuId")
	qty := int64(1)
	if raw := r.URL.Query().Get("qty"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty must be an integer")
			return
		}
		qty = parsed
	}
	reqs, err := h.expander.Expand(r.Context(), skuID, qty)
	if err != nil {
		var cycle *CycleError
		switch {
		case errors.Is(err, ErrInvalidQuantity):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		case errors.As(err, &cycle):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Recipe Cycle", cycle.Error())
		default:
			h.logger.Error("bom expand failed", slog.String("sku_id", skuID), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	out := make([]requirementPayload, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, requirementPayload{SKUID: req.SKUID, Qty: req.Qty})
	}
	httpx.JSON(w, http.StatusOK, out)
}
