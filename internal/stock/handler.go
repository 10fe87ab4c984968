package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/marquee-ops/inventory-engine/internal/platform/httpx"
)

// Handler exposes read access to stock records and safety stock maintenance.
type Handler struct {
	logger    *slog.Logger
	store     Store
	validator *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, store Store) *Handler {
	return &Handler{logger: logger, store: store, validator: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/{skuId}/{locationId}", h.handleGet)
	r.Get("/stock/locations/{locationId}", h.handleListByLocation)
	r.Put("/stock/{skuId}/{locationId}/safety-stock", h.handleSetSafetyStock)
}

type recordResponse struct {
	SKUID       string    `json:"skuId"`
	LocationID  string    `json:"locationId"`
	OnHand      int64     `json:"onHand"`
	Reserved    int64     `json:"reserved"`
	InTransit   int64     `json:"inTransit"`
	Available   int64     `json:"available"`
	SafetyStock int64     `json:"safetyStock"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toRecordResponse(rec Record) recordResponse {
	return recordResponse{
		SKUID:       rec.SKUID,
		LocationID:  rec.LocationID,
		OnHand:      rec.OnHand,
		Reserved:    rec.Reserved,
		InTransit:   rec.InTransit,
		Available:   rec.Available(),
		SafetyStock: rec.SafetyStock,
		Version:     rec.Version,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := Key{SKUID: chi.URLParam(r, "skuId"), LocationID: chi.URLParam(r, "locationId")}
	rec, err := h.store.Get(r.Context(), key)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleListByLocation(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListByLocation(r.Context(), chi.URLParam(r, "locationId"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type safetyStockRequest struct {
	Quantity int64 `json:"quantity" validate:"gte=0"`
}

func (h *Handler) handleSetSafetyStock(w http.ResponseWriter, r *http.Request) {
	key := Key{SKUID: chi.URLParam(r, "skuId"), LocationID: chi.URLParam(r, "locationId")}
	var req safetyStockRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	if err := h.store.SetSafetyStock(r.Context(), key, req.Quantity); err != nil {
		h.respondErr(w, r, err)
		return
	}
	rec, err := h.store.Get(r.Context(), key)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrVersionConflict) {
		httpx.RetryableConflict(w, err.Error())
		return
	}
	h.logger.Error("stock request failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
