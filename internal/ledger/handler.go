package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marquee-ops/inventory-engine/internal/platform/httpx"
	"github.com/marquee-ops/inventory-engine/internal/shared"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// Handler exposes the movement history and on-demand integrity checks.
type Handler struct {
	logger   *slog.Logger
	log      Log
	recorder *Recorder
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, log Log, recorder *Recorder) *Handler {
	return &Handler{logger: logger, log: log, recorder: recorder}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledger/{skuId}/{locationId}", h.handleEntries)
	r.Post("/ledger/{skuId}/{locationId}/verify", h.handleVerify)
}

type snapshotPayload struct {
	OnHand    int64 `json:"onHand"`
	Reserved  int64 `json:"reserved"`
	InTransit int64 `json:"inTransit"`
}

type entryPayload struct {
	ID               string          `json:"id"`
	Seq              int64           `json:"seq"`
	SKUID            string          `json:"skuId"`
	LocationID       string          `json:"locationId"`
	Type             string          `json:"type"`
	QuantityDelta    int64           `json:"quantityDelta"`
	Before           snapshotPayload `json:"before"`
	After            snapshotPayload `json:"after"`
	SourceType       string          `json:"sourceType"`
	SourceDocumentID string          `json:"sourceDocumentId"`
	OperatorID       string          `json:"operatorId"`
	OccurredAt       time.Time       `json:"occurredAt"`
	Remarks          string          `json:"remarks,omitempty"`
}

func toEntryPayload(entry Entry) entryPayload {
	return entryPayload{
		ID:               entry.ID.String(),
		Seq:              entry.Seq,
		SKUID:            entry.SKUID,
		LocationID:       entry.LocationID,
		Type:             string(entry.Type),
		QuantityDelta:    entry.QuantityDelta,
		Before:           snapshotPayload{OnHand: entry.Before.OnHand, Reserved: entry.Before.Reserved, InTransit: entry.Before.InTransit},
		After:            snapshotPayload{OnHand: entry.After.OnHand, Reserved: entry.After.Reserved, InTransit: entry.After.InTransit},
		SourceType:       string(entry.SourceType),
		SourceDocumentID: entry.SourceDocumentID,
		OperatorID:       entry.OperatorID,
		OccurredAt:       entry.OccurredAt,
		Remarks:          entry.Remarks,
	}
}

// handleEntries returns the movement history for one SKU at one location,
// optionally bounded by from/to query parameters in RFC3339.
func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	skuID := chi.URLParam(r, "skuId")
	locationID := chi.URLParam(r, "locationId")
	var from, to time.Time
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return
		}
		from = parsed
	}
	if raw := q.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return
		}
		to = parsed
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))

	entries, err := h.log.Entries(r.Context(), skuID, locationID, from, to)
	if err != nil {
		h.logger.Error("ledger query failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	pagination := shared.NewPagination(page, perPage, len(entries))
	start, end := pagination.Bounds()
	out := make([]entryPayload, 0, end-start)
	for _, entry := range entries[start:end] {
		out = append(out, toEntryPayload(entry))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"pagination": map[string]int{
			"page":       pagination.Page,
			"perPage":    pagination.PerPage,
			"total":      pagination.Total,
			"totalPages": pagination.TotalPages,
		},
	})
}

// handleVerify replays the key's history against the live record.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	key := stock.Key{SKUID: chi.URLParam(r, "skuId"), LocationID: chi.URLParam(r, "locationId")}
	err := h.recorder.VerifyKey(r.Context(), key)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]any{"key": key.String(), "consistent": true})
	case errors.Is(err, ErrReplayMismatch):
		httpx.JSON(w, http.StatusConflict, map[string]any{"key": key.String(), "consistent": false})
	default:
		h.logger.Error("ledger verify failed",
			slog.String("key", key.String()),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
