package stocktaking

import (
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

// Handler wires HTTP endpoints for stocktaking plans.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs the stocktaking handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers stocktaking routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stocktaking", h.handleStart)
	r.Get("/stocktaking/{planId}", h.handleGet)
	r.Post("/stocktaking/{planId}/counts", h.handleCount)
	r.Post("/stocktaking/{planId}/submit", h.handleSubmit)
}

type startRequest struct {
	LocationID string   `json:"locationId" validate:"required"`
	SKUIDs     []string `json:"skuIds"`
	OperatorID string   `json:"operatorId" validate:"required"`
}

type lineResponse struct {
	SKUID          string     `json:"skuId"`
	SystemQuantity int64      `json:"systemQuantity"`
	ActualQuantity *int64     `json:"actualQuantity,omitempty"`
	Variance       int64      `json:"variance"`
	Reason         string     `json:"reason,omitempty"`
	CountedBy      string     `json:"countedBy,omitempty"`
	CountedAt      *time.Time `json:"countedAt,omitempty"`
}

type planResponse struct {
	ID          string         `json:"id"`
	LocationID  string         `json:"locationId"`
	Status      string         `json:"status"`
	CreatedBy   string         `json:"createdBy"`
	CreatedAt   time.Time      `json:"createdAt"`
	SubmittedAt *time.Time     `json:"submittedAt,omitempty"`
	Lines       []lineResponse `json:"lines"`
}

func toLineResponse(line Line) lineResponse {
	return lineResponse{
		SKUID:          line.SKUID,
		SystemQuantity: line.SystemQuantity,
		ActualQuantity: line.ActualQuantity,
		Variance:       line.Variance(),
		Reason:         line.Reason,
		CountedBy:      line.CountedBy,
		CountedAt:      line.CountedAt,
	}
}

func toPlanResponse(plan Plan) planResponse {
	out := planResponse{
		ID:          plan.ID.String(),
		LocationID:  plan.LocationID,
		Status:      string(plan.Status),
		CreatedBy:   plan.CreatedBy,
		CreatedAt:   plan.CreatedAt,
		SubmittedAt: plan.SubmittedAt,
		Lines:       make([]lineResponse, 0, len(plan.Lines)),
	}
	for _, line := range plan.Lines {
		out.Lines = append(out.Lines, toLineResponse(line))
	}
	return out
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	plan, err := h.engine.StartPlan(r.Context(), req.LocationID, req.SKUIDs, req.OperatorID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPlanResponse(plan))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parsePlanID(w, r)
	if !ok {
		return
	}
	plan, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPlanResponse(plan))
}

type countRequest struct {
	SKUID     string `json:"skuId" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gte=0"`
	Reason    string `json:"reason"`
	CountedBy string `json:"countedBy" validate:"required"`
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parsePlanID(w, r)
	if !ok {
		return
	}
	var req countRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	line, err := h.engine.RecordCount(r.Context(), id, CountInput{
		SKUID:     req.SKUID,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		CountedBy: req.CountedBy,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLineResponse(line))
}

type submitRequest struct {
	OperatorID string `json:"operatorId" validate:"required"`
}

type varianceResponse struct {
	SKUID        string `json:"skuId"`
	Variance     int64  `json:"variance"`
	AdjustmentID string `json:"adjustmentId"`
	Status       string `json:"status"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parsePlanID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	results, err := h.engine.Submit(r.Context(), id, req.OperatorID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]varianceResponse, 0, len(results))
	for _, res := range results {
		out = append(out, varianceResponse{
			SKUID:        res.SKUID,
			Variance:     res.Variance,
			AdjustmentID: res.Adjustment.ID.String(),
			Status:       string(res.Adjustment.Status),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"planId":      id.String(),
		"adjustments": out,
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrPlanAlreadySubmitted):
		httpx.Problem(w, http.StatusConflict, "Plan Already Submitted", err.Error())
	case errors.Is(err, ErrReasonRequired), errors.Is(err, ErrNegativeCount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, stock.ErrVersionConflict):
		httpx.RetryableConflict(w, err.Error())
	default:
		h.logger.Error("stocktaking request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) parsePlanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "planId"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "planId must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
