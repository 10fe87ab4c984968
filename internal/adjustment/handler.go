package adjustment

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

// Handler wires HTTP endpoints for the adjustment workflow.
type Handler struct {
	logger    *slog.Logger
	workflow  *Workflow
	validator *validator.Validate
}

// NewHandler constructs the adjustment handler.
func NewHandler(logger *slog.Logger, workflow *Workflow) *Handler {
	return &Handler{logger: logger, workflow: workflow, validator: validator.New()}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjustments", h.handlePropose)
	r.Get("/adjustments/{id}", h.handleGet)
	r.Post("/adjustments/{id}/approve", h.handleApprove)
	r.Post("/adjustments/{id}/reject", h.handleReject)
}

type proposeRequest struct {
	SKUID       string `json:"skuId" validate:"required"`
	LocationID  string `json:"locationId" validate:"required"`
	Kind        string `json:"kind" validate:"required,oneof=INCREASE DECREASE"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Reason      string `json:"reason" validate:"required"`
	RequestedBy string `json:"requestedBy" validate:"required"`
}

type orderResponse struct {
	ID            string     `json:"id"`
	SKUID         string     `json:"skuId"`
	LocationID    string     `json:"locationId"`
	Kind          string     `json:"kind"`
	Quantity      int64      `json:"quantity"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	RequestedBy   string     `json:"requestedBy"`
	ApprovedBy    string     `json:"approvedBy,omitempty"`
	RejectComment string     `json:"rejectComment,omitempty"`
	LedgerEntryID string     `json:"ledgerEntryId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	DecidedAt     *time.Time `json:"decidedAt,omitempty"`
}

func toOrderResponse(order Order) orderResponse {
	out := orderResponse{
		ID:            order.ID.String(),
		SKUID:         order.SKUID,
		LocationID:    order.LocationID,
		Kind:          string(order.Kind),
		Quantity:      order.Quantity,
		Reason:        order.Reason,
		Status:        string(order.Status),
		RequestedBy:   order.RequestedBy,
		ApprovedBy:    order.ApprovedBy,
		RejectComment: order.RejectComment,
		CreatedAt:     order.CreatedAt,
		DecidedAt:     order.DecidedAt,
	}
	if order.LedgerEntryID != uuid.Nil {
		out.LedgerEntryID = order.LedgerEntryID.String()
	}
	return out
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	order, err := h.workflow.Propose(r.Context(), ProposeInput{
		SKUID:       req.SKUID,
		LocationID:  req.LocationID,
		Kind:        Kind(req.Kind),
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	order, err := h.workflow.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

type decisionRequest struct {
	ApproverID string `json:"approverId" validate:"required"`
	Comment    string `json:"comment"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	order, err := h.workflow.Approve(r.Context(), id, req.ApproverID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !httpx.DecodeValid(h.validator, w, r, &req) {
		return
	}
	order, err := h.workflow.Reject(r.Context(), id, req.ApproverID, req.Comment)
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
	case errors.Is(err, ErrSelfApproval):
		httpx.Problem(w, http.StatusConflict, "Self Approval", err.Error())
	case errors.As(err, &transitionErr), errors.Is(err, ErrStaleStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrReasonRequired), errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, stock.ErrVersionConflict):
		httpx.RetryableConflict(w, err.Error())
	case errors.Is(err, stock.ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	default:
		h.logger.Error("adjustment request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
