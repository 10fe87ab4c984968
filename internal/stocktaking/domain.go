package stocktaking

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PlanStatus enumerates the stocktaking plan lifecycle.
type PlanStatus string

const (
	// PlanOpen accepts counts.
	PlanOpen PlanStatus = "OPEN"
	// PlanCompleted is terminal; the plan produced its adjustments.
	PlanCompleted PlanStatus = "COMPLETED"
)

// Line pairs the baseline system quantity with the physical count for one SKU.
type Line struct {
	SKUID          string
	SystemQuantity int64
	ActualQuantity *int64
	Reason         string
	CountedBy      string
	CountedAt      *time.Time
}

// Variance is counted minus system; zero until the line is counted.
func (l Line) Variance() int64 {
	if l.ActualQuantity == nil {
		return 0
	}
	return *l.ActualQuantity - l.SystemQuantity
}

// Plan is one stocktaking run at a location. The baseline is captured once at
// start and never refreshed: live stock changes must not retroactively alter
// an open plan.
type Plan struct {
	ID          uuid.UUID
	LocationID  string
	Status      PlanStatus
	CreatedBy   string
	CreatedAt   time.Time
	SubmittedAt *time.Time
	Lines       []Line
}

// AdjustmentRouting selects how variance adjustments are finalized.
type AdjustmentRouting string

const (
	// RouteAutoApprove applies variance adjustments immediately under the
	// engine's system actor.
	RouteAutoApprove AdjustmentRouting = "AUTO_APPROVE"
	// RouteRequireApproval parks variance adjustments in PendingApproval.
	RouteRequireApproval AdjustmentRouting = "REQUIRE_APPROVAL"
)

var (
	// ErrPlanNotFound indicates no plan exists for the id.
	ErrPlanNotFound = errors.New("stocktaking: plan not found")
	// ErrPlanAlreadySubmitted indicates a second submission of a completed plan.
	ErrPlanAlreadySubmitted = errors.New("stocktaking: plan already submitted")
	// ErrReasonRequired indicates a non-zero variance counted without a reason.
	ErrReasonRequired = errors.New("stocktaking: reason required for non-zero variance")
	// ErrNegativeCount indicates a negative counted quantity.
	ErrNegativeCount = errors.New("stocktaking: counted quantity cannot be negative")
)
