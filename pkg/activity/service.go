package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/rolegate"
)

// Action types recorded by the workflow.
const (
	ActionStageUpdated     = "stage_updated"
	ActionReportUploaded   = "report_uploaded"
	ActionDietChartSaved   = "diet_chart_saved"
	ActionPaymentCompleted = "payment_completed"
	ActionPaymentFailed    = "payment_failed"
	ActionMealPrepared     = "meal_prepared"
	ActionDeliveryUpdated  = "delivery_updated"
	ActionReportArchived   = "report_archived"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Service struct {
	repo *Repository
	now  func() time.Time
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Entry describes one staff action about to be logged.
type Entry struct {
	Actor       models.Actor
	CustomerID  *uuid.UUID
	Action      string
	Stage       *int
	Description string
	Metadata    map[string]interface{}
}

func (s *Service) Record(ctx context.Context, entry Entry) (models.StaffActivity, error) {
	if strings.TrimSpace(entry.Action) == "" {
		return models.StaffActivity{}, apperr.Validation("action is required")
	}
	logged, err := s.repo.Append(ctx, models.StaffActivity{
		StaffID:     entry.Actor.UserID,
		StaffRole:   string(entry.Actor.Role),
		CustomerID:  entry.CustomerID,
		Action:      entry.Action,
		Stage:       entry.Stage,
		Description: entry.Description,
		Metadata:    entry.Metadata,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return models.StaffActivity{}, fmt.Errorf("record activity: %w", err)
	}
	return logged, nil
}

// RecordQuietly logs failures instead of returning them. Used after the
// audited change has already been committed.
func (s *Service) RecordQuietly(ctx context.Context, entry Entry) {
	if _, err := s.Record(ctx, entry); err != nil {
		logger.Log.WithError(err).WithField("action", entry.Action).Warn("Failed to record staff activity")
	}
}

type Query struct {
	Action     string
	StaffID    *uuid.UUID
	CustomerID *uuid.UUID
	Since      time.Time
	Limit      int
}

// Feed returns the dashboard feed visible to viewer. Admins see everyone;
// other staff see their own entries.
func (s *Service) Feed(ctx context.Context, viewer models.Actor, q Query) ([]models.StaffActivity, error) {
	if !rolegate.IsStaffRole(viewer.Role) && viewer.Role != rolegate.RoleSystem {
		return nil, apperr.Forbidden("role %s cannot view staff activity", viewer.Role)
	}
	if !rolegate.IsAdmin(viewer.Role) && viewer.Role != rolegate.RoleSystem {
		id := viewer.UserID
		q.StaffID = &id
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return s.repo.List(ctx, listFilter{
		Action:     q.Action,
		StaffID:    q.StaffID,
		CustomerID: q.CustomerID,
		Since:      q.Since,
		Limit:      limit,
	})
}

// StartOfDay returns midnight UTC of the current day.
func (s *Service) StartOfDay() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
