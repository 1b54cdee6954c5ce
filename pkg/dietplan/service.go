package dietplan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/events"
	"github.com/nourishpath/platform/pkg/rolegate"
)

// Stage is the journey stage diet plans belong to.
const Stage = 4

type Service struct {
	repo   *Repository
	gate   *rolegate.Gate
	events events.Publisher
	now    func() time.Time
}

func NewService(repo *Repository, gate *rolegate.Gate, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Service{
		repo:   repo,
		gate:   gate,
		events: publisher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Draft is a parsed but unsaved plan.
type Draft struct {
	Macros     models.Macros
	WeeklyPlan models.WeeklyPlan
}

// Prepare authorizes actor and parses the raw plan without writing anything.
func (s *Service) Prepare(customerID uuid.UUID, macros, weekly json.RawMessage, actor models.Actor) (Draft, error) {
	if customerID == uuid.Nil {
		return Draft{}, apperr.Validation("customer id is required")
	}
	if !s.gate.CanActOnStage(actor.Role, Stage) {
		return Draft{}, apperr.Forbidden("role %s cannot save diet plans", actor.Role)
	}
	parsedMacros, err := ParseMacros(macros)
	if err != nil {
		return Draft{}, apperr.Validation("%v", err)
	}
	parsedWeekly, err := ParseWeeklyPlan(weekly)
	if err != nil {
		return Draft{}, apperr.Validation("%v", err)
	}
	if parsedMacros.IsEmpty() && parsedWeekly.IsEmpty() {
		return Draft{}, apperr.Validation("macros or weekly plan is required")
	}
	return Draft{Macros: parsedMacros, WeeklyPlan: parsedWeekly}, nil
}

// Save appends a new revision which becomes the active plan.
func (s *Service) Save(ctx context.Context, customerID uuid.UUID, draft Draft, pdfURL string, actor models.Actor) (models.DietPlan, error) {
	if !s.gate.CanActOnStage(actor.Role, Stage) {
		return models.DietPlan{}, apperr.Forbidden("role %s cannot save diet plans", actor.Role)
	}
	if draft.Macros.IsEmpty() && draft.WeeklyPlan.IsEmpty() {
		return models.DietPlan{}, apperr.Validation("macros or weekly plan is required")
	}

	var nutritionist *uuid.UUID
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		nutritionist = &id
	}
	plan, err := s.repo.Append(ctx, models.DietPlan{
		ID:             uuid.New(),
		CustomerID:     customerID,
		NutritionistID: nutritionist,
		Macros:         draft.Macros,
		WeeklyPlan:     draft.WeeklyPlan,
		PDFURL:         strings.TrimSpace(pdfURL),
		CreatedAt:      s.now(),
	})
	if err != nil {
		return models.DietPlan{}, fmt.Errorf("save diet plan: %w", err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"customer_id": customerID,
		"revision":    plan.Revision,
	}).Info("Diet plan saved")
	events.Emit(ctx, s.events, events.TypeDietPlanSaved, map[string]interface{}{
		"customer_id":  customerID.String(),
		"diet_plan_id": plan.ID.String(),
		"revision":     plan.Revision,
		"saved_by":     actor.UserID.String(),
	})
	return plan, nil
}

// Active returns the latest revision; ok is false when no plan exists.
func (s *Service) Active(ctx context.Context, customerID uuid.UUID) (models.DietPlan, bool, error) {
	return s.repo.Latest(ctx, customerID)
}

func (s *Service) Revisions(ctx context.Context, customerID uuid.UUID) ([]models.DietPlan, error) {
	return s.repo.ListRevisions(ctx, customerID)
}
