package journey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/events"
	"github.com/nourishpath/platform/pkg/observability/metrics"
	"github.com/nourishpath/platform/pkg/rolegate"
)

const maxUpdateAttempts = 3

// TaskDispatcher receives the acknowledgement side effects of stage
// completion. *acknowledgements.Service satisfies it.
type TaskDispatcher interface {
	CreateAcknowledgement(ctx context.Context, assignment models.Assignment, customerID uuid.UUID, taskType string, stage *int) (models.Acknowledgement, error)
	ResolveStage(ctx context.Context, customerID uuid.UUID, stage int) error
}

type Service struct {
	repo   *Repository
	gate   *rolegate.Gate
	tasks  TaskDispatcher
	events events.Publisher
	now    func() time.Time
}

func NewService(repo *Repository, gate *rolegate.Gate, tasks TaskDispatcher, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Service{
		repo:   repo,
		gate:   gate,
		tasks:  tasks,
		events: publisher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetStageStatus reports pending for stages that were never touched.
func (s *Service) GetStageStatus(ctx context.Context, customerID uuid.UUID, stage int) (string, error) {
	progress, err := s.GetStage(ctx, customerID, stage)
	if err != nil {
		return "", err
	}
	return progress.Status, nil
}

func (s *Service) GetStage(ctx context.Context, customerID uuid.UUID, stage int) (models.StageProgress, error) {
	if !rolegate.ValidStage(stage) {
		return models.StageProgress{}, apperr.Validation("stage %d out of range %d..%d", stage, rolegate.FirstStage, rolegate.LastStage)
	}
	progress, found, err := s.repo.Find(ctx, customerID, stage)
	if err != nil {
		return models.StageProgress{}, fmt.Errorf("load stage: %w", err)
	}
	if !found {
		return defaultStage(customerID, stage), nil
	}
	return progress, nil
}

// ListStages returns only the stored rows, ordered by stage.
func (s *Service) ListStages(ctx context.Context, customerID uuid.UUID) ([]models.StageProgress, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *Service) GetJourneySummary(ctx context.Context, customerID uuid.UUID) (models.JourneySummary, error) {
	rows, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return models.JourneySummary{}, fmt.Errorf("load journey: %w", err)
	}
	byStage := make(map[int]models.StageProgress, len(rows))
	for _, row := range rows {
		byStage[row.Stage] = row
	}

	summary := models.JourneySummary{CustomerID: customerID, Stages: make([]models.StageProgress, 0, rolegate.LastStage)}
	for stage := rolegate.FirstStage; stage <= rolegate.LastStage; stage++ {
		progress, ok := byStage[stage]
		if !ok {
			progress = defaultStage(customerID, stage)
		}
		if summary.CurrentStage == 0 && progress.Status != models.StageStatusCompleted {
			summary.CurrentStage = stage
		}
		summary.Stages = append(summary.Stages, progress)
	}
	summary.Completed = summary.CurrentStage == 0
	return summary, nil
}

// StartJourney puts stage 1 in progress. Calling it on a journey that has
// already started returns stage 1 unchanged.
func (s *Service) StartJourney(ctx context.Context, customerID uuid.UUID, actor models.Actor) (models.StageProgress, error) {
	current, err := s.GetStage(ctx, customerID, rolegate.FirstStage)
	if err != nil {
		return models.StageProgress{}, err
	}
	if current.Status != models.StageStatusPending {
		return current, nil
	}
	progress, err := s.AdvanceStage(ctx, customerID, rolegate.FirstStage, models.StageStatusInProgress, actor)
	if err != nil {
		return models.StageProgress{}, err
	}
	events.Emit(ctx, s.events, events.TypeJourneyStarted, map[string]interface{}{
		"customer_id": customerID.String(),
		"actor_id":    actor.UserID.String(),
	})
	return progress, nil
}

// CheckAdvance runs every validation AdvanceStage would without writing.
func (s *Service) CheckAdvance(ctx context.Context, customerID uuid.UUID, stage int, newStatus string, actor models.Actor) error {
	current, err := s.authorize(ctx, customerID, stage, newStatus, actor)
	if err != nil {
		return err
	}
	if current.Status == newStatus {
		return nil
	}
	return s.checkOrdering(ctx, customerID, stage, current.Status, newStatus)
}

// AdvanceStage moves a stage forward after the role gate and state machine
// accept it. The write is a compare-and-set on the stored status; a lost
// race reloads and re-validates.
func (s *Service) AdvanceStage(ctx context.Context, customerID uuid.UUID, stage int, newStatus string, actor models.Actor) (models.StageProgress, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := s.authorize(ctx, customerID, stage, newStatus, actor)
		if err != nil {
			metrics.StageRejected()
			return models.StageProgress{}, err
		}
		if current.Status == newStatus {
			return current, nil
		}
		if err := s.checkOrdering(ctx, customerID, stage, current.Status, newStatus); err != nil {
			metrics.StageRejected()
			return models.StageProgress{}, err
		}

		if current.ID == uuid.Nil {
			if current, err = s.repo.EnsurePending(ctx, customerID, stage); err != nil {
				return models.StageProgress{}, fmt.Errorf("create stage row: %w", err)
			}
			if current.Status != models.StageStatusPending {
				continue
			}
		}

		now := s.now()
		update := statusUpdate{From: current.Status, To: newStatus, UpdatedAt: now}
		if current.StartedAt == nil {
			update.StartedAt = &now
		}
		if newStatus == models.StageStatusCompleted {
			update.CompletedAt = &now
		}

		applied, err := s.repo.CompareAndSetStatus(ctx, current.ID, update)
		if err != nil {
			return models.StageProgress{}, fmt.Errorf("update stage: %w", err)
		}
		if !applied {
			continue
		}

		previous := current.Status
		current.Status = newStatus
		current.UpdatedAt = now
		if update.StartedAt != nil {
			current.StartedAt = update.StartedAt
		}
		if update.CompletedAt != nil {
			current.CompletedAt = update.CompletedAt
		}
		s.afterTransition(ctx, current, previous, actor)
		return current, nil
	}

	metrics.StageRejected()
	return models.StageProgress{}, s.concurrentConflict(ctx, customerID, stage, newStatus)
}

// concurrentConflict reports the status that won the race for the stage.
func (s *Service) concurrentConflict(ctx context.Context, customerID uuid.UUID, stage int, newStatus string) error {
	status, err := s.GetStageStatus(ctx, customerID, stage)
	if err != nil {
		return fmt.Errorf("reload stage after concurrent updates: %w", err)
	}
	return apperr.InvalidStatusTransition(status, newStatus, "stage was modified concurrently")
}

// authorize applies the role gate and the state machine and returns the
// current stored (or default) row.
func (s *Service) authorize(ctx context.Context, customerID uuid.UUID, stage int, newStatus string, actor models.Actor) (models.StageProgress, error) {
	if !rolegate.ValidStage(stage) {
		return models.StageProgress{}, apperr.Validation("stage %d out of range %d..%d", stage, rolegate.FirstStage, rolegate.LastStage)
	}
	if !s.gate.CanActOnStage(actor.Role, stage) {
		return models.StageProgress{}, apperr.Forbidden("role %s cannot act on stage %d (%s)", actor.Role, stage, StageName(stage))
	}
	if _, ok := statusRank[newStatus]; !ok {
		return models.StageProgress{}, apperr.Validation("unknown stage status %q", newStatus)
	}

	current, err := s.GetStage(ctx, customerID, stage)
	if err != nil {
		return models.StageProgress{}, err
	}
	if statusRank[newStatus] < statusRank[current.Status] {
		return models.StageProgress{}, apperr.InvalidStatusTransition(current.Status, newStatus,
			fmt.Sprintf("stage %d cannot move back from %s", stage, current.Status))
	}
	return current, nil
}

// checkOrdering requires the previous stage to be completed before a
// stage can complete.
func (s *Service) checkOrdering(ctx context.Context, customerID uuid.UUID, stage int, currentStatus, newStatus string) error {
	if newStatus != models.StageStatusCompleted || stage == rolegate.FirstStage {
		return nil
	}
	previous, err := s.GetStageStatus(ctx, customerID, stage-1)
	if err != nil {
		return err
	}
	if previous != models.StageStatusCompleted {
		return apperr.InvalidStatusTransition(currentStatus, newStatus,
			fmt.Sprintf("stage %d (%s) is not completed", stage-1, StageName(stage-1)))
	}
	return nil
}

func (s *Service) afterTransition(ctx context.Context, progress models.StageProgress, previous string, actor models.Actor) {
	metrics.StageTransitioned()
	log := logger.Log.WithFields(map[string]interface{}{
		"customer_id": progress.CustomerID,
		"stage":       progress.Stage,
		"from":        previous,
		"to":          progress.Status,
		"actor_role":  actor.Role,
	})
	log.Info("Stage advanced")

	if progress.Status == models.StageStatusCompleted && s.tasks != nil {
		if err := s.tasks.ResolveStage(ctx, progress.CustomerID, progress.Stage); err != nil {
			log.WithError(err).Warn("Failed to resolve stage acknowledgements")
		}
		if trigger, ok := completionTriggers[progress.Stage]; ok {
			next := trigger.Stage
			if _, err := s.tasks.CreateAcknowledgement(ctx, models.Assignment{Role: trigger.Role}, progress.CustomerID, trigger.TaskType, &next); err != nil {
				log.WithError(err).WithField("task_type", trigger.TaskType).Warn("Failed to dispatch downstream acknowledgement")
			}
		}
	}

	events.Emit(ctx, s.events, events.TypeStageAdvanced, map[string]interface{}{
		"customer_id":     progress.CustomerID.String(),
		"stage":           progress.Stage,
		"status":          progress.Status,
		"previous_status": previous,
		"actor_id":        actor.UserID.String(),
		"actor_role":      string(actor.Role),
	})
}

var statusRank = map[string]int{
	models.StageStatusPending:    0,
	models.StageStatusInProgress: 1,
	models.StageStatusCompleted:  2,
}

func defaultStage(customerID uuid.UUID, stage int) models.StageProgress {
	return models.StageProgress{
		CustomerID: customerID,
		Stage:      stage,
		Name:       StageName(stage),
		Status:     models.StageStatusPending,
	}
}
