package acknowledgements

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// StaffDirectory resolves staff roles for direct assignments and pool
// membership. *identity.Service satisfies it.
type StaffDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	ListByRole(ctx context.Context, role rolegate.Role) ([]models.User, error)
}

// CountCache stores per-staff pending counts for notification badges.
type CountCache interface {
	Get(ctx context.Context, staffID uuid.UUID) (int64, bool, error)
	Set(ctx context.Context, staffID uuid.UUID, count int64) error
	Invalidate(ctx context.Context, staffIDs ...uuid.UUID) error
}

type Service struct {
	repo      *Repository
	directory StaffDirectory
	cache     CountCache
	events    events.Publisher
	now       func() time.Time
}

func NewService(repo *Repository, directory StaffDirectory, cache CountCache, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Service{
		repo:      repo,
		directory: directory,
		cache:     cache,
		events:    publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateAcknowledgement queues a task for one staff member or a role pool.
// An identical task that is still pending is returned instead of a duplicate.
func (s *Service) CreateAcknowledgement(ctx context.Context, assignment models.Assignment, customerID uuid.UUID, taskType string, stage *int) (models.Acknowledgement, error) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return models.Acknowledgement{}, apperr.Validation("task type is required")
	}
	if customerID == uuid.Nil {
		return models.Acknowledgement{}, apperr.Validation("customer id is required")
	}
	if stage != nil && !rolegate.ValidStage(*stage) {
		return models.Acknowledgement{}, apperr.Validation("stage %d out of range", *stage)
	}

	role := assignment.Role
	if assignment.StaffID != nil {
		staff, err := s.directory.GetUser(ctx, *assignment.StaffID)
		if err != nil {
			return models.Acknowledgement{}, err
		}
		staffRole := rolegate.Role(staff.Role)
		if role != "" && role != staffRole {
			return models.Acknowledgement{}, apperr.Validation("staff %s holds role %s, not %s", staff.ID, staffRole, role)
		}
		role = staffRole
	}
	if !rolegate.IsStaffRole(role) {
		return models.Acknowledgement{}, apperr.Validation("acknowledgements must target a staff role, got %q", role)
	}

	ack, created, err := s.repo.CreatePending(ctx, createInput{
		StaffID:      assignment.StaffID,
		AssignedRole: string(role),
		CustomerID:   customerID,
		TaskType:     taskType,
		Stage:        stage,
	})
	if err != nil {
		return models.Acknowledgement{}, fmt.Errorf("create acknowledgement: %w", err)
	}
	if created {
		metrics.AcknowledgementCreated()
		s.invalidate(ctx, ack)
		events.Emit(ctx, s.events, events.TypeAcknowledgementCreated, eventData(ack))
	}
	return ack, nil
}

// SetStatus moves a task one step forward. Re-sending the current status is
// a no-op.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, newStatus string, actor models.Actor) (models.Acknowledgement, error) {
	if !validStatus(newStatus) {
		return models.Acknowledgement{}, apperr.Validation("unknown acknowledgement status %q", newStatus)
	}

	var ack models.Acknowledgement
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var err error
		ack, err = s.get(ctx, id)
		if err != nil {
			return models.Acknowledgement{}, err
		}
		if !canAct(ack, actor) {
			return models.Acknowledgement{}, apperr.Forbidden("%s cannot update acknowledgement %s", actor.Role, ack.ID)
		}
		if ack.Status == newStatus {
			return ack, nil
		}
		if !isForwardStep(ack.Status, newStatus) {
			return models.Acknowledgement{}, apperr.InvalidAckTransition(ack.Status, newStatus)
		}

		now := s.now()
		update := statusUpdate{From: ack.Status, To: newStatus}
		switch newStatus {
		case models.AckStatusAcknowledged:
			update.AcknowledgedAt = &now
			if ack.StaffID == nil && actor.Role == rolegate.Role(ack.AssignedRole) {
				claimant := actor.UserID
				update.ClaimStaffID = &claimant
			}
		case models.AckStatusCompleted:
			update.CompletedAt = &now
		}

		applied, err := s.repo.CompareAndSetStatus(ctx, ack.ID, update)
		if err != nil {
			return models.Acknowledgement{}, fmt.Errorf("update acknowledgement: %w", err)
		}
		if !applied {
			continue
		}

		previous := ack
		ack = applyUpdate(ack, update)
		s.afterUpdate(ctx, previous, ack)
		return ack, nil
	}

	return models.Acknowledgement{}, apperr.InvalidAckTransition(ack.Status, newStatus)
}

// ResolveStage closes every open task of the stage once the stage completes.
func (s *Service) ResolveStage(ctx context.Context, customerID uuid.UUID, stage int) error {
	return s.resolve(ctx, openFilter{CustomerID: customerID, Stage: &stage})
}

// ResolveTask closes open tasks of one type, for example once the chef
// marks the meal prepared.
func (s *Service) ResolveTask(ctx context.Context, customerID uuid.UUID, taskType string) error {
	return s.resolve(ctx, openFilter{CustomerID: customerID, TaskType: taskType})
}

func (s *Service) resolve(ctx context.Context, filter openFilter) error {
	open, err := s.repo.ListOpen(ctx, filter)
	if err != nil {
		return fmt.Errorf("list open acknowledgements: %w", err)
	}
	var errs []error
	for _, ack := range open {
		if err := s.complete(ctx, ack); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// complete is the system fast path: pending tasks jump to completed with
// both timestamps set.
func (s *Service) complete(ctx context.Context, ack models.Acknowledgement) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if ack.Status == models.AckStatusCompleted {
			return nil
		}
		now := s.now()
		update := statusUpdate{From: ack.Status, To: models.AckStatusCompleted, CompletedAt: &now}
		if ack.AcknowledgedAt == nil {
			update.AcknowledgedAt = &now
		}
		applied, err := s.repo.CompareAndSetStatus(ctx, ack.ID, update)
		if err != nil {
			return fmt.Errorf("resolve acknowledgement %s: %w", ack.ID, err)
		}
		if applied {
			previous := ack
			s.afterUpdate(ctx, previous, applyUpdate(ack, update))
			return nil
		}
		if ack, err = s.get(ctx, ack.ID); err != nil {
			return err
		}
	}
	return fmt.Errorf("resolve acknowledgement %s: concurrent updates", ack.ID)
}

// ListPendingForStaff returns tasks assigned directly to the staff member
// plus unclaimed tasks of their role pool, oldest first.
func (s *Service) ListPendingForStaff(ctx context.Context, staffID uuid.UUID) ([]models.Acknowledgement, error) {
	staff, err := s.directory.GetUser(ctx, staffID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPendingForStaff(ctx, staffID, staff.Role)
}

func (s *Service) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Acknowledgement, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

// PendingCount serves notification badges from the cache when possible.
func (s *Service) PendingCount(ctx context.Context, staffID uuid.UUID) (int64, error) {
	if s.cache != nil {
		count, ok, err := s.cache.Get(ctx, staffID)
		if err != nil {
			logger.Log.WithError(err).WithField("staff_id", staffID).Warn("Pending count cache read failed")
		} else if ok {
			return count, nil
		}
	}
	return s.RefreshPendingCount(ctx, staffID)
}

// RefreshPendingCount recomputes the count from the store and caches it.
func (s *Service) RefreshPendingCount(ctx context.Context, staffID uuid.UUID) (int64, error) {
	staff, err := s.directory.GetUser(ctx, staffID)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.CountPendingForStaff(ctx, staffID, staff.Role)
	if err != nil {
		return 0, fmt.Errorf("count pending acknowledgements: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, staffID, count); err != nil {
			logger.Log.WithError(err).WithField("staff_id", staffID).Warn("Pending count cache write failed")
		}
	}
	return count, nil
}

// AffectedStaff lists the staff whose pending counts depend on a task with
// this assignment.
func (s *Service) AffectedStaff(ctx context.Context, staffID *uuid.UUID, role string) ([]uuid.UUID, error) {
	if staffID != nil {
		return []uuid.UUID{*staffID}, nil
	}
	members, err := s.directory.ListByRole(ctx, rolegate.Role(role))
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}
	return ids, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (models.Acknowledgement, error) {
	ack, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrAcknowledgementNotFound) {
		return models.Acknowledgement{}, apperr.NotFound("acknowledgement", id)
	}
	return ack, err
}

func (s *Service) afterUpdate(ctx context.Context, previous, current models.Acknowledgement) {
	if current.Status == models.AckStatusCompleted {
		metrics.AcknowledgementClosed()
	}
	if previous.Status == models.AckStatusPending {
		// A claimed pool task leaves every pool member's pending list.
		s.invalidate(ctx, previous)
	}
	data := eventData(current)
	data["previous_status"] = previous.Status
	events.Emit(ctx, s.events, events.TypeAcknowledgementUpdated, data)
}

func (s *Service) invalidate(ctx context.Context, ack models.Acknowledgement) {
	if s.cache == nil {
		return
	}
	staff, err := s.AffectedStaff(ctx, ack.StaffID, ack.AssignedRole)
	if err != nil {
		logger.Log.WithError(err).WithField("acknowledgement_id", ack.ID).Warn("Failed to resolve staff for cache invalidation")
		return
	}
	if len(staff) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, staff...); err != nil {
		logger.Log.WithError(err).WithField("acknowledgement_id", ack.ID).Warn("Pending count cache invalidation failed")
	}
}

func canAct(ack models.Acknowledgement, actor models.Actor) bool {
	switch {
	case actor.Role == rolegate.RoleSystem, rolegate.IsAdmin(actor.Role):
		return true
	case ack.StaffID != nil:
		return *ack.StaffID == actor.UserID
	default:
		return string(actor.Role) == ack.AssignedRole
	}
}

var statusOrder = map[string]int{
	models.AckStatusPending:      0,
	models.AckStatusAcknowledged: 1,
	models.AckStatusCompleted:    2,
}

func validStatus(status string) bool {
	_, ok := statusOrder[status]
	return ok
}

func isForwardStep(from, to string) bool {
	return statusOrder[to] == statusOrder[from]+1
}

func applyUpdate(ack models.Acknowledgement, update statusUpdate) models.Acknowledgement {
	ack.Status = update.To
	if update.ClaimStaffID != nil {
		ack.StaffID = update.ClaimStaffID
	}
	if update.AcknowledgedAt != nil {
		ack.AcknowledgedAt = update.AcknowledgedAt
	}
	if update.CompletedAt != nil {
		ack.CompletedAt = update.CompletedAt
	}
	return ack
}

func eventData(ack models.Acknowledgement) map[string]interface{} {
	data := map[string]interface{}{
		"acknowledgement_id": ack.ID.String(),
		"customer_id":        ack.CustomerID.String(),
		"assigned_role":      ack.AssignedRole,
		"task_type":          ack.TaskType,
		"status":             ack.Status,
	}
	if ack.StaffID != nil {
		data["staff_id"] = ack.StaffID.String()
	}
	if ack.Stage != nil {
		data["stage"] = *ack.Stage
	}
	return data
}
