package acknowledgements

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAcknowledgementNotFound = errors.New("acknowledgement not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PendingKey identifies the assignment while the task is pending and is
// cleared on the first status change, so the unique index admits one
// pending task per assignment.
type acknowledgementModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	StaffID        *uuid.UUID `gorm:"type:uuid;index"`
	AssignedRole   string     `gorm:"index"`
	CustomerID     uuid.UUID  `gorm:"type:uuid;index"`
	TaskType       string
	Stage          *int
	Status         string  `gorm:"index"`
	PendingKey     *string `gorm:"uniqueIndex:idx_acknowledgements_pending_key"`
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

func (acknowledgementModel) TableName() string { return "acknowledgements" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&acknowledgementModel{})
}

type createInput struct {
	StaffID      *uuid.UUID
	AssignedRole string
	CustomerID   uuid.UUID
	TaskType     string
	Stage        *int
}

func (in createInput) pendingKey() string {
	staff, stage := "pool", "none"
	if in.StaffID != nil {
		staff = in.StaffID.String()
	}
	if in.Stage != nil {
		stage = strconv.Itoa(*in.Stage)
	}
	return strings.Join([]string{in.CustomerID.String(), in.TaskType, in.AssignedRole, staff, stage}, "|")
}

// CreatePending inserts a pending task unless an identical one is still
// pending, in which case the existing task is returned.
func (r *Repository) CreatePending(ctx context.Context, input createInput) (models.Acknowledgement, bool, error) {
	key := input.pendingKey()
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		now := time.Now().UTC()
		row := acknowledgementModel{
			ID:           uuid.New(),
			StaffID:      input.StaffID,
			AssignedRole: input.AssignedRole,
			CustomerID:   input.CustomerID,
			TaskType:     input.TaskType,
			Stage:        input.Stage,
			Status:       models.AckStatusPending,
			PendingKey:   &key,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pending_key"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return models.Acknowledgement{}, false, result.Error
		}
		if result.RowsAffected == 1 {
			return mapAcknowledgement(row), true, nil
		}

		var existing acknowledgementModel
		err := r.db.WithContext(ctx).Where("pending_key = ?", key).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The conflicting task left pending before it could be read.
			continue
		}
		if err != nil {
			return models.Acknowledgement{}, false, err
		}
		return mapAcknowledgement(existing), false, nil
	}
	return models.Acknowledgement{}, false, errors.New("pending acknowledgement changed concurrently")
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (models.Acknowledgement, error) {
	var row acknowledgementModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Acknowledgement{}, ErrAcknowledgementNotFound
	}
	if err != nil {
		return models.Acknowledgement{}, err
	}
	return mapAcknowledgement(row), nil
}

type statusUpdate struct {
	From           string
	To             string
	ClaimStaffID   *uuid.UUID
	AcknowledgedAt *time.Time
	CompletedAt    *time.Time
}

// CompareAndSetStatus applies the update only while the stored status still
// equals update.From. It reports whether the row was changed.
func (r *Repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, update statusUpdate) (bool, error) {
	values := map[string]interface{}{
		"status":      update.To,
		"pending_key": nil,
		"updated_at":  time.Now().UTC(),
	}
	if update.ClaimStaffID != nil {
		values["staff_id"] = *update.ClaimStaffID
	}
	if update.AcknowledgedAt != nil {
		values["acknowledged_at"] = *update.AcknowledgedAt
	}
	if update.CompletedAt != nil {
		values["completed_at"] = *update.CompletedAt
	}

	result := r.db.WithContext(ctx).Model(&acknowledgementModel{}).
		Where("id = ? AND status = ?", id, update.From).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *Repository) ListPendingForStaff(ctx context.Context, staffID uuid.UUID, role string) ([]models.Acknowledgement, error) {
	var rows []acknowledgementModel
	err := r.db.WithContext(ctx).
		Where("status = ?", models.AckStatusPending).
		Where(r.db.Where("staff_id = ?", staffID).Or("staff_id IS NULL AND assigned_role = ?", role)).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mapAcknowledgements(rows), nil
}

func (r *Repository) CountPendingForStaff(ctx context.Context, staffID uuid.UUID, role string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&acknowledgementModel{}).
		Where("status = ?", models.AckStatusPending).
		Where(r.db.Where("staff_id = ?", staffID).Or("staff_id IS NULL AND assigned_role = ?", role)).
		Count(&count).Error
	return count, err
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Acknowledgement, error) {
	var rows []acknowledgementModel
	if err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapAcknowledgements(rows), nil
}

type openFilter struct {
	CustomerID uuid.UUID
	Stage      *int
	TaskType   string
}

// ListOpen returns tasks that are not yet completed.
func (r *Repository) ListOpen(ctx context.Context, filter openFilter) ([]models.Acknowledgement, error) {
	query := r.db.WithContext(ctx).
		Where("customer_id = ? AND status <> ?", filter.CustomerID, models.AckStatusCompleted)
	if filter.Stage != nil {
		query = query.Where("stage = ?", *filter.Stage)
	}
	if filter.TaskType != "" {
		query = query.Where("task_type = ?", filter.TaskType)
	}
	var rows []acknowledgementModel
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapAcknowledgements(rows), nil
}

func mapAcknowledgements(rows []acknowledgementModel) []models.Acknowledgement {
	out := make([]models.Acknowledgement, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapAcknowledgement(row))
	}
	return out
}

func mapAcknowledgement(row acknowledgementModel) models.Acknowledgement {
	return models.Acknowledgement{
		ID:             row.ID,
		StaffID:        row.StaffID,
		AssignedRole:   row.AssignedRole,
		CustomerID:     row.CustomerID,
		TaskType:       row.TaskType,
		Stage:          row.Stage,
		Status:         row.Status,
		CreatedAt:      row.CreatedAt,
		AcknowledgedAt: row.AcknowledgedAt,
		CompletedAt:    row.CompletedAt,
	}
}
