package journey

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type stageProgressModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	CustomerID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_stage_progress_customer_stage"`
	Stage       int       `gorm:"not null;uniqueIndex:idx_stage_progress_customer_stage"`
	Status      string    `gorm:"not null"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (stageProgressModel) TableName() string { return "stage_progress" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&stageProgressModel{})
}

// Find returns the row for (customer, stage); found is false when the stage
// has never been touched.
func (r *Repository) Find(ctx context.Context, customerID uuid.UUID, stage int) (models.StageProgress, bool, error) {
	var row stageProgressModel
	err := r.db.WithContext(ctx).Where("customer_id = ? AND stage = ?", customerID, stage).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.StageProgress{}, false, nil
	}
	if err != nil {
		return models.StageProgress{}, false, err
	}
	return mapStage(row), true, nil
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.StageProgress, error) {
	var rows []stageProgressModel
	if err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("stage ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.StageProgress, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapStage(row))
	}
	return out, nil
}

// EnsurePending lazily creates the pending row. Concurrent callers converge
// on the single row guarded by the unique (customer_id, stage) index.
func (r *Repository) EnsurePending(ctx context.Context, customerID uuid.UUID, stage int) (models.StageProgress, error) {
	now := time.Now().UTC()
	row := stageProgressModel{
		ID:         uuid.New(),
		CustomerID: customerID,
		Stage:      stage,
		Status:     models.StageStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}, {Name: "stage"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return models.StageProgress{}, err
	}

	stored, found, err := r.Find(ctx, customerID, stage)
	if err != nil {
		return models.StageProgress{}, err
	}
	if !found {
		return models.StageProgress{}, errors.New("stage row missing after insert")
	}
	return stored, nil
}

type statusUpdate struct {
	From        string
	To          string
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// CompareAndSetStatus writes the new status only if the row still holds
// update.From.
func (r *Repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, update statusUpdate) (bool, error) {
	values := map[string]interface{}{
		"status":     update.To,
		"updated_at": update.UpdatedAt,
	}
	if update.StartedAt != nil {
		values["started_at"] = *update.StartedAt
	}
	if update.CompletedAt != nil {
		values["completed_at"] = *update.CompletedAt
	}

	result := r.db.WithContext(ctx).Model(&stageProgressModel{}).
		Where("id = ? AND status = ?", id, update.From).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func mapStage(row stageProgressModel) models.StageProgress {
	return models.StageProgress{
		ID:          row.ID,
		CustomerID:  row.CustomerID,
		Stage:       row.Stage,
		Name:        StageName(row.Stage),
		Status:      row.Status,
		StartedAt:   row.StartedAt,
		CompletedAt: row.CompletedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
