package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type staffActivityModel struct {
	ID          int64      `gorm:"primaryKey;autoIncrement"`
	StaffID     uuid.UUID  `gorm:"type:uuid;index"`
	StaffRole   string     `gorm:"index"`
	CustomerID  *uuid.UUID `gorm:"type:uuid;index"`
	Action      string     `gorm:"index"`
	Stage       *int
	Description string
	Metadata    datatypes.JSONMap
	CreatedAt   time.Time `gorm:"index"`
}

func (staffActivityModel) TableName() string { return "staff_activity_logs" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&staffActivityModel{})
}

func (r *Repository) Append(ctx context.Context, entry models.StaffActivity) (models.StaffActivity, error) {
	row := staffActivityModel{
		StaffID:     entry.StaffID,
		StaffRole:   entry.StaffRole,
		CustomerID:  entry.CustomerID,
		Action:      entry.Action,
		Stage:       entry.Stage,
		Description: entry.Description,
		Metadata:    datatypes.JSONMap(entry.Metadata),
		CreatedAt:   entry.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.StaffActivity{}, err
	}
	return mapActivity(row), nil
}

type listFilter struct {
	Action     string
	StaffID    *uuid.UUID
	CustomerID *uuid.UUID
	Since      time.Time
	Limit      int
}

// List returns matching entries newest first.
func (r *Repository) List(ctx context.Context, filter listFilter) ([]models.StaffActivity, error) {
	query := r.db.WithContext(ctx).Model(&staffActivityModel{})
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.StaffID != nil {
		query = query.Where("staff_id = ?", *filter.StaffID)
	}
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}

	var rows []staffActivityModel
	if err := query.Order("created_at DESC").Order("id DESC").Limit(filter.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.StaffActivity, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapActivity(row))
	}
	return out, nil
}

func mapActivity(row staffActivityModel) models.StaffActivity {
	return models.StaffActivity{
		ID:          row.ID,
		StaffID:     row.StaffID,
		StaffRole:   row.StaffRole,
		CustomerID:  row.CustomerID,
		Action:      row.Action,
		Stage:       row.Stage,
		Description: row.Description,
		Metadata:    map[string]interface{}(row.Metadata),
		CreatedAt:   row.CreatedAt,
	}
}
