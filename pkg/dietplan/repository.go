package dietplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxAppendAttempts = 3

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// planModel rows are append-only; the highest revision per customer is active.
type planModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CustomerID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_diet_plans_customer_revision"`
	Revision       int        `gorm:"not null;uniqueIndex:idx_diet_plans_customer_revision"`
	NutritionistID *uuid.UUID `gorm:"type:uuid"`
	Macros         datatypes.JSON
	WeeklyPlan     datatypes.JSON
	PDFURL         string
	CreatedAt      time.Time `gorm:"not null"`
}

func (planModel) TableName() string { return "diet_plans" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&planModel{})
}

// Append stores plan as the customer's next revision.
func (r *Repository) Append(ctx context.Context, plan models.DietPlan) (models.DietPlan, error) {
	macros, err := json.Marshal(plan.Macros)
	if err != nil {
		return models.DietPlan{}, fmt.Errorf("encode macros: %w", err)
	}
	weekly, err := json.Marshal(plan.WeeklyPlan)
	if err != nil {
		return models.DietPlan{}, fmt.Errorf("encode weekly plan: %w", err)
	}

	var row planModel
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		var revision int
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var latest struct{ Max *int }
			if err := tx.Model(&planModel{}).Select("MAX(revision) AS max").
				Where("customer_id = ?", plan.CustomerID).Scan(&latest).Error; err != nil {
				return err
			}
			revision = 1
			if latest.Max != nil {
				revision = *latest.Max + 1
			}
			row = planModel{
				ID:             plan.ID,
				CustomerID:     plan.CustomerID,
				Revision:       revision,
				NutritionistID: plan.NutritionistID,
				Macros:         datatypes.JSON(macros),
				WeeklyPlan:     datatypes.JSON(weekly),
				PDFURL:         plan.PDFURL,
				CreatedAt:      plan.CreatedAt,
			}
			return tx.Create(&row).Error
		})
		if err == nil {
			return mapPlan(row)
		}
		// A concurrent writer took this revision number; recompute and retry.
		taken, checkErr := r.revisionExists(ctx, plan.CustomerID, revision)
		if checkErr != nil || !taken {
			return models.DietPlan{}, err
		}
	}
	return models.DietPlan{}, fmt.Errorf("append diet plan: %w", err)
}

func (r *Repository) revisionExists(ctx context.Context, customerID uuid.UUID, revision int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&planModel{}).
		Where("customer_id = ? AND revision = ?", customerID, revision).
		Count(&count).Error
	return count > 0, err
}

// Latest returns the active plan; found is false when none was saved.
func (r *Repository) Latest(ctx context.Context, customerID uuid.UUID) (models.DietPlan, bool, error) {
	var row planModel
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("revision DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DietPlan{}, false, nil
	}
	if err != nil {
		return models.DietPlan{}, false, err
	}
	plan, err := mapPlan(row)
	return plan, err == nil, err
}

// ListRevisions returns every revision, newest first.
func (r *Repository) ListRevisions(ctx context.Context, customerID uuid.UUID) ([]models.DietPlan, error) {
	var rows []planModel
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("revision DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.DietPlan, 0, len(rows))
	for _, row := range rows {
		plan, err := mapPlan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, nil
}

func mapPlan(row planModel) (models.DietPlan, error) {
	plan := models.DietPlan{
		ID:             row.ID,
		CustomerID:     row.CustomerID,
		Revision:       row.Revision,
		NutritionistID: row.NutritionistID,
		PDFURL:         row.PDFURL,
		CreatedAt:      row.CreatedAt,
	}
	if len(row.Macros) > 0 {
		if err := json.Unmarshal(row.Macros, &plan.Macros); err != nil {
			return models.DietPlan{}, fmt.Errorf("decode macros: %w", err)
		}
	}
	if len(row.WeeklyPlan) > 0 {
		if err := json.Unmarshal(row.WeeklyPlan, &plan.WeeklyPlan); err != nil {
			return models.DietPlan{}, fmt.Errorf("decode weekly plan: %w", err)
		}
	}
	return plan, nil
}
