package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type orderModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	CustomerID       uuid.UUID `gorm:"type:uuid;not null;index"`
	PaymentReference *string   `gorm:"uniqueIndex"`
	Status           string    `gorm:"not null;index"`
	PaidAt           *time.Time
	PreparedAt       *time.Time
	OutForDeliveryAt *time.Time
	DeliveredAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (orderModel) TableName() string { return "orders" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&orderModel{})
}

// EnsureByReference returns the order holding reference, creating an
// awaiting_payment order for customerID when none exists.
func (r *Repository) EnsureByReference(ctx context.Context, customerID uuid.UUID, reference string) (models.Order, error) {
	now := time.Now().UTC()
	ref := reference
	row := orderModel{
		ID:               uuid.New(),
		CustomerID:       customerID,
		PaymentReference: &ref,
		Status:           models.OrderStatusAwaitingPayment,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_reference"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return models.Order{}, err
	}

	var stored orderModel
	if err := r.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&stored).Error; err != nil {
		return models.Order{}, err
	}
	return mapOrder(stored), nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (models.Order, error) {
	var row orderModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	return mapOrder(row), nil
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error) {
	var rows []orderModel
	if err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapOrder(row))
	}
	return out, nil
}

type statusUpdate struct {
	From      string
	To        string
	Timestamp string
	At        time.Time
}

// CompareAndSetStatus moves the order only if it still holds update.From.
func (r *Repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, update statusUpdate) (bool, error) {
	values := map[string]interface{}{
		"status":     update.To,
		"updated_at": update.At,
	}
	if update.Timestamp != "" {
		values[update.Timestamp] = update.At
	}
	result := r.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ? AND status = ?", id, update.From).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func mapOrder(row orderModel) models.Order {
	order := models.Order{
		ID:               row.ID,
		CustomerID:       row.CustomerID,
		Status:           row.Status,
		PaidAt:           row.PaidAt,
		PreparedAt:       row.PreparedAt,
		OutForDeliveryAt: row.OutForDeliveryAt,
		DeliveredAt:      row.DeliveredAt,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.PaymentReference != nil {
		order.PaymentReference = *row.PaymentReference
	}
	return order
}
