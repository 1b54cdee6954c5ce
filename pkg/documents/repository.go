package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// documentModel rows are never updated or deleted.
type documentModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq            int64     `gorm:"index"`
	CustomerID     uuid.UUID `gorm:"type:uuid;not null;index:idx_documents_customer_stage"`
	Stage          *int      `gorm:"index:idx_documents_customer_stage"`
	Label          string    `gorm:"not null"`
	UploadedByRole string    `gorm:"not null"`
	UploadedBy     uuid.UUID `gorm:"type:uuid"`
	URL            string    `gorm:"not null"`
	UploadedAt     time.Time `gorm:"not null;index"`
}

func (documentModel) TableName() string { return "documents" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&documentModel{})
}

func (r *Repository) Create(ctx context.Context, doc models.Document) (models.Document, error) {
	row := documentModel{
		ID:             doc.ID,
		Seq:            doc.UploadedAt.UnixNano(),
		CustomerID:     doc.CustomerID,
		Stage:          doc.Stage,
		Label:          doc.Label,
		UploadedByRole: doc.UploadedByRole,
		UploadedBy:     doc.UploadedBy,
		URL:            doc.URL,
		UploadedAt:     doc.UploadedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Document{}, err
	}
	return mapDocument(row), nil
}

// ListByCustomer returns documents oldest first; a nil stage returns all.
func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, stage *int) ([]models.Document, error) {
	query := r.db.WithContext(ctx).Where("customer_id = ?", customerID)
	if stage != nil {
		query = query.Where("stage = ?", *stage)
	}
	var rows []documentModel
	if err := query.Order("seq ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapDocument(row))
	}
	return out, nil
}

func mapDocument(row documentModel) models.Document {
	return models.Document{
		ID:             row.ID,
		CustomerID:     row.CustomerID,
		Stage:          row.Stage,
		Label:          row.Label,
		UploadedByRole: row.UploadedByRole,
		UploadedBy:     row.UploadedBy,
		URL:            row.URL,
		UploadedAt:     row.UploadedAt,
	}
}
