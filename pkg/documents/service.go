package documents

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/events"
	"github.com/nourishpath/platform/pkg/observability/metrics"
	"github.com/nourishpath/platform/pkg/rolegate"
	"github.com/nourishpath/platform/pkg/storage"
)

// UploadSigner issues one-time upload URLs. *storage.ObjectStore satisfies it.
type UploadSigner interface {
	PresignUpload(ctx context.Context, key, contentType string) (models.UploadTarget, error)
}

type Service struct {
	repo   *Repository
	gate   *rolegate.Gate
	blobs  UploadSigner
	events events.Publisher
	now    func() time.Time
}

func NewService(repo *Repository, gate *rolegate.Gate, blobs UploadSigner, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Service{
		repo:   repo,
		gate:   gate,
		blobs:  blobs,
		events: publisher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckRecord validates a document without writing it.
func (s *Service) CheckRecord(customerID uuid.UUID, stage *int, label, url string, actor models.Actor) error {
	if customerID == uuid.Nil {
		return apperr.Validation("customer id is required")
	}
	if stage != nil && !rolegate.ValidStage(*stage) {
		return apperr.Validation("stage %d out of range %d..%d", *stage, rolegate.FirstStage, rolegate.LastStage)
	}
	if strings.TrimSpace(label) == "" {
		return apperr.Validation("label is required")
	}
	if strings.TrimSpace(url) == "" {
		return apperr.Validation("url is required")
	}
	if !s.gate.CanRecordDocument(actor.Role, stage) {
		if stage == nil {
			return apperr.Forbidden("role %s cannot record documents", actor.Role)
		}
		return apperr.Forbidden("role %s cannot record documents for stage %d", actor.Role, *stage)
	}
	return nil
}

// RecordDocument appends a document to the customer's record. The URL is
// stored as given and never rewritten.
func (s *Service) RecordDocument(ctx context.Context, customerID uuid.UUID, stage *int, label string, actor models.Actor, url string) (models.Document, error) {
	if err := s.CheckRecord(customerID, stage, label, url, actor); err != nil {
		return models.Document{}, err
	}

	doc, err := s.repo.Create(ctx, models.Document{
		ID:             uuid.New(),
		CustomerID:     customerID,
		Stage:          stage,
		Label:          strings.TrimSpace(label),
		UploadedByRole: string(actor.Role),
		UploadedBy:     actor.UserID,
		URL:            strings.TrimSpace(url),
		UploadedAt:     s.now(),
	})
	if err != nil {
		return models.Document{}, fmt.Errorf("record document: %w", err)
	}

	metrics.DocumentRecorded()
	logger.Log.WithFields(map[string]interface{}{
		"document_id": doc.ID,
		"customer_id": customerID,
		"role":        actor.Role,
	}).Info("Document recorded")

	data := map[string]interface{}{
		"document_id": doc.ID.String(),
		"customer_id": customerID.String(),
		"label":       doc.Label,
		"uploaded_by": actor.UserID.String(),
		"role":        string(actor.Role),
	}
	if stage != nil {
		data["stage"] = *stage
	}
	events.Emit(ctx, s.events, events.TypeDocumentRecorded, data)
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, customerID uuid.UUID, stage *int) ([]models.Document, error) {
	if stage != nil && !rolegate.ValidStage(*stage) {
		return nil, apperr.Validation("stage %d out of range %d..%d", *stage, rolegate.FirstStage, rolegate.LastStage)
	}
	return s.repo.ListByCustomer(ctx, customerID, stage)
}

// RequestUpload returns a one-time upload URL and the object URL to pass to
// RecordDocument after the upload completes.
func (s *Service) RequestUpload(ctx context.Context, customerID uuid.UUID, fileName, contentType string, actor models.Actor) (models.UploadTarget, error) {
	if !rolegate.IsStaffRole(actor.Role) {
		return models.UploadTarget{}, apperr.Forbidden("role %s cannot upload documents", actor.Role)
	}
	if strings.TrimSpace(fileName) == "" {
		return models.UploadTarget{}, apperr.Validation("file name is required")
	}
	if contentType == "" {
		contentType = contentTypeFor(fileName)
	}
	if s.blobs == nil {
		return models.UploadTarget{}, fmt.Errorf("blob store not configured")
	}
	return s.blobs.PresignUpload(ctx, storage.CustomerKey(customerID, fileName), contentType)
}

func contentTypeFor(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
