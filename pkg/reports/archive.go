package reports

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/activity"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/events"
	"github.com/nourishpath/platform/pkg/storage"
)

// BlobWriter stores generated files. *storage.ObjectStore satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// DocumentRecorder is the registry side of archiving. *documents.Service
// satisfies it.
type DocumentRecorder interface {
	CheckRecord(customerID uuid.UUID, stage *int, label, url string, actor models.Actor) error
	RecordDocument(ctx context.Context, customerID uuid.UUID, stage *int, label string, actor models.Actor, url string) (models.Document, error)
}

type ActivityRecorder interface {
	RecordQuietly(ctx context.Context, entry activity.Entry)
}

type reportKind struct {
	name     string
	label    string
	fileName string
	stage    *int
}

var dietChartStage = 4

var (
	dietChartReport    = reportKind{name: "diet_chart", label: "Diet Chart", fileName: "diet-chart.pdf", stage: &dietChartStage}
	consolidatedReport = reportKind{name: "consolidated", label: "Consolidated Report", fileName: "consolidated-report.pdf"}
)

// Archiver composes a report, stores it in the blob store and records it in
// the customer's documents.
type Archiver struct {
	compositor *Compositor
	blobs      BlobWriter
	documents  DocumentRecorder
	activity   ActivityRecorder
	events     events.Publisher
}

func NewArchiver(compositor *Compositor, blobs BlobWriter, docs DocumentRecorder, recorder ActivityRecorder, publisher events.Publisher) *Archiver {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Archiver{
		compositor: compositor,
		blobs:      blobs,
		documents:  docs,
		activity:   recorder,
		events:     publisher,
	}
}

type Archived struct {
	Document models.Document `json:"document"`
	PDF      []byte          `json:"-"`
}

func (a *Archiver) ArchiveDietChart(ctx context.Context, customerID uuid.UUID, actor models.Actor) (Archived, error) {
	return a.archive(ctx, dietChartReport, customerID, actor, a.compositor.ComposeDietChart)
}

func (a *Archiver) ArchiveConsolidatedReport(ctx context.Context, customerID uuid.UUID, actor models.Actor) (Archived, error) {
	return a.archive(ctx, consolidatedReport, customerID, actor, a.compositor.ComposeConsolidatedReport)
}

func (a *Archiver) archive(ctx context.Context, kind reportKind, customerID uuid.UUID, actor models.Actor, compose func(context.Context, uuid.UUID) ([]byte, error)) (Archived, error) {
	label := fmt.Sprintf("%s (%s)", kind.label, formatDate(a.compositor.now()))
	key := storage.CustomerKey(customerID, kind.fileName)
	// Put returns ObjectURL(key), so the record is checked before uploading.
	if err := a.documents.CheckRecord(customerID, kind.stage, label, storage.ObjectURL(key), actor); err != nil {
		return Archived{}, err
	}

	data, err := compose(ctx, customerID)
	if err != nil {
		return Archived{}, err
	}
	url, err := a.blobs.Put(ctx, key, data, "application/pdf")
	if err != nil {
		return Archived{}, fmt.Errorf("store %s: %w", kind.name, err)
	}
	doc, err := a.documents.RecordDocument(ctx, customerID, kind.stage, label, actor, url)
	if err != nil {
		return Archived{}, err
	}

	if a.activity != nil {
		a.activity.RecordQuietly(ctx, activity.Entry{
			Actor:       actor,
			CustomerID:  &customerID,
			Action:      activity.ActionReportArchived,
			Stage:       kind.stage,
			Description: "Archived " + label,
			Metadata:    map[string]interface{}{"document_id": doc.ID.String(), "report": kind.name},
		})
	}
	events.Emit(ctx, a.events, events.TypeReportArchived, map[string]interface{}{
		"customer_id": customerID.String(),
		"document_id": doc.ID.String(),
		"report":      kind.name,
		"url":         url,
	})
	return Archived{Document: doc, PDF: data}, nil
}
