package events

import (
	"context"

	"github.com/nourishpath/platform/pkg/common/logger"
)

const Source = "journey-service"

const (
	TypeJourneyStarted         = "journey.started"
	TypeStageAdvanced          = "journey.stage_advanced"
	TypeDocumentRecorded       = "document.recorded"
	TypeAcknowledgementCreated = "acknowledgement.created"
	TypeAcknowledgementUpdated = "acknowledgement.updated"
	TypeDietPlanSaved          = "diet_plan.saved"
	TypeOrderStatusChanged     = "order.status_changed"
	TypeReportArchived         = "report.archived"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type discard struct{}

func (discard) PublishEvent(context.Context, string, string, map[string]interface{}) error {
	return nil
}

// Discard drops every event. Used when EVENTS_ENABLED is false and in tests.
var Discard Publisher = discard{}

// Emit publishes without failing the caller; workflow events are
// notifications and never roll back a committed transition.
func Emit(ctx context.Context, publisher Publisher, eventType string, data map[string]interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishEvent(ctx, eventType, Source, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish workflow event")
	}
}
