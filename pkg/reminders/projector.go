// Package reminders keeps the acknowledgement badge counts in Redis in
// step with the workflow event stream.
package reminders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/events"
)

// CountRefresher recomputes badge counts. *acknowledgements.Service
// satisfies it.
type CountRefresher interface {
	AffectedStaff(ctx context.Context, staffID *uuid.UUID, role string) ([]uuid.UUID, error)
	RefreshPendingCount(ctx context.Context, staffID uuid.UUID) (int64, error)
}

type Projector struct {
	counts CountRefresher
}

func NewProjector(counts CountRefresher) *Projector {
	return &Projector{counts: counts}
}

// Handle is a kafka.EventHandler. Returning an error leaves the message
// uncommitted so it is fetched again.
func (p *Projector) Handle(ctx context.Context, event models.Event) error {
	switch event.Type {
	case events.TypeAcknowledgementCreated, events.TypeAcknowledgementUpdated:
	default:
		return nil
	}

	log := logger.Log.WithFields(map[string]interface{}{
		"event_id":           event.ID,
		"event_type":         event.Type,
		"acknowledgement_id": event.Data["acknowledgement_id"],
	})

	var staffID *uuid.UUID
	if raw, ok := event.Data["staff_id"].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			log.WithError(err).Warn("Skipping acknowledgement event with malformed staff id")
			return nil
		}
		staffID = &id
	}
	role, _ := event.Data["assigned_role"].(string)
	if staffID == nil && role == "" {
		log.Warn("Skipping acknowledgement event without an assignee")
		return nil
	}

	staff, err := p.counts.AffectedStaff(ctx, staffID, role)
	if err != nil {
		return fmt.Errorf("resolve affected staff: %w", err)
	}
	for _, id := range staff {
		count, err := p.counts.RefreshPendingCount(ctx, id)
		if err != nil {
			return fmt.Errorf("refresh pending count for %s: %w", id, err)
		}
		log.WithFields(map[string]interface{}{
			"staff_id": id,
			"pending":  count,
		}).Debug("Pending count refreshed")
	}
	return nil
}
