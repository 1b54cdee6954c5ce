package reminders

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/events"
)

type stubCounts struct {
	pools     map[string][]uuid.UUID
	refreshed []uuid.UUID
	fail      error
}

func (s *stubCounts) AffectedStaff(_ context.Context, staffID *uuid.UUID, role string) ([]uuid.UUID, error) {
	if staffID != nil {
		return []uuid.UUID{*staffID}, nil
	}
	return s.pools[role], nil
}

func (s *stubCounts) RefreshPendingCount(_ context.Context, staffID uuid.UUID) (int64, error) {
	if s.fail != nil {
		return 0, s.fail
	}
	s.refreshed = append(s.refreshed, staffID)
	return 1, nil
}

func TestProjectorRefreshesDirectAssignee(t *testing.T) {
	counts := &stubCounts{}
	staff := uuid.New()
	event := models.Event{Type: events.TypeAcknowledgementCreated, Data: map[string]interface{}{
		"staff_id":      staff.String(),
		"assigned_role": "consultant",
	}}

	if err := NewProjector(counts).Handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(counts.refreshed) != 1 || counts.refreshed[0] != staff {
		t.Fatalf("expected only the assignee to refresh, got %v", counts.refreshed)
	}
}

func TestProjectorRefreshesRolePool(t *testing.T) {
	pool := []uuid.UUID{uuid.New(), uuid.New()}
	counts := &stubCounts{pools: map[string][]uuid.UUID{"chef": pool}}
	event := models.Event{Type: events.TypeAcknowledgementUpdated, Data: map[string]interface{}{"assigned_role": "chef"}}

	if err := NewProjector(counts).Handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(counts.refreshed) != 2 {
		t.Fatalf("expected every pool member to refresh, got %v", counts.refreshed)
	}
}

func TestProjectorIgnoresOtherEvents(t *testing.T) {
	counts := &stubCounts{}
	projector := NewProjector(counts)
	for _, event := range []models.Event{
		{Type: events.TypeStageAdvanced, Data: map[string]interface{}{"assigned_role": "chef"}},
		{Type: events.TypeAcknowledgementCreated, Data: map[string]interface{}{"staff_id": "not-a-uuid"}},
		{Type: events.TypeAcknowledgementCreated, Data: map[string]interface{}{}},
	} {
		if err := projector.Handle(context.Background(), event); err != nil {
			t.Fatalf("expected %s to be skipped, got %v", event.Type, err)
		}
	}
	if len(counts.refreshed) != 0 {
		t.Fatalf("expected no refreshes, got %v", counts.refreshed)
	}
}

func TestProjectorSurfacesRefreshErrors(t *testing.T) {
	counts := &stubCounts{fail: errors.New("redis down")}
	event := models.Event{Type: events.TypeAcknowledgementCreated, Data: map[string]interface{}{"staff_id": uuid.NewString()}}
	if err := NewProjector(counts).Handle(context.Background(), event); err == nil {
		t.Fatal("expected refresh failure to leave the message uncommitted")
	}
}
