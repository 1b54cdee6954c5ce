package activity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/database"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
	"github.com/nourishpath/platform/pkg/rolegate"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "activity.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo := NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(repo)
}

func intPtr(v int) *int { return &v }

func TestRecordAndFeed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	customer := uuid.New()
	consultant := models.Actor{UserID: uuid.New(), Role: rolegate.RoleConsultant}
	nutritionist := models.Actor{UserID: uuid.New(), Role: rolegate.RoleNutritionist}
	admin := models.Actor{UserID: uuid.New(), Role: rolegate.RoleAdmin}

	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	entries := []Entry{
		{Actor: consultant, CustomerID: &customer, Action: ActionStageUpdated, Stage: intPtr(1), Description: "Consultation started"},
		{Actor: consultant, CustomerID: &customer, Action: ActionReportUploaded, Stage: intPtr(1), Metadata: map[string]interface{}{"label": "Intake"}},
		{Actor: nutritionist, CustomerID: &customer, Action: ActionDietChartSaved, Stage: intPtr(4)},
	}
	for _, e := range entries {
		if _, err := svc.Record(ctx, e); err != nil {
			t.Fatalf("record %s: %v", e.Action, err)
		}
	}

	all, err := svc.Feed(ctx, admin, Query{})
	if err != nil {
		t.Fatalf("admin feed: %v", err)
	}
	if len(all) != 3 || all[0].Action != ActionDietChartSaved {
		t.Fatalf("expected newest first for admin, got %+v", all)
	}
	if all[1].Metadata["label"] != "Intake" {
		t.Fatalf("metadata not stored: %+v", all[1].Metadata)
	}

	own, err := svc.Feed(ctx, consultant, Query{})
	if err != nil {
		t.Fatalf("consultant feed: %v", err)
	}
	if len(own) != 2 {
		t.Fatalf("consultant should only see own entries, got %d", len(own))
	}

	uploads, err := svc.Feed(ctx, admin, Query{Action: ActionReportUploaded})
	if err != nil || len(uploads) != 1 {
		t.Fatalf("expected one upload entry, got %d (%v)", len(uploads), err)
	}

	recent, err := svc.Feed(ctx, admin, Query{Since: base.Add(2 * time.Minute)})
	if err != nil || len(recent) != 2 {
		t.Fatalf("expected two entries since +2m, got %d (%v)", len(recent), err)
	}

	if _, err := svc.Feed(ctx, models.Actor{UserID: customer, Role: rolegate.RoleCustomer}, Query{}); !errors.Is(err, apperr.ErrForbiddenTransition) {
		t.Fatalf("expected customers to be rejected, got %v", err)
	}
	if _, err := svc.Record(ctx, Entry{Actor: admin}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected missing action to fail validation, got %v", err)
	}
}

func TestFeedHandlerDefaultsToToday(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := models.Actor{UserID: uuid.New(), Role: rolegate.RoleAdmin}

	today := time.Now().UTC()
	svc.now = func() time.Time { return today.Add(-48 * time.Hour) }
	if _, err := svc.Record(ctx, Entry{Actor: admin, Action: ActionStageUpdated}); err != nil {
		t.Fatalf("record old: %v", err)
	}
	svc.now = func() time.Time { return today }
	if _, err := svc.Record(ctx, Entry{Actor: admin, Action: ActionMealPrepared}); err != nil {
		t.Fatalf("record today: %v", err)
	}

	r := mux.NewRouter()
	NewHandler(svc).Register(r)

	fetch := func(query string) []models.StaffActivity {
		req := httptest.NewRequest(http.MethodGet, "/activity"+query, nil)
		req = req.WithContext(middleware.WithActor(req.Context(), admin))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /activity%s: expected 200, got %d: %s", query, rec.Code, rec.Body.String())
		}
		var body struct {
			Items []models.StaffActivity `json:"items"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body.Items
	}

	if items := fetch(""); len(items) != 1 || items[0].Action != ActionMealPrepared {
		t.Fatalf("expected only today's entry, got %+v", items)
	}
	if items := fetch("?since=all"); len(items) != 2 {
		t.Fatalf("expected both entries, got %d", len(items))
	}

	req := httptest.NewRequest(http.MethodGet, "/activity?since=yesterday-ish", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), admin))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rec.Code)
	}
}
