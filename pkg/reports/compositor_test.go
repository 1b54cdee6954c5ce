package reports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/nourishpath/platform/pkg/activity"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/rolegate"
)

type stubSources struct {
	users  map[uuid.UUID]models.User
	stages []models.StageProgress
	docs   []models.Document
	plan   *models.DietPlan
	tasks  []models.Acknowledgement
}

func (s *stubSources) GetUser(_ context.Context, id uuid.UUID) (models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return models.User{}, apperr.NotFound("user", id)
}

func (s *stubSources) ListStages(context.Context, uuid.UUID) ([]models.StageProgress, error) {
	return s.stages, nil
}

func (s *stubSources) ListDocuments(context.Context, uuid.UUID, *int) ([]models.Document, error) {
	return s.docs, nil
}

func (s *stubSources) Active(context.Context, uuid.UUID) (models.DietPlan, bool, error) {
	if s.plan == nil {
		return models.DietPlan{}, false, nil
	}
	return *s.plan, true, nil
}

func (s *stubSources) ListForCustomer(context.Context, uuid.UUID) ([]models.Acknowledgement, error) {
	return s.tasks, nil
}

func newTestCompositor(src *stubSources) *Compositor {
	c := NewCompositor(Sources{Users: src, Stages: src, Documents: src, Plans: src, Tasks: src})
	c.compress = false
	c.now = func() time.Time { return generatedAt }
	return c
}

func readPDF(t *testing.T, data []byte) (int, string) {
	t.Helper()
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %q", data[:min(len(data), 16)])
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("pdf reader: %v", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		t.Fatalf("pdf text: %v", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		t.Fatalf("read text: %v", err)
	}
	return r.NumPage(), string(text)
}

func TestComposeDietChart(t *testing.T) {
	customer := uuid.New()
	nutritionist := uuid.New()
	src := &stubSources{
		users: map[uuid.UUID]models.User{
			customer:     {ID: customer, Name: "Asha Rao", Role: "customer"},
			nutritionist: {ID: nutritionist, Name: "Meera Iyer", Role: "nutritionist"},
		},
		plan: &models.DietPlan{
			CustomerID:     customer,
			Revision:       1,
			NutritionistID: &nutritionist,
			Macros:         models.Macros{Entries: []models.MacroEntry{{Name: "protein", Value: "150g"}}},
			WeeklyPlan:     models.WeeklyPlan{Days: []models.PlanDay{{Day: "Monday", Meals: []models.MealSlot{{Slot: "Lunch", Description: "Dal"}}}}},
			CreatedAt:      generatedAt,
		},
	}

	data, err := newTestCompositor(src).ComposeDietChart(context.Background(), customer)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	pages, text := readPDF(t, data)
	if pages != 1 {
		t.Fatalf("expected a single page, got %d", pages)
	}
	for _, want := range []string{"Personalized Diet Chart", "Asha Rao", "Meera Iyer", "Weekly Meal Plan"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in diet chart text %q", want, text)
		}
	}
}

func TestComposeDietChartWithoutPlan(t *testing.T) {
	_, err := newTestCompositor(&stubSources{}).ComposeDietChart(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found without a plan, got %v", err)
	}
}

func TestComposeConsolidatedReportPages(t *testing.T) {
	customer := uuid.New()
	src := &stubSources{
		stages: []models.StageProgress{{CustomerID: customer, Stage: 1, Status: models.StageStatusCompleted, CompletedAt: &generatedAt}},
		docs:   []models.Document{{CustomerID: customer, Stage: intPtr(1), Label: "Intake form", UploadedAt: generatedAt}},
		plan:   &models.DietPlan{CustomerID: customer, Revision: 1, Macros: models.Macros{Text: "Balanced"}, CreatedAt: generatedAt},
		tasks:  []models.Acknowledgement{{CustomerID: customer, TaskType: "sample_collection_due", Status: models.AckStatusPending, CreatedAt: generatedAt}},
	}

	data, err := newTestCompositor(src).ComposeConsolidatedReport(context.Background(), customer)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	pages, text := readPDF(t, data)
	if pages != 3 {
		t.Fatalf("expected journey, diet summary and task pages, got %d", pages)
	}
	if !strings.Contains(text, "Intake form") || !strings.Contains(text, "Task History") {
		t.Fatalf("missing report content in %q", text)
	}

	empty, err := newTestCompositor(&stubSources{}).ComposeConsolidatedReport(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("compose with no data: %v", err)
	}
	pages, text = readPDF(t, empty)
	if pages != 2 {
		t.Fatalf("expected journey and task pages for an empty journey, got %d", pages)
	}
	if !strings.Contains(text, "No tasks recorded.") {
		t.Fatalf("missing empty task history in %q", text)
	}
}

func TestRenderFailureIsGenerationFailure(t *testing.T) {
	c := newTestCompositor(&stubSources{})
	c.render = func(Layout, bool) ([]byte, error) { return nil, errors.New("font table corrupt") }
	if _, err := c.ComposeConsolidatedReport(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrGenerationFailure) {
		t.Fatalf("expected generation failure, got %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRenderToReportsWriterErrors(t *testing.T) {
	layout := BuildConsolidated(JourneyData{Customer: models.User{ID: uuid.New()}}, generatedAt)
	if err := renderTo(failingWriter{}, layout, true); err == nil {
		t.Fatal("expected writer failure to surface")
	}
}

func TestRenderOutsideCodePage(t *testing.T) {
	layout := BuildDietChart(models.User{ID: uuid.New(), Name: "आशा राव"}, models.DietPlan{
		Revision:   1,
		Macros:     models.Macros{Entries: []models.MacroEntry{{Name: "énergie", Value: "1800 kcal"}}},
		WeeklyPlan: models.WeeklyPlan{Days: []models.PlanDay{{Day: "Monday", Text: "खिचड़ी"}}},
		CreatedAt:  generatedAt,
	}, "", generatedAt)

	data, err := Render(layout, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	pages, text := readPDF(t, data)
	if pages != 1 || !strings.Contains(text, "Personalized Diet Chart") || !strings.Contains(text, "1800 kcal") {
		t.Fatalf("unexpected output: %d pages, text %q", pages, text)
	}
}

type stubBlobs struct {
	keys []string
}

func (s *stubBlobs) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	s.keys = append(s.keys, key)
	return "/objects/" + key, nil
}

type stubRecorder struct {
	gate    *rolegate.Gate
	records []models.Document
}

func (s *stubRecorder) CheckRecord(_ uuid.UUID, stage *int, _, _ string, actor models.Actor) error {
	if !s.gate.CanRecordDocument(actor.Role, stage) {
		return apperr.Forbidden("role %s cannot record", actor.Role)
	}
	return nil
}

func (s *stubRecorder) RecordDocument(_ context.Context, customerID uuid.UUID, stage *int, label string, actor models.Actor, url string) (models.Document, error) {
	doc := models.Document{ID: uuid.New(), CustomerID: customerID, Stage: stage, Label: label, URL: url, UploadedByRole: string(actor.Role)}
	s.records = append(s.records, doc)
	return doc, nil
}

type stubActivity struct {
	entries []activity.Entry
}

func (s *stubActivity) RecordQuietly(_ context.Context, entry activity.Entry) {
	s.entries = append(s.entries, entry)
}

func TestArchiveDietChart(t *testing.T) {
	customer := uuid.New()
	src := &stubSources{plan: &models.DietPlan{CustomerID: customer, Revision: 1, Macros: models.Macros{Text: "Balanced"}, CreatedAt: generatedAt}}
	blobs := &stubBlobs{}
	recorder := &stubRecorder{gate: rolegate.Default()}
	feed := &stubActivity{}
	archiver := NewArchiver(newTestCompositor(src), blobs, recorder, feed, nil)

	nutritionist := models.Actor{UserID: uuid.New(), Role: rolegate.RoleNutritionist}
	archived, err := archiver.ArchiveDietChart(context.Background(), customer, nutritionist)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(blobs.keys) != 1 || !strings.HasPrefix(blobs.keys[0], "customers/"+customer.String()+"/") {
		t.Fatalf("unexpected blob keys %v", blobs.keys)
	}
	doc := archived.Document
	if doc.Stage == nil || *doc.Stage != 4 || doc.Label != "Diet Chart (01 Jun 2026)" || !strings.HasPrefix(doc.URL, "/objects/customers/") {
		t.Fatalf("unexpected archived document %+v", doc)
	}
	if len(archived.PDF) == 0 || len(feed.entries) != 1 || feed.entries[0].Action != activity.ActionReportArchived {
		t.Fatalf("expected pdf bytes and one activity entry, got %d bytes, %+v", len(archived.PDF), feed.entries)
	}

	chef := models.Actor{UserID: uuid.New(), Role: rolegate.RoleChef}
	if _, err := archiver.ArchiveDietChart(context.Background(), customer, chef); !errors.Is(err, apperr.ErrForbiddenTransition) {
		t.Fatalf("expected chef to be forbidden, got %v", err)
	}
	if len(blobs.keys) != 1 {
		t.Fatal("forbidden archive must not upload")
	}

	if _, err := archiver.ArchiveConsolidatedReport(context.Background(), customer, chef); err != nil {
		t.Fatalf("any staff may archive the consolidated report: %v", err)
	}
	if last := recorder.records[len(recorder.records)-1]; last.Stage != nil {
		t.Fatalf("consolidated report is unstaged, got stage %v", *last.Stage)
	}
}
