package documents

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/database"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/rolegate"
)

type stubSigner struct {
	keys  []string
	types []string
}

func (s *stubSigner) PresignUpload(_ context.Context, key, contentType string) (models.UploadTarget, error) {
	s.keys = append(s.keys, key)
	s.types = append(s.types, contentType)
	return models.UploadTarget{UploadURL: "https://blob.test/" + key + "?sig=1", ObjectURL: "/objects/" + key, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func newTestService(t *testing.T) (*Service, *stubSigner) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo := NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	signer := &stubSigner{}
	return NewService(repo, rolegate.Default(), signer, nil), signer
}

func intPtr(v int) *int { return &v }

var nutritionist = models.Actor{UserID: uuid.New(), Role: rolegate.RoleNutritionist}

func TestRecordDietChartDocument(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customer := uuid.New()

	doc, err := svc.RecordDocument(ctx, customer, intPtr(4), "Weight Loss Plan", nutritionist, "/objects/abc123")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if doc.Stage == nil || *doc.Stage != 4 || doc.UploadedByRole != "nutritionist" || doc.URL != "/objects/abc123" {
		t.Fatalf("unexpected document %+v", doc)
	}

	docs, err := svc.ListDocuments(ctx, customer, intPtr(4))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != doc.ID || docs[0].Label != "Weight Loss Plan" {
		t.Fatalf("expected recorded document, got %+v", docs)
	}
}

func TestRecordDocumentValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customer := uuid.New()

	cases := []struct {
		name  string
		stage *int
		label string
		url   string
		actor models.Actor
		want  error
	}{
		{"empty label", intPtr(4), "   ", "/objects/x", nutritionist, apperr.ErrValidation},
		{"empty url", intPtr(4), "Plan", "", nutritionist, apperr.ErrValidation},
		{"stage out of range", intPtr(7), "Plan", "/objects/x", nutritionist, apperr.ErrValidation},
		{"wrong role for stage", intPtr(4), "Plan", "/objects/x", models.Actor{UserID: uuid.New(), Role: rolegate.RoleChef}, apperr.ErrForbiddenTransition},
		{"customer on unstaged", nil, "Note", "/objects/x", models.Actor{UserID: customer, Role: rolegate.RoleCustomer}, apperr.ErrForbiddenTransition},
	}
	for _, tc := range cases {
		if _, err := svc.RecordDocument(ctx, customer, tc.stage, tc.label, tc.actor, tc.url); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	docs, err := svc.ListDocuments(ctx, customer, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("rejected records must not be stored, got %d", len(docs))
	}
}

func TestListDocumentsOrderAndFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customer := uuid.New()
	consultant := models.Actor{UserID: uuid.New(), Role: rolegate.RoleConsultant}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	labels := []string{"Intake form", "Consult notes", "Misc"}
	stages := []*int{intPtr(1), intPtr(1), nil}
	for i, label := range labels {
		if _, err := svc.RecordDocument(ctx, customer, stages[i], label, consultant, "/objects/"+label); err != nil {
			t.Fatalf("record %s: %v", label, err)
		}
	}

	all, err := svc.ListDocuments(ctx, customer, nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].Label != "Intake form" || all[2].Label != "Misc" {
		t.Fatalf("unexpected order %+v", all)
	}
	stageOne, err := svc.ListDocuments(ctx, customer, intPtr(1))
	if err != nil {
		t.Fatalf("list stage 1: %v", err)
	}
	if len(stageOne) != 2 {
		t.Fatalf("expected 2 stage 1 documents, got %d", len(stageOne))
	}
	other, err := svc.ListDocuments(ctx, uuid.New(), nil)
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no documents for another customer, got %d (%v)", len(other), err)
	}
}

func TestRequestUpload(t *testing.T) {
	svc, signer := newTestService(t)
	customer := uuid.New()

	target, err := svc.RequestUpload(context.Background(), customer, "cbc.pdf", "", models.Actor{UserID: uuid.New(), Role: rolegate.RoleLabTechnician})
	if err != nil {
		t.Fatalf("request upload: %v", err)
	}
	if !strings.HasPrefix(signer.keys[0], "customers/"+customer.String()+"/") {
		t.Fatalf("unexpected key %q", signer.keys[0])
	}
	if signer.types[0] != "application/pdf" {
		t.Fatalf("expected pdf content type, got %q", signer.types[0])
	}
	if target.ObjectURL == "" || target.UploadURL == "" {
		t.Fatalf("unexpected target %+v", target)
	}

	if _, err := svc.RequestUpload(context.Background(), customer, "x.pdf", "", models.Actor{UserID: customer, Role: rolegate.RoleCustomer}); !errors.Is(err, apperr.ErrForbiddenTransition) {
		t.Fatalf("expected forbidden for customer, got %v", err)
	}
}
