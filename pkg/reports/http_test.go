package reports

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
	"github.com/nourishpath/platform/pkg/rolegate"
)

func serveAs(h *Handler, actor models.Actor, target string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	h.Register(r)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(middleware.WithActor(context.Background(), actor))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReportHandler(t *testing.T) {
	customer := uuid.New()
	h := NewHandler(newTestCompositor(&stubSources{}), nil)
	self := models.Actor{UserID: customer, Role: rolegate.RoleCustomer}

	rec := serveAs(h, self, "/customers/"+customer.String()+"/reports/consolidated")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf, got %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	if rec := serveAs(h, self, "/customers/"+customer.String()+"/reports/diet-chart"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a plan, got %d", rec.Code)
	}

	other := models.Actor{UserID: uuid.New(), Role: rolegate.RoleCustomer}
	if rec := serveAs(h, other, "/customers/"+customer.String()+"/reports/consolidated"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another customer, got %d", rec.Code)
	}

	if rec := serveAs(h, self, "/customers/"+customer.String()+"/reports/consolidated?archive=true"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an archiver, got %d", rec.Code)
	}
	if rec := serveAs(h, self, "/customers/"+customer.String()+"/reports/consolidated?archive=maybe"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad flag, got %d", rec.Code)
	}
}
