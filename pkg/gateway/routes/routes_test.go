package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/config"
	"github.com/nourishpath/platform/pkg/common/database"
	"github.com/nourishpath/platform/pkg/common/response"
	"github.com/nourishpath/platform/pkg/gateway/auth"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
	"github.com/nourishpath/platform/pkg/rolegate"
)

type echoRoutes struct{}

func (echoRoutes) Register(r *mux.Router) {
	r.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		actor, _ := middleware.ActorFromContext(r.Context())
		response.JSON(w, http.StatusOK, map[string]string{"role": string(actor.Role)})
	}).Methods(http.MethodGet)
}

func newTestRouter(t *testing.T, optional map[string]ReadinessCheck) (*mux.Router, *auth.JWTManager) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "routes.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	tokens, err := auth.NewJWTManager("routes-test-secret-key", "test-idp", "test-api", time.Hour)
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	cfg := &config.Config{RateLimitRPS: 100, RateLimitBurst: 100, MaxRequestBody: 1 << 20}
	public := WebhookRoutes(func(r *mux.Router) {
		r.HandleFunc("/webhooks/ping", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}).Methods(http.MethodPost)
	})
	router := NewRouter(Options{
		Config: cfg,
		Tokens: tokens,
		Health: NewHealthHandler(db, optional),
		API:    []Registrar{echoRoutes{}},
		Public: []Registrar{public},
	})
	return router, tokens
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAPIRequiresToken(t *testing.T) {
	router, tokens := newTestRouter(t, nil)

	if rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	token, err := tokens.IssueToken(auth.Identity{UserID: uuid.New(), Role: rolegate.RoleChef})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(router, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"chef"`) {
		t.Fatalf("expected chef actor, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPublicRoutesSkipAuthentication(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	if rec := serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/ping", nil)); rec.Code != http.StatusAccepted {
		t.Fatalf("expected webhook to bypass auth, got %d", rec.Code)
	}
}

func TestReadyReportsDegradedDependencies(t *testing.T) {
	router, _ := newTestRouter(t, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("optional dependency must not fail readiness, got %d", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ready" || body.Checks["database"] != "ok" || body.Checks["redis"] != "degraded" {
		t.Fatalf("unexpected readiness body %+v", body)
	}

	if rec := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "nourishpath_stage_transitions_total") {
		t.Fatalf("expected metrics exposition, got %d", rec.Code)
	}
}
