package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/response"
	"gorm.io/gorm"
)

// ReadinessCheck reports whether an optional dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

type HealthHandler struct {
	db       *gorm.DB
	optional map[string]ReadinessCheck
}

// NewHealthHandler reports ready only when db answers. Optional checks are
// listed in the readiness body but never fail it; the service degrades
// without them.
func NewHealthHandler(db *gorm.DB, optional map[string]ReadinessCheck) *HealthHandler {
	return &HealthHandler{db: db, optional: optional}
}

func (h *HealthHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *HealthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := http.StatusOK
	if err := h.pingDatabase(ctx); err != nil {
		logger.Log.WithError(err).Warn("Readiness check failed for database")
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	for name, check := range h.optional {
		if err := check(ctx); err != nil {
			logger.Log.WithError(err).WithField("dependency", name).Warn("Optional dependency unavailable")
			checks[name] = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	response.JSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

func (h *HealthHandler) pingDatabase(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
