package reports

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/common/response"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
)

type Handler struct {
	compositor *Compositor
	archiver   *Archiver
}

// NewHandler serves reports; archiver may be nil when no blob store is
// configured, in which case ?archive=true is rejected.
func NewHandler(compositor *Compositor, archiver *Archiver) *Handler {
	return &Handler{compositor: compositor, archiver: archiver}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/customers/{id}/reports/diet-chart", h.handleDietChart).Methods(http.MethodGet)
	r.HandleFunc("/customers/{id}/reports/consolidated", h.handleConsolidated).Methods(http.MethodGet)
}

func (h *Handler) handleDietChart(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "diet-chart.pdf", h.compositor.ComposeDietChart, func(ctx context.Context, id uuid.UUID, actor models.Actor) (Archived, error) {
		return h.archiver.ArchiveDietChart(ctx, id, actor)
	})
}

func (h *Handler) handleConsolidated(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "journey-report.pdf", h.compositor.ComposeConsolidatedReport, func(ctx context.Context, id uuid.UUID, actor models.Actor) (Archived, error) {
		return h.archiver.ArchiveConsolidatedReport(ctx, id, actor)
	})
}

func (h *Handler) serve(
	w http.ResponseWriter,
	r *http.Request,
	fileName string,
	compose func(context.Context, uuid.UUID) ([]byte, error),
	archive func(context.Context, uuid.UUID, models.Actor) (Archived, error),
) {
	customerID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid customer id"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	if !middleware.CanViewCustomer(actor, customerID) {
		response.Error(w, apperr.Forbidden("cannot access customer %s", customerID))
		return
	}

	archiveRequested := false
	if raw := r.URL.Query().Get("archive"); raw != "" {
		if archiveRequested, err = strconv.ParseBool(raw); err != nil {
			response.Error(w, apperr.Validation("invalid archive flag"))
			return
		}
	}

	var pdf []byte
	if archiveRequested {
		if h.archiver == nil {
			response.Message(w, http.StatusServiceUnavailable, "archive_unavailable", "report archiving is not configured")
			return
		}
		archived, err := archive(r.Context(), customerID, actor)
		if err != nil {
			response.Error(w, err)
			return
		}
		w.Header().Set("X-Document-ID", archived.Document.ID.String())
		w.Header().Set("X-Document-URL", archived.Document.URL)
		pdf = archived.PDF
	} else {
		if pdf, err = compose(r.Context(), customerID); err != nil {
			response.Error(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
