package activity

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/response"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	staff := r.NewRoute().Subrouter()
	staff.Use(middleware.RequireStaff)
	staff.HandleFunc("/activity", h.handleFeed).Methods(http.MethodGet)
}

// handleFeed defaults to today's entries. since accepts RFC 3339, a date, or "all".
func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := Query{Action: params.Get("action")}

	switch raw := params.Get("since"); raw {
	case "", "today":
		q.Since = h.service.StartOfDay()
	case "all":
	default:
		since, err := parseSince(raw)
		if err != nil {
			response.Error(w, apperr.Validation("invalid since %q", raw))
			return
		}
		q.Since = since
	}
	if raw := params.Get("customer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, apperr.Validation("invalid customer_id"))
			return
		}
		q.CustomerID = &id
	}
	if raw := params.Get("staff_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, apperr.Validation("invalid staff_id"))
			return
		}
		q.StaffID = &id
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(w, apperr.Validation("invalid limit"))
			return
		}
		q.Limit = limit
	}

	actor, _ := middleware.ActorFromContext(r.Context())
	entries, err := h.service.Feed(r.Context(), actor, q)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"items": entries, "since": q.Since})
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}
