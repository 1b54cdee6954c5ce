package dietplan

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/response"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
)

// Handler serves read access to diet plans. Saving goes through the
// workflow handler so the stage and document record stay in step.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/customers/{id}/diet-plan", h.handleActive).Methods(http.MethodGet)
	r.HandleFunc("/customers/{id}/diet-plan/revisions", h.handleRevisions).Methods(http.MethodGet)
}

func (h *Handler) customer(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	customerID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid customer id"))
		return uuid.Nil, false
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	if !middleware.CanViewCustomer(actor, customerID) {
		response.Error(w, apperr.Forbidden("cannot access customer %s", customerID))
		return uuid.Nil, false
	}
	return customerID, true
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customer(w, r)
	if !ok {
		return
	}
	plan, found, err := h.service.Active(r.Context(), customerID)
	if err != nil {
		response.Error(w, err)
		return
	}
	if !found {
		response.Error(w, apperr.NotFound("diet plan for customer", customerID))
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"plan": plan})
}

func (h *Handler) handleRevisions(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customer(w, r)
	if !ok {
		return
	}
	plans, err := h.service.Revisions(r.Context(), customerID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"items": plans})
}
