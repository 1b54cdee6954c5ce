package journey

import (
	"net/http"
	"strconv"

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
	r.HandleFunc("/customers/{id}/journey", h.handleGetJourney).Methods(http.MethodGet)
	r.HandleFunc("/customers/{id}/journey", h.handleStartJourney).Methods(http.MethodPost)
	r.HandleFunc("/customers/{id}/stages/{stage:[0-9]+}", h.handleGetStage).Methods(http.MethodGet)
}

func (h *Handler) handleGetJourney(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetJourneySummary(r.Context(), customerID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"journey": summary})
}

func (h *Handler) handleStartJourney(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	progress, err := h.service.StartJourney(r.Context(), customerID, actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"stage": progress})
}

func (h *Handler) handleGetStage(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}
	stage, err := strconv.Atoi(mux.Vars(r)["stage"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid stage"))
		return
	}
	progress, err := h.service.GetStage(r.Context(), customerID, stage)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"stage": progress})
}

func customerFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
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
