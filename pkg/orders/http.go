package orders

import (
	"net/http"

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
	r.HandleFunc("/customers/{id}/orders", h.handleListByCustomer).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", h.handleGet).Methods(http.MethodGet)
}

func (h *Handler) handleListByCustomer(w http.ResponseWriter, r *http.Request) {
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
	list, err := h.service.ListByCustomer(r.Context(), customerID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"items": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid order id"))
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	if !middleware.CanViewCustomer(actor, order.CustomerID) {
		response.Error(w, apperr.Forbidden("cannot access order %s", id))
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"order": order})
}
