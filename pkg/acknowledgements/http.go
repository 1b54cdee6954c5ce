package acknowledgements

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/common/response"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
	"github.com/nourishpath/platform/pkg/rolegate"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	staff := r.PathPrefix("/acknowledgements").Subrouter()
	staff.Use(middleware.RequireStaff)
	staff.HandleFunc("", h.handleCreate).Methods(http.MethodPost)
	staff.HandleFunc("/pending", h.handleListPending).Methods(http.MethodGet)
	staff.HandleFunc("/pending/count", h.handlePendingCount).Methods(http.MethodGet)
	staff.HandleFunc("/{id}", h.handleUpdateStatus).Methods(http.MethodPatch)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAcknowledgementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	assignment := models.Assignment{StaffID: req.StaffID}
	if req.Role != "" {
		role, err := rolegate.ParseRole(req.Role)
		if err != nil {
			response.Error(w, apperr.Validation("%v", err))
			return
		}
		assignment.Role = role
	}
	if assignment.StaffID == nil && assignment.Role == "" {
		response.Error(w, apperr.Validation("staff_id or role is required"))
		return
	}

	ack, err := h.service.CreateAcknowledgement(r.Context(), assignment, req.CustomerID, req.TaskType, req.Stage)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]interface{}{"acknowledgement": ack})
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid acknowledgement id"))
		return
	}
	var req models.UpdateAcknowledgementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	ack, err := h.service.SetStatus(r.Context(), id, req.Status, actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"acknowledgement": ack})
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	items, err := h.service.ListPendingForStaff(r.Context(), actor.UserID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	count, err := h.service.PendingCount(r.Context(), actor.UserID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"count": count})
}
