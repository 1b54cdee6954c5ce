package identity

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/apperr"
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
	r.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	staff := r.NewRoute().Subrouter()
	staff.Use(middleware.RequireStaff)
	staff.HandleFunc("/users", h.handleListUsers).Methods(http.MethodGet)
	staff.HandleFunc("/users/{id}", h.handleGetUser).Methods(http.MethodGet)
	staff.HandleFunc("/users/{id}", h.handleRegisterStaff).Methods(http.MethodPut)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	user, err := h.service.GetUser(r.Context(), actor.UserID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	role, err := rolegate.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		response.Error(w, apperr.Validation("%v", err))
		return
	}
	users, err := h.service.ListByRole(r.Context(), role)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"items": users})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid user id"))
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

type registerStaffRequest struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) handleRegisterStaff(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid user id"))
		return
	}
	var req registerStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	role, err := rolegate.ParseRole(req.Role)
	if err != nil {
		response.Error(w, apperr.Validation("%v", err))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	user, err := h.service.RegisterStaff(r.Context(), actor, Profile{ID: id, Role: role, Name: req.Name, Email: req.Email})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"user": user})
}
