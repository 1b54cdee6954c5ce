package documents

import (
	"encoding/json"
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
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/customers/{id}/documents", h.handleList).Methods(http.MethodGet)
	staff := r.NewRoute().Subrouter()
	staff.Use(middleware.RequireStaff)
	staff.HandleFunc("/customers/{id}/documents", h.handleRecord).Methods(http.MethodPost)
	staff.HandleFunc("/customers/{id}/uploads", h.handleRequestUpload).Methods(http.MethodPost)
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid customer id"))
		return
	}
	var req models.RecordDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	doc, err := h.service.RecordDocument(r.Context(), customerID, req.Stage, req.Label, actor, req.URL)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]interface{}{"document": doc})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
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

	var stage *int
	if raw := r.URL.Query().Get("stage"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(w, apperr.Validation("invalid stage filter"))
			return
		}
		stage = &v
	}
	docs, err := h.service.ListDocuments(r.Context(), customerID, stage)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"items": docs})
}

func (h *Handler) handleRequestUpload(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid customer id"))
		return
	}
	var req models.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	target, err := h.service.RequestUpload(r.Context(), customerID, req.FileName, req.ContentType, actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"upload": target})
}
