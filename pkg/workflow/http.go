package workflow

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/common/response"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
	"github.com/nourishpath/platform/pkg/observability/metrics"
)

type Handler struct {
	coordinator   *Coordinator
	webhookSecret []byte
	now           func() time.Time
}

func NewHandler(coordinator *Coordinator, webhookSecret string) *Handler {
	return &Handler{
		coordinator:   coordinator,
		webhookSecret: []byte(webhookSecret),
		now:           time.Now,
	}
}

// Register mounts the authenticated staff actions.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/customers/{id}/stages/{stage:[0-9]+}", h.handleAdvanceStage).Methods(http.MethodPost)

	staff := r.NewRoute().Subrouter()
	staff.Use(middleware.RequireStaff)
	staff.HandleFunc("/customers/{id}/reports", h.handleUploadReport).Methods(http.MethodPost)
	staff.HandleFunc("/customers/{id}/diet-plan", h.handleSaveDietChart).Methods(http.MethodPut)
	staff.HandleFunc("/orders/{id}/prepared", h.handleMealPrepared).Methods(http.MethodPost)
	staff.HandleFunc("/orders/{id}/delivery", h.handleDelivery).Methods(http.MethodPost)
}

// RegisterWebhooks mounts signed callbacks that carry no user token.
func (h *Handler) RegisterWebhooks(r *mux.Router) {
	r.HandleFunc("/webhooks/payments", h.handlePaymentWebhook).Methods(http.MethodPost)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleAdvanceStage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	customerID, err := uuid.Parse(vars["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid customer id"))
		return
	}
	stage, err := strconv.Atoi(vars["stage"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid stage"))
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	progress, err := h.coordinator.AdvanceStage(r.Context(), customerID, stage, req.Status, actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"stage": progress})
}

func (h *Handler) handleUploadReport(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid customer id"))
		return
	}
	var req models.UploadReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	result, err := h.coordinator.UploadReport(r.Context(), customerID, req, actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleSaveDietChart(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid customer id"))
		return
	}
	var req models.SaveDietPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	result, err := h.coordinator.SaveDietChart(r.Context(), customerID, req, actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleMealPrepared(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid order id"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	order, err := h.coordinator.MarkMealPrepared(r.Context(), orderID, actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, apperr.Validation("invalid order id"))
		return
	}
	var req models.OrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperr.Validation("invalid request body"))
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	order, err := h.coordinator.AdvanceDelivery(r.Context(), orderID, req.Status, actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if len(h.webhookSecret) == 0 {
		response.Message(w, http.StatusServiceUnavailable, "webhook_disabled", "payment webhook secret not configured")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		response.Error(w, apperr.Validation("unreadable request body"))
		return
	}
	err = VerifySignature(h.webhookSecret, r.Header.Get(SignatureTimestampHeader), r.Header.Get(SignatureHeader), body, h.now())
	if err != nil {
		metrics.PaymentWebhookRejected()
		logger.Log.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("Rejected payment webhook")
		response.Message(w, http.StatusUnauthorized, "invalid_signature", err.Error())
		return
	}

	var hook models.PaymentWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		response.Error(w, apperr.Validation("invalid webhook payload"))
		return
	}
	result, err := h.coordinator.CompletePayment(r.Context(), hook)
	if err != nil {
		if !errors.Is(err, apperr.ErrValidation) {
			logger.Log.WithError(err).WithField("session_id", hook.SessionID).Warn("Payment webhook not applied")
		}
		response.Error(w, err)
		return
	}
	metrics.PaymentWebhookAccepted()
	response.JSON(w, http.StatusOK, result)
}
