package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/acknowledgements"
	"github.com/nourishpath/platform/pkg/activity"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/dietplan"
	"github.com/nourishpath/platform/pkg/documents"
	"github.com/nourishpath/platform/pkg/journey"
	"github.com/nourishpath/platform/pkg/orders"
	"github.com/nourishpath/platform/pkg/rolegate"
)

// Task types raised by staff actions.
const (
	TaskReportUploaded     = "report_uploaded"
	TaskDietChartUploaded  = "diet_chart_uploaded"
	TaskMealPreparationDue = "meal_preparation_due"
	TaskDeliveryDue        = "delivery_due"
	DefaultDietChartLabel  = "Diet Chart"
	paymentStage           = 5
	deliveryStage          = 6
)

type handoff struct {
	TaskType string
	Stage    int
	Role     rolegate.Role
}

// uploadHandoffs notify the next role when a stage report lands.
var uploadHandoffs = map[int]handoff{
	1: {TaskType: TaskReportUploaded, Stage: 2, Role: rolegate.RoleLabTechnician},
	2: {TaskType: TaskReportUploaded, Stage: 3, Role: rolegate.RoleConsultant},
	3: {TaskType: TaskReportUploaded, Stage: 4, Role: rolegate.RoleNutritionist},
	4: {TaskType: TaskDietChartUploaded, Stage: 5, Role: rolegate.RoleAdmin},
}

// Coordinator runs the multi-component staff actions. Every check runs
// before the first write.
type Coordinator struct {
	stages    *journey.Service
	documents *documents.Service
	plans     *dietplan.Service
	tasks     *acknowledgements.Service
	orders    *orders.Service
	activity  *activity.Service
}

func NewCoordinator(
	stages *journey.Service,
	docs *documents.Service,
	plans *dietplan.Service,
	tasks *acknowledgements.Service,
	orderService *orders.Service,
	activityService *activity.Service,
) *Coordinator {
	return &Coordinator{
		stages:    stages,
		documents: docs,
		plans:     plans,
		tasks:     tasks,
		orders:    orderService,
		activity:  activityService,
	}
}

// AdvanceStage is the staff-facing stage update; changes are logged to the
// activity feed.
func (c *Coordinator) AdvanceStage(ctx context.Context, customerID uuid.UUID, stage int, status string, actor models.Actor) (models.StageProgress, error) {
	before, err := c.stages.GetStage(ctx, customerID, stage)
	if err != nil {
		return models.StageProgress{}, err
	}
	progress, err := c.stages.AdvanceStage(ctx, customerID, stage, status, actor)
	if err != nil {
		return models.StageProgress{}, err
	}
	if before.Status != progress.Status {
		c.logStage(ctx, customerID, progress, actor)
	}
	return progress, nil
}

type ReportUpload struct {
	Document models.Document      `json:"document"`
	Stage    models.StageProgress `json:"stage"`
}

// UploadReport records a stage report, moves the stage into progress (or
// completes it) and notifies the next role.
func (c *Coordinator) UploadReport(ctx context.Context, customerID uuid.UUID, req models.UploadReportRequest, actor models.Actor) (ReportUpload, error) {
	stage := req.Stage
	if err := c.documents.CheckRecord(customerID, &stage, req.Label, req.URL, actor); err != nil {
		return ReportUpload{}, err
	}
	current, err := c.stages.GetStage(ctx, customerID, stage)
	if err != nil {
		return ReportUpload{}, err
	}
	target := models.StageStatusInProgress
	if req.Complete || current.Status == models.StageStatusCompleted {
		target = models.StageStatusCompleted
	}
	if err := c.stages.CheckAdvance(ctx, customerID, stage, target, actor); err != nil {
		return ReportUpload{}, err
	}

	doc, err := c.documents.RecordDocument(ctx, customerID, &stage, req.Label, actor, req.URL)
	if err != nil {
		return ReportUpload{}, err
	}
	progress, err := c.stages.AdvanceStage(ctx, customerID, stage, target, actor)
	if err != nil {
		return ReportUpload{}, fmt.Errorf("report %s recorded but stage update failed: %w", doc.ID, err)
	}
	if current.Status != progress.Status {
		c.logStage(ctx, customerID, progress, actor)
	}
	if next, ok := uploadHandoffs[stage]; ok {
		c.dispatch(ctx, customerID, next)
	}

	c.activity.RecordQuietly(ctx, activity.Entry{
		Actor:       actor,
		CustomerID:  &customerID,
		Action:      activity.ActionReportUploaded,
		Stage:       &stage,
		Description: fmt.Sprintf("Uploaded %q for %s", doc.Label, journey.StageName(stage)),
		Metadata:    map[string]interface{}{"document_id": doc.ID.String(), "url": doc.URL},
	})
	return ReportUpload{Document: doc, Stage: progress}, nil
}

// SaveDietChart stores a new diet plan revision. When a chart URL is given it
// is also recorded as a stage 4 document and the admin pool is told.
func (c *Coordinator) SaveDietChart(ctx context.Context, customerID uuid.UUID, req models.SaveDietPlanRequest, actor models.Actor) (models.DietChartResult, error) {
	draft, err := c.plans.Prepare(customerID, req.Macros, req.WeeklyPlan, actor)
	if err != nil {
		return models.DietChartResult{}, err
	}
	stage := dietplan.Stage
	url := strings.TrimSpace(req.URL)
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = DefaultDietChartLabel
	}
	if url != "" {
		if err := c.documents.CheckRecord(customerID, &stage, label, url, actor); err != nil {
			return models.DietChartResult{}, err
		}
	}
	current, err := c.stages.GetStage(ctx, customerID, stage)
	if err != nil {
		return models.DietChartResult{}, err
	}
	startStage := current.Status == models.StageStatusPending
	if startStage {
		if err := c.stages.CheckAdvance(ctx, customerID, stage, models.StageStatusInProgress, actor); err != nil {
			return models.DietChartResult{}, err
		}
	}

	plan, err := c.plans.Save(ctx, customerID, draft, url, actor)
	if err != nil {
		return models.DietChartResult{}, err
	}
	result := models.DietChartResult{Plan: plan}
	if url != "" {
		doc, err := c.documents.RecordDocument(ctx, customerID, &stage, label, actor, url)
		if err != nil {
			return models.DietChartResult{}, fmt.Errorf("diet plan %d saved but chart record failed: %w", plan.Revision, err)
		}
		result.Document = &doc
		c.dispatch(ctx, customerID, uploadHandoffs[stage])
	}
	if startStage {
		progress, err := c.stages.AdvanceStage(ctx, customerID, stage, models.StageStatusInProgress, actor)
		if err != nil {
			return models.DietChartResult{}, fmt.Errorf("diet plan %d saved but stage update failed: %w", plan.Revision, err)
		}
		c.logStage(ctx, customerID, progress, actor)
	}

	metadata := map[string]interface{}{"revision": plan.Revision}
	if result.Document != nil {
		metadata["document_id"] = result.Document.ID.String()
	}
	c.activity.RecordQuietly(ctx, activity.Entry{
		Actor:       actor,
		CustomerID:  &customerID,
		Action:      activity.ActionDietChartSaved,
		Stage:       &stage,
		Description: fmt.Sprintf("Saved diet plan revision %d", plan.Revision),
		Metadata:    metadata,
	})
	return result, nil
}

type PaymentResult struct {
	Order models.Order          `json:"order"`
	Stage *models.StageProgress `json:"stage,omitempty"`
}

// CompletePayment applies a verified payment callback. Replays of a settled
// session return the stored order unchanged.
func (c *Coordinator) CompletePayment(ctx context.Context, hook models.PaymentWebhook) (PaymentResult, error) {
	if strings.TrimSpace(hook.SessionID) == "" {
		return PaymentResult{}, apperr.Validation("session id is required")
	}
	customerID := hook.CustomerID
	if customerID == uuid.Nil {
		return PaymentResult{}, apperr.Validation("customer id is required")
	}
	if hook.Status != models.PaymentStatusCompleted && hook.Status != models.PaymentStatusFailed {
		return PaymentResult{}, apperr.Validation("unknown payment status %q", hook.Status)
	}

	actor := models.SystemActor
	if hook.Status == models.PaymentStatusCompleted {
		if err := c.stages.CheckAdvance(ctx, customerID, paymentStage, models.StageStatusCompleted, actor); err != nil {
			return PaymentResult{}, err
		}
	}
	order, err := c.orders.OrderForPayment(ctx, customerID, hook.SessionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if orders.Settled(order.Status) {
		return PaymentResult{Order: order}, nil
	}

	if hook.Status == models.PaymentStatusFailed {
		updated, changed, err := c.orders.Advance(ctx, order.ID, models.OrderStatusPaymentFailed, actor)
		if err != nil {
			return PaymentResult{}, err
		}
		if changed {
			c.logOrder(ctx, updated, activity.ActionPaymentFailed, "Payment failed", actor)
		}
		return PaymentResult{Order: updated}, nil
	}

	if err := c.orders.CheckAdvance(order, models.OrderStatusPaid, actor); err != nil {
		return PaymentResult{}, err
	}

	updated, changed, err := c.orders.Advance(ctx, order.ID, models.OrderStatusPaid, actor)
	if err != nil {
		return PaymentResult{}, err
	}
	progress, err := c.stages.AdvanceStage(ctx, customerID, paymentStage, models.StageStatusCompleted, actor)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("order %s paid but stage update failed: %w", order.ID, err)
	}
	if changed {
		c.dispatch(ctx, customerID, handoff{TaskType: TaskMealPreparationDue, Stage: deliveryStage, Role: rolegate.RoleChef})
		c.logOrder(ctx, updated, activity.ActionPaymentCompleted, "Payment received", actor)
	}
	return PaymentResult{Order: updated, Stage: &progress}, nil
}

// MarkMealPrepared records the chef's sign-off and hands the order to the
// delivery pool.
func (c *Coordinator) MarkMealPrepared(ctx context.Context, orderID uuid.UUID, actor models.Actor) (models.Order, error) {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if err := c.orders.CheckAdvance(order, models.OrderStatusPrepared, actor); err != nil {
		return models.Order{}, err
	}
	current, err := c.stages.GetStage(ctx, order.CustomerID, deliveryStage)
	if err != nil {
		return models.Order{}, err
	}
	startStage := current.Status == models.StageStatusPending
	if startStage {
		if err := c.stages.CheckAdvance(ctx, order.CustomerID, deliveryStage, models.StageStatusInProgress, actor); err != nil {
			return models.Order{}, err
		}
	}

	updated, changed, err := c.orders.Advance(ctx, orderID, models.OrderStatusPrepared, actor)
	if err != nil {
		return models.Order{}, err
	}
	if !changed {
		return updated, nil
	}
	if startStage {
		progress, err := c.stages.AdvanceStage(ctx, order.CustomerID, deliveryStage, models.StageStatusInProgress, actor)
		if err != nil {
			return models.Order{}, fmt.Errorf("order %s prepared but stage update failed: %w", orderID, err)
		}
		c.logStage(ctx, order.CustomerID, progress, actor)
	}
	if err := c.tasks.ResolveTask(ctx, order.CustomerID, TaskMealPreparationDue); err != nil {
		logger.Log.WithError(err).WithField("order_id", orderID).Warn("Failed to resolve meal preparation task")
	}
	c.dispatch(ctx, order.CustomerID, handoff{TaskType: TaskDeliveryDue, Stage: deliveryStage, Role: rolegate.RoleDelivery})
	c.logOrder(ctx, updated, activity.ActionMealPrepared, "Meal prepared", actor)
	return updated, nil
}

// AdvanceDelivery moves an order out for delivery or to delivered; delivery
// completes the customer's final stage.
func (c *Coordinator) AdvanceDelivery(ctx context.Context, orderID uuid.UUID, status string, actor models.Actor) (models.Order, error) {
	if status != models.OrderStatusOutForDelivery && status != models.OrderStatusDelivered {
		return models.Order{}, apperr.Validation("delivery status must be %s or %s", models.OrderStatusOutForDelivery, models.OrderStatusDelivered)
	}
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if err := c.orders.CheckAdvance(order, status, actor); err != nil {
		return models.Order{}, err
	}
	if status == models.OrderStatusDelivered {
		if err := c.stages.CheckAdvance(ctx, order.CustomerID, deliveryStage, models.StageStatusCompleted, actor); err != nil {
			return models.Order{}, err
		}
	}

	updated, changed, err := c.orders.Advance(ctx, orderID, status, actor)
	if err != nil {
		return models.Order{}, err
	}
	if !changed {
		return updated, nil
	}
	if status == models.OrderStatusDelivered {
		progress, err := c.stages.AdvanceStage(ctx, order.CustomerID, deliveryStage, models.StageStatusCompleted, actor)
		if err != nil {
			return models.Order{}, fmt.Errorf("order %s delivered but stage update failed: %w", orderID, err)
		}
		c.logStage(ctx, order.CustomerID, progress, actor)
	}
	c.logOrder(ctx, updated, activity.ActionDeliveryUpdated, "Order "+strings.ReplaceAll(status, "_", " "), actor)
	return updated, nil
}

func (c *Coordinator) dispatch(ctx context.Context, customerID uuid.UUID, next handoff) {
	stage := next.Stage
	if _, err := c.tasks.CreateAcknowledgement(ctx, models.Assignment{Role: next.Role}, customerID, next.TaskType, &stage); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"customer_id": customerID,
			"task_type":   next.TaskType,
		}).Warn("Failed to dispatch acknowledgement")
	}
}

func (c *Coordinator) logStage(ctx context.Context, customerID uuid.UUID, progress models.StageProgress, actor models.Actor) {
	stage := progress.Stage
	c.activity.RecordQuietly(ctx, activity.Entry{
		Actor:       actor,
		CustomerID:  &customerID,
		Action:      activity.ActionStageUpdated,
		Stage:       &stage,
		Description: fmt.Sprintf("%s marked %s", progress.Name, strings.ReplaceAll(progress.Status, "_", " ")),
		Metadata:    map[string]interface{}{"status": progress.Status},
	})
}

func (c *Coordinator) logOrder(ctx context.Context, order models.Order, action, description string, actor models.Actor) {
	customerID := order.CustomerID
	c.activity.RecordQuietly(ctx, activity.Entry{
		Actor:       actor,
		CustomerID:  &customerID,
		Action:      action,
		Description: description,
		Metadata:    map[string]interface{}{"order_id": order.ID.String(), "status": order.Status},
	})
}
