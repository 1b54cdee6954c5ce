package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/rolegate"
)

// Actor is the authenticated caller as asserted by the identity provider.
type Actor struct {
	UserID uuid.UUID     `json:"user_id"`
	Role   rolegate.Role `json:"role"`
}

// SystemActor is used for webhook-driven and background transitions.
var SystemActor = Actor{Role: rolegate.RoleSystem}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Identity
type User struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stage progress
const (
	StageStatusPending    = "pending"
	StageStatusInProgress = "in_progress"
	StageStatusCompleted  = "completed"
)

type StageProgress struct {
	ID          uuid.UUID  `json:"id,omitempty"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	Stage       int        `json:"stage"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

type JourneySummary struct {
	CustomerID   uuid.UUID       `json:"customer_id"`
	Stages       []StageProgress `json:"stages"`
	CurrentStage int             `json:"current_stage"`
	Completed    bool            `json:"completed"`
}

type AdvanceStageRequest struct {
	Status string `json:"status"`
}

// Documents
type Document struct {
	ID             uuid.UUID `json:"id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	Stage          *int      `json:"stage,omitempty"`
	Label          string    `json:"label"`
	UploadedByRole string    `json:"uploaded_by_role"`
	UploadedBy     uuid.UUID `json:"uploaded_by"`
	URL            string    `json:"url"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

type RecordDocumentRequest struct {
	Stage *int   `json:"stage,omitempty"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

type UploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
}

// UploadTarget pairs a one-time upload URL with the durable object URL to
// record once the upload succeeds.
type UploadTarget struct {
	UploadURL string    `json:"upload_url"`
	ObjectURL string    `json:"object_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Acknowledgements
const (
	AckStatusPending      = "pending"
	AckStatusAcknowledged = "acknowledged"
	AckStatusCompleted    = "completed"
)

type Acknowledgement struct {
	ID             uuid.UUID  `json:"id"`
	StaffID        *uuid.UUID `json:"staff_id,omitempty"`
	AssignedRole   string     `json:"assigned_role"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	TaskType       string     `json:"task_type"`
	Stage          *int       `json:"stage,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Assignment targets either one staff member or every member of a role.
type Assignment struct {
	StaffID *uuid.UUID
	Role    rolegate.Role
}

type CreateAcknowledgementRequest struct {
	StaffID    *uuid.UUID `json:"staff_id,omitempty"`
	Role       string     `json:"role,omitempty"`
	CustomerID uuid.UUID  `json:"customer_id"`
	TaskType   string     `json:"task_type"`
	Stage      *int       `json:"stage,omitempty"`
}

type UpdateAcknowledgementRequest struct {
	Status string `json:"status"`
}

// Diet plans
type MacroEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Macros holds either structured entries or a flat text fallback.
type Macros struct {
	Entries []MacroEntry `json:"entries,omitempty"`
	Text    string       `json:"text,omitempty"`
}

func (m Macros) IsEmpty() bool { return len(m.Entries) == 0 && m.Text == "" }

type MealSlot struct {
	Slot        string `json:"slot"`
	Description string `json:"description"`
}

type PlanDay struct {
	Day   string     `json:"day"`
	Meals []MealSlot `json:"meals,omitempty"`
	Text  string     `json:"text,omitempty"`
}

type WeeklyPlan struct {
	Days []PlanDay `json:"days,omitempty"`
	Text string    `json:"text,omitempty"`
}

func (w WeeklyPlan) IsEmpty() bool { return len(w.Days) == 0 && w.Text == "" }

type DietPlan struct {
	ID             uuid.UUID  `json:"id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	Revision       int        `json:"revision"`
	NutritionistID *uuid.UUID `json:"nutritionist_id,omitempty"`
	Macros         Macros     `json:"macros"`
	WeeklyPlan     WeeklyPlan `json:"weekly_plan"`
	PDFURL         string     `json:"pdf_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type SaveDietPlanRequest struct {
	Macros     json.RawMessage `json:"macros,omitempty"`
	WeeklyPlan json.RawMessage `json:"weekly_plan,omitempty"`
	Label      string          `json:"label,omitempty"`
	URL        string          `json:"url,omitempty"`
}

type DietChartResult struct {
	Plan     DietPlan  `json:"plan"`
	Document *Document `json:"document,omitempty"`
}

// Staff activity
type StaffActivity struct {
	ID          int64                  `json:"id"`
	StaffID     uuid.UUID              `json:"staff_id"`
	StaffRole   string                 `json:"staff_role"`
	CustomerID  *uuid.UUID             `json:"customer_id,omitempty"`
	Action      string                 `json:"action"`
	Stage       *int                   `json:"stage,omitempty"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Workflow
type UploadReportRequest struct {
	Stage    int    `json:"stage"`
	Label    string `json:"label"`
	URL      string `json:"url"`
	Complete bool   `json:"complete"`
}

// Orders
const (
	OrderStatusAwaitingPayment = "awaiting_payment"
	OrderStatusPaymentFailed   = "payment_failed"
	OrderStatusPaid            = "paid"
	OrderStatusPreparing       = "preparing"
	OrderStatusPrepared        = "prepared"
	OrderStatusOutForDelivery  = "out_for_delivery"
	OrderStatusDelivered       = "delivered"
)

type Order struct {
	ID               uuid.UUID  `json:"id"`
	CustomerID       uuid.UUID  `json:"customer_id"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	Status           string     `json:"status"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	PreparedAt       *time.Time `json:"prepared_at,omitempty"`
	OutForDeliveryAt *time.Time `json:"out_for_delivery_at,omitempty"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
}

// PaymentWebhook is the opaque callback sent by the payment gateway once a
// checkout session settles.
type PaymentWebhook struct {
	SessionID  string    `json:"session_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Status     string    `json:"status"`
}

const (
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)
