package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/observability/metrics"
)

type CustomerDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
}

type StageReader interface {
	ListStages(ctx context.Context, customerID uuid.UUID) ([]models.StageProgress, error)
}

type DocumentReader interface {
	ListDocuments(ctx context.Context, customerID uuid.UUID, stage *int) ([]models.Document, error)
}

type PlanReader interface {
	Active(ctx context.Context, customerID uuid.UUID) (models.DietPlan, bool, error)
}

type TaskReader interface {
	ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Acknowledgement, error)
}

// Sources are the read-only views the compositor draws from.
type Sources struct {
	Users     CustomerDirectory
	Stages    StageReader
	Documents DocumentReader
	Plans     PlanReader
	Tasks     TaskReader
}

// Compositor builds PDF reports on demand. It never writes to the sources.
type Compositor struct {
	src      Sources
	compress bool
	now      func() time.Time
	render   func(Layout, bool) ([]byte, error)
}

func NewCompositor(src Sources) *Compositor {
	return &Compositor{
		src:      src,
		compress: true,
		now:      func() time.Time { return time.Now().UTC() },
		render:   Render,
	}
}

// ComposeDietChart renders the active diet plan. NotFound when no plan exists.
func (c *Compositor) ComposeDietChart(ctx context.Context, customerID uuid.UUID) ([]byte, error) {
	plan, ok, err := c.src.Plans.Active(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load diet plan: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound("diet plan for customer", customerID)
	}
	customer, err := c.customer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	nutritionist := ""
	if plan.NutritionistID != nil {
		if user, err := c.src.Users.GetUser(ctx, *plan.NutritionistID); err == nil {
			nutritionist = user.Name
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}
	return c.output("diet_chart", customerID, BuildDietChart(customer, plan, nutritionist, c.now()))
}

// ComposeConsolidatedReport renders everything recorded for the customer.
func (c *Compositor) ComposeConsolidatedReport(ctx context.Context, customerID uuid.UUID) ([]byte, error) {
	data, err := c.journeyData(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return c.output("consolidated", customerID, BuildConsolidated(data, c.now()))
}

func (c *Compositor) journeyData(ctx context.Context, customerID uuid.UUID) (JourneyData, error) {
	customer, err := c.customer(ctx, customerID)
	if err != nil {
		return JourneyData{}, err
	}
	data := JourneyData{Customer: customer}
	if data.Stages, err = c.src.Stages.ListStages(ctx, customerID); err != nil {
		return JourneyData{}, fmt.Errorf("load stages: %w", err)
	}
	if data.Documents, err = c.src.Documents.ListDocuments(ctx, customerID, nil); err != nil {
		return JourneyData{}, fmt.Errorf("load documents: %w", err)
	}
	plan, ok, err := c.src.Plans.Active(ctx, customerID)
	if err != nil {
		return JourneyData{}, fmt.Errorf("load diet plan: %w", err)
	}
	if ok {
		data.Plan = &plan
	}
	if data.Tasks, err = c.src.Tasks.ListForCustomer(ctx, customerID); err != nil {
		return JourneyData{}, fmt.Errorf("load acknowledgements: %w", err)
	}
	return data, nil
}

// customer falls back to an id-only profile for customers the directory
// has not seen.
func (c *Compositor) customer(ctx context.Context, customerID uuid.UUID) (models.User, error) {
	user, err := c.src.Users.GetUser(ctx, customerID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.User{ID: customerID}, nil
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load customer: %w", err)
	}
	return user, nil
}

func (c *Compositor) output(kind string, customerID uuid.UUID, layout Layout) ([]byte, error) {
	data, err := c.render(layout, c.compress)
	if err != nil {
		metrics.ReportFailed()
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"customer_id": customerID,
			"report":      kind,
		}).Error("Failed to render report")
		return nil, apperr.Generation(err)
	}
	metrics.ReportGenerated()
	return data, nil
}
