package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/events"
	"github.com/nourishpath/platform/pkg/rolegate"
)

const maxUpdateAttempts = 3

// transitions lists the statuses reachable from each status.
var transitions = map[string][]string{
	models.OrderStatusAwaitingPayment: {models.OrderStatusPaid, models.OrderStatusPaymentFailed},
	models.OrderStatusPaymentFailed:   {models.OrderStatusPaid},
	models.OrderStatusPaid:            {models.OrderStatusPreparing, models.OrderStatusPrepared},
	models.OrderStatusPreparing:       {models.OrderStatusPrepared},
	models.OrderStatusPrepared:        {models.OrderStatusOutForDelivery},
	models.OrderStatusOutForDelivery:  {models.OrderStatusDelivered},
}

// actors lists who may move an order into each status. Admins may override any step.
var actors = map[string][]rolegate.Role{
	models.OrderStatusPaid:           {rolegate.RoleSystem},
	models.OrderStatusPaymentFailed:  {rolegate.RoleSystem},
	models.OrderStatusPreparing:      {rolegate.RoleChef},
	models.OrderStatusPrepared:       {rolegate.RoleChef},
	models.OrderStatusOutForDelivery: {rolegate.RoleDelivery},
	models.OrderStatusDelivered:      {rolegate.RoleDelivery},
}

var timestampColumns = map[string]string{
	models.OrderStatusPaid:           "paid_at",
	models.OrderStatusPrepared:       "prepared_at",
	models.OrderStatusOutForDelivery: "out_for_delivery_at",
	models.OrderStatusDelivered:      "delivered_at",
}

func knownStatus(status string) bool {
	if status == models.OrderStatusDelivered {
		return true
	}
	_, ok := transitions[status]
	return ok
}

func canTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func canSetStatus(role rolegate.Role, status string) bool {
	if rolegate.IsAdmin(role) {
		return true
	}
	for _, allowed := range actors[status] {
		if allowed == role {
			return true
		}
	}
	return false
}

type Service struct {
	repo   *Repository
	events events.Publisher
	now    func() time.Time
}

func NewService(repo *Repository, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Service{
		repo:   repo,
		events: publisher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OrderForPayment returns the order tied to a payment session, creating it on
// first sight. Replayed webhooks resolve to the same order.
func (s *Service) OrderForPayment(ctx context.Context, customerID uuid.UUID, reference string) (models.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return models.Order{}, apperr.Validation("payment reference is required")
	}
	if customerID == uuid.Nil {
		return models.Order{}, apperr.Validation("customer id is required")
	}
	order, err := s.repo.EnsureByReference(ctx, customerID, reference)
	if err != nil {
		return models.Order{}, fmt.Errorf("order for payment: %w", err)
	}
	if order.CustomerID != customerID {
		return models.Order{}, apperr.Validation("payment reference %s belongs to another customer", reference)
	}
	return order, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.Order, error) {
	order, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrOrderNotFound) {
		return models.Order{}, apperr.NotFound("order", id)
	}
	return order, err
}

func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

// CheckAdvance validates a status change without writing it.
func (s *Service) CheckAdvance(order models.Order, status string, actor models.Actor) error {
	if !knownStatus(status) {
		return apperr.Validation("unknown order status %q", status)
	}
	if !canSetStatus(actor.Role, status) {
		return apperr.Forbidden("role %s cannot mark orders %s", actor.Role, status)
	}
	if order.Status == status {
		return nil
	}
	if !canTransition(order.Status, status) {
		return apperr.InvalidStatusTransition(order.Status, status, "order status cannot move this way")
	}
	return nil
}

// Advance moves the order to status. Repeating the current status is a no-op.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, status string, actor models.Actor) (models.Order, bool, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		order, err := s.Get(ctx, id)
		if err != nil {
			return models.Order{}, false, err
		}
		if err := s.CheckAdvance(order, status, actor); err != nil {
			return models.Order{}, false, err
		}
		if order.Status == status {
			return order, false, nil
		}

		now := s.now()
		applied, err := s.repo.CompareAndSetStatus(ctx, order.ID, statusUpdate{
			From:      order.Status,
			To:        status,
			Timestamp: timestampColumns[status],
			At:        now,
		})
		if err != nil {
			return models.Order{}, false, fmt.Errorf("advance order %s: %w", id, err)
		}
		if !applied {
			continue
		}

		previous := order.Status
		updated, err := s.Get(ctx, id)
		if err != nil {
			return models.Order{}, false, err
		}
		logger.Log.WithFields(map[string]interface{}{
			"order_id": id,
			"from":     previous,
			"to":       status,
			"role":     actor.Role,
		}).Info("Order status changed")
		events.Emit(ctx, s.events, events.TypeOrderStatusChanged, map[string]interface{}{
			"order_id":    id.String(),
			"customer_id": updated.CustomerID.String(),
			"from":        previous,
			"to":          status,
			"actor_id":    actor.UserID.String(),
		})
		return updated, true, nil
	}
	return models.Order{}, false, apperr.InvalidStatusTransition("", status, "order was modified concurrently")
}

// Settled reports whether payment for an order has already been taken.
func Settled(status string) bool {
	switch status {
	case models.OrderStatusPaid, models.OrderStatusPreparing, models.OrderStatusPrepared,
		models.OrderStatusOutForDelivery, models.OrderStatusDelivered:
		return true
	}
	return false
}
