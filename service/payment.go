package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

const (
	FulfillmentReady   = "ready"
	FulfillmentPending = "pending"
	// FulfillmentExpired means the access window has closed; nothing is built.
	FulfillmentExpired = "expired"
)

// Confirmation is the order state after a payment check.
type Confirmation struct {
	Order       *model.Order
	Fulfillment string
	ExpiresAt   *time.Time
}

// Fulfillment is the part of the orchestrator payment confirmation triggers.
type Fulfillment interface {
	EnsureFulfilled(ctx context.Context, orderID string) (*FulfillmentResult, error)
}

type PaymentService struct {
	store     OrderStore
	gateway   PaymentGateway
	fulfiller Fulfillment
	events    Events
	window    time.Duration
	now       func() time.Time
}

func NewPaymentService(store OrderStore, gateway PaymentGateway, fulfiller Fulfillment, events Events, accessWindow time.Duration) *PaymentService {
	if events == nil {
		events = NopEvents{}
	}
	return &PaymentService{
		store:     store,
		gateway:   gateway,
		fulfiller: fulfiller,
		events:    events,
		window:    accessWindow,
		now:       time.Now,
	}
}

// Confirm verifies payment for orderID with the gateway, marks the order paid
// and runs fulfillment. It is safe to call any number of times from the
// webhook and from client polling. A fulfillment failure after payment is
// reported as pending rather than as an error.
func (s *PaymentService) Confirm(ctx context.Context, orderID string) (*Confirmation, error) {
	ctx = logger.WithOrder(ctx, orderID)

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.IsPaid() {
		v, err := s.gateway.Verify(ctx, order.TxRef())
		if err != nil {
			logger.Error(ctx, "payment verify failed", "error", err)
			return nil, err
		}
		if !strings.EqualFold(v.Status, ChapaStatusSuccess) {
			return nil, fmt.Errorf("order %s: gateway status %q: %w", orderID, v.Status, apperr.ErrPaymentRequired)
		}
		if !v.Amount.Equal(order.Amount) || !strings.EqualFold(v.Currency, order.Currency) {
			logger.Warn(ctx, "payment mismatch", "paid", v.Amount.String()+" "+v.Currency, "expected", order.Amount.String()+" "+order.Currency)
			return nil, fmt.Errorf("%w: paid %s %s, expected %s %s", apperr.ErrValidation, v.Amount, v.Currency, order.Amount, order.Currency)
		}

		paidAt := s.now().UTC()
		if err := s.store.MarkPaid(ctx, orderID, v.Reference, paidAt); err != nil {
			return nil, fmt.Errorf("mark paid %s: %w", orderID, err)
		}
		logger.Info(ctx, "payment confirmed", "chapa_ref", v.Reference)
		s.events.Publish(ctx, EventOrderPaid, orderID, OrderPaidPayload{OrderID: orderID, ChapaRef: v.Reference, PaidAt: paidAt})
	} else if !order.WithinAccessWindow(s.now(), s.window) {
		// The gate answers Gone from here on, so there is nothing to build.
		return &Confirmation{Order: order, Fulfillment: FulfillmentExpired}, nil
	}

	conf := &Confirmation{Fulfillment: FulfillmentReady}
	res, err := s.fulfiller.EnsureFulfilled(ctx, orderID)
	if err != nil {
		logger.Warn(ctx, "fulfillment pending", "error", err)
		conf.Fulfillment = FulfillmentPending
	} else {
		conf.ExpiresAt = &res.ExpiresAt
	}

	conf.Order, err = s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return conf, nil
}
