package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// OrderService owns order creation, lookup and checkout.
type OrderService struct {
	store   OrderStore
	prices  *PriceBook
	gateway PaymentGateway
}

func NewOrderService(store OrderStore, prices *PriceBook, gateway PaymentGateway) *OrderService {
	return &OrderService{store: store, prices: prices, gateway: gateway}
}

// Create validates the submission against its service kind and stores a
// DRAFT order priced at creation time.
func (s *OrderService) Create(ctx context.Context, userID, serviceType string, formData json.RawMessage) (*model.Order, error) {
	st, err := model.ParseServiceType(serviceType)
	if err != nil {
		return nil, err
	}
	if _, err := model.DecodeFormData(st, formData); err != nil {
		return nil, err
	}

	price := s.prices.Resolve(st)
	order := &model.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		ServiceType: st.String(),
		Status:      model.StatusDraft,
		FormData:    formData,
		Amount:      price.Amount,
		Currency:    price.Currency.String(),
	}
	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	logger.Info(logger.WithOrder(ctx, order.ID), "order created", "service_type", order.ServiceType, "amount", price.String())
	return s.store.Get(ctx, order.ID)
}

// Get returns the caller's order. Orders owned by someone else look missing.
func (s *OrderService) Get(ctx context.Context, userID, id string) (*model.Order, error) {
	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return order, nil
}

func (s *OrderService) List(ctx context.Context, userID string) ([]*model.Order, error) {
	return s.store.ListByUser(ctx, userID)
}

// Checkout opens a hosted payment page for a draft order.
func (s *OrderService) Checkout(ctx context.Context, userID, id, email string) (string, error) {
	order, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if order.IsPaid() {
		return "", fmt.Errorf("%w: order %s is already paid", apperr.ErrValidation, id)
	}

	first, last := splitName(fullName(order.FormData))
	url, err := s.gateway.Initialize(ctx, CheckoutRequest{
		TxRef:     order.TxRef(),
		Amount:    order.Amount,
		Currency:  order.Currency,
		Email:     email,
		FirstName: first,
		LastName:  last,
		Title:     "DocServe",
	})
	if err != nil {
		logger.Error(logger.WithOrder(ctx, id), "checkout failed", "error", err)
		return "", err
	}
	return url, nil
}

func fullName(formData json.RawMessage) string {
	var probe struct {
		PersonalInfo struct {
			FullName string `json:"fullName"`
		} `json:"personalInfo"`
	}
	_ = json.Unmarshal(formData, &probe)
	return probe.PersonalInfo.FullName
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
