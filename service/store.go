package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

// OrderStore persists orders. Writes are last-writer-wins; no method holds a
// lock across calls, so callers must tolerate interleaving.
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	Get(ctx context.Context, id string) (*model.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Order, error)

	// MarkPaid moves a draft to PAID. paid_at is only written the first time.
	MarkPaid(ctx context.Context, id, chapaRef string, paidAt time.Time) error
	// SaveEnrichment replaces form_data and sets ai_generated/ai_generated_at.
	SaveEnrichment(ctx context.Context, id string, formData json.RawMessage, at time.Time) error
	// SetArtifact writes pdf_url and expires_at together; the order must be PAID.
	SetArtifact(ctx context.Context, id, url string, expiresAt time.Time) error
	// ClearArtifact nulls pdf_url and expires_at together.
	ClearArtifact(ctx context.Context, id string) error
	// ListExpiredArtifacts returns at most limit orders whose URL expired before now.
	ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Order, error)
}

// MemoryStore is an in-memory OrderStore used in development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*model.Order),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("%w: order %s already exists", apperr.ErrValidation, order.ID)
	}

	now := s.now()
	stored := cloneOrder(order)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.orders[order.ID] = stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			result = append(result, cloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, id, chapaRef string, paidAt time.Time) error {
	return s.update(id, func(o *model.Order) error {
		o.Status = model.StatusPaid
		if o.PaidAt == nil {
			t := paidAt
			o.PaidAt = &t
		}
		if chapaRef != "" {
			o.ChapaRef = chapaRef
		}
		return nil
	})
}

func (s *MemoryStore) SaveEnrichment(_ context.Context, id string, formData json.RawMessage, at time.Time) error {
	return s.update(id, func(o *model.Order) error {
		o.FormData = append(json.RawMessage(nil), formData...)
		o.AIGenerated = true
		t := at
		o.AIGeneratedAt = &t
		return nil
	})
}

func (s *MemoryStore) SetArtifact(_ context.Context, id, url string, expiresAt time.Time) error {
	return s.update(id, func(o *model.Order) error {
		if !o.IsPaid() {
			return fmt.Errorf("order %s: %w", id, apperr.ErrPaymentRequired)
		}
		u, e := url, expiresAt
		o.PDFURL = &u
		o.ExpiresAt = &e
		return nil
	})
}

func (s *MemoryStore) ClearArtifact(_ context.Context, id string) error {
	return s.update(id, func(o *model.Order) error {
		o.PDFURL = nil
		o.ExpiresAt = nil
		return nil
	})
}

func (s *MemoryStore) ListExpiredArtifacts(_ context.Context, now time.Time, limit int) ([]*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Order
	for _, o := range s.orders {
		if o.PDFURL != nil && o.ExpiresAt != nil && o.ExpiresAt.Before(now) {
			result = append(result, cloneOrder(o))
		}
	}
	// Oldest expiry first so a bounded batch always makes progress.
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) update(id string, fn func(o *model.Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	next := cloneOrder(o)
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now()
	s.orders[id] = next
	return nil
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.FormData = append(json.RawMessage(nil), o.FormData...)
	if o.PDFURL != nil {
		u := *o.PDFURL
		c.PDFURL = &u
	}
	c.ExpiresAt = cloneTime(o.ExpiresAt)
	c.PaidAt = cloneTime(o.PaidAt)
	c.AIGeneratedAt = cloneTime(o.AIGeneratedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
