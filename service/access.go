package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// AccessGate decides whether an artifact may be downloaded and hands out a
// newly signed URL when it may. Stored URLs are never reused.
type AccessGate struct {
	store     OrderStore
	storage   ObjectStorage
	publisher *Publisher
	window    time.Duration
	now       func() time.Time
}

func NewAccessGate(store OrderStore, storage ObjectStorage, publisher *Publisher, window time.Duration) *AccessGate {
	return &AccessGate{
		store:     store,
		storage:   storage,
		publisher: publisher,
		window:    window,
		now:       time.Now,
	}
}

func (g *AccessGate) AuthorizeDownload(ctx context.Context, orderID string) (string, error) {
	ctx = logger.WithOrder(ctx, orderID)

	order, err := g.store.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !order.IsPaid() {
		return "", fmt.Errorf("order %s: %w", orderID, apperr.ErrForbidden)
	}
	if !order.WithinAccessWindow(g.now(), g.window) {
		return "", fmt.Errorf("order %s paid at %s: %w", orderID, order.PaidAt.Format(time.RFC3339), apperr.ErrGone)
	}

	exists, err := g.storage.Exists(ctx, model.ArtifactPath(orderID))
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("artifact for order %s: %w", orderID, apperr.ErrNotFound)
	}

	pub, err := g.publisher.Sign(ctx, order)
	if err != nil {
		return "", err
	}
	if err := g.store.SetArtifact(ctx, orderID, pub.URL, pub.ExpiresAt); err != nil {
		return "", fmt.Errorf("persist signed url %s: %w", orderID, err)
	}

	logger.Info(ctx, "download authorized", "expires_at", pub.ExpiresAt)
	return pub.URL, nil
}
