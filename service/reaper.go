package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// SweepResult counts the orders one sweep cleaned and the ones it failed on.
type SweepResult struct {
	Cleaned int `json:"cleaned"`
	Errors  int `json:"errors"`
}

// Reaper deletes artifacts whose signed URL has expired and clears the stored
// URL, so the next request for the order builds a new one.
type Reaper struct {
	store       OrderStore
	storage     ObjectStorage
	events      Events
	batch       int
	concurrency int
	now         func() time.Time
}

func NewReaper(store OrderStore, storage ObjectStorage, events Events, batch int) *Reaper {
	if events == nil {
		events = NopEvents{}
	}
	if batch <= 0 {
		batch = 50
	}
	return &Reaper{
		store:       store,
		storage:     storage,
		events:      events,
		batch:       batch,
		concurrency: 4,
		now:         time.Now,
	}
}

// Sweep processes one bounded batch. A failing order is counted and skipped;
// only a failure to select the batch is returned as an error.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	orders, err := r.store.ListExpiredArtifacts(ctx, r.now(), r.batch)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired artifacts: %w", err)
	}

	var cleaned, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, o := range orders {
		g.Go(func() error {
			octx := logger.WithOrder(gctx, o.ID)
			deleted, err := r.reap(octx, o)
			if err != nil {
				failed.Add(1)
				logger.Error(octx, "reap failed", "error", err)
				return nil
			}
			cleaned.Add(1)
			r.events.Publish(octx, EventOrderArtifactExpired, o.ID, ArtifactExpiredPayload{OrderID: o.ID, Deleted: deleted})
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{Cleaned: int(cleaned.Load()), Errors: int(failed.Load())}
	logger.Info(ctx, "sweep finished", "selected", len(orders), "cleaned", res.Cleaned, "errors", res.Errors)
	return res, nil
}

func (r *Reaper) reap(ctx context.Context, o *model.Order) (int, error) {
	keys, err := r.storage.List(ctx, o.ArtifactPrefix())
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := r.storage.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	if err := r.store.ClearArtifact(ctx, o.ID); err != nil {
		return 0, fmt.Errorf("clear artifact: %w", err)
	}
	return len(keys), nil
}
