package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// ArtifactRenderer produces the PDF bytes for an order's form data.
type ArtifactRenderer interface {
	Render(ctx context.Context, st model.ServiceType, formData json.RawMessage) ([]byte, error)
}

// FulfillmentResult describes the artifact an order ended up with.
type FulfillmentResult struct {
	OrderID   string
	URL       string
	ExpiresAt time.Time
	Cached    bool
	Enriched  bool
}

// EnrichResult summarises one enrichment run for the generate endpoint.
type EnrichResult struct {
	AlreadyGenerated bool
	Summary          bool
	CoverLetter      bool
	Achievements     int
	GeneratedAt      time.Time
}

type FulfillerOptions struct {
	Store     OrderStore
	Enricher  Enricher
	Renderer  ArtifactRenderer
	Publisher *Publisher
	Claimer   Claimer
	Events    Events
	Config    *config.FulfillmentConfig
}

// Fulfiller drives a paid order through enrichment, rendering and publishing.
// Every step persists before the next starts, so a failed run resumes from
// where it stopped.
type Fulfiller struct {
	store     OrderStore
	enricher  Enricher
	renderer  ArtifactRenderer
	publisher *Publisher
	claimer   Claimer
	events    Events
	policy    string
	claimTTL  time.Duration
	now       func() time.Time
}

func NewFulfiller(opts FulfillerOptions) *Fulfiller {
	f := &Fulfiller{
		store:     opts.Store,
		enricher:  opts.Enricher,
		renderer:  opts.Renderer,
		publisher: opts.Publisher,
		claimer:   opts.Claimer,
		events:    opts.Events,
		policy:    config.EnrichmentContinue,
		claimTTL:  5 * time.Minute,
		now:       time.Now,
	}
	if opts.Config != nil {
		if opts.Config.EnrichmentFailure != "" {
			f.policy = opts.Config.EnrichmentFailure
		}
		if opts.Config.ClaimTTL > 0 {
			f.claimTTL = opts.Config.ClaimTTL
		}
	}
	if f.claimer == nil {
		f.claimer = NewMemoryClaimer()
	}
	if f.events == nil {
		f.events = NopEvents{}
	}
	return f
}

// EnsureFulfilled returns the order's artifact URL, building it when there is
// no fresh one. On error pdf_url and expires_at are left untouched.
func (f *Fulfiller) EnsureFulfilled(ctx context.Context, orderID string) (*FulfillmentResult, error) {
	ctx = logger.WithOrder(ctx, orderID)

	order, err := f.loadPaid(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if res, ok := f.cached(order); ok {
		return res, nil
	}

	release, err := f.claim(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Another run may have finished between the first read and the claim.
	order, err = f.loadPaid(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if res, ok := f.cached(order); ok {
		return res, nil
	}

	st, err := model.ParseServiceType(order.ServiceType)
	if err != nil {
		return nil, err
	}

	formData := order.FormData
	enriched := alreadyEnriched(order)
	if !st.IsAgreement() && !enriched {
		merged, _, err := f.enrich(ctx, order, st)
		switch {
		case err == nil:
			formData = merged
			enriched = true
		case f.policy == config.EnrichmentFail || !isEnrichmentFailure(err):
			logger.Error(ctx, "fulfillment failed", "step", "enrich", "error", err)
			return nil, err
		default:
			logger.Warn(ctx, "enrichment failed, rendering original data", "step", "enrich", "error", err)
		}
	}

	pdf, err := f.renderer.Render(ctx, st, formData)
	if err != nil {
		logger.Error(ctx, "fulfillment failed", "step", "render", "error", err)
		return nil, fmt.Errorf("render order %s: %w", orderID, err)
	}

	order.FormData = formData
	pub, err := f.publisher.Publish(ctx, pdf, order)
	if err != nil {
		logger.Error(ctx, "fulfillment failed", "step", "publish", "error", err)
		return nil, fmt.Errorf("publish order %s: %w", orderID, err)
	}

	if err := f.store.SetArtifact(ctx, orderID, pub.URL, pub.ExpiresAt); err != nil {
		logger.Error(ctx, "fulfillment failed", "step", "persist", "error", err)
		return nil, fmt.Errorf("persist artifact %s: %w", orderID, err)
	}

	logger.Info(ctx, "order fulfilled", "enriched", enriched, "expires_at", pub.ExpiresAt, "bytes", len(pdf))
	f.events.Publish(ctx, EventOrderFulfilled, orderID, OrderFulfilledPayload{
		OrderID:   orderID,
		Enriched:  enriched,
		ExpiresAt: pub.ExpiresAt,
	})

	return &FulfillmentResult{
		OrderID:   orderID,
		URL:       pub.URL,
		ExpiresAt: pub.ExpiresAt,
		Enriched:  enriched,
	}, nil
}

// EnrichOrder runs enrichment alone for a paid CV order. It is a no-op for
// orders that already carry generated content.
func (f *Fulfiller) EnrichOrder(ctx context.Context, orderID string) (*EnrichResult, error) {
	ctx = logger.WithOrder(ctx, orderID)

	order, err := f.loadPaid(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if alreadyEnriched(order) {
		return &EnrichResult{AlreadyGenerated: true, GeneratedAt: derefTime(order.AIGeneratedAt)}, nil
	}

	st, err := model.ParseServiceType(order.ServiceType)
	if err != nil {
		return nil, err
	}
	if st.IsAgreement() {
		return nil, fmt.Errorf("%w: agreements are not enriched", apperr.ErrValidation)
	}

	release, err := f.claim(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err = f.loadPaid(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if alreadyEnriched(order) {
		return &EnrichResult{AlreadyGenerated: true, GeneratedAt: derefTime(order.AIGeneratedAt)}, nil
	}

	_, ec, err := f.enrich(ctx, order, st)
	if err != nil {
		logger.Error(ctx, "enrichment failed", "step", "enrich", "error", err)
		return nil, err
	}

	achievements := 0
	for _, bullets := range ec.Achievements {
		achievements += len(bullets)
	}
	return &EnrichResult{
		Summary:      ec.Summary != "",
		CoverLetter:  ec.CoverLetter != "",
		Achievements: achievements,
		GeneratedAt:  ec.GeneratedAt,
	}, nil
}

// enrich generates content, merges it and persists it before returning.
func (f *Fulfiller) enrich(ctx context.Context, order *model.Order, st model.ServiceType) (json.RawMessage, *EnrichedContent, error) {
	ec, err := f.enricher.Enrich(ctx, order.ID, st, order.FormData)
	if err != nil {
		return nil, nil, &enrichmentError{err: err}
	}
	merged, err := MergeEnrichment(order.FormData, ec)
	if err != nil {
		return nil, nil, &enrichmentError{err: err}
	}
	if err := f.store.SaveEnrichment(ctx, order.ID, merged, ec.GeneratedAt); err != nil {
		return nil, nil, fmt.Errorf("save enrichment %s: %w", order.ID, err)
	}
	logger.Info(ctx, "enrichment saved", "step", "enrich", "achievement_groups", len(ec.Achievements))
	return merged, ec, nil
}

func (f *Fulfiller) loadPaid(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := f.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPaid() {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrPaymentRequired)
	}
	return order, nil
}

func (f *Fulfiller) cached(order *model.Order) (*FulfillmentResult, bool) {
	if !order.HasFreshArtifact(f.now()) {
		return nil, false
	}
	return &FulfillmentResult{
		OrderID:   order.ID,
		URL:       *order.PDFURL,
		ExpiresAt: *order.ExpiresAt,
		Cached:    true,
		Enriched:  order.AIGenerated,
	}, true
}

func (f *Fulfiller) claim(ctx context.Context, orderID string) (func(), error) {
	token, ok, err := f.claimer.Claim(ctx, orderID, f.claimTTL)
	if err != nil {
		return nil, fmt.Errorf("claim order %s: %w", orderID, err)
	}
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrInProgress)
	}
	return func() {
		if err := f.claimer.Release(context.WithoutCancel(ctx), orderID, token); err != nil {
			logger.Warn(ctx, "claim release failed", "error", err)
		}
	}, nil
}

// enrichmentError marks failures of the generation step itself, which the
// continue policy may skip past. Store failures are never wrapped in it.
type enrichmentError struct{ err error }

func (e *enrichmentError) Error() string { return "enrichment: " + e.err.Error() }
func (e *enrichmentError) Unwrap() error { return e.err }

func isEnrichmentFailure(err error) bool {
	var ee *enrichmentError
	return errors.As(err, &ee)
}

// alreadyEnriched reports whether generated content is stored, either flagged
// on the order or marked inside its form data.
func alreadyEnriched(order *model.Order) bool {
	return order.AIGenerated || model.IsEnriched(order.FormData)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
