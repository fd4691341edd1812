package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

func TestEnsureFulfilledIsIdempotent(t *testing.T) {
	p := newPipeline(t, config.EnrichmentContinue)
	ctx := context.Background()
	order := p.paidOrder(t, "cv", cvFormData(t, false))

	first, err := p.fulfiller.EnsureFulfilled(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.True(t, first.Enriched)

	second, err := p.fulfiller.EnsureFulfilled(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)

	assert.EqualValues(t, 1, p.llm.calls.Load(), "enrichment must run once")
	assert.Equal(t, 1, p.raster.calls)

	stored, err := p.store.Get(ctx, order.ID)
	require.NoError(t, err)
	assertArtifactPair(t, stored)
	require.NotNil(t, stored.PDFURL)
	assert.Equal(t, first.URL, *stored.PDFURL)
	assert.True(t, stored.AIGenerated)
	assert.True(t, model.IsEnriched(stored.FormData))
	assert.True(t, p.storage.has(model.ArtifactPath(order.ID)))
}

func TestEnsureFulfilledRegeneratesAfterExpiryWithoutReenriching(t *testing.T) {
	p := newPipeline(t, config.EnrichmentContinue)
	ctx := context.Background()
	order := p.paidOrder(t, "cv", cvFormData(t, false))

	first, err := p.fulfiller.EnsureFulfilled(ctx, order.ID)
	require.NoError(t, err)

	p.now = p.now.Add(2 * time.Hour)
	second, err := p.fulfiller.EnsureFulfilled(ctx, order.ID)
	require.NoError(t, err)

	assert.False(t, second.Cached)
	assert.NotEqual(t, first.URL, second.URL)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	assert.EqualValues(t, 1, p.llm.calls.Load())
	assert.Equal(t, 2, p.raster.calls)
}

func TestEnsureFulfilledRequiresPayment(t *testing.T) {
	p := newPipeline(t, config.EnrichmentContinue)
	ctx := context.Background()

	draft := &model.Order{ID: "draft-1", ServiceType: "cv", Status: model.StatusDraft, FormData: cvFormData(t, false)}
	require.NoError(t, p.store.Create(ctx, draft))

	_, err := p.fulfiller.EnsureFulfilled(ctx, draft.ID)
	assert.ErrorIs(t, err, apperr.ErrPaymentRequired)
	assert.Zero(t, p.llm.calls.Load())
	assert.Zero(t, p.raster.calls)

	_, err = p.fulfiller.EnsureFulfilled(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEnsureFulfilledEnrichmentPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      string
		wantErr     bool
		wantArtifct bool
	}{
		{name: "continue renders original data", policy: config.EnrichmentContinue, wantArtifct: true},
		{name: "fail aborts", policy: config.EnrichmentFail, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, tt.policy)
			p.llm.err = errors.New("rate limited")
			ctx := context.Background()
			order := p.paidOrder(t, "cv", cvFormData(t, false))

			res, err := p.fulfiller.EnsureFulfilled(ctx, order.ID)
			stored, getErr := p.store.Get(ctx, order.ID)
			require.NoError(t, getErr)
			assertArtifactPair(t, stored)
			assert.False(t, stored.AIGenerated)

			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrUpstream)
				assert.Nil(t, stored.PDFURL)
				assert.Zero(t, p.raster.calls)
				return
			}
			require.NoError(t, err)
			assert.False(t, res.Enriched)
			assert.Equal(t, tt.wantArtifct, stored.PDFURL != nil)
		})
	}
}

func TestEnsureFulfilledLeavesNoURLOnFailure(t *testing.T) {
	t.Run("render", func(t *testing.T) {
		p := newPipeline(t, config.EnrichmentContinue)
		p.raster.err = errors.New("chrome crashed")
		order := p.paidOrder(t, "cv", cvFormData(t, false))

		_, err := p.fulfiller.EnsureFulfilled(context.Background(), order.ID)
		require.ErrorIs(t, err, apperr.ErrUpstream)

		stored, _ := p.store.Get(context.Background(), order.ID)
		assert.Nil(t, stored.PDFURL)
		assert.Nil(t, stored.ExpiresAt)
		// Enrichment was persisted before rendering, so a retry skips it.
		assert.True(t, stored.AIGenerated)

		p.raster.err = nil
		_, err = p.fulfiller.EnsureFulfilled(context.Background(), order.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, p.llm.calls.Load())
	})

	t.Run("publish", func(t *testing.T) {
		p := newPipeline(t, config.EnrichmentContinue)
		p.storage.failPut = true
		order := p.paidOrder(t, "cv", cvFormData(t, false))

		_, err := p.fulfiller.EnsureFulfilled(context.Background(), order.ID)
		require.Error(t, err)

		stored, _ := p.store.Get(context.Background(), order.ID)
		assertArtifactPair(t, stored)
		assert.Nil(t, stored.PDFURL)
	})
}

func TestEnsureFulfilledAgreementSkipsEnrichment(t *testing.T) {
	p := newPipeline(t, config.EnrichmentContinue)
	order := p.paidOrder(t, "agreement:house-rent-am", json.RawMessage(`{"landlordName":"Abebe","monthlyRent":5000}`))

	res, err := p.fulfiller.EnsureFulfilled(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, res.Enriched)
	assert.Zero(t, p.llm.calls.Load())
	assert.Contains(t, p.raster.html, "House Rent Agreement")
}

func TestEnsureFulfilledDeletesPhoto(t *testing.T) {
	p := newPipeline(t, config.EnrichmentContinue)
	require.NoError(t, p.storage.Put(context.Background(), ownerPhotoKey, []byte("jpeg"), "image/jpeg"))
	order := p.paidOrder(t, "cv", cvFormData(t, false))

	_, err := p.fulfiller.EnsureFulfilled(context.Background(), order.ID)
	require.NoError(t, err)

	assert.False(t, p.storage.has(ownerPhotoKey))
	assert.True(t, p.storage.has(model.ArtifactPath(order.ID)))
}

func TestEnsureFulfilledKeepsObjectsOutsideOwnerUploads(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, config.EnrichmentContinue)

	other := p.paidOrder(t, "agreement:house-rent-am", json.RawMessage(`{"landlordName":"Abebe"}`))
	_, err := p.fulfiller.EnsureFulfilled(ctx, other.ID)
	require.NoError(t, err)
	require.True(t, p.storage.has(model.ArtifactPath(other.ID)))

	strangerUpload := "uploads/user-2/photo.jpg"
	require.NoError(t, p.storage.Put(ctx, strangerUpload, []byte("jpeg"), "image/jpeg"))

	tests := []struct {
		name string
		key  string
	}{
		{"another order's artifact", model.ArtifactPath(other.ID)},
		{"another user's upload", strangerUpload},
		{"path escaping the owner's folder", "uploads/user-1/../user-2/photo.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := json.RawMessage(`{"personalInfo":{"fullName":"Eve","photoUrl":"` + fakeStorageBase + tt.key + `"}}`)
			order := p.paidOrder(t, "cv", form)

			_, err := p.fulfiller.EnsureFulfilled(ctx, order.ID)
			require.NoError(t, err)

			assert.True(t, p.storage.has(model.ArtifactPath(other.ID)), "other order's artifact must survive")
			assert.True(t, p.storage.has(strangerUpload), "other user's upload must survive")
		})
	}
}

func TestEnsureFulfilledSingleFlight(t *testing.T) {
	p := newPipeline(t, config.EnrichmentContinue)
	p.llm.delay = 100 * time.Millisecond
	order := p.paidOrder(t, "cv", cvFormData(t, false))

	const callers = 5
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok, inProg int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.fulfiller.EnsureFulfilled(context.Background(), order.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrInProgress):
				inProg++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, callers, ok+inProg)
	assert.GreaterOrEqual(t, ok, 1)
	assert.EqualValues(t, 1, p.llm.calls.Load())
}

func TestEnrichOrder(t *testing.T) {
	p := newPipeline(t, config.EnrichmentContinue)
	ctx := context.Background()
	order := p.paidOrder(t, "cv+cover-letter", cvFormData(t, true))

	res, err := p.fulfiller.EnrichOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyGenerated)
	assert.True(t, res.Summary)
	assert.True(t, res.CoverLetter)
	assert.Equal(t, 2, res.Achievements)

	again, err := p.fulfiller.EnrichOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyGenerated)
	assert.EqualValues(t, 1, p.llm.calls.Load())

	agreement := p.paidOrder(t, "agreement:nda", json.RawMessage(`{"party":"A"}`))
	_, err = p.fulfiller.EnrichOrder(ctx, agreement.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

// interleavingStore runs onGet just before the nth Get is served, standing in
// for a concurrent writer.
type interleavingStore struct {
	*MemoryStore
	gets  int
	nth   int
	onGet func()
}

func (s *interleavingStore) Get(ctx context.Context, id string) (*model.Order, error) {
	s.gets++
	if s.gets == s.nth {
		s.onGet()
	}
	return s.MemoryStore.Get(ctx, id)
}

func TestEnrichOrderRechecksMarkerAfterClaim(t *testing.T) {
	p := newPipeline(t, config.EnrichmentContinue)
	ctx := context.Background()
	order := p.paidOrder(t, "cv", cvFormData(t, false))

	// Between the first read and the claim another writer stores form data
	// that already carries the marker, without setting ai_generated.
	store := &interleavingStore{MemoryStore: p.store, nth: 2, onGet: func() {
		p.store.mu.Lock()
		defer p.store.mu.Unlock()
		p.store.orders[order.ID].FormData = json.RawMessage(`{"personalInfo":{"fullName":"Abebe"},"aiGenerated":true}`)
	}}
	enricher, err := NewLLMEnricher(p.llm)
	require.NoError(t, err)
	f := NewFulfiller(FulfillerOptions{
		Store:     store,
		Enricher:  enricher,
		Renderer:  NewRenderer(p.raster, time.Second),
		Publisher: p.publisher,
		Claimer:   p.claimer,
	})

	res, err := f.EnrichOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyGenerated)
	assert.Zero(t, p.llm.calls.Load())
}
