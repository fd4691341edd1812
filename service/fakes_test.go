package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/tmc/langchaingo/llms"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/model"
)

const fakeStorageBase = "https://storage.test/docs/"

type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	presigned int
	failList  map[string]bool // prefix -> fail
	failPut   bool
	deleted   []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte), failList: make(map[string]bool)}
}

func (s *fakeStorage) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("storage unavailable")
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStorage) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList[prefix] {
		return nil, fmt.Errorf("list %s: boom", prefix)
	}
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStorage) PresignDownload(_ context.Context, key, filename string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presigned++
	return fmt.Sprintf("%s%s?n=%d&ttl=%d&disposition=%s", fakeStorageBase, key, s.presigned, int(ttl.Seconds()), AttachmentDisposition(filename)), nil
}

func (s *fakeStorage) KeyFromURL(rawURL string) (string, bool) {
	key, ok := strings.CutPrefix(rawURL, fakeStorageBase)
	if !ok {
		return "", false
	}
	key, _, _ = strings.Cut(key, "?")
	return key, key != ""
}

func (s *fakeStorage) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// fakeLLM answers every call with the same completion and counts calls.
type fakeLLM struct {
	calls    atomic.Int32
	response string
	err      error
	delay    time.Duration
}

func (f *fakeLLM) GenerateContent(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.response, StopReason: "stop"}}}, nil
}

type fakeRaster struct {
	mu    sync.Mutex
	calls int
	html  string
	err   error
}

func (f *fakeRaster) Rasterize(_ context.Context, html string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.7 fake"), nil
}

type fakeGateway struct {
	verification *ChapaVerification
	err          error
	verifyCalls  atomic.Int32
	lastCheckout CheckoutRequest
}

func (g *fakeGateway) Initialize(_ context.Context, req CheckoutRequest) (string, error) {
	g.lastCheckout = req
	if g.err != nil {
		return "", g.err
	}
	return "https://checkout.chapa.test/" + req.TxRef, nil
}

func (g *fakeGateway) Verify(_ context.Context, txRef string) (*ChapaVerification, error) {
	g.verifyCalls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	v := *g.verification
	v.TxRef = txRef
	return &v, nil
}

// ownerPhotoKey is where paidOrder's owner keeps the CV photo.
const ownerPhotoKey = "uploads/user-1/photo.jpg"

const enrichedJSON = `{"summary":"Seasoned engineer.","coverLetter":"I am writing to apply.\n\nThank you.","achievements":[["Cut latency by 40%","Led migration"]]}`

func cvFormData(t *testing.T, withLetter bool) json.RawMessage {
	t.Helper()
	doc := map[string]any{
		"personalInfo": map[string]any{
			"fullName": gofakeit.Name(),
			"email":    gofakeit.Email(),
			"photoUrl": fakeStorageBase + ownerPhotoKey,
		},
		"experience": []any{
			map[string]any{
				"jobTitle":    "Backend Engineer",
				"company":     "Acme",
				"startDate":   "2019-01",
				"endDate":     "2023-06",
				"description": "Built payment services.",
			},
		},
		"skills":      []string{"Go", "SQL"},
		"customField": "kept",
	}
	if withLetter {
		doc["coverLetter"] = map[string]any{"company": "Globex", "position": "Staff Engineer"}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal form data: %v", err)
	}
	return raw
}

// pipeline wires a Fulfiller over in-memory collaborators.
type pipeline struct {
	store     *MemoryStore
	storage   *fakeStorage
	llm       *fakeLLM
	raster    *fakeRaster
	publisher *Publisher
	fulfiller *Fulfiller
	claimer   *MemoryClaimer
	now       time.Time
}

func newPipeline(t *testing.T, policy string) *pipeline {
	t.Helper()
	p := &pipeline{
		store:   NewMemoryStore(),
		storage: newFakeStorage(),
		llm:     &fakeLLM{response: enrichedJSON},
		raster:  &fakeRaster{},
		claimer: NewMemoryClaimer(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return p.now }
	p.store.now = clock
	p.claimer.now = clock

	enricher, err := NewLLMEnricher(p.llm)
	if err != nil {
		t.Fatalf("NewLLMEnricher: %v", err)
	}
	enricher.now = clock

	p.publisher = NewPublisher(p.storage, time.Hour)
	p.publisher.now = clock

	p.fulfiller = NewFulfiller(FulfillerOptions{
		Store:     p.store,
		Enricher:  enricher,
		Renderer:  NewRenderer(p.raster, time.Second),
		Publisher: p.publisher,
		Claimer:   p.claimer,
		Config: &config.FulfillmentConfig{
			ClaimTTL:          time.Minute,
			EnrichmentFailure: policy,
		},
	})
	p.fulfiller.now = clock
	return p
}

func (p *pipeline) paidOrder(t *testing.T, serviceType string, formData json.RawMessage) *model.Order {
	t.Helper()
	ctx := context.Background()
	o := &model.Order{
		ID:          gofakeit.UUID(),
		UserID:      "user-1",
		ServiceType: serviceType,
		Status:      model.StatusDraft,
		FormData:    formData,
		Currency:    "ETB",
	}
	if err := p.store.Create(ctx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.store.MarkPaid(ctx, o.ID, "ref-"+o.ID[:4], p.now); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	got, err := p.store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func assertArtifactPair(t *testing.T, o *model.Order) {
	t.Helper()
	if (o.PDFURL == nil) != (o.ExpiresAt == nil) {
		t.Fatalf("pdf_url and expires_at out of step: url=%v expires=%v", o.PDFURL, o.ExpiresAt)
	}
}
