package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// Published is the location of a freshly stored artifact.
type Published struct {
	URL       string
	ExpiresAt time.Time
}

// Publisher stores rendered artifacts at their fixed per-order path.
type Publisher struct {
	storage ObjectStorage
	ttl     time.Duration
	now     func() time.Time
}

func NewPublisher(storage ObjectStorage, signedURLTTL time.Duration) *Publisher {
	return &Publisher{storage: storage, ttl: signedURLTTL, now: time.Now}
}

// Publish uploads pdf over any previous artifact and signs a download URL.
// For CV orders the owner's uploaded photo is removed afterwards; that
// cleanup never fails the publish.
func (p *Publisher) Publish(ctx context.Context, pdf []byte, order *model.Order) (*Published, error) {
	key := order.ArtifactPath()
	if err := p.storage.Put(ctx, key, pdf, "application/pdf"); err != nil {
		return nil, err
	}

	out, err := p.Sign(ctx, order)
	if err != nil {
		return nil, err
	}

	if st, err := model.ParseServiceType(order.ServiceType); err == nil && !st.IsAgreement() {
		p.deletePhoto(ctx, order)
	}
	return out, nil
}

// Sign mints a new URL for the artifact already stored for order.
func (p *Publisher) Sign(ctx context.Context, order *model.Order) (*Published, error) {
	expiresAt := p.now().Add(p.ttl)
	u, err := p.storage.PresignDownload(ctx, order.ArtifactPath(), DownloadFilename(order), p.ttl)
	if err != nil {
		return nil, err
	}
	return &Published{URL: u, ExpiresAt: expiresAt}, nil
}

func (p *Publisher) deletePhoto(ctx context.Context, order *model.Order) {
	raw := PhotoURL(order.FormData)
	if raw == "" {
		return
	}
	key, ok := p.storage.KeyFromURL(raw)
	if !ok {
		return
	}
	// Only the owner's uploads are removable; anything else, other orders'
	// artifacts included, stays.
	if !order.OwnsUpload(key) {
		logger.Warn(ctx, "photo outside the owner's uploads, not removed", "key", key)
		return
	}
	if err := p.storage.Delete(ctx, key); err != nil {
		logger.Warn(ctx, "photo cleanup failed", "key", key, "error", err)
		return
	}
	logger.Info(ctx, "photo removed after publish", "key", key)
}

// PhotoURL reads personalInfo.photoUrl from CV form data.
func PhotoURL(formData json.RawMessage) string {
	var probe struct {
		PersonalInfo struct {
			PhotoURL string `json:"photoUrl"`
		} `json:"personalInfo"`
	}
	if err := json.Unmarshal(formData, &probe); err != nil {
		return ""
	}
	return probe.PersonalInfo.PhotoURL
}

// DownloadFilename is the name the browser saves the artifact under.
func DownloadFilename(order *model.Order) string {
	kind := "document"
	if st, err := model.ParseServiceType(order.ServiceType); err == nil {
		kind = strings.ReplaceAll(string(st.Kind), "+", "-")
	}
	id := order.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s.pdf", kind, id)
}
