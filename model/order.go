package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

// Status is the payment state of an order. There is no failed state: a PAID
// order without an artifact is the signal to retry fulfillment.
type Status string

const (
	StatusDraft Status = "DRAFT"
	StatusPaid  Status = "PAID"
)

// ToStatus parses a stored status value.
func ToStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusDraft, StatusPaid:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid order status %q", s)
}

// ArtifactFile is the fixed object name of every order's PDF.
const ArtifactFile = "cv.pdf"

// Order is one customer request for a document, tracked from draft through
// payment to a downloadable artifact.
type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ServiceType string          `json:"service_type"`
	Status      Status          `json:"status"`
	FormData    json.RawMessage `json:"form_data"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`

	AIGenerated   bool       `json:"ai_generated"`
	AIGeneratedAt *time.Time `json:"ai_generated_at,omitempty"`

	// PDFURL and ExpiresAt are set and cleared together.
	PDFURL    *string    `json:"pdf_url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	PaidAt   *time.Time `json:"paid_at,omitempty"`
	ChapaRef string     `json:"chapa_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TxRef is the payment gateway transaction reference, which is the order id.
func (o *Order) TxRef() string { return o.ID }

// IsPaid reports whether payment has been confirmed.
func (o *Order) IsPaid() bool { return o.Status == StatusPaid }

// HasFreshArtifact reports whether a stored artifact URL is still valid at now.
func (o *Order) HasFreshArtifact(now time.Time) bool {
	return o.PDFURL != nil && o.ExpiresAt != nil && now.Before(*o.ExpiresAt)
}

// ArtifactPrefix is the storage folder holding everything generated for the order.
func (o *Order) ArtifactPrefix() string { return ArtifactPrefix(o.ID) }

// ArtifactPath is the deterministic object key of the order's PDF.
func (o *Order) ArtifactPath() string { return ArtifactPath(o.ID) }

func ArtifactPrefix(orderID string) string { return "orders/" + orderID + "/" }

func ArtifactPath(orderID string) string { return ArtifactPrefix(orderID) + ArtifactFile }

// UploadPrefix is the storage folder holding a user's own uploads, such as
// the CV photo.
func UploadPrefix(userID string) string { return "uploads/" + userID + "/" }

// OwnsUpload reports whether key is one of the order owner's uploads.
func (o *Order) OwnsUpload(key string) bool {
	if o.UserID == "" || strings.Contains(o.UserID, "/") || strings.Contains(key, "..") {
		return false
	}
	rest, ok := strings.CutPrefix(key, UploadPrefix(o.UserID))
	return ok && rest != ""
}

// WithinAccessWindow reports whether now is still inside the download window
// that opens at payment. A window of zero never closes.
func (o *Order) WithinAccessWindow(now time.Time, window time.Duration) bool {
	if window <= 0 || o.PaidAt == nil {
		return true
	}
	return now.Sub(*o.PaidAt) <= window
}

// Downloadable reports whether a download at now would be served from the
// stored artifact.
func (o *Order) Downloadable(now time.Time, window time.Duration) bool {
	return o.IsPaid() && o.HasFreshArtifact(now) && o.WithinAccessWindow(now, window)
}

// Kind is the family of document an order produces.
type Kind string

const (
	KindCV          Kind = "cv"
	KindCoverLetter Kind = "cover-letter"
	KindCVAndLetter Kind = "cv+cover-letter"
	KindAgreement   Kind = "agreement"
)

var validKinds = map[Kind]struct{}{
	KindCV:          {},
	KindCoverLetter: {},
	KindCVAndLetter: {},
	KindAgreement:   {},
}

// ServiceType is a parsed "kind[:template]" value such as "cv:modern" or
// "agreement:house-rent-am".
type ServiceType struct {
	Kind     Kind
	Template string
}

var errEmptyServiceType = errors.New("service_type is required")

func ParseServiceType(s string) (ServiceType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ServiceType{}, fmt.Errorf("%w: %w", apperr.ErrValidation, errEmptyServiceType)
	}

	kind, template, _ := strings.Cut(s, ":")
	st := ServiceType{Kind: Kind(kind), Template: template}
	if _, ok := validKinds[st.Kind]; !ok {
		return ServiceType{}, fmt.Errorf("%w: unknown service kind %q", apperr.ErrValidation, kind)
	}
	if st.Kind == KindAgreement && st.Template == "" {
		return ServiceType{}, fmt.Errorf("%w: agreement service type needs a template", apperr.ErrValidation)
	}
	return st, nil
}

func (st ServiceType) String() string {
	if st.Template == "" {
		return string(st.Kind)
	}
	return string(st.Kind) + ":" + st.Template
}

// IsAgreement reports whether the order is a legal agreement, which is never
// enriched and carries no user photo.
func (st ServiceType) IsAgreement() bool { return st.Kind == KindAgreement }

// WantsCoverLetter reports whether the document gets a cover letter page even
// when the form left it empty.
func (st ServiceType) WantsCoverLetter() bool {
	return st.Kind == KindCoverLetter || st.Kind == KindCVAndLetter
}
