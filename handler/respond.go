package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// respondError writes err as {"error", "kind"} with the status its kind maps
// to. Internal failures hide their detail.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && !errors.Is(err, apperr.ErrUpstream) {
		msg = "Internal server error"
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "error", err)
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg, "kind": apperr.Kind(err)})
}

// bounded derives the handler's working context from the request.
func bounded(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

// OrderView is the client-facing shape of an order.
type OrderView struct {
	ID            string          `json:"orderId"`
	TxRef         string          `json:"tx_ref"`
	ServiceType   string          `json:"service_type"`
	Status        model.Status    `json:"status"`
	Amount        string          `json:"amount"`
	Currency      string          `json:"currency"`
	AIGenerated   bool            `json:"ai_generated"`
	AIGeneratedAt *time.Time      `json:"ai_generated_at,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Downloadable  bool            `json:"downloadable"`
	CreatedAt     time.Time       `json:"created_at"`
	FormData      json.RawMessage `json:"form_data,omitempty"`
}

func newOrderView(o *model.Order, withForm, downloadable bool) OrderView {
	v := OrderView{
		ID:            o.ID,
		TxRef:         o.TxRef(),
		ServiceType:   o.ServiceType,
		Status:        o.Status,
		Amount:        o.Amount.StringFixed(2),
		Currency:      o.Currency,
		AIGenerated:   o.AIGenerated,
		AIGeneratedAt: o.AIGeneratedAt,
		PaidAt:        o.PaidAt,
		ExpiresAt:     o.ExpiresAt,
		Downloadable:  downloadable,
		CreatedAt:     o.CreatedAt,
	}
	if withForm {
		v.FormData = o.FormData
	}
	return v
}
