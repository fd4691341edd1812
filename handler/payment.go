package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
	"github.com/Amdecodes/DocServe-sub001/service"
)

const maxWebhookBody = 64 << 10

type PaymentConfirmer interface {
	Confirm(ctx context.Context, orderID string) (*service.Confirmation, error)
}

type WebhookVerifier interface {
	VerifyWebhook(signature string, body []byte) bool
}

type PaymentHandler struct {
	payments PaymentConfirmer
	verifier WebhookVerifier
	timeout  time.Duration
}

func NewPaymentHandler(payments PaymentConfirmer, verifier WebhookVerifier, timeout time.Duration) *PaymentHandler {
	return &PaymentHandler{payments: payments, verifier: verifier, timeout: timeout}
}

type PaymentStatusResponse struct {
	OrderID     string     `json:"orderId"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Fulfillment string     `json:"fulfillment"`
}

// Verify checks payment for the order with the gateway and fulfils it. The
// client polls it after returning from checkout.
func (h *PaymentHandler) Verify(c *gin.Context) {
	orderID := c.Param("id")
	if orderID == "" {
		respondError(c, fmt.Errorf("%w: order id is required", apperr.ErrValidation))
		return
	}

	ctx, cancel := bounded(c, h.timeout)
	defer cancel()

	conf, err := h.payments.Confirm(ctx, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentStatus(conf))
}

// Webhook receives Chapa's payment notification. The signature covers the
// raw body, so it is read before decoding.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	signature := c.GetHeader("x-chapa-signature")
	if signature == "" {
		signature = c.GetHeader("chapa-signature")
	}
	if !h.verifier.VerifyWebhook(signature, body) {
		logger.Warn(c.Request.Context(), "webhook signature rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var payload service.ChapaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.TxRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	ctx, cancel := bounded(c, h.timeout)
	defer cancel()
	ctx = logger.WithOrder(ctx, payload.TxRef)
	logger.Info(ctx, "webhook received", "event", payload.Event, "status", payload.Status)

	conf, err := h.payments.Confirm(ctx, payload.TxRef)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, newPaymentStatus(conf))
	case errors.Is(err, apperr.ErrPaymentRequired):
		// A failed or abandoned payment is acknowledged so the gateway
		// stops redelivering it.
		c.JSON(http.StatusOK, gin.H{"orderId": payload.TxRef, "status": "unpaid"})
	default:
		respondError(c, err)
	}
}

func newPaymentStatus(conf *service.Confirmation) PaymentStatusResponse {
	return PaymentStatusResponse{
		OrderID:     conf.Order.ID,
		Status:      string(conf.Order.Status),
		PaidAt:      conf.Order.PaidAt,
		ExpiresAt:   conf.ExpiresAt,
		Fulfillment: conf.Fulfillment,
	}
}
