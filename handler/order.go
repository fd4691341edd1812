package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/Amdecodes/DocServe-sub001/middleware"
	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

// Orders is the order service as the HTTP layer uses it.
type Orders interface {
	Create(ctx context.Context, userID, serviceType string, formData json.RawMessage) (*model.Order, error)
	Get(ctx context.Context, userID, id string) (*model.Order, error)
	List(ctx context.Context, userID string) ([]*model.Order, error)
	Checkout(ctx context.Context, userID, id, email string) (string, error)
}

type OrderHandler struct {
	orders  Orders
	timeout time.Duration
	window  time.Duration // download access window, for the downloadable flag
	now     func() time.Time
}

func NewOrderHandler(orders Orders, timeout, accessWindow time.Duration) *OrderHandler {
	return &OrderHandler{orders: orders, timeout: timeout, window: accessWindow, now: time.Now}
}

type CreateOrderRequest struct {
	ServiceType string          `json:"service_type" binding:"required"`
	FormData    json.RawMessage `json:"form_data" binding:"required"`
}

type CheckoutRequest struct {
	Email string `json:"email"`
}

// Create stores a draft order and returns its id, which doubles as the
// payment reference.
func (h *OrderHandler) Create(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return
	}

	ctx, cancel := bounded(c, h.timeout)
	defer cancel()

	order, err := h.orders.Create(ctx, middleware.GetUserID(c), req.ServiceType, req.FormData)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"orderId":  order.ID,
		"tx_ref":   order.TxRef(),
		"amount":   order.Amount.StringFixed(2),
		"currency": order.Currency,
		"status":   order.Status,
	})
}

func (h *OrderHandler) List(c *gin.Context) {
	ctx, cancel := bounded(c, h.timeout)
	defer cancel()

	orders, err := h.orders.List(ctx, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	now := h.now()
	views := lo.Map(orders, func(o *model.Order, _ int) OrderView {
		return newOrderView(o, false, o.Downloadable(now, h.window))
	})
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func (h *OrderHandler) Get(c *gin.Context) {
	ctx, cancel := bounded(c, h.timeout)
	defer cancel()

	order, err := h.orders.Get(ctx, middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(order, true, order.Downloadable(h.now(), h.window)))
}

// Checkout opens a hosted payment page. The email falls back to the one in
// the caller's token.
func (h *OrderHandler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
			return
		}
	}
	email := req.Email
	if email == "" {
		email = middleware.GetEmail(c)
	}

	ctx, cancel := bounded(c, h.timeout)
	defer cancel()

	url, err := h.orders.Checkout(ctx, middleware.GetUserID(c), c.Param("id"), email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}
