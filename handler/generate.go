package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/service"
)

type Enrichment interface {
	EnrichOrder(ctx context.Context, orderID string) (*service.EnrichResult, error)
}

type GenerateHandler struct {
	enrichment Enrichment
	timeout    time.Duration
}

func NewGenerateHandler(enrichment Enrichment, timeout time.Duration) *GenerateHandler {
	return &GenerateHandler{enrichment: enrichment, timeout: timeout}
}

type GenerateRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

// Generate runs content enrichment for a paid order ahead of rendering.
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: orderId is required", apperr.ErrValidation))
		return
	}

	ctx, cancel := bounded(c, h.timeout)
	defer cancel()

	res, err := h.enrichment.EnrichOrder(ctx, req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}

	if res.AlreadyGenerated {
		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"alreadyGenerated": true,
			"generatedAt":      res.GeneratedAt,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"alreadyGenerated": false,
		"generatedAt":      res.GeneratedAt,
		"summary": gin.H{
			"summary":      res.Summary,
			"coverLetter":  res.CoverLetter,
			"achievements": res.Achievements,
		},
	})
}
