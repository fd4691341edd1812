package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
	"github.com/Amdecodes/DocServe-sub001/service"
)

type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

type CleanupHandler struct {
	reaper Sweeper
}

func NewCleanupHandler(reaper Sweeper) *CleanupHandler {
	return &CleanupHandler{reaper: reaper}
}

// Cleanup runs one reaper pass. It is triggered by an external scheduler.
func (h *CleanupHandler) Cleanup(c *gin.Context) {
	res, err := h.reaper.Sweep(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "cleanup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"cleaned": res.Cleaned,
			"errors":  res.Errors,
			"message": "Cleanup failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cleaned": res.Cleaned,
		"errors":  res.Errors,
		"message": fmt.Sprintf("Cleaned %d expired artifacts", res.Cleaned),
	})
}
