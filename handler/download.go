package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

type DownloadAuthorizer interface {
	AuthorizeDownload(ctx context.Context, orderID string) (string, error)
}

type DownloadHandler struct {
	gate    DownloadAuthorizer
	timeout time.Duration
}

func NewDownloadHandler(gate DownloadAuthorizer, timeout time.Duration) *DownloadHandler {
	return &DownloadHandler{gate: gate, timeout: timeout}
}

// Download redirects to a freshly signed artifact URL. Browsers follow it
// directly, so failures are short plain-text bodies.
func (h *DownloadHandler) Download(c *gin.Context) {
	orderID := c.Query("orderId")
	if orderID == "" {
		c.String(http.StatusBadRequest, "Missing orderId")
		return
	}

	ctx, cancel := bounded(c, h.timeout)
	defer cancel()

	url, err := h.gate.AuthorizeDownload(ctx, orderID)
	if err != nil {
		status, text := downloadFailure(err)
		if status >= http.StatusInternalServerError {
			logger.Error(logger.WithOrder(ctx, orderID), "download failed", "error", err)
		}
		c.String(status, text)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, url)
}

func downloadFailure(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrPaymentRequired):
		return http.StatusForbidden, "Payment required"
	case errors.Is(err, apperr.ErrGone):
		return http.StatusGone, "Download link expired"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "Not found"
	default:
		return http.StatusInternalServerError, "Download failed"
	}
}
