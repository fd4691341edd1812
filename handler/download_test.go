package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

func TestDownloadHandler(t *testing.T) {
	signed := "https://storage.test/docs/orders/o-1/cv.pdf?X-Amz-Signature=abc"

	tests := []struct {
		name           string
		query          string
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{"redirects", "?orderId=o-1", nil, http.StatusFound, ""},
		{"missing order id", "", nil, http.StatusBadRequest, "Missing orderId"},
		{"unpaid", "?orderId=o-1", fmt.Errorf("order: %w", apperr.ErrForbidden), http.StatusForbidden, "Payment required"},
		{"window elapsed", "?orderId=o-1", fmt.Errorf("order: %w", apperr.ErrGone), http.StatusGone, "Download link expired"},
		{"missing", "?orderId=o-1", fmt.Errorf("order: %w", apperr.ErrNotFound), http.StatusNotFound, "Not found"},
		{"storage down", "?orderId=o-1", fmt.Errorf("presign: boom"), http.StatusInternalServerError, "Download failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/api/download", NewDownloadHandler(&fakeGate{url: signed, err: tt.err}, time.Second).Download)

			req := httptest.NewRequest("GET", "/api/download"+tt.query, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus == http.StatusFound {
				if loc := w.Header().Get("Location"); loc != signed {
					t.Errorf("Expected redirect to %s, got %s", signed, loc)
				}
				return
			}
			if w.Body.String() != tt.expectedBody {
				t.Errorf("Expected body %q, got %q", tt.expectedBody, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
				t.Errorf("Expected plain text, got %q", ct)
			}
		})
	}
}
