package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrders struct {
	create   func(userID, serviceType string, formData json.RawMessage) (*model.Order, error)
	get      func(userID, id string) (*model.Order, error)
	list     func(userID string) ([]*model.Order, error)
	checkout func(userID, id, email string) (string, error)
}

func (f *fakeOrders) Create(_ context.Context, userID, serviceType string, formData json.RawMessage) (*model.Order, error) {
	return f.create(userID, serviceType, formData)
}

func (f *fakeOrders) Get(_ context.Context, userID, id string) (*model.Order, error) {
	return f.get(userID, id)
}

func (f *fakeOrders) List(_ context.Context, userID string) ([]*model.Order, error) {
	return f.list(userID)
}

func (f *fakeOrders) Checkout(_ context.Context, userID, id, email string) (string, error) {
	return f.checkout(userID, id, email)
}

type fakeConfirmer struct {
	calls []string
	conf  *service.Confirmation
	err   error
}

func (f *fakeConfirmer) Confirm(_ context.Context, orderID string) (*service.Confirmation, error) {
	f.calls = append(f.calls, orderID)
	return f.conf, f.err
}

type fakeVerifier struct{ valid string }

func (f fakeVerifier) VerifyWebhook(signature string, _ []byte) bool {
	return signature != "" && signature == f.valid
}

type fakeEnrichment struct {
	res *service.EnrichResult
	err error
}

func (f *fakeEnrichment) EnrichOrder(context.Context, string) (*service.EnrichResult, error) {
	return f.res, f.err
}

type fakeGate struct {
	url string
	err error
}

func (f *fakeGate) AuthorizeDownload(context.Context, string) (string, error) {
	return f.url, f.err
}

type fakeSweeper struct {
	res service.SweepResult
	err error
}

func (f *fakeSweeper) Sweep(context.Context) (service.SweepResult, error) {
	return f.res, f.err
}

// withUser stands in for the auth middleware.
func withUser(userID, email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("email", email)
		c.Next()
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return out
}
