package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/middleware"
)

func TestAuthHandlerGetCurrentUser(t *testing.T) {
	cfg := &config.AuthConfig{JWTSecret: "test-secret"}
	token, _, err := middleware.GenerateToken("user-9", "nine@example.com", time.Hour, cfg)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	router := gin.New()
	router.GET("/api/auth/me", middleware.AuthMiddleware(cfg), NewAuthHandler().GetCurrentUser)

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["user_id"] != "user-9" || resp["email"] != "nine@example.com" {
		t.Errorf("Unexpected response %v", resp)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/auth/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", w.Code)
	}
}
