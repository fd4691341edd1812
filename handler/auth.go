package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/middleware"
)

// AuthHandler exposes the identity carried by the caller's token. Tokens are
// issued by the identity provider, not by this service.
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// GetCurrentUser returns the current user info
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id": middleware.GetUserID(c),
		"email":   middleware.GetEmail(c),
	})
}
