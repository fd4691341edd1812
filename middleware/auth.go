package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// Claims represents the JWT claims. The user id travels in the standard
// subject claim.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for userID valid for ttl.
func GenerateToken(userID, email string, ttl time.Duration, cfg *config.AuthConfig) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// AuthMiddleware validates the bearer token and stores the caller's identity.
func AuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("email", claims.Email)

		ctx := context.WithValue(c.Request.Context(), logger.UserIDKey, claims.Subject)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CronAuth guards maintenance routes with a shared secret, sent either as a
// bearer token or in X-Cron-Secret. An empty secret locks the route.
func CronAuth(cfg *config.CronConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Cron-Secret")
		if got == "" {
			got, _ = bearerToken(c.GetHeader("Authorization"))
		}

		if cfg.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(cfg.Secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

// GetUserID gets the authenticated user id from context
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetEmail gets the caller's email claim, if the token carried one
func GetEmail(c *gin.Context) string {
	return c.GetString("email")
}
