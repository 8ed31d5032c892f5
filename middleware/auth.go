package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/WiesHerd/contractpipeline/config"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are issued by the external identity provider. SessionID scopes the
// caller's template assignment state.
type Claims struct {
	Email     string `json:"email"`
	Tenant    string `json:"tenant,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// session falls back to the token id, then the subject, when no sid claim is present.
func (c *Claims) session() string {
	switch {
	case c.SessionID != "":
		return c.SessionID
	case c.ID != "":
		return c.ID
	default:
		return c.Subject
	}
}

// SignToken signs claims with the shared HS256 secret. The service only
// verifies tokens; this is used by tooling and tests.
func SignToken(claims Claims, cfg *config.AuthConfig, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

// AuthMiddleware validates the bearer token and puts the caller on both the
// gin context and the request context for logging and auditing.
func AuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		if claims.Email == "" || claims.session() == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token is missing email or session"})
			return
		}

		c.Set("email", claims.Email)
		c.Set("tenant", claims.Tenant)
		c.Set("session_id", claims.session())

		ctx := logger.With(c.Request.Context(), logger.UsernameKey, claims.Email)
		ctx = logger.With(ctx, logger.TenantKey, claims.Tenant)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func contextString(c *gin.Context, key string) string {
	if v, exists := c.Get(key); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetEmail gets the caller's email from context
func GetEmail(c *gin.Context) string {
	return contextString(c, "email")
}

// GetTenant gets the tenant from context
func GetTenant(c *gin.Context) string {
	return contextString(c, "tenant")
}

// GetSessionID gets the assignment session from context
func GetSessionID(c *gin.Context) string {
	return contextString(c, "session_id")
}
