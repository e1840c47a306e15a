package server

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/metergate/internal/keyresolver"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey    = "x-api-key"
	HeaderAdminKey  = "x-admin-key"
	HeaderRequestID = "x-request-id"

	contextAuthKey = "auth_context"
)

// RequestID propagates or generates a request id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Set(HeaderRequestID, id)
		c.Next()
	}
}

// AccessLog emits one structured line per request.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	access := log.Named("http")
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		access.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
			zap.String("request_id", c.GetString(HeaderRequestID)),
		)
	}
}

// APIKeyRequired resolves the presented secret into an auth context.
func APIKeyRequired(resolver keyresolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if secret == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		auth, err := resolver.Resolve(c.Request.Context(), secret)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextAuthKey, auth)
		c.Next()
	}
}

// AuthFromContext returns the auth context set by APIKeyRequired.
func AuthFromContext(c *gin.Context) *keyresolver.AuthContext {
	value, ok := c.Get(contextAuthKey)
	if !ok {
		return nil
	}
	auth, _ := value.(*keyresolver.AuthContext)
	return auth
}

// AdminRequired guards the admin surface with the shared secret. An
// empty configured secret disables the surface entirely.
func AdminRequired(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader(HeaderAdminKey))
		if adminKey == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(adminKey)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
