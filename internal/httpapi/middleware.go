package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/pairing"
	"github.com/ktiyab/coheara/internal/types"
)

const deviceContextKey = "coheara_device_session"

// deviceContext carries the resolved session/device pair for an
// authenticated request.
type deviceContext struct {
	Session types.DeviceSession
	Device types.PairedDevice
}

// setDeviceContext stores the resolved session in the gin context.
func setDeviceContext(c *gin.Context, dc deviceContext) {
	c.Set(deviceContextKey, dc)
}

// deviceFromContext retrieves the authenticated device, if any.
func deviceFromContext(c *gin.Context) (deviceContext, bool) {
	v, ok := c.Get(deviceContextKey)
	if !ok {
		return deviceContext{}, false
	}
	dc, ok := v.(deviceContext)
	return dc, ok
}

// extractBearerToken pulls the raw token out of "Authorization: Bearer
// <token>", case-insensitively on the scheme. Returns "" if absent or
// malformed.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// authRequired resolves the bearer token against stored device sessions
// (internal/pairing's issued, hashed session tokens) and rejects the
// request if it does not resolve to a live, unrevoked device.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			writeError(c, errs.New(errs.KindPairingError, "missing bearer token"))
			c.Abort()
			return
		}
		session, device, err := s.Repo.ResolveSession(c.Request.Context(), pairing.HashToken(token))
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		if session == nil || device == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		setDeviceContext(c, deviceContext{Session: *session, Device: *device})
		c.Next()
	}
}
