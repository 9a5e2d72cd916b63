package middleware

import (
	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gate decides whether a caller is privileged for an object/action, either
// through its role or through a scoped capability token.
type Gate struct {
	Authorizer   accesscontrol.Authorizer
	Capabilities *security.Capabilities
}

// Privileged checks the caller's role first and falls back to the
// X-Capability-Token header. An invalid capability is treated as absent.
func (g Gate) Privileged(c *gin.Context, object, action, scope string) bool {
	if p, ok := Principal(c); ok && g.Authorizer != nil {
		if g.Authorizer.Allowed(p.Role, object, action) {
			return true
		}
	}

	raw := c.GetHeader(CapabilityHeader)
	if raw == "" || g.Capabilities == nil || scope == "" {
		return false
	}

	capability, err := g.Capabilities.Verify(c.Request.Context(), raw, scope)
	if err != nil {
		zap.L().Warn("capability rejected", zap.String("scope", scope), zap.Error(err))
		return false
	}

	zap.L().Info("capability accepted",
		zap.String("jti", capability.ID),
		zap.String("subject", capability.Subject),
		zap.String("scope", scope),
	)
	return true
}

// Require aborts with 403 unless the caller is privileged.
func (g Gate) Require(object, action, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Privileged(c, object, action, scope) {
			_ = c.Error(errutil.Forbidden("insufficient privileges", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
