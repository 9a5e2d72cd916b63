package middleware

import (
	"strings"

	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/security"

	"github.com/gin-gonic/gin"
)

const (
	principalKey = "principal"

	// CapabilityHeader carries a capability token in place of a privileged role.
	CapabilityHeader = "X-Capability-Token"
)

// Authenticate verifies the bearer token. With required=false a request
// without an Authorization header passes through anonymously, but a present
// and invalid token is still rejected.
func Authenticate(verifier *security.TokenVerifier, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" && !required {
			c.Next()
			return
		}

		principal, err := verifier.Verify(raw)
		if err != nil {
			_ = c.Error(errutil.Unauthorized("invalid or missing bearer token", nil))
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// Principal returns the caller set by Authenticate.
func Principal(c *gin.Context) (*security.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*security.Principal)
	return p, ok && p != nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
