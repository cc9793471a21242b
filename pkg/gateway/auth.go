package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecretHeader is an alternative to a bearer Authorization header.
const SecretHeader = "X-Meshagent-Secret"

// SecretAuth checks a shared secret presented by HTTP clients.
type SecretAuth struct {
	secret string
}

// NewSecretAuth creates an authenticator. An empty secret disables it.
func NewSecretAuth(secret string) *SecretAuth {
	return &SecretAuth{secret: secret}
}

// Enabled reports whether a secret is configured.
func (a *SecretAuth) Enabled() bool {
	return a != nil && a.secret != ""
}

// Verify compares presented against the secret in constant time.
func (a *SecretAuth) Verify(presented string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.secret), []byte(presented)) == 1
}

// presentedSecret extracts the secret from a bearer token or SecretHeader.
func presentedSecret(r *http.Request) string {
	if v := r.Header.Get(SecretHeader); v != "" {
		return v
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware rejects requests without the shared secret.
func (a *SecretAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Verify(presentedSecret(c.Request)) {
			abortWithError(c, http.StatusUnauthorized, "authentication_error", "invalid or missing secret")
			return
		}
		c.Next()
	}
}
