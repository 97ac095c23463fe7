package interceptors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/payva/go-payva-auth/types"
)

// SessionVerifier checks a session token and returns the session bound into
// it. The token service implements it.
type SessionVerifier interface {
	Verify(token string) (*types.Session, error)
}

// SessionMiddleware authenticates requests with a bearer session token and
// places the verified session into the gin context under "session".
func SessionMiddleware(tokens SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is missing"})
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")

		session, err := tokens.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session token"})
			return
		}
		c.Set("session", session)
		c.Next()
	}
}

// GetSession retrieves the verified session placed by SessionMiddleware.
func GetSession(c *gin.Context) (*types.Session, bool) {
	value, ok := c.Get("session")
	if !ok {
		return nil, false
	}
	session, ok := value.(*types.Session)
	return session, ok
}
