package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	appctx "costengine/internal/core/context"
)

// Operator headers are set by the gateway that authenticated the request.
const (
	HeaderOperatorID    = "X-Operator-ID"
	HeaderOperatorName  = "X-Operator-Name"
	HeaderOperatorRoles = "X-Operator-Roles"
)

// UserContext puts the operator identity into the request context so audit
// records name who made an override.
func UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderOperatorID))
		name := strings.TrimSpace(c.GetHeader(HeaderOperatorName))
		if userID != "" || name != "" {
			var roles []string
			for _, r := range strings.Split(c.GetHeader(HeaderOperatorRoles), ",") {
				if r = strings.TrimSpace(r); r != "" {
					roles = append(roles, r)
				}
			}
			ctx := appctx.WithUser(c.Request.Context(), &appctx.UserContext{UserID: userID, Name: name, Roles: roles})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
