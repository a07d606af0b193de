package rbac

import (
	"net/http"

	"delivery-engine/internal/auth"
	"delivery-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - scheduler is a hidden role, and will be denied unless explicitly allowed
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			if IsHiddenRole(role) {
				logger.FromGin(c).Warn("hidden role denied", "role", role, "path", c.FullPath())
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Readers may view distributions and conversations.
func Readers() gin.HandlerFunc { return RequireAnyRole(RoleAdmin, RoleOperator, RoleViewer) }

// Senders may create distributions, retry them and send messages.
func Senders() gin.HandlerFunc { return RequireAnyRole(RoleAdmin, RoleOperator) }

// Jobs guards the trigger endpoints.
func Jobs() gin.HandlerFunc { return RequireAnyRole(RoleScheduler, RoleAdmin) }
