package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the authenticated user record (Redis-cached,
// DB fallback) and rejects tokens whose account has been deactivated since
// issue. Must run after AuthMiddleware.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userId, ok := utils.GetUserIdFromContext(ctx)
		if !ok || userId == 0 {
			c.Next()
			return
		}

		role, _ := c.Get(ginKeyRole)
		roleStr, _ := role.(string)

		user, err := models.GetUserById(ctx, userId)
		if err != nil || user.IsActive == nil || !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		if string(user.Role) != roleStr {
			// Role changed since the token was minted; force a fresh login.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx = utils.SetUsernameInContext(ctx, user.Username)
		ctx = utils.SetUserNameInContext(ctx, user.FullName)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
