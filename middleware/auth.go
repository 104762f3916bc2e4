package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/benefits/config"
	"github.com/cppla/benefits/models"
	"github.com/cppla/benefits/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextRoleKey stores the role claim.
	ContextRoleKey = "role"
	// ContextTokenKey stores the raw bearer token, used by logout.
	ContextTokenKey = "token"
)

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization header missing")
			ctx.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			utils.Error(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
			ctx.Abort()
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40103, "empty bearer token")
			ctx.Abort()
			return
		}

		if utils.IsTokenBlacklisted(tokenString) {
			utils.Error(ctx, http.StatusUnauthorized, 40104, "token revoked")
			ctx.Abort()
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil || claims.UserID == 0 {
			utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Set(ContextRoleKey, claims.Role)
		ctx.Set(ContextTokenKey, tokenString)
		ctx.Next()
	}
}

// AdminRequired must run after AuthRequired and rejects non-administrators with 403.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !IsAdmin(ctx.GetString(ContextRoleKey), ctx.GetString(ContextUsernameKey)) {
			utils.Error(ctx, http.StatusForbidden, 40301, "administrator privileges required")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// IsAdmin reports whether the role is admin or the username is configured as an administrator.
// Configured names match exactly; postgres and sqlite store usernames case-sensitively.
func IsAdmin(role, username string) bool {
	if role == models.RoleAdmin {
		return true
	}
	uname := strings.TrimSpace(username)
	if uname == "" {
		return false
	}
	for _, u := range config.Get().AdminUsernames {
		if strings.TrimSpace(u) == uname {
			return true
		}
	}
	return false
}

// ShadowsAdmin reports whether username differs only in case from a configured administrator name.
func ShadowsAdmin(username string) bool {
	uname := strings.TrimSpace(username)
	for _, u := range config.Get().AdminUsernames {
		u = strings.TrimSpace(u)
		if u != uname && strings.EqualFold(u, uname) {
			return true
		}
	}
	return false
}
