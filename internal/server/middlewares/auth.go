package middlewares

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/deeprecall/deeprecall/internal/server/auth"
	"github.com/deeprecall/deeprecall/internal/server/handlers/api"
)

const (
	bearerPrefix = "Bearer "
	authHeader   = "Authorization"

	// gin context keys set after successful validation
	UserContextKey   = "user"
	DeviceContextKey = "device"
)

// JWTAuth validates bearer tokens and stores the principal and device id in
// the gin context. A failed or missing credential short-circuits the whole
// request; nothing downstream runs.
func JWTAuth(authService *auth.AuthService) gin.HandlerFunc {
	if !authService.IsEnabled() {
		slog.Warn("auth middleware disabled")
		return func(ctx *gin.Context) {
			// dev mode: trust the headers
			ctx.Set(UserContextKey, ctx.GetHeader("X-DeepRecall-User"))
			ctx.Set(DeviceContextKey, ctx.GetHeader("X-DeepRecall-Device"))
			ctx.Next()
		}
	}

	return func(ctx *gin.Context) {
		headerValue := ctx.GetHeader(authHeader)
		if headerValue == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthRequired,
				fmt.Errorf("authorization header is missing"))
			return
		}

		if !strings.HasPrefix(headerValue, bearerPrefix) {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthRequired,
				fmt.Errorf("authorization header format must be Bearer {token}"))
			return
		}

		tokenString := strings.TrimPrefix(headerValue, bearerPrefix)
		if tokenString == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthRequired,
				fmt.Errorf("token is missing"))
			return
		}

		claims, err := authService.ValidateAccessToken(ctx, tokenString)
		if err != nil {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
			return
		}

		ctx.Set(UserContextKey, claims.Subject)
		ctx.Set(DeviceContextKey, claims.Device)
		ctx.Next()
	}
}
