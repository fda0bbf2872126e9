package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/kawafuchieirin/app-prototype/internal/handlers"
	"github.com/kawafuchieirin/app-prototype/internal/services"
)

// RequireAuth はベアラートークンを検証し、ユーザー情報をコンテキストに設定するミドルウェアです。
// トークンが無い、または不正な場合は 401 で中断します。
func RequireAuth(verifier services.TokenVerifier, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}

		user, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Debug("token rejected", "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token: " + rejectReason(err)})
			return
		}

		handlers.SetCurrentUser(c, user)
		c.Next()
	}
}

// OptionalAuth はトークンが有効な場合だけユーザー情報を設定します。リクエストは中断しません。
func OptionalAuth(verifier services.TokenVerifier, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			user, err := verifier.Verify(c.Request.Context(), token)
			if err == nil {
				handlers.SetCurrentUser(c, user)
			} else {
				logger.Debug("optional token ignored", "path", c.Request.URL.Path, "err", err)
			}
		}
		c.Next()
	}
}

// "Bearer " プレフィックスを削除する (スキームの大文字小文字は区別しない)
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func rejectReason(err error) string {
	var authErr *services.AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return err.Error()
}
