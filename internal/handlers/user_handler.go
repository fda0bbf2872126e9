package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kawafuchieirin/app-prototype/internal/models"
)

// AuthUserKey は認証済みユーザーを gin.Context に保存するキーです。
const AuthUserKey = "auth_user"

// SetCurrentUser は認証済みユーザーをコンテキストに保存します。
func SetCurrentUser(c *gin.Context, user *models.AuthUser) {
	c.Set(AuthUserKey, user)
}

// CurrentUser はコンテキストから認証済みユーザーを取り出します。
func CurrentUser(c *gin.Context) (*models.AuthUser, bool) {
	v, ok := c.Get(AuthUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.AuthUser)
	return user, ok && user != nil
}

// UserHandler は認証済みユーザー関連のハンドラーを管理します。
type UserHandler struct{}

// NewUserHandler は新しいUserHandlerを作成します。
func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// MeHandler はトークンから組み立てたユーザー情報を返します。RequireAuth の後で使います。
func (h *UserHandler) MeHandler(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// RootHandler はAPIの名前を返します。ログイン中であればユーザー名も返します。
func (h *UserHandler) RootHandler(c *gin.Context) {
	resp := gin.H{"message": "ToDo Dashboard API"}
	if user, ok := CurrentUser(c); ok {
		name := user.Sub
		if user.Username != nil {
			name = *user.Username
		}
		resp["user"] = name
	}
	c.JSON(http.StatusOK, resp)
}
