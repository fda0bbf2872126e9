package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawafuchieirin/app-prototype/internal/handlers"
	"github.com/kawafuchieirin/app-prototype/internal/logging"
	"github.com/kawafuchieirin/app-prototype/internal/models"
	"github.com/kawafuchieirin/app-prototype/internal/services"
)

// stubVerifier は "good" だけを受け付けるトークン検証です。
type stubVerifier struct {
	calls int
}

func (v *stubVerifier) Verify(_ context.Context, token string) (*models.AuthUser, error) {
	v.calls++
	if token != "good" {
		return nil, &services.AuthError{Reason: "key not found", Err: fmt.Errorf("wrap: %w", services.ErrKeyNotFound)}
	}
	return &models.AuthUser{Sub: "u1"}, nil
}

func newAuthRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) {
		user, ok := handlers.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"sub": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sub": user.Sub})
	})
	return r
}

func get(r http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
		wantCalls  int
	}{
		{"no header", "", http.StatusUnauthorized, `{"detail":"Not authenticated"}`, 0},
		{"other scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, `{"detail":"Not authenticated"}`, 0},
		{"empty token", "Bearer ", http.StatusUnauthorized, `{"detail":"Not authenticated"}`, 0},
		{"bad token", "Bearer bad", http.StatusUnauthorized, `{"detail":"Invalid token: key not found"}`, 1},
		{"valid", "Bearer good", http.StatusOK, `{"sub":"u1"}`, 1},
		{"lowercase scheme", "bearer good", http.StatusOK, `{"sub":"u1"}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubVerifier{}
			w := get(newAuthRouter(RequireAuth(v, logging.Discard())), tt.header)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Equal(t, tt.wantCalls, v.calls)
			if tt.wantStatus == http.StatusUnauthorized && tt.wantCalls == 0 {
				assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"anonymous", "", `{"sub":null}`},
		{"invalid token downgrades to anonymous", "Bearer bad", `{"sub":null}`},
		{"valid", "Bearer good", `{"sub":"u1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(newAuthRouter(OptionalAuth(&stubVerifier{}, logging.Discard())), tt.header)
			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "key not found", rejectReason(fmt.Errorf("verify: %w", &services.AuthError{Reason: "key not found"})))
	assert.Equal(t, "boom", rejectReason(errors.New("boom")))
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("BEARER abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("Bearer")
	assert.False(t, ok)
}
