package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/kawafuchieirin/app-prototype/internal/config"
	"github.com/kawafuchieirin/app-prototype/internal/models"
)

// ErrKeyNotFound はトークンの kid に一致する公開鍵が無いことを表します。
var ErrKeyNotFound = errors.New("key not found")

var errMissingSubject = errors.New("missing sub claim")

// AuthError はトークン検証の失敗です。Reason はクライアントに返す理由です。
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return "invalid token: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func newAuthError(err error) *AuthError {
	return &AuthError{Reason: err.Error(), Err: err}
}

// TokenVerifier はベアラートークンを検証して AuthUser を返します。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.AuthUser, error)
}

// cognitoClaims はIDトークン/アクセストークンから読み取るクレームです。
type cognitoClaims struct {
	models.CognitoClaims
	jwt.RegisteredClaims
}

func (c *cognitoClaims) authUser() (*models.AuthUser, error) {
	if c.Subject == "" {
		return nil, newAuthError(errMissingSubject)
	}
	return c.ToAuthUser(c.Subject), nil
}

// UnverifiedVerifier は署名を検証せずにクレームを読み取ります。
// cognito-local のようにJWKSを公開しない環境専用です。
type UnverifiedVerifier struct {
	parser *jwt.Parser
}

// NewUnverifiedVerifier は新しいUnverifiedVerifierを作成します。
func NewUnverifiedVerifier() *UnverifiedVerifier {
	return &UnverifiedVerifier{parser: jwt.NewParser()}
}

// Verify はトークンをデコードしてクレームを返します。署名と有効期限は確認しません。
func (v *UnverifiedVerifier) Verify(_ context.Context, token string) (*models.AuthUser, error) {
	claims := &cognitoClaims{}
	if _, _, err := v.parser.ParseUnverified(token, claims); err != nil {
		return nil, newAuthError(err)
	}
	return claims.authUser()
}

// CognitoVerifier はCognitoのJWKSでRS256署名、aud、iss、exp を検証します。
type CognitoVerifier struct {
	keys   *KeySetCache
	parser *jwt.Parser
}

// NewCognitoVerifier は新しいCognitoVerifierを作成します。
func NewCognitoVerifier(keys *KeySetCache, issuer, clientID string) *CognitoVerifier {
	return &CognitoVerifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(clientID),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify はトークンを検証して AuthUser を返します。
func (v *CognitoVerifier) Verify(ctx context.Context, token string) (*models.AuthUser, error) {
	keys, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, newAuthError(err)
	}

	claims := &cognitoClaims{}
	_, err = v.parser.ParseWithClaims(token, claims, keys.Keyfunc(ctx))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, &AuthError{Reason: ErrKeyNotFound.Error(), Err: err}
		}
		return nil, newAuthError(err)
	}
	return claims.authUser()
}

// NewTokenVerifier は設定に応じて検証方法を選びます。
// COGNITO_ENDPOINT_URL が設定されている場合は署名を検証しません。
func NewTokenVerifier(s *config.Settings, logger *log.Logger) TokenVerifier {
	if s.LocalAuth() {
		logger.Warn("token signatures are NOT verified", "cognito_endpoint_url", s.CognitoEndpointURL)
		return NewUnverifiedVerifier()
	}
	if s.CognitoUserPoolID == "" || s.CognitoClientID == "" {
		// iss/aud が一致しないため全てのトークンが拒否される
		logger.Warn("cognito user pool id or client id is empty, every token will be rejected",
			"cognito_user_pool_id", s.CognitoUserPoolID, "cognito_client_id", s.CognitoClientID)
	}
	client := &http.Client{Timeout: s.HTTPTimeout.Duration}
	cache := NewKeySetCache(s.JWKSURL(), client, s.JWKSCacheTTL.Duration)
	return NewCognitoVerifier(cache, s.CognitoIssuer(), s.CognitoClientID)
}

// compile-time checks
var (
	_ TokenVerifier = (*UnverifiedVerifier)(nil)
	_ TokenVerifier = (*CognitoVerifier)(nil)
	_ error         = (*AuthError)(nil)
)
