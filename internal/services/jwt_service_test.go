package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawafuchieirin/app-prototype/internal/config"
	"github.com/kawafuchieirin/app-prototype/internal/logging"
)

const (
	testIssuer   = "https://cognito-idp.ap-northeast-1.amazonaws.com/ap-northeast-1_test"
	testClientID = "client-123"
	testKid      = "kid-1"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

// jwksServer は kid の公開鍵を返すJWKSエンドポイントを立て、リクエスト回数を数えます。
func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	body, err := json.Marshal(map[string]any{
		"keys": []map[string]string{
			{"kty": "EC", "kid": "ec-key", "crv": "P-256"},
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func signToken(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(signingKey(t))
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":              "user-1",
		"email":            "a@b.com",
		"cognito:username": "alice",
		"aud":              testClientID,
		"iss":              testIssuer,
		"exp":              time.Now().Add(time.Hour).Unix(),
		"iat":              time.Now().Unix(),
	}
}

func newCognitoVerifier(t *testing.T) (*CognitoVerifier, *atomic.Int32) {
	t.Helper()
	srv, hits := jwksServer(t, testKid, &signingKey(t).PublicKey)
	cache := NewKeySetCache(srv.URL, srv.Client(), 0)
	return NewCognitoVerifier(cache, testIssuer, testClientID), hits
}

func TestCognitoVerifier_ValidToken(t *testing.T) {
	v, hits := newCognitoVerifier(t)

	user, err := v.Verify(context.Background(), signToken(t, testKid, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.Sub)
	require.NotNil(t, user.Email)
	assert.Equal(t, "a@b.com", *user.Email)
	require.NotNil(t, user.Username)
	assert.Equal(t, "alice", *user.Username)

	_, err = v.Verify(context.Background(), signToken(t, testKid, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "鍵セットはキャッシュされる")
}

func TestCognitoVerifier_UnknownKid(t *testing.T) {
	v, _ := newCognitoVerifier(t)

	_, err := v.Verify(context.Background(), signToken(t, "other-kid", validClaims()))
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "key not found", authErr.Reason)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCognitoVerifier_MissingKid(t *testing.T) {
	v, _ := newCognitoVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	signed, err := token.SignedString(signingKey(t))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signed)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "key not found", authErr.Reason)
}

func TestCognitoVerifier_RejectsInvalidClaims(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"wrong audience", func(c jwt.MapClaims) { c["aud"] = "someone-else" }},
		{"wrong issuer", func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{"missing exp", func(c jwt.MapClaims) { delete(c, "exp") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newCognitoVerifier(t)
			claims := validClaims()
			tt.mutate(claims)

			_, err := v.Verify(context.Background(), signToken(t, testKid, claims))
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.NotEmpty(t, authErr.Reason)
		})
	}
}

func TestCognitoVerifier_RejectsOtherAlgorithms(t *testing.T) {
	v, _ := newCognitoVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	token.Header["kid"] = testKid
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signed)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestCognitoVerifier_JWKSUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	v := NewCognitoVerifier(NewKeySetCache(srv.URL, srv.Client(), 0), testIssuer, testClientID)
	_, err := v.Verify(context.Background(), signToken(t, testKid, validClaims()))
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "503")
}

func TestUnverifiedVerifier(t *testing.T) {
	v := NewUnverifiedVerifier()

	// 署名が一致しなくても、有効期限が無くてもクレームを読み取る
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "email": "a@b.com"})
	signed, err := token.SignedString([]byte("anything"))
	require.NoError(t, err)

	user, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.Sub)
	require.NotNil(t, user.Email)
	assert.Equal(t, "a@b.com", *user.Email)
	assert.Nil(t, user.Username)
}

func TestUnverifiedVerifier_Malformed(t *testing.T) {
	v := NewUnverifiedVerifier()

	_, err := v.Verify(context.Background(), "not-a-jwt")
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "a@b.com"})
	signed, err := token.SignedString([]byte("anything"))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, errMissingSubject)
}

func TestNewTokenVerifier(t *testing.T) {
	s := config.Default()
	s.CognitoUserPoolID = "ap-northeast-1_test"
	s.CognitoClientID = testClientID
	v := NewTokenVerifier(s, logging.Discard())
	assert.IsType(t, &CognitoVerifier{}, v)

	s.CognitoEndpointURL = "http://localhost:9229"
	v = NewTokenVerifier(s, logging.Discard())
	assert.IsType(t, &UnverifiedVerifier{}, v)
}

func TestNewTokenVerifier_WarnsOnMissingCognitoIDs(t *testing.T) {
	tests := []struct {
		name             string
		poolID, clientID string
		warn             bool
	}{
		{"both set", "ap-northeast-1_test", testClientID, false},
		{"pool id empty", "", testClientID, true},
		{"client id empty", "ap-northeast-1_test", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := config.Default()
			s.CognitoUserPoolID = tt.poolID
			s.CognitoClientID = tt.clientID

			v := NewTokenVerifier(s, logging.New(&buf, false))
			assert.IsType(t, &CognitoVerifier{}, v)
			if tt.warn {
				assert.Contains(t, buf.String(), "every token will be rejected")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestKeySetCache_TTL(t *testing.T) {
	srv, hits := jwksServer(t, testKid, &signingKey(t).PublicKey)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewKeySetCache(srv.URL, srv.Client(), time.Hour, WithKeySetClock(func() time.Time { return now }))
	ctx := context.Background()

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.True(t, keys.Has(testKid))
	assert.False(t, keys.Has("ec-key"), "RSA 以外の鍵は読み飛ばす")

	now = now.Add(59 * time.Minute)
	_, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(time.Minute)
	_, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestKeySetCache_ZeroTTLNeverExpires(t *testing.T) {
	srv, hits := jwksServer(t, testKid, &signingKey(t).PublicKey)
	now := time.Now()
	cache := NewKeySetCache(srv.URL, srv.Client(), 0, WithKeySetClock(func() time.Time { return now }))

	_, err := cache.Keys(context.Background())
	require.NoError(t, err)
	now = now.Add(24 * 365 * time.Hour)
	_, err = cache.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestKeySetCache_Invalidate(t *testing.T) {
	srv, hits := jwksServer(t, testKid, &signingKey(t).PublicKey)
	cache := NewKeySetCache(srv.URL, srv.Client(), 0)

	_, err := cache.Keys(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestKeySetCache_ConcurrentColdStart(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	pub := &signingKey(t).PublicKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}}})
	}))
	t.Cleanup(srv.Close)

	cache := NewKeySetCache(srv.URL, srv.Client(), 0)
	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys, err := cache.Keys(context.Background())
			if err == nil && !keys.Has(testKid) {
				err = errors.New("key missing")
			}
			errs <- err
		}()
	}

	// 最初の取得がサーバーに届くまで待ってから応答させる
	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestKeySetCache_FetchErrorNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	pub := &signingKey(t).PublicKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}}})
	}))
	t.Cleanup(srv.Close)

	cache := NewKeySetCache(srv.URL, srv.Client(), 0)
	_, err := cache.Keys(context.Background())
	assert.ErrorContains(t, err, "unexpected status 500")

	fail.Store(false)
	keys, err := cache.Keys(context.Background())
	require.NoError(t, err)
	assert.True(t, keys.Has(testKid))
}
