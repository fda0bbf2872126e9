package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// KeySet は取得済みのJWKSです。RSA の鍵だけを保持します。
type KeySet struct {
	storage jwkset.Storage
	keyfunc keyfunc.Keyfunc
}

// Has は kid の鍵があるかを返します。
func (s *KeySet) Has(kid string) bool {
	_, err := s.storage.KeyRead(context.Background(), kid)
	return err == nil
}

// Keyfunc はトークンヘッダーの kid で鍵を選ぶ jwt.Keyfunc を返します。
// kid が無いか一致しない場合は ErrKeyNotFound を返します。
func (s *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if _, err := s.storage.KeyRead(ctx, kid); err != nil {
			if errors.Is(err, jwkset.ErrKeyNotFound) {
				return nil, ErrKeyNotFound
			}
			return nil, err
		}
		return s.keyfunc.Keyfunc(t)
	}
}

// KeySetCache はJWKSを遅延取得してキャッシュします。
//
// TTL が 0 の場合、一度取得した鍵はプロセス終了か Invalidate まで使い続けます。
type KeySetCache struct {
	url    string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	keys      *KeySet
	fetchedAt time.Time

	group singleflight.Group
}

// KeySetCacheOption は KeySetCache の生成オプションです。
type KeySetCacheOption func(*KeySetCache)

// WithKeySetClock は有効期限の判定に使う時計を差し替えます。
func WithKeySetClock(now func() time.Time) KeySetCacheOption {
	return func(c *KeySetCache) { c.now = now }
}

// NewKeySetCache は url からJWKSを取得するキャッシュを作成します。
func NewKeySetCache(url string, client *http.Client, ttl time.Duration, opts ...KeySetCacheOption) *KeySetCache {
	if client == nil {
		client = http.DefaultClient
	}
	c := &KeySetCache{
		url:    url,
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Keys はキャッシュ済みの鍵を返します。未取得か期限切れの場合は取得します。
// 同時に呼ばれた取得は1回にまとめられます。
func (c *KeySetCache) Keys(ctx context.Context) (*KeySet, error) {
	c.mu.Lock()
	if c.keys != nil && !c.expired() {
		keys := c.keys
		c.mu.Unlock()
		return keys, nil
	}
	c.mu.Unlock()

	// 取得は待機中の全員で共有する。呼び出し元のキャンセルは引き継がず、http.Client のタイムアウトで打ち切る
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.url, func() (interface{}, error) {
		keys, err := fetchKeySet(fetchCtx, c.client, c.url)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return keys, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate はキャッシュを破棄し、次の Keys で再取得させます。
func (c *KeySetCache) Invalidate() {
	c.mu.Lock()
	c.keys = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// mu を保持して呼ぶこと
func (c *KeySetCache) expired() bool {
	if c.ttl <= 0 {
		return false
	}
	return !c.now().Before(c.fetchedAt.Add(c.ttl))
}

func fetchKeySet(ctx context.Context, client *http.Client, url string) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build jwks request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jwkset.JWKSMarshal
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode jwks: %w", err)
	}

	storage := jwkset.NewMemoryStorage()
	for _, m := range set.Keys {
		// Cognito は RS256 のみ。他の鍵種は読み飛ばす
		if m.KTY != jwkset.KtyRSA || m.KID == "" {
			continue
		}
		key, err := jwkset.NewJWKFromMarshal(m, jwkset.JWKMarshalOptions{}, jwkset.JWKValidateOptions{})
		if err != nil {
			return nil, fmt.Errorf("invalid jwk %s: %w", m.KID, err)
		}
		if err := storage.KeyWrite(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to store jwk %s: %w", m.KID, err)
		}
	}

	kf, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("failed to build keyfunc: %w", err)
	}
	return &KeySet{storage: storage, keyfunc: kf}, nil
}
