package lark

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/rs/zerolog"
)

// tokenSafetyMargin is subtracted from the provider TTL so a token is never
// used close to its real expiry.
const tokenSafetyMargin = 120 * time.Second

const tenantTokenPath = apiPrefix + "/auth/v3/tenant_access_token/internal"

// defaultTokenTTL applies when the provider omits "expire".
const defaultTokenTTL = 3600

// TokenCache fetches and caches the tenant access token. Callers treat an
// empty token as "unavailable".
type TokenCache struct {
	client *Client
	now    func() time.Time
	logger zerolog.Logger

	refreshMu sync.Mutex // serializes refreshes

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenCache creates a TokenCache that authenticates with client's app
// credentials.
func NewTokenCache(client *Client, logger zerolog.Logger) *TokenCache {
	return &TokenCache{
		client: client,
		now:    time.Now,
		logger: logger,
	}
}

// Get returns the cached token if it is still valid, otherwise performs a
// blocking refresh. On any provider or transport failure it logs and returns "".
func (tc *TokenCache) Get(ctx context.Context) string {
	if tok, ok := tc.cached(); ok {
		return tok
	}

	tc.refreshMu.Lock()
	defer tc.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if tok, ok := tc.cached(); ok {
		return tok
	}

	started := tc.now()
	tok, ttl := tc.fetch(ctx)
	if tok == "" {
		return ""
	}

	tc.mu.Lock()
	tc.token = tok
	tc.expiresAt = started.Add(time.Duration(ttl)*time.Second - tokenSafetyMargin)
	tc.mu.Unlock()
	return tok
}

// Invalidate drops the cached token so the next Get refreshes.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	tc.token = ""
	tc.expiresAt = time.Time{}
	tc.mu.Unlock()
}

func (tc *TokenCache) cached() (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.token != "" && tc.now().Before(tc.expiresAt) {
		return tc.token, true
	}
	return "", false
}

func (tc *TokenCache) fetch(ctx context.Context) (string, int) {
	res, err := tc.client.sdk.Post(ctx, tenantTokenPath, map[string]string{
		"app_id":     tc.client.appID,
		"app_secret": tc.client.appSecret,
	}, larkcore.AccessTokenTypeNone)
	if err != nil {
		tc.logger.Error().Err(err).Msg("network error fetching tenant token")
		return "", 0
	}

	var resp struct {
		Code   int    `json:"code"`
		Msg    string `json:"msg"`
		Token  string `json:"tenant_access_token"`
		Expire int    `json:"expire"`
	}
	status := res.StatusCode
	if err := json.Unmarshal(res.RawBody, &resp); err != nil {
		tc.logger.Error().Err(err).Int("status", status).Msg("decode tenant token response")
		return "", 0
	}
	if resp.Code != 0 || status != http.StatusOK {
		tc.logger.Error().Int("code", resp.Code).Int("status", status).Str("msg", resp.Msg).Msg("tenant token api error")
		return "", 0
	}
	if resp.Token == "" {
		tc.logger.Error().Msg("tenant token api returned empty token")
		return "", 0
	}
	ttl := resp.Expire
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return resp.Token, ttl
}
