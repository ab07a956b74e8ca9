// Package spapi implements the marketplace client: LWA token exchange and
// the competitive-pricing / fees-estimate operations, layered on
// internal/transport and internal/sigv4. Grounded on the original
// SellingPartnerAuthenticator and AmazonSPAPIClient, with the single-flight
// token refresh pattern taken from eve-flipper's OrderCache (a
// singleflight.Group coalescing concurrent fetches of the same key).
package spapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mselser95/amazon-sedori/internal/jsonutil"
	"github.com/mselser95/amazon-sedori/internal/transport"
)

// ErrTokenAcquisition wraps a non-retryable failure to exchange the
// refresh token for an access token.
var ErrTokenAcquisition = errors.New("spapi: token acquisition failed")

const tokenEndpoint = "https://api.amazon.com/auth/o2/token"

// TokenCache serves LWA access tokens, refreshing at most once per
// concurrent stampede via singleflight and caching until 60s before
// expiry.
type TokenCache struct {
	clientID     string
	clientSecret string
	refreshToken string

	endpoint  string
	transport *transport.Client
	http      *http.Client
	logger    *zap.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenCache constructs a TokenCache. The transport.Client supplies the
// shared retry/circuit-breaker/budget call path (budget key "spapi:lwa").
func NewTokenCache(clientID, clientSecret, refreshToken string, tr *transport.Client, httpClient *http.Client, logger *zap.Logger) *TokenCache {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &TokenCache{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		endpoint:     tokenEndpoint,
		transport:    tr,
		http:         httpClient,
		logger:       logger,
	}
}

// refreshURLOverrideForTest points the refresh call at a different
// endpoint; it exists only so tests can stub the LWA token endpoint.
func (c *TokenCache) refreshURLOverrideForTest(url string) {
	c.endpoint = url
}

// GetAccessToken returns a cached token while now < expiresAt-60s,
// otherwise refreshes it. Concurrent callers during a refresh observe a
// single network call and share its outcome.
func (c *TokenCache) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token := c.token
	expiresAt := c.expiresAt
	c.mu.RUnlock()

	if token != "" && time.Now().Before(expiresAt.Add(-60*time.Second)) {
		return token, nil
	}

	result, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	c.mu.RLock()
	token := c.token
	expiresAt := c.expiresAt
	c.mu.RUnlock()
	if token != "" && time.Now().Before(expiresAt.Add(-60*time.Second)) {
		return token, nil
	}

	form := url.Values{
		"grant_type":    []string{"refresh_token"},
		"refresh_token": []string{c.refreshToken},
		"client_id":     []string{c.clientID},
		"client_secret": []string{c.clientSecret},
	}

	resp, flags, err := c.transport.Do(ctx, "spapi:lwa", 1<<30, func(reqCtx context.Context) (*http.Request, error) {
		req, buildErr := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
		if buildErr != nil {
			return nil, buildErr
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTokenAcquisition, err)
	}
	if flags.Degraded {
		return "", fmt.Errorf("%w: %s", ErrTokenAcquisition, flags.Reason)
	}
	defer resp.Body.Close()

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if decodeErr := jsonutil.Decode(resp.Body, &payload); decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %s", ErrTokenAcquisition, decodeErr)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token in response", ErrTokenAcquisition)
	}

	c.mu.Lock()
	c.token = payload.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("lwa-token-refreshed", zap.Time("expires_at", c.expiresAt))
	}
	return payload.AccessToken, nil
}
