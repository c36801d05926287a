package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v4"
)

var errCredential = errors.New("credential unavailable")

// TokenSource yields a bearer token and its expiry.
type TokenSource interface {
	Token(ctx context.Context) (string, time.Time, error)
}

// FileTokenSource reads a JWT from a file that an external agent keeps
// fresh. The expiry comes from the token's exp claim.
type FileTokenSource struct {
	Path string
}

func (f FileTokenSource) Token(ctx context.Context) (string, time.Time, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", time.Time{}, err
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", time.Time{}, fmt.Errorf("token file %s is empty", f.Path)
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return "", time.Time{}, errors.New("token has no exp claim")
	}
	return raw, claims.ExpiresAt.Time, nil
}

// RefreshingCredential is an azcore.TokenCredential backed by a
// TokenSource. Tokens are reused until they are within skew of expiry;
// Refresh forces a new read.
type RefreshingCredential struct {
	source TokenSource
	now    func() time.Time
	skew   time.Duration

	mu    sync.Mutex
	token azcore.AccessToken
}

func NewRefreshingCredential(source TokenSource) *RefreshingCredential {
	return &RefreshingCredential{source: source, now: time.Now, skew: time.Minute}
}

func (c *RefreshingCredential) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Token != "" && c.now().Add(c.skew).Before(c.token.ExpiresOn) {
		return c.token, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return azcore.AccessToken{}, err
	}
	return c.token, nil
}

// Refresh discards the cached token and reads a new one.
func (c *RefreshingCredential) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *RefreshingCredential) refreshLocked(ctx context.Context) error {
	c.token = azcore.AccessToken{}
	raw, exp, err := c.source.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errCredential, err)
	}
	if !exp.After(c.now()) {
		return fmt.Errorf("%w: token expired at %s", errCredential, exp.UTC().Format(time.RFC3339))
	}
	c.token = azcore.AccessToken{Token: raw, ExpiresOn: exp}
	return nil
}
