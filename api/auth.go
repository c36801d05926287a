package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const DefaultJWKSCacheTTL = 15 * time.Minute

// AuthConfig selects how bearer tokens are verified. A non-empty
// SharedSecret switches to HS256 tokens signed locally (jelloctl token);
// otherwise tokens must be RS256 and signed by a key from JWKS.
type AuthConfig struct {
	JWKS         *keyfunc.JWKS
	Audience     string
	Issuer       string
	SharedSecret []byte
	KeyCacheTTL  time.Duration
}

// Auth resolves the account id (the sub claim) of a request.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
	secret   []byte
	parser   *jwt.Parser

	keys   sync.Map
	keyTTL time.Duration
}

type cachedKey struct {
	key     any
	expires time.Time
}

func NewAuth(cfg AuthConfig) *Auth {
	a := &Auth{
		jwks:     cfg.JWKS,
		audience: cfg.Audience,
		issuer:   cfg.Issuer,
		secret:   cfg.SharedSecret,
		keyTTL:   cfg.KeyCacheTTL,
	}
	if len(a.secret) > 0 {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// Local reports whether tokens are verified with the shared secret.
func (a *Auth) Local() bool { return len(a.secret) > 0 }

// UserIDFromAuthHeader verifies the bearer token in an Authorization
// header value and returns its subject.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromToken(token)
}

// UserIDFromToken verifies a raw JWT and returns its subject.
func (a *Auth) UserIDFromToken(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, a.keyFor)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	// one minute of clock skew
	now := time.Now().Add(time.Minute).Unix()
	switch {
	case !claims.VerifyExpiresAt(now, true):
		return "", errors.New("token expired")
	case !claims.VerifyNotBefore(now, false):
		return "", errors.New("token not valid yet")
	case !claims.VerifyIssuedAt(now, false):
		return "", errors.New("token used before issued")
	case a.audience != "" && !claims.VerifyAudience(a.audience, true):
		return "", errors.New("invalid audience")
	case a.issuer != "" && !claims.VerifyIssuer(a.issuer, true):
		return "", errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyFor(t *jwt.Token) (any, error) {
	if a.Local() {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := t.Header["kid"].(string)
	cache := kid != "" && a.keyTTL > 0
	if cache {
		if v, ok := a.keys.Load(kid); ok {
			entry := v.(cachedKey)
			if time.Now().Before(entry.expires) {
				return entry.key, nil
			}
			a.keys.Delete(kid)
		}
	}
	key, err := a.jwks.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	if cache {
		a.keys.Store(kid, cachedKey{key: key, expires: time.Now().Add(a.keyTTL)})
	}
	return key, nil
}
