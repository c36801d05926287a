package api

import (
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerToken extracts a compact JWT from an Authorization header value.
// Surrounding spaces are ignored; the scheme is case-sensitive and the
// token must have exactly three segments.
func bearerToken(h string) (string, error) {
	h = strings.Trim(h, " ")
	if h == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(h, bearerPrefix)
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
