package identity

import (
	"errors"
	"strings"
)

var (
	ErrMissingCredential = errors.New("missing authorization header")
	ErrBadCredential     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// BearerToken extracts the JWT from an Authorization header value.
func BearerToken(header string) (string, error) {
	raw := strings.Trim(header, " ")
	if raw == "" {
		return "", ErrMissingCredential
	}
	if len(raw) <= len(bearerPrefix) || !strings.HasPrefix(raw, bearerPrefix) {
		return "", ErrBadCredential
	}
	token := raw[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return "", ErrBadCredential
	}
	return token, nil
}
