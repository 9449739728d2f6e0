// Package identity verifies bearer credentials issued by the identity
// provider and tracks the signed-in user of a session.
package identity

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const DefaultKeyCacheTTL = 15 * time.Minute

// clockSkew is the tolerance applied to exp, nbf and iat.
const clockSkew = time.Minute

// User is the authenticated identity. ID is the stable subject claim.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Config selects how tokens are checked. A non-empty LocalSecret switches to
// HS256 shared-secret verification for local development and tests;
// otherwise tokens must be RS256 signed by a key from the JWKS.
type Config struct {
	Audience    string
	Issuer      string
	LocalSecret []byte
	KeyCacheTTL time.Duration
}

// Auth validates JWTs.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
	secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func NewAuth(jwks *keyfunc.JWKS, cfg Config) *Auth {
	a := &Auth{
		jwks:        jwks,
		audience:    cfg.Audience,
		issuer:      cfg.Issuer,
		secret:      cfg.LocalSecret,
		keyCacheTTL: cfg.KeyCacheTTL,
	}
	if len(a.secret) > 0 {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	}
	return a
}

// Verify checks the signature and registered claims of token and returns the
// user it was issued to.
func (a *Auth) Verify(token string) (User, error) {
	if token == "" {
		return User{}, ErrMissingCredential
	}

	var parsed *jwt.Token
	var err error
	if len(a.secret) > 0 {
		parsed, err = a.parser.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.secret, nil
		})
	} else {
		parsed, err = a.parser.Parse(token, a.keyForToken)
	}
	if err != nil {
		return User{}, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, errors.New("invalid claims")
	}

	now := time.Now()
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return User{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false) {
		return User{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now.Add(clockSkew).Unix(), false) {
		return User{}, errors.New("token used before issued")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, false) {
		return User{}, errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, false) {
		return User{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return User{}, errors.New("missing sub")
	}
	u := User{ID: sub}
	u.Email, _ = claims["email"].(string)
	u.Name, _ = claims["name"].(string)
	return u, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
