package pipeline

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowmesh/core/internal/common/config"
)

// AuthScheme selects an authentication provider.
type AuthScheme string

const (
	AuthNone   AuthScheme = "NONE"
	AuthAPIKey AuthScheme = "API_KEY"
	AuthJWT    AuthScheme = "JWT"
	AuthBasic  AuthScheme = "BASIC"
	AuthCustom AuthScheme = "CUSTOM"
)

// AuthError carries the WWW-Authenticate challenge for a failed auth
// attempt.
type AuthError struct {
	Challenge string
	Message   string
}

func (e *AuthError) Error() string { return e.Message }

// APIKeyValidator resolves an API key to a principal, or reports it invalid.
type APIKeyValidator func(key string) (Principal, bool)

// BasicValidator resolves HTTP Basic credentials to a principal.
type BasicValidator func(username, password string) (Principal, bool)

// CustomAuthenticator is an escape hatch for bespoke schemes.
type CustomAuthenticator func(r *http.Request) (Principal, error)

// Authenticator runs whichever scheme a route configures.
type Authenticator struct {
	JWTConfig       config.JWTConfig
	APIKeyHeader    string
	APIKeyQueryParm string
	ValidateAPIKey  APIKeyValidator
	ValidateBasic   BasicValidator
	Custom          CustomAuthenticator

	mu       sync.Mutex
	jwtCache map[string]cachedClaims
}

type cachedClaims struct {
	principal Principal
	expiresAt time.Time
}

func NewAuthenticator() *Authenticator {
	return &Authenticator{
		APIKeyHeader: "X-API-Key",
		jwtCache:     map[string]cachedClaims{},
	}
}

type jwtClaims struct {
	Subject     string   `json:"sub"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

func (a *Authenticator) Authenticate(scheme AuthScheme, r *http.Request) (Principal, *AuthError) {
	switch scheme {
	case "", AuthNone:
		return Principal{Anonymous: true}, nil

	case AuthAPIKey:
		key := r.Header.Get(a.APIKeyHeader)
		if key == "" && a.APIKeyQueryParm != "" {
			key = r.URL.Query().Get(a.APIKeyQueryParm)
		}
		if key == "" {
			return Principal{}, &AuthError{Challenge: `ApiKey`, Message: "missing API key"}
		}
		if a.ValidateAPIKey == nil {
			return Principal{}, &AuthError{Challenge: `ApiKey`, Message: "no API key validator configured"}
		}
		p, ok := a.ValidateAPIKey(key)
		if !ok {
			return Principal{}, &AuthError{Challenge: `ApiKey`, Message: "invalid API key"}
		}
		return p, nil

	case AuthJWT:
		return a.authenticateJWT(r)

	case AuthBasic:
		user, pass, ok := r.BasicAuth()
		if !ok {
			return Principal{}, &AuthError{Challenge: `Basic realm="flowmesh"`, Message: "missing basic credentials"}
		}
		if a.ValidateBasic == nil {
			return Principal{}, &AuthError{Challenge: `Basic realm="flowmesh"`, Message: "no basic validator configured"}
		}
		p, ok := a.ValidateBasic(user, pass)
		if !ok {
			return Principal{}, &AuthError{Challenge: `Basic realm="flowmesh"`, Message: "invalid credentials"}
		}
		return p, nil

	case AuthCustom:
		if a.Custom == nil {
			return Principal{}, &AuthError{Challenge: "", Message: "no custom authenticator configured"}
		}
		p, err := a.Custom(r)
		if err != nil {
			return Principal{}, &AuthError{Message: err.Error()}
		}
		return p, nil

	default:
		return Principal{}, &AuthError{Message: "unknown authentication scheme"}
	}
}

func (a *Authenticator) authenticateJWT(r *http.Request) (Principal, *AuthError) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Principal{}, &AuthError{Challenge: `Bearer`, Message: "missing bearer token"}
	}
	tokenString := parts[1]

	a.mu.Lock()
	if cached, ok := a.jwtCache[tokenString]; ok && time.Now().Before(cached.expiresAt) {
		a.mu.Unlock()
		return cached.principal, nil
	}
	a.mu.Unlock()

	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, &AuthError{Message: "unexpected signing method"}
		}
		return []byte(a.JWTConfig.Secret), nil
	})
	if err != nil || !token.Valid {
		return Principal{}, &AuthError{Challenge: `Bearer error="invalid_token"`, Message: "invalid or expired token"}
	}

	p := Principal{Subject: claims.Subject, Roles: claims.Roles, Permissions: claims.Permissions}

	if claims.ExpiresAt != nil {
		a.mu.Lock()
		a.jwtCache[tokenString] = cachedClaims{principal: p, expiresAt: claims.ExpiresAt.Time}
		a.mu.Unlock()
	}

	return p, nil
}

// HashPassword and CheckPassword back a BasicValidator implementation that
// stores bcrypt hashes rather than plaintext.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(hash), err
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
