package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// AuthProvider decides whether a request carries valid credentials.
type AuthProvider interface {
	Authenticate(r *http.Request) bool
}

// AuthFunc adapts a function to AuthProvider.
type AuthFunc func(r *http.Request) bool

// Authenticate calls f(r).
func (f AuthFunc) Authenticate(r *http.Request) bool { return f(r) }

// BasicAuthProvider checks HTTP Basic credentials against a fixed user list.
type BasicAuthProvider struct {
	Credentials map[string]string // username -> password
}

func (p *BasicAuthProvider) Authenticate(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	expected, exists := p.Credentials[username]
	if !exists {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1
}

// BearerTokenProvider checks "Authorization: Bearer <token>". Validator, when
// set, takes precedence over Tokens.
type BearerTokenProvider struct {
	Tokens    []string
	Validator func(token string) bool
}

func (p *BearerTokenProvider) Authenticate(r *http.Request) bool {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return false
	}
	if p.Validator != nil {
		return p.Validator(token)
	}
	return containsSecret(p.Tokens, token)
}

// APIKeyProvider checks an API key sent in Header or, failing that, in the
// Query parameter.
type APIKeyProvider struct {
	Keys   []string `mapstructure:"keys"`
	Header string   `mapstructure:"header"`
	Query  string   `mapstructure:"query"`
}

func (p *APIKeyProvider) Authenticate(r *http.Request) bool {
	if p.Header != "" {
		if key := r.Header.Get(p.Header); key != "" {
			return containsSecret(p.Keys, key)
		}
	}
	if p.Query != "" {
		if key := r.URL.Query().Get(p.Query); key != "" {
			return containsSecret(p.Keys, key)
		}
	}
	return false
}

func containsSecret(secrets []string, candidate string) bool {
	found := false
	for _, s := range secrets {
		if subtle.ConstantTimeCompare([]byte(s), []byte(candidate)) == 1 {
			found = true
		}
	}
	return found
}

// Authentication answers 401 for requests provider rejects. realm, when set,
// is sent in a WWW-Authenticate challenge.
func Authentication(provider AuthProvider, scheme, realm string, logger *zap.Logger) Middleware {
	challenge := ""
	if scheme != "" {
		challenge = scheme
		if realm != "" {
			challenge += ` realm="` + realm + `"`
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !provider.Authenticate(r) {
				logger.Warn("Authentication failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", RequestIP(r)),
				)
				if challenge != "" {
					w.Header().Set("WWW-Authenticate", challenge)
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
