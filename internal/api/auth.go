package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures the admin bearer-token authenticator, adapted from
// the gateway's HMAC-JWT authenticator down to the one claim this daemon
// actually checks: an "admin" scope on mutating config endpoints.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	ClockSkew  time.Duration
}

type contextKey string

const contextKeySubject contextKey = "ironvault.admin_subject"

// Authenticator validates bearer tokens against a shared HMAC secret.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
}

// NewAuthenticator constructs an Authenticator from cfg.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// RequireAdmin wraps next, rejecting any request without a valid bearer
// token carrying an "admin" scope claim.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.parse(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if !hasAdminScope(claims) {
			writeError(w, http.StatusForbidden, "insufficient scope")
			return
		}
		subject, _ := claims["sub"].(string)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeySubject, subject)))
	})
}

func (a *Authenticator) parse(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("admin auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithIssuer(a.cfg.Issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}

func hasAdminScope(claims jwt.MapClaims) bool {
	raw, ok := claims["scope"]
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case string:
		for _, field := range strings.Fields(v) {
			if field == "admin" {
				return true
			}
		}
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == "admin" {
				return true
			}
		}
	}
	return false
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
