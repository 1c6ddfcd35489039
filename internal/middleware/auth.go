// Package middleware provides the HTTP middleware of the ledger API.
package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/R3E-Network/karma_ledger/internal/errors"
	"github.com/R3E-Network/karma_ledger/internal/httputil"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// AdminKeyHeader carries the shared admin secret.
const AdminKeyHeader = "X-Admin-Key"

// Claims are the bearer token claims. The subject is the account handle the
// token acts for.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 account tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer. The secret must be non-empty.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for handle and returns it with its expiry.
func (i *TokenIssuer) Issue(handle string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		Scope: "wallet",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   handle,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse verifies a token and returns its claims.
func (i *TokenIssuer) Parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, apperrors.InvalidToken(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, apperrors.InvalidToken(nil)
	}
	return claims, nil
}

// AuthMiddleware requires a valid bearer token and stores its subject on the
// request context.
type AuthMiddleware struct {
	issuer *TokenIssuer
	log    *logger.Logger
}

// NewAuthMiddleware creates the bearer-token middleware.
func NewAuthMiddleware(issuer *TokenIssuer, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{issuer: issuer, log: log}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			m.reject(w, r, apperrors.Unauthorized("Missing Authorization header"))
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			m.reject(w, r, apperrors.Unauthorized("Invalid Authorization header format"))
			return
		}

		claims, err := m.issuer.Parse(strings.TrimSpace(token))
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), claims.Subject)))
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	m.log.WithError(err).
		WithField("path", r.URL.Path).
		WithField("trace_id", TraceID(r.Context())).
		Warn("authentication failed")
	httputil.WriteServiceError(w, r, err)
}

// RequireAdminKey guards admin routes with a shared secret. An empty key
// disables every admin route.
func RequireAdminKey(key string, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	expected := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				httputil.WriteServiceError(w, r, apperrors.Forbidden("Admin API disabled"))
				return
			}
			given := []byte(r.Header.Get(AdminKeyHeader))
			if subtle.ConstantTimeCompare(given, expected) != 1 {
				log.WithField("path", r.URL.Path).
					WithField("remote", r.RemoteAddr).
					Warn("admin key rejected")
				httputil.WriteServiceError(w, r, apperrors.Unauthorized("Invalid admin key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
