package token

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the session cookie carrying the signed token.
const CookieName = "sci_token"

// DefaultTTL bounds a session token's lifetime.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrExpired is returned when a token's expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalidSignature is returned when a token's signature does not verify.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMalformed is returned when a token cannot be parsed.
	ErrMalformed = errors.New("malformed token")
)

// Identity is the verified subject carried by a session token.
type Identity struct {
	Identifier  string
	DisplayName string
	Role        string
}

type sessionClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies signed session tokens. Issuance and
// verification are pure given the signing key and clock, so a single
// Service is safe for concurrent use.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService constructs a token Service. The secret is process
// configuration loaded once at startup and must not be empty.
func NewService(secret string) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	return &Service{secret: []byte(secret), ttl: DefaultTTL}, nil
}

// NewServiceWithTTL constructs a Service with a custom token lifetime.
func NewServiceWithTTL(secret string, ttl time.Duration) (*Service, error) {
	svc, err := NewService(secret)
	if err != nil {
		return nil, err
	}
	svc.ttl = ttl
	return svc, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue produces a signed token asserting the given identity, expiring
// at issued-at plus the service TTL.
func (s *Service) Issue(identifier, displayName, role string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Name: displayName,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identifier,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Verify checks a token's signature and expiry and returns the identity
// it asserts. Failures are ErrExpired, ErrInvalidSignature, or ErrMalformed.
func (s *Service) Verify(tokenString string) (Identity, error) {
	claims := sessionClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrInvalidSignature):
			return Identity{}, ErrInvalidSignature
		default:
			return Identity{}, ErrMalformed
		}
	}
	if !tok.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrMalformed
	}
	return Identity{
		Identifier:  claims.Subject,
		DisplayName: claims.Name,
		Role:        claims.Role,
	}, nil
}

// FromRequest extracts a token from the session cookie or, failing that,
// a bearer Authorization header. The cookie takes precedence.
func FromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type contextKey string

const contextIdentityKey contextKey = "identity"

// IdentityFromContext returns the identity injected by Require or Optional.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextIdentityKey).(Identity)
	return identity, ok
}

// Require enforces authentication and injects the identity into context.
func (s *Service) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := FromRequest(r)
		if tokenString == "" {
			writeUnauthorized(w)
			return
		}
		identity, err := s.Verify(tokenString)
		if err != nil {
			writeUnauthorized(w)
			return
		}
		ctx := context.WithValue(r.Context(), contextIdentityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional injects the identity into context when a valid token is
// present and otherwise continues anonymously. Used by endpoints that
// personalize output without mandating login.
func (s *Service) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := FromRequest(r)
		if tokenString != "" {
			if identity, err := s.Verify(tokenString); err == nil {
				ctx := context.WithValue(r.Context(), contextIdentityKey, identity)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
