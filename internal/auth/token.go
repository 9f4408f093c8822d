// internal/auth/token.go
//
// JWT issue/verify, auth cookies and the optional/required middleware.
//
// Notes:
//   - Tokens are HS256 with id/username claims and a configurable expiry.
//   - The token is read from "Authorization: Bearer" first, then the cookie.
//   - Optional never rejects; Required 401s without a valid token for an
//     existing user.

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSecret = "dev_secret_change_me"

// Config controls token and cookie behavior.
type Config struct {
	Secret      string
	ExpiresDays int
	CookieName  string
	// Secure marks cookies Secure + SameSite=None (production).
	Secure bool
}

// Principal is the authenticated caller placed in the request context.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Service issues and checks tokens against the user repository.
type Service struct {
	cfg   Config
	users *Users
}

func NewService(cfg Config, users *Users) *Service {
	if cfg.Secret == "" {
		cfg.Secret = defaultSecret
	}
	if cfg.ExpiresDays <= 0 {
		cfg.ExpiresDays = 14
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "ttt_token"
	}
	return &Service{cfg: cfg, users: users}
}

func (s *Service) Users() *Users { return s.users }

// Sign creates a token for the user and returns it with its expiry.
func (s *Service) Sign(id, username string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(time.Duration(s.cfg.ExpiresDays) * 24 * time.Hour)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       id,
		"username": username,
		"exp":      exp.Unix(),
		"iat":      now.Unix(),
	})
	ss, err := t.SignedString([]byte(s.cfg.Secret))
	return ss, exp, err
}

// Parse verifies a token and returns its principal.
func (s *Service) Parse(token string) (*Principal, error) {
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !t.Valid {
		return nil, errors.New("invalid token")
	}
	id, _ := claims["id"].(string)
	username, _ := claims["username"].(string)
	if id == "" || username == "" {
		return nil, errors.New("token missing id or username")
	}
	return &Principal{ID: id, Username: username}, nil
}

// SetCookie writes the auth token cookie.
func (s *Service) SetCookie(w http.ResponseWriter, token string, exp time.Time) {
	c := s.cookie()
	c.Value = token
	c.Expires = exp
	http.SetCookie(w, c)
}

// ClearCookie deletes the auth token cookie.
func (s *Service) ClearCookie(w http.ResponseWriter) {
	c := s.cookie()
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (s *Service) cookie() *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if s.cfg.Secure {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     s.cfg.CookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: sameSite,
	}
}

// TokenFrom extracts a bearer token or the auth cookie.
func (s *Service) TokenFrom(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(s.cfg.CookieName); err == nil {
		return c.Value
	}
	return ""
}

// ---------------------------- middleware ------------------------------------

type ctxUserKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, p)
}

// FromContext returns the authenticated caller, or nil for guests.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxUserKey{}).(*Principal)
	return p
}

// authenticate resolves the request's principal; the user must still exist.
func (s *Service) authenticate(r *http.Request) (*Principal, error) {
	tok := s.TokenFrom(r)
	if tok == "" {
		return nil, errors.New("no token")
	}
	p, err := s.Parse(tok)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.FindByID(r.Context(), p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// Optional decorates requests with the principal when a valid token is
// present. It never rejects.
func (s *Service) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := s.authenticate(r); err == nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// Required enforces a valid token.
func (s *Service) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.TokenFrom(r) == "" {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		p, err := s.authenticate(r)
		if err != nil {
			http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
