// internal/auth/users.go
//
// User accounts stored in SQLite (users table, see assets/sql).
// Passwords are bcrypt hashes; usernames are unique case-insensitively.

package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken = errors.New("username taken")
	ErrInvalidSignup = errors.New("invalid signup")
	ErrUserNotFound  = errors.New("user not found")
)

// User matches the users table shape.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Users is the account repository.
type Users struct {
	db *sql.DB
}

func NewUsers(db *sql.DB) *Users { return &Users{db: db} }

// Create validates input, checks uniqueness, hashes the password and inserts
// a new user.
func (u *Users) Create(ctx context.Context, username, pw string) (*User, error) {
	username = normalizeUsername(username)
	if err := validateSignup(username, pw); err != nil {
		return nil, err
	}
	var exists int
	err := u.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE lower(username)=lower(?)`, username).Scan(&exists)
	switch {
	case err == nil:
		return nil, ErrUsernameTaken
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lookup username: %w", err)
	}

	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Truncate(time.Second)
	id := genID()
	if _, err := u.db.ExecContext(ctx, `INSERT INTO users (id, username, password_hash, created_at) VALUES (?,?,?,?)`,
		id, username, string(h), now.Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &User{ID: id, Username: username, PasswordHash: string(h), CreatedAt: now}, nil
}

// Authenticate returns the user when username and password match.
func (u *Users) Authenticate(ctx context.Context, username, pw string) (*User, error) {
	user, err := u.FindByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return nil, err
	}
	if !checkPassword(user.PasswordHash, pw) {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (u *Users) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := u.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at
	                                  FROM users WHERE lower(username)=lower(?)`, username)
	return scanUser(row)
}

func (u *Users) FindByID(ctx context.Context, id string) (*User, error) {
	row := u.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at
	                                  FROM users WHERE id=?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var created string
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &user, nil
}

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func normalizeUsername(u string) string {
	return strings.TrimSpace(u)
}

// validateSignup enforces basic username/password rules.
func validateSignup(u, p string) error {
	if len(u) < 3 || len(u) > 24 {
		return fmt.Errorf("%w: username must be 3-24 chars", ErrInvalidSignup)
	}
	for _, r := range u {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("%w: username: letters, numbers, underscore only", ErrInvalidSignup)
		}
	}
	if len(p) < 8 || len(p) > 100 {
		return fmt.Errorf("%w: password must be 8-100 chars", ErrInvalidSignup)
	}
	return nil
}

// genID creates a 22-char URL-safe, crypto-random identifier.
func genID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
