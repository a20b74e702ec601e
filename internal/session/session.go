// Package session implements staff login with bcrypt credentials and signed
// session tokens.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials means the username or password is wrong
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken means the token is malformed, expired or revoked
	ErrInvalidToken = errors.New("invalid session token")
)

// Roles
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// User is an authenticated staff member
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Store logs users in and resolves their session tokens
type Store interface {
	Login(ctx context.Context, username, password string) (token string, user User, err error)
	Resolve(ctx context.Context, token string) (User, error)
	Logout(ctx context.Context, token string) error
}

// Credential is a seed user with a plaintext password hashed on startup
type Credential struct {
	Username string
	Password string
	Name     string
	Role     string
}

// DefaultCredentials are the development logins
func DefaultCredentials() []Credential {
	return []Credential{
		{Username: "admin", Password: "admin123", Name: "House Administrator", Role: RoleAdmin},
		{Username: "staff", Password: "staff123", Name: "Care Staff", Role: RoleStaff},
	}
}

type account struct {
	user User
	hash []byte
}

type claims struct {
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// JWTStore signs HS256 tokens and keeps revoked token ids in memory
type JWTStore struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	accounts map[string]account

	mu      sync.Mutex
	revoked map[string]time.Time
}

var _ Store = (*JWTStore)(nil)

// Option configures a JWTStore
type Option func(*jwtOptions)

type jwtOptions struct {
	cost int
	now  func() time.Time
}

// WithBcryptCost sets the hashing cost for seed credentials
func WithBcryptCost(cost int) Option {
	return func(o *jwtOptions) { o.cost = cost }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *jwtOptions) { o.now = now }
}

// NewJWTStore hashes the credentials and returns a store signing with secret
func NewJWTStore(secret string, ttl time.Duration, creds []Credential, logger *zap.Logger, opts ...Option) (*JWTStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	o := jwtOptions{cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &JWTStore{
		secret:   []byte(secret),
		ttl:      ttl,
		now:      o.now,
		logger:   logger,
		accounts: make(map[string]account, len(creds)),
		revoked:  make(map[string]time.Time),
	}
	for _, c := range creds {
		hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), o.cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", c.Username, err)
		}
		key := strings.ToLower(c.Username)
		s.accounts[key] = account{
			user: User{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(), Username: c.Username, Name: c.Name, Role: c.Role},
			hash: hash,
		}
	}
	return s, nil
}

// Login checks the credentials and issues a token
func (s *JWTStore) Login(ctx context.Context, username, password string) (string, User, error) {
	acct, ok := s.accounts[strings.ToLower(username)]
	if !ok {
		return "", User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return "", User{}, ErrInvalidCredentials
	}

	issued := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: acct.user.Role,
		Name: acct.user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   acct.user.Username,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", User{}, fmt.Errorf("sign token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("username", acct.user.Username), zap.String("role", acct.user.Role))
	return signed, acct.user, nil
}

// Resolve validates the token and returns its user
func (s *JWTStore) Resolve(ctx context.Context, token string) (User, error) {
	c, err := s.parse(token)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	_, revoked := s.revoked[c.ID]
	s.mu.Unlock()
	if revoked {
		return User{}, ErrInvalidToken
	}

	acct, ok := s.accounts[strings.ToLower(c.Subject)]
	if !ok {
		return User{}, ErrInvalidToken
	}
	return acct.user, nil
}

// Logout revokes the token until it would have expired anyway
func (s *JWTStore) Logout(ctx context.Context, token string) error {
	c, err := s.parse(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[c.ID] = c.ExpiresAt.Time
	s.pruneLocked()
	return nil
}

func (s *JWTStore) parse(token string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.ID == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

// pruneLocked drops revocations of tokens that have expired
func (s *JWTStore) pruneLocked() {
	now := s.now()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
}
