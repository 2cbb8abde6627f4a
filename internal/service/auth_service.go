package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"selftreat/internal/domain"
	"selftreat/internal/metrics"
	"selftreat/internal/repository"
	"selftreat/internal/session"
)

// PasswordCost is the bcrypt work factor for stored admin passwords.
const PasswordCost = 10

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAuthenticationRequired is returned when a request carries no live session.
	ErrAuthenticationRequired = errors.New("admin authentication required")
)

// LoginResult is handed back to a client after a successful login.
type LoginResult struct {
	Token   string
	Session *session.Session
}

// AuthService issues, checks and revokes admin sessions.
type AuthService interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*session.Session, error)
}

type authService struct {
	admins   repository.AdminRepository
	sessions session.Store
	tokens   *session.TokenIssuer
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthService(admins repository.AdminRepository, sessions session.Store, tokens *session.TokenIssuer, ttl time.Duration) AuthService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &authService{
		admins:   admins,
		sessions: sessions,
		tokens:   tokens,
		ttl:      ttl,
		now:      time.Now,
	}
}

// HashPassword returns the bcrypt hash stored for an admin password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// NewAdmin builds an admin record with a hashed password.
func NewAdmin(username, password string) (domain.Admin, error) {
	if username == "" || password == "" {
		return domain.Admin{}, errors.New("admin username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return domain.Admin{}, err
	}
	return domain.Admin{Username: username, PasswordHash: hash}, nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareDummy spends roughly the time of a real comparison so unknown
// usernames cannot be told apart by latency.
func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("selftreat"), PasswordCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func (s *authService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	res, err := s.login(ctx, username, password)
	switch {
	case err == nil:
		metrics.LoginAttempts.WithLabelValues("success").Inc()
	case errors.Is(err, ErrInvalidCredentials):
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
	default:
		metrics.LoginAttempts.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *authService) login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	admin, err := s.admins.GetAdminByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			compareDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	sess := &session.Session{
		ID:        uuid.NewString(),
		AdminID:   admin.ID,
		Username:  admin.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	token, err := s.tokens.Issue(sess)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &LoginResult{Token: token, Session: sess}, nil
}

// Logout revokes the session behind token. Unknown or invalid tokens are
// not an error.
func (s *authService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, claims.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *authService) Authenticate(ctx context.Context, token string) (*session.Session, error) {
	if token == "" {
		return nil, ErrAuthenticationRequired
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrAuthenticationRequired
	}
	sess, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrAuthenticationRequired
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	adminID, err := claims.AdminID()
	if err != nil || adminID != sess.AdminID {
		return nil, ErrAuthenticationRequired
	}
	if sess.Expired(s.now()) {
		return nil, ErrAuthenticationRequired
	}
	return sess, nil
}
