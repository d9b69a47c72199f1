package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/pgx-lims-server/internal/domain"
)

// Bounds on the per-username limiter cache. Idle entries age out so a
// spray of invented usernames cannot grow the cache without limit.
const (
	loginLimiterCap = 1024
	loginLimiterTTL = time.Hour
)

// AuthService authenticates staff and issues session tokens. Failed
// logins are throttled per username so credential guessing cannot run
// at wire speed.
type AuthService struct {
	users  domain.UserStore
	config domain.AuthConfig
	log    *logrus.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters *lru.LRU[string, *rate.Limiter]
}

// Claims are the JWT claims embedded in session tokens.
type Claims struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthService creates a new auth service
func NewAuthService(users domain.UserStore, config domain.AuthConfig, logger *logrus.Logger) *AuthService {
	return &AuthService{
		users:    users,
		config:   config,
		log:      logger,
		now:      time.Now,
		limiters: lru.NewLRU[string, *rate.Limiter](loginLimiterCap, nil, loginLimiterTTL),
	}
}

// Login verifies the credentials and returns a signed session token.
// Unknown usernames and wrong passwords are indistinguishable to the
// caller.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.Identity, error) {
	if !s.limiter(username).Allow() {
		s.log.WithField("username", username).Warn("Login throttled")
		return "", nil, domain.ErrRateLimited
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn a comparison so the miss costs the same as a mismatch.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidsaltinvalidsaltinvalidsaltinvalid"), []byte(password))
			return "", nil, domain.ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("loading user %q: %w", username, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.WithField("username", username).Info("Login failed")
		return "", nil, domain.ErrInvalidCredentials
	}

	identity := &domain.Identity{
		UserID:      user.UserID,
		DisplayName: user.DisplayName(),
		Role:        user.Role,
	}

	token, err := s.issueToken(identity)
	if err != nil {
		return "", nil, fmt.Errorf("issuing token for %q: %w", username, err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id": user.UserID,
		"role":    user.Role,
	}).Info("Login succeeded")

	return token, identity, nil
}

// HashPassword produces the stored bcrypt hash for a new password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Verify parses and validates a session token, returning the caller
// identity embedded in it.
func (s *AuthService) Verify(tokenString string) (*domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.config.TokenSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("parsing user id in token: %w", err)
	}

	return &domain.Identity{
		UserID:      userID,
		DisplayName: claims.DisplayName,
		Role:        domain.Role(claims.Role),
	}, nil
}

func (s *AuthService) issueToken(identity *domain.Identity) (string, error) {
	now := s.now().UTC()
	claims := &Claims{
		UserID:      identity.UserID.String(),
		DisplayName: identity.DisplayName,
		Role:        string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
			Subject:   identity.UserID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.TokenSecret))
}

func (s *AuthService) limiter(username string) *rate.Limiter {
	// The mutex keeps create-then-add atomic; the LRU itself is safe
	// for concurrent use but has no get-or-add operation.
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters.Get(username)
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.config.LoginRate), s.config.LoginBurst)
		s.limiters.Add(username, l)
	}
	return l
}
