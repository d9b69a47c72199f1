package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgx-lims-server/internal/domain"
)

func newAuthFixture(t *testing.T, rate float64, burst int) (*AuthService, *domain.User) {
	t.Helper()

	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)

	user := &domain.User{
		UserID:       uuid.New(),
		Username:     "medtech1",
		PasswordHash: hash,
		FirstName:    "Alice",
		LastName:     "Srisuk",
		Role:         domain.RoleMedtech,
	}

	svc := NewAuthService(newMemUserStore(user), domain.AuthConfig{
		TokenSecret: "test-secret-test-secret-test-secret",
		TokenTTL:    time.Hour,
		LoginRate:   rate,
		LoginBurst:  burst,
	}, testLogger())

	return svc, user
}

func TestAuthService_LoginAndVerify(t *testing.T) {
	svc, user := newAuthFixture(t, 100, 100)
	ctx := context.Background()

	token, identity, err := svc.Login(ctx, "medtech1", "correct horse battery")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, user.UserID, identity.UserID)
	assert.Equal(t, "Alice Srisuk", identity.DisplayName)
	assert.Equal(t, domain.RoleMedtech, identity.Role)

	parsed, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.UserID, parsed.UserID)
	assert.Equal(t, domain.RoleMedtech, parsed.Role)
}

func TestAuthService_InvalidCredentials(t *testing.T) {
	svc, _ := newAuthFixture(t, 100, 100)
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "medtech1", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	// Unknown username is indistinguishable from a wrong password.
	_, _, err = svc.Login(ctx, "who", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthService_LoginThrottled(t *testing.T) {
	svc, _ := newAuthFixture(t, 0.001, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := svc.Login(ctx, "medtech1", "wrong")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	_, _, err := svc.Login(ctx, "medtech1", "correct horse battery")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// Another username has its own budget.
	_, _, err = svc.Login(ctx, "other", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthService_LimiterCacheBounded(t *testing.T) {
	// Burst 0 throttles every attempt before the password check, so
	// spraying usernames only exercises the limiter cache itself.
	svc, _ := newAuthFixture(t, 0, 0)
	ctx := context.Background()

	for i := 0; i < loginLimiterCap+100; i++ {
		_, _, err := svc.Login(ctx, fmt.Sprintf("sprayed-%d", i), "wrong")
		assert.ErrorIs(t, err, domain.ErrRateLimited)
	}

	assert.LessOrEqual(t, svc.limiters.Len(), loginLimiterCap,
		"invented usernames must not grow the limiter cache without bound")
}

func TestAuthService_VerifyRejectsTampering(t *testing.T) {
	svc, _ := newAuthFixture(t, 100, 100)

	token, _, err := svc.Login(context.Background(), "medtech1", "correct horse battery")
	require.NoError(t, err)

	_, err = svc.Verify(token + "x")
	assert.Error(t, err)

	other := NewAuthService(newMemUserStore(), domain.AuthConfig{
		TokenSecret: "a different secret entirely",
		TokenTTL:    time.Hour,
		LoginRate:   100,
		LoginBurst:  100,
	}, testLogger())
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestAuthService_ExpiredToken(t *testing.T) {
	svc, _ := newAuthFixture(t, 100, 100)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := svc.Login(context.Background(), "medtech1", "correct horse battery")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.Error(t, err, "token issued two hours ago with a one hour TTL has expired")
}
