package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

var errDBDown = errors.New("db down")

func mustSignup(t *testing.T, s *AuthService, email, pw, name string) {
	t.Helper()
	_, err := s.Signup(context.Background(), email, pw, name)
	require.NoError(t, err)
}

func TestSignup_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Signup(ctx, "a@x.com", "pw1", "A")
	require.NoError(t, err)
	assert.Equal(t, MsgUserCreated, msg.Message)

	u, err := f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "A", u.Name)
	assert.NotEqual(t, "pw1", u.PasswordHash)
	assert.NotContains(t, u.PasswordHash, "pw1")
}

func TestSignup_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	_, err := f.svc.Signup(context.Background(), "a@x.com", "other", "B")
	assert.ErrorIs(t, err, common.ErrEmailInUse)

	_, err = f.svc.Signup(context.Background(), "  A@X.com ", "other", "B")
	assert.ErrorIs(t, err, common.ErrEmailInUse, "emails are compared normalized")
}

func TestSignup_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name, email, pw, display string
	}{
		{"malformed email", "not-an-email", "pw", "A"},
		{"display-name email", "A <a@x.com>", "pw", "A"},
		{"empty name", "a@x.com", "pw", "  "},
		{"empty password", "a@x.com", "", "A"},
		{"password too long", "a@x.com", strings.Repeat("p", 73), "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Signup(context.Background(), tt.email, tt.pw, tt.display)
			assert.ErrorIs(t, err, common.ErrorValidation)
		})
	}
}

func TestSignup_StoreConflictMapsToEmailInUse(t *testing.T) {
	// FindByEmail misses but Create loses the race on the unique constraint
	s := newStubService(t, &stubManager{u: &failingUsers{
		Repository: users.NewMemoryRepository(),
		createErr:  common.ErrorAlreadyExists,
	}})

	_, err := s.Signup(context.Background(), "a@x.com", "pw1", "A")
	assert.ErrorIs(t, err, common.ErrEmailInUse)
}

func TestSignup_InfrastructureError(t *testing.T) {
	s := newStubService(t, &stubManager{u: &failingUsers{
		Repository:     users.NewMemoryRepository(),
		findByEmailErr: errDBDown,
	}})

	_, err := s.Signup(context.Background(), "a@x.com", "pw1", "A")
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.ErrorIs(t, err, errDBDown)
	assert.NotErrorIs(t, err, common.ErrEmailInUse)
}

func TestSignup_ConcurrentSameEmail(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Signup(context.Background(), "race@x.com", "pw", "R")
		}(i)
	}
	wg.Wait()

	var ok, inUse int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, common.ErrEmailInUse):
			inUse++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, inUse)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	res, err := f.svc.Login(context.Background(), "A@x.com", "pw1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	u, err := f.users.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.UserID)

	claims, err := f.codec.VerifyAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.WithinDuration(t, time.Now().Add(10*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestLogin_UnknownUserAndWrongPasswordIndistinguishable(t *testing.T) {
	f := newFixture(t)
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	_, errUnknown := f.svc.Login(context.Background(), "ghost@x.com", "pw1")
	_, errWrong := f.svc.Login(context.Background(), "a@x.com", "nope")

	assert.ErrorIs(t, errUnknown, common.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, common.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLogin_OversizedPasswordIsInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	_, err := f.svc.Login(context.Background(), "a@x.com", strings.Repeat("x", 500))
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestLogin_RefreshStoreFailure(t *testing.T) {
	s := newStubService(t, &stubManager{rt: &failingRefreshTokens{
		Repository: newFixture(t).manager.RefreshTokens(),
		upsertErr:  errDBDown,
	}})
	mustSignup(t, s, "a@x.com", "pw1", "A")

	_, err := s.Login(context.Background(), "a@x.com", "pw1")
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestRefreshTokens_RotationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	login, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	pair, err := f.svc.RefreshTokens(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)

	_, err = f.svc.RefreshTokens(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken, "superseded token")

	next, err := f.svc.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.RefreshToken)
}

func TestRefreshTokens_NotRotatedOnFailedUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	login, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = f.svc.RefreshTokens(ctx, "garbage")
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	_, err = f.svc.RefreshTokens(ctx, login.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshTokens_LoginSupersedesEarlierSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	first, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = f.svc.RefreshTokens(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)
}

func TestRefreshTokens_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	login, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	_, err = f.svc.RefreshTokens(ctx, login.RefreshToken)
	require.NoError(t, err, "valid up to and including the expiry instant")

	login, err = f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	f.clock.Advance(72*time.Hour + time.Second)
	_, err = f.svc.RefreshTokens(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)
}

func TestRefreshTokens_EmptyAndInfra(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RefreshTokens(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	s := newStubService(t, &stubManager{rt: &failingRefreshTokens{
		Repository: f.manager.RefreshTokens(),
		findErr:    errDBDown,
	}})
	_, err = s.RefreshTokens(context.Background(), "tok")
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.NotErrorIs(t, err, common.ErrInvalidRefreshToken)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")
	login, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, "00000000-0000-0000-0000-000000000000", "pw1", "pw2")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = f.svc.ChangePassword(ctx, login.UserID, "wrong", "pw2")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = f.svc.ChangePassword(ctx, login.UserID, "pw1", "")
	assert.ErrorIs(t, err, common.ErrorValidation)

	msg, err := f.svc.ChangePassword(ctx, login.UserID, "pw1", "pw2")
	require.NoError(t, err)
	assert.Equal(t, MsgPasswordChanged, msg.Message)

	// changing the password issues no token, so the session survives
	_, err = f.svc.RefreshTokens(ctx, login.RefreshToken)
	assert.NoError(t, err)

	_, err = f.svc.Login(ctx, "a@x.com", "pw1")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "a@x.com", "pw2")
	assert.NoError(t, err)
}

func TestForgotPassword_SameMessageForUnknownEmail(t *testing.T) {
	f := newFixture(t)
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	known, err := f.svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)
	unknown, err := f.svc.ForgotPassword(context.Background(), "ghost@x.com")
	require.NoError(t, err)

	assert.Equal(t, known, unknown)
	assert.Equal(t, MsgResetRequested, known.Message)

	_, calls := f.notifier.last()
	assert.Equal(t, 1, calls, "only the registered user gets a token")
}

func TestForgotPassword_ResetScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)

	token, _ := f.notifier.last()
	require.NotEmpty(t, token)
	assert.Equal(t, f.clock.Now().Add(time.Hour), f.notifier.expiresAt)

	require.NoError(t, f.svc.ResetPassword(ctx, "pw2", token))

	_, err = f.svc.Login(ctx, "a@x.com", "pw1")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "a@x.com", "pw2")
	assert.NoError(t, err)

	err = f.svc.ResetPassword(ctx, "pw3", token)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken, "reset tokens are single use")
}

func TestResetPassword_MultiplePendingTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	first, _ := f.notifier.last()
	_, err = f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	second, _ := f.notifier.last()

	require.NotEqual(t, first, second)
	require.NoError(t, f.svc.ResetPassword(ctx, "pw2", first))
	require.NoError(t, f.svc.ResetPassword(ctx, "pw3", second))

	_, err = f.svc.Login(ctx, "a@x.com", "pw3")
	assert.NoError(t, err)
}

func TestResetPassword_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	token, _ := f.notifier.last()

	f.clock.Advance(time.Hour + time.Second)
	err = f.svc.ResetPassword(ctx, "pw2", token)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

func TestResetPassword_InvalidPasswordKeepsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	token, _ := f.notifier.last()

	err = f.svc.ResetPassword(ctx, strings.Repeat("x", 80), token)
	assert.ErrorIs(t, err, common.ErrorValidation)

	assert.NoError(t, f.svc.ResetPassword(ctx, "pw2", token))
}

func TestResetPassword_UnknownAndEmptyToken(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), "pw2", "nope"), common.ErrInvalidOrExpiredToken)
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), "pw2", ""), common.ErrInvalidOrExpiredToken)
}

func TestResetPassword_OwnerMissingIsIntegrityError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	token, _ := f.notifier.last()

	// same pending tokens, but a user store that no longer holds the owner
	s := newStubService(t, &stubManager{rs: f.manager.ResetTokens()})
	err = s.ResetPassword(ctx, "pw2", token)
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestResetPassword_ConcurrentConsume(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")
	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	token, _ := f.notifier.last()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.ResetPassword(ctx, "pw2", token)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
	}
	assert.Equal(t, 1, ok)
}

func TestForgotPassword_FailuresAfterLookupAreHidden(t *testing.T) {
	mem := users.NewMemoryRepository()
	s := newStubService(t, &stubManager{
		u: mem,
		rs: &failingResetTokens{
			Repository: resettokens.NewMemoryRepository(),
			createErr:  errDBDown,
		},
	})
	mustSignup(t, s, "a@x.com", "pw1", "A")

	msg, err := s.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, MsgResetRequested, msg.Message)

	notifier := &captureNotifier{err: errors.New("smtp down")}
	s = newStubService(t, &stubManager{u: mem}, WithNotifier(notifier))
	msg, err = s.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, MsgResetRequested, msg.Message)
}

func TestForgotPassword_LookupFailureSurfaces(t *testing.T) {
	s := newStubService(t, &stubManager{u: &failingUsers{
		Repository:     users.NewMemoryRepository(),
		findByEmailErr: errDBDown,
	}})

	_, err := s.ForgotPassword(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestResetPassword_ConsumeFailure(t *testing.T) {
	s := newStubService(t, &stubManager{rs: &failingResetTokens{
		Repository: resettokens.NewMemoryRepository(),
		consumeErr: errDBDown,
	}})

	err := s.ResetPassword(context.Background(), "pw2", "tok")
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.NotErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")
	login, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	ok, err := f.svc.Authorize(ctx, login.UserID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.Authorize(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.False(t, ok)

	s := newStubService(t, &stubManager{u: &failingUsers{
		Repository:  users.NewMemoryRepository(),
		findByIDErr: errDBDown,
	}})
	_, err = s.Authorize(ctx, login.UserID)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestStoredTokensAreDigests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustSignup(t, f.svc, "a@x.com", "pw1", "A")
	login, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	owner, err := f.manager.RefreshTokens().FindValid(ctx, auth.DigestToken(login.RefreshToken), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, login.UserID, owner)

	_, err = f.manager.RefreshTokens().FindValid(ctx, login.RefreshToken, f.clock.Now())
	assert.ErrorIs(t, err, common.ErrorNotFound, "plaintext is never a store key")
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()

	mustSignup(t, f.svc, "a@x.com", "pw1", "A")
	_, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "a@x.com", "bad")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("signup", metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("login", metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("login", metrics.ResultRejected)))
	assert.Positive(t, testutil.CollectAndCount(m.HashDuration))
}
