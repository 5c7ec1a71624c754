package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/password"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

const testSecret = "test-secret"

// fakeClock is a settable clock shared by the service under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier keeps the last reset token handed out.
type captureNotifier struct {
	mu        sync.Mutex
	calls     int
	token     string
	userID    string
	expiresAt time.Time
	err       error
}

func (n *captureNotifier) NotifyReset(_ context.Context, user *models.User, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.token = token
	n.userID = user.ID
	n.expiresAt = expiresAt
	return n.err
}

func (n *captureNotifier) last() (string, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.token, n.calls
}

// stubManager lets tests swap individual repositories.
type stubManager struct {
	u  users.Repository
	rt refreshtokens.Repository
	rs resettokens.Repository
}

func (m *stubManager) RunMigrations(context.Context) error                    { return nil }
func (m *stubManager) Users() users.Repository                                { return m.u }
func (m *stubManager) RefreshTokens() refreshtokens.Repository                { return m.rt }
func (m *stubManager) ResetTokens() resettokens.Repository                    { return m.rs }
func (m *stubManager) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *stubManager) Close() error                                           { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SecretKey = testSecret
	return cfg
}

func newHasher(t *testing.T) password.Hasher {
	t.Helper()
	h, err := password.New(password.Config{Algorithm: password.AlgorithmBcrypt, BcryptCost: 4})
	require.NoError(t, err)
	return h
}

func newCodec(t *testing.T) *auth.Codec {
	t.Helper()
	c, err := auth.NewCodec([]byte(testSecret))
	require.NoError(t, err)
	return c
}

type fixture struct {
	svc      *AuthService
	manager  repomanager.RepositoryManager
	users    *users.MemoryRepository
	clock    *fakeClock
	notifier *captureNotifier
	codec    *auth.Codec
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	m := repomanager.NewInMemoryRepositoryManager()
	clock := newFakeClock()
	notifier := &captureNotifier{}
	codec := newCodec(t)

	all := append([]Option{WithClock(clock.Now), WithNotifier(notifier)}, opts...)
	return &fixture{
		svc:      NewAuthService(m, newHasher(t), codec, testConfig(), all...),
		manager:  m,
		users:    m.Users().(*users.MemoryRepository),
		clock:    clock,
		notifier: notifier,
		codec:    codec,
	}
}

func newStubService(t *testing.T, m *stubManager, opts ...Option) *AuthService {
	t.Helper()
	if m.u == nil {
		m.u = users.NewMemoryRepository()
	}
	if m.rt == nil {
		m.rt = refreshtokens.NewMemoryRepository()
	}
	if m.rs == nil {
		m.rs = resettokens.NewMemoryRepository()
	}
	return NewAuthService(m, newHasher(t), newCodec(t), testConfig(), opts...)
}

// failingUsers wraps a repository and injects errors per method.
type failingUsers struct {
	users.Repository
	findByEmailErr error
	findByIDErr    error
	createErr      error
	updateErr      error
}

func (f *failingUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.findByEmailErr != nil {
		return nil, f.findByEmailErr
	}
	return f.Repository.FindByEmail(ctx, email)
}

func (f *failingUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if f.findByIDErr != nil {
		return nil, f.findByIDErr
	}
	return f.Repository.FindByID(ctx, id)
}

func (f *failingUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.Repository.Create(ctx, u)
}

func (f *failingUsers) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.Repository.UpdatePasswordHash(ctx, id, hash)
}

type failingResetTokens struct {
	resettokens.Repository
	createErr  error
	consumeErr error
}

func (f *failingResetTokens) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Repository.Create(ctx, userID, tokenHash, expiresAt)
}

func (f *failingResetTokens) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	if f.consumeErr != nil {
		return "", f.consumeErr
	}
	return f.Repository.Consume(ctx, tokenHash, now)
}

type failingRefreshTokens struct {
	refreshtokens.Repository
	upsertErr error
	findErr   error
}

func (f *failingRefreshTokens) Upsert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Repository.Upsert(ctx, userID, tokenHash, expiresAt)
}

func (f *failingRefreshTokens) FindValid(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	if f.findErr != nil {
		return "", f.findErr
	}
	return f.Repository.FindValid(ctx, tokenHash, now)
}
