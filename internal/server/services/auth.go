// Package services implements the authentication core: signup, login,
// password change and reset, token refresh and the authorize check used by
// other services.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/password"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

// Messages returned by operations that only confirm.
const (
	MsgUserCreated     = "User created successfully"
	MsgPasswordChanged = "Password changed"
	MsgResetRequested  = "If this user exists, they will receive an email"
)

// Operation names used in logs and metrics.
const (
	opSignup         = "signup"
	opLogin          = "login"
	opChangePassword = "change_password"
	opForgotPassword = "forgot_password"
	opResetPassword  = "reset_password"
	opRefreshTokens  = "refresh_tokens"
	opAuthorize      = "authorize"
)

type Message struct {
	Message string
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	UserID       string
}

// AuthService holds no per-user state; all coordination happens in the
// stores' atomic primitives.
type AuthService struct {
	users   users.Repository
	refresh refreshtokens.Repository
	reset   resettokens.Repository

	hasher   password.Hasher
	codec    *auth.Codec
	notifier ResetNotifier
	logger   logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	resetTokenValidityDuration   time.Duration

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*AuthService)

func WithLogger(l logging.Logger) Option {
	return func(s *AuthService) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

func WithNotifier(n ResetNotifier) Option {
	return func(s *AuthService) { s.notifier = n }
}

// WithClock replaces time.Now for store expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

func NewAuthService(m repomanager.RepositoryManager, hasher password.Hasher, codec *auth.Codec, cfg *config.Config, opts ...Option) *AuthService {
	s := &AuthService{
		users:                        m.Users(),
		refresh:                      m.RefreshTokens(),
		reset:                        m.ResetTokens(),
		hasher:                       hasher,
		codec:                        codec,
		logger:                       logging.Nop(),
		now:                          time.Now,
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		resetTokenValidityDuration:   cfg.ResetTokenValidityDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("module", "auth_service")
	if s.notifier == nil {
		s.notifier = NewLogResetNotifier(s.logger)
	}
	return s
}

func (s *AuthService) Signup(ctx context.Context, email, plaintext, name string) (*Message, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)

	if err := validateEmail(email); err != nil {
		return nil, s.reject(opSignup, err)
	}
	if name == "" {
		return nil, s.reject(opSignup, fmt.Errorf("%w: name must not be empty", common.ErrorValidation))
	}
	if err := password.Validate(plaintext); err != nil {
		return nil, s.reject(opSignup, fmt.Errorf("%w: %w", common.ErrorValidation, err))
	}

	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return nil, s.reject(opSignup, common.ErrEmailInUse)
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, s.internal(ctx, opSignup, "find user by email", err)
	}

	hash, err := s.hash(plaintext)
	if err != nil {
		return nil, s.internal(ctx, opSignup, "hash password", err)
	}

	user, err := s.users.Create(ctx, &models.User{Email: email, Name: name, PasswordHash: hash})
	if err != nil {
		// a concurrent signup won the unique constraint
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, s.reject(opSignup, common.ErrEmailInUse)
		}
		return nil, s.internal(ctx, opSignup, "create user", err)
	}

	s.logger.Info(ctx, "user signed up", "user_id", user.ID)
	s.metrics.RecordOperation(opSignup, metrics.ResultSuccess)

	return &Message{Message: MsgUserCreated}, nil
}

func (s *AuthService) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.burnVerify(plaintext)
			return nil, s.reject(opLogin, common.ErrInvalidCredentials)
		}
		return nil, s.internal(ctx, opLogin, "find user by email", err)
	}

	ok, err := s.verify(plaintext, user.PasswordHash)
	if err != nil {
		return nil, s.internal(ctx, opLogin, "verify password", err)
	}
	if !ok {
		return nil, s.reject(opLogin, common.ErrInvalidCredentials)
	}

	pair, err := s.issueTokens(ctx, user.ID)
	if err != nil {
		return nil, s.internal(ctx, opLogin, "issue tokens", err)
	}

	s.metrics.RecordOperation(opLogin, metrics.ResultSuccess)

	return &LoginResult{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, UserID: user.ID}, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (*Message, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, s.reject(opChangePassword, common.ErrorNotFound)
		}
		return nil, s.internal(ctx, opChangePassword, "find user by id", err)
	}

	ok, err := s.verify(oldPassword, user.PasswordHash)
	if err != nil {
		return nil, s.internal(ctx, opChangePassword, "verify password", err)
	}
	if !ok {
		return nil, s.reject(opChangePassword, common.ErrInvalidCredentials)
	}

	if err := password.Validate(newPassword); err != nil {
		return nil, s.reject(opChangePassword, fmt.Errorf("%w: %w", common.ErrorValidation, err))
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return nil, s.internal(ctx, opChangePassword, "hash password", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, s.reject(opChangePassword, common.ErrorNotFound)
		}
		return nil, s.internal(ctx, opChangePassword, "update password hash", err)
	}

	s.logger.Info(ctx, "password changed", "user_id", user.ID)
	s.metrics.RecordOperation(opChangePassword, metrics.ResultSuccess)

	return &Message{Message: MsgPasswordChanged}, nil
}

// ForgotPassword answers with the same message whether or not the email is
// registered. Only a failing user lookup is reported to the caller; problems
// after the user is found are logged.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (*Message, error) {
	msg := &Message{Message: MsgResetRequested}

	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.metrics.RecordOperation(opForgotPassword, metrics.ResultSuccess)
			return msg, nil
		}
		return nil, s.internal(ctx, opForgotPassword, "find user by email", err)
	}

	token, err := s.codec.NewOpaqueToken(common.OpaqueTokenSize)
	if err != nil {
		s.logger.Error(ctx, "generate reset token", append([]any{"user_id", user.ID}, logging.ErrorAttrs(err)...)...)
		s.metrics.RecordOperation(opForgotPassword, metrics.ResultError)
		return msg, nil
	}

	expiresAt := s.now().Add(s.resetTokenValidityDuration)
	if err := s.reset.Create(ctx, user.ID, auth.DigestToken(token), expiresAt); err != nil {
		s.logger.Error(ctx, "store reset token", append([]any{"user_id", user.ID}, logging.ErrorAttrs(err)...)...)
		s.metrics.RecordOperation(opForgotPassword, metrics.ResultError)
		return msg, nil
	}

	if err := s.notifier.NotifyReset(ctx, user, token, expiresAt); err != nil {
		s.logger.Error(ctx, "deliver reset token", append([]any{"user_id", user.ID}, logging.ErrorAttrs(err)...)...)
		s.metrics.RecordOperation(opForgotPassword, metrics.ResultError)
		return msg, nil
	}

	s.metrics.RecordOperation(opForgotPassword, metrics.ResultSuccess)
	return msg, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, newPassword, resetToken string) error {
	// validated first so a rejected password does not burn the token
	if err := password.Validate(newPassword); err != nil {
		return s.reject(opResetPassword, fmt.Errorf("%w: %w", common.ErrorValidation, err))
	}
	if resetToken == "" {
		return s.reject(opResetPassword, common.ErrInvalidOrExpiredToken)
	}

	userID, err := s.reset.Consume(ctx, auth.DigestToken(resetToken), s.now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return s.reject(opResetPassword, common.ErrInvalidOrExpiredToken)
		}
		return s.internal(ctx, opResetPassword, "consume reset token", err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return s.integrity(ctx, opResetPassword, userID)
		}
		return s.internal(ctx, opResetPassword, "find user by id", err)
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return s.internal(ctx, opResetPassword, "hash password", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return s.integrity(ctx, opResetPassword, userID)
		}
		return s.internal(ctx, opResetPassword, "update password hash", err)
	}

	s.logger.Info(ctx, "password reset", "user_id", user.ID)
	s.metrics.RecordOperation(opResetPassword, metrics.ResultSuccess)
	return nil
}

// RefreshTokens exchanges a live refresh token for a new pair. The presented
// token is superseded because the store keeps one token per user.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, s.reject(opRefreshTokens, common.ErrInvalidRefreshToken)
	}

	userID, err := s.refresh.FindValid(ctx, auth.DigestToken(refreshToken), s.now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, s.reject(opRefreshTokens, common.ErrInvalidRefreshToken)
		}
		return nil, s.internal(ctx, opRefreshTokens, "find refresh token", err)
	}

	pair, err := s.issueTokens(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, opRefreshTokens, "issue tokens", err)
	}

	s.metrics.RecordOperation(opRefreshTokens, metrics.ResultSuccess)
	return pair, nil
}

// Authorize grants access to any existing user. It is the single place a
// real permission policy would plug in.
func (s *AuthService) Authorize(ctx context.Context, userID string) (bool, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, s.reject(opAuthorize, common.ErrorUnauthorized)
		}
		return false, s.internal(ctx, opAuthorize, "find user by id", err)
	}
	s.metrics.RecordOperation(opAuthorize, metrics.ResultSuccess)
	return true, nil
}

func (s *AuthService) issueTokens(ctx context.Context, userID string) (*TokenPair, error) {
	accessToken, err := s.codec.SignAccessToken(userID, s.accessTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.codec.NewOpaqueToken(common.OpaqueTokenSize)
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.refreshTokenValidityDuration)
	if err := s.refresh.Upsert(ctx, userID, auth.DigestToken(refreshToken), expiresAt); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) hash(plaintext string) (string, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHash("hash", time.Since(start)) }()
	return s.hasher.Hash(plaintext)
}

func (s *AuthService) verify(plaintext, hash string) (bool, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHash("verify", time.Since(start)) }()
	return s.hasher.Verify(plaintext, hash)
}

// burnVerify spends one verification on a throwaway hash so an unknown email
// costs as much as a wrong password.
func (s *AuthService) burnVerify(plaintext string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("authkeeper-dummy-password")
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		_, _ = s.verify(plaintext, s.dummyHash)
	}
}

func (s *AuthService) reject(op string, err error) error {
	s.metrics.RecordOperation(op, metrics.ResultRejected)
	return err
}

func (s *AuthService) internal(ctx context.Context, op, step string, err error) error {
	s.logger.Error(ctx, step, append([]any{"operation", op}, logging.ErrorAttrs(err)...)...)
	s.metrics.RecordOperation(op, metrics.ResultError)
	return fmt.Errorf("%w: %s: %w", common.ErrorInternal, step, err)
}

func (s *AuthService) integrity(ctx context.Context, op, userID string) error {
	s.logger.Error(ctx, "reset token owned by missing user", "operation", op, "user_id", userID)
	s.metrics.RecordOperation(op, metrics.ResultError)
	return common.ErrIntegrity
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateEmail accepts a bare address only, not "Name <addr>" forms.
func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: malformed email", common.ErrorValidation)
	}
	return nil
}
