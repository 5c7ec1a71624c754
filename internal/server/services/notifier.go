package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// ResetNotifier delivers a freshly issued reset token to its owner, e.g. by
// email.
type ResetNotifier interface {
	NotifyReset(ctx context.Context, user *models.User, resetToken string, expiresAt time.Time) error
}

// LogResetNotifier records that a reset was requested. The token itself is
// never logged.
type LogResetNotifier struct {
	logger logging.Logger
}

func NewLogResetNotifier(l logging.Logger) *LogResetNotifier {
	return &LogResetNotifier{logger: l}
}

func (n *LogResetNotifier) NotifyReset(ctx context.Context, user *models.User, _ string, expiresAt time.Time) error {
	n.logger.Info(ctx, "password reset requested", "user_id", user.ID, "expires_at", expiresAt)
	return nil
}
