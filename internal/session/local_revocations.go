package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// LayeredRevocations keeps sign-outs in process memory in front of a remote
// store. A revocation is recorded locally before the remote write, so it
// holds in this process even when the remote store is unreachable.
type LayeredRevocations struct {
	local  *expirable.LRU[string, time.Time]
	remote Revocations
	logger *zap.Logger
	now    func() time.Time
}

// NewLayeredRevocations remembers up to size local revocations, each for at
// most maxTTL.
func NewLayeredRevocations(remote Revocations, size int, maxTTL time.Duration, logger *zap.Logger) *LayeredRevocations {
	return &LayeredRevocations{
		local:  expirable.NewLRU[string, time.Time](size, nil, maxTTL),
		remote: remote,
		logger: logger.Named("local_revocations"),
		now:    time.Now,
	}
}

// Revoke records the session locally, then remotely. The remote error is
// returned but does not undo the local record.
func (l *LayeredRevocations) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = l.now().Add(ttl)
	}
	l.local.Add(sessionID, expiresAt)
	l.logger.Debug("session revoked locally", zap.String("session_id", sessionID), zap.Duration("ttl", ttl))
	return l.remote.Revoke(ctx, sessionID, ttl)
}

// IsRevoked answers from the local record when there is one and falls back
// to the remote store otherwise.
func (l *LayeredRevocations) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	if expiresAt, ok := l.local.Get(sessionID); ok {
		if expiresAt.IsZero() || l.now().Before(expiresAt) {
			return true, nil
		}
		l.local.Remove(sessionID)
	}
	return l.remote.IsRevoked(ctx, sessionID)
}
