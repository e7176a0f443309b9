package session

import (
	"context"
	"time"
)

// Revocations records sessions that have been signed out.
type Revocations interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// TokenSession is an AuthService for an identity carried by a bearer token.
type TokenSession struct {
	identity    Identity
	revocations Revocations
	now         func() time.Time
}

// NewTokenSession binds a verified token identity to a revocation store.
func NewTokenSession(identity Identity, revocations Revocations) *TokenSession {
	return &TokenSession{identity: identity, revocations: revocations, now: time.Now}
}

// CurrentIdentity returns the identity unless the token expired or was revoked.
func (s *TokenSession) CurrentIdentity(ctx context.Context) (*Identity, error) {
	if !s.identity.ExpiresAt.IsZero() && !s.now().Before(s.identity.ExpiresAt) {
		return nil, nil
	}
	revoked, err := s.revocations.IsRevoked(ctx, s.identity.SessionID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, nil
	}
	identity := s.identity
	return &identity, nil
}

// SignOut revokes the session until the token would have expired anyway.
func (s *TokenSession) SignOut(ctx context.Context) error {
	ttl := time.Duration(0)
	if !s.identity.ExpiresAt.IsZero() {
		ttl = s.identity.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}
	return s.revocations.Revoke(ctx, s.identity.SessionID, ttl)
}
