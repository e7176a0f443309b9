// Package session gates the analysis workflow on an authenticated identity.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/dust-check/internal/apperrors"
	"github.com/example/dust-check/internal/logging"
)

// Identity is the authenticated user behind a session.
type Identity struct {
	Subject   string    `json:"subject"`
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthService is the identity provider consumed by the gate.
// CurrentIdentity returns nil without error when there is no active session.
type AuthService interface {
	CurrentIdentity(ctx context.Context) (*Identity, error)
	SignOut(ctx context.Context) error
}

// Gate guards workflow access. Once signed out locally it stays closed,
// whatever the remote provider says.
type Gate struct {
	auth   AuthService
	logger *zap.Logger

	mu        sync.Mutex
	signedOut bool
}

// NewGate wraps an AuthService.
func NewGate(auth AuthService, logger *zap.Logger) *Gate {
	return &Gate{auth: auth, logger: logger.Named("session_gate")}
}

// RequireSession returns the current identity or an unauthenticated error.
func (g *Gate) RequireSession(ctx context.Context) (Identity, error) {
	g.mu.Lock()
	signedOut := g.signedOut
	g.mu.Unlock()
	if signedOut {
		return Identity{}, apperrors.NewUnauthenticatedError("You have been signed out", nil)
	}

	identity, err := g.auth.CurrentIdentity(ctx)
	if err != nil {
		return Identity{}, apperrors.NewUnauthenticatedError("Unable to verify your session", err)
	}
	if identity == nil {
		return Identity{}, apperrors.NewUnauthenticatedError("Please sign in to continue", nil)
	}
	return *identity, nil
}

// SignOut closes the gate and asks the provider to invalidate the session.
// A provider failure is logged; the local sign-out always holds.
func (g *Gate) SignOut(ctx context.Context) {
	g.mu.Lock()
	g.signedOut = true
	g.mu.Unlock()

	if err := g.auth.SignOut(ctx); err != nil {
		wrapped := logging.NewOperationError("session.sign_out", "", err)
		g.logger.Warn("remote sign-out failed; session closed locally", logging.ErrorFields(wrapped)...)
	}
}

// SignedOut reports whether SignOut has been called.
func (g *Gate) SignedOut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signedOut
}
