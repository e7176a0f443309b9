package auth

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/dust-check/internal/apperrors"
	"github.com/example/dust-check/internal/session"
)

type contextKey string

const (
	identityKey contextKey = "authIdentity"
	gateKey     contextKey = "authGate"
)

// Claims are the JWT claims accepted by the API.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier creates a verifier. An empty audience disables the audience check.
func NewVerifier(secret, audience string) *Verifier {
	return &Verifier{
		secret:   []byte(strings.TrimSpace(secret)),
		audience: strings.TrimSpace(audience),
	}
}

// Verify parses tokenString and returns the identity it carries.
func (v *Verifier) Verify(tokenString string) (session.Identity, error) {
	if len(v.secret) == 0 {
		return session.Identity{}, errors.New("missing JWT secret")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return session.Identity{}, errors.New("invalid token")
	}

	if v.audience != "" && !containsAudience(claims.Audience, v.audience) {
		return session.Identity{}, errors.New("invalid audience")
	}
	if claims.Subject == "" {
		return session.Identity{}, errors.New("missing subject")
	}

	identity := session.Identity{
		Subject:   claims.Subject,
		Email:     claims.Email,
		SessionID: claims.ID,
	}
	if identity.SessionID == "" {
		sum := sha1.Sum([]byte(tokenString))
		identity.SessionID = hex.EncodeToString(sum[:])
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Middleware validates the bearer token, checks it has not been signed out
// and injects the identity and its session gate.
func Middleware(verifier *Verifier, revocations session.Revocations, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("auth")

	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		identity, err := verifier.Verify(tokenString)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		gate := session.NewGate(session.NewTokenSession(identity, revocations), logger)
		if _, err := gate.RequireSession(c.Request.Context()); err != nil {
			logger.Debug("session rejected", zap.String("session_id", identity.SessionID), zap.Error(err))
			unauthorized(c, apperrors.Message(err))
			return
		}

		ctx := context.WithValue(c.Request.Context(), identityKey, identity)
		ctx = context.WithValue(ctx, gateKey, gate)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetIdentity retrieves the authenticated identity from context.
func GetIdentity(ctx context.Context) (session.Identity, bool) {
	if ctx == nil {
		return session.Identity{}, false
	}
	identity, ok := ctx.Value(identityKey).(session.Identity)
	return identity, ok && identity.Subject != ""
}

// GetGate retrieves the session gate built for the request.
func GetGate(ctx context.Context) (*session.Gate, bool) {
	if ctx == nil {
		return nil, false
	}
	gate, ok := ctx.Value(gateKey).(*session.Gate)
	return gate, ok && gate != nil
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
