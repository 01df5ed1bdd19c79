package token

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"picbed/api/internal/apperr"
	"picbed/api/internal/config"
	"picbed/api/internal/models"
	"picbed/api/internal/security"
)

// Pair is a freshly minted access/refresh token couple.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}

// Manager issues and validates signed token pairs bound to an access-key
// identity. Every issued token has a registry entry with a TTL equal to its
// remaining lifetime; Verify requires both a valid signature and a matching
// registry entry.
type Manager struct {
	registry Registry
	cfg      config.SecurityConfig
	log      zerolog.Logger
}

func NewManager(registry Registry, cfg config.SecurityConfig, log zerolog.Logger) *Manager {
	return &Manager{
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
}

func registryKey(tokenType string, subject string, token string) string {
	return fmt.Sprintf("token:%s:%s:%s", tokenType, subject, token)
}

func (m *Manager) secretFor(tokenType string) string {
	if tokenType == security.TokenTypeRefresh {
		return m.cfg.JWTRefreshSecret
	}
	return m.cfg.JWTAccessSecret
}

func (m *Manager) ttlFor(tokenType string) time.Duration {
	if tokenType == security.TokenTypeRefresh {
		return m.cfg.JWTRefreshTTL
	}
	return m.cfg.JWTAccessTTL
}

// IssuePair mints an access+refresh pair for an access key. Disabled and
// expired keys are refused; outstanding tokens of such keys are only
// invalidated by explicit revocation or natural expiry.
func (m *Manager) IssuePair(ctx context.Context, key models.AccessKey) (Pair, error) {
	if !key.IsEnabled {
		return Pair{}, apperr.New(apperr.KindForbidden, "access_key_disabled", "access key is disabled")
	}
	if key.Expired(time.Now()) {
		return Pair{}, apperr.New(apperr.KindForbidden, "access_key_expired", "access key has expired")
	}

	accessToken, err := m.mint(ctx, security.TokenTypeAccess, key)
	if err != nil {
		return Pair{}, err
	}
	refreshToken, err := m.mint(ctx, security.TokenTypeRefresh, key)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresIn:  m.cfg.JWTAccessTTL,
		RefreshExpiresIn: m.cfg.JWTRefreshTTL,
	}, nil
}

func (m *Manager) mint(ctx context.Context, tokenType string, key models.AccessKey) (string, error) {
	ttl := m.ttlFor(tokenType)

	signed, err := security.SignToken(m.secretFor(tokenType), tokenType, key.ID, key.Name, key.AccessKey, ttl)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "token_sign_failed", "could not sign token", err)
	}

	if err := m.registry.Save(ctx, registryKey(tokenType, key.AccessKey, signed), signed, ttl); err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "token_store_failed", "could not store token", err)
	}
	return signed, nil
}

// Verify checks signature and expiry, then the type tag, then the registry
// entry, in that order. Each failure is an authentication error.
func (m *Manager) Verify(ctx context.Context, tokenStr string, expectedType string) (*security.TokenClaims, error) {
	claims, err := security.ParseToken(tokenStr, m.secretFor(expectedType))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid_token", "token is invalid or expired", err)
	}

	if claims.TokenType != expectedType {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid_token_type", "token type mismatch")
	}

	stored, err := m.registry.Get(ctx, registryKey(expectedType, claims.AccessKey, tokenStr))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "token_lookup_failed", "could not verify token", err)
	}
	if stored != tokenStr {
		// Signature is still nominally valid, but the server-side entry
		// is gone: revoked, rotated, or naturally expired.
		return nil, apperr.New(apperr.KindUnauthorized, "token_revoked", "token is invalid or expired")
	}

	return claims, nil
}

// InvalidateRefresh drops a refresh token's registry entry during rotation.
// The paired access token keeps its own entry until it expires.
func (m *Manager) InvalidateRefresh(ctx context.Context, subject string, refreshToken string) error {
	return m.registry.Delete(ctx, registryKey(security.TokenTypeRefresh, subject, refreshToken))
}

// RevokeAll deletes every registry entry, access and refresh, issued for the
// given access key.
func (m *Manager) RevokeAll(ctx context.Context, accessKey string) error {
	for _, tokenType := range []string{security.TokenTypeAccess, security.TokenTypeRefresh} {
		pattern := fmt.Sprintf("token:%s:%s:*", tokenType, accessKey)
		if err := m.registry.DeleteByPattern(ctx, pattern); err != nil {
			return apperr.Wrap(apperr.KindStorage, "token_revoke_failed", "could not revoke tokens", err)
		}
	}
	m.log.Info().Str("access_key", accessKey).Msg("all tokens revoked")
	return nil
}
