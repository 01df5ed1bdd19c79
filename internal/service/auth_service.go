package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"picbed/api/internal/apperr"
	"picbed/api/internal/models"
	"picbed/api/internal/repository"
	"picbed/api/internal/security"
	"picbed/api/internal/token"
)

// AccessKeyStore persists API credential pairs.
type AccessKeyStore interface {
	Create(ctx context.Context, key models.AccessKey) (models.AccessKey, error)
	GetByAccessKey(ctx context.Context, accessKey string) (models.AccessKey, error)
	List(ctx context.Context, filter repository.AccessKeyFilter) ([]models.AccessKey, int, error)
	Disable(ctx context.Context, accessKey string) (bool, error)
	TouchLastUsed(ctx context.Context, accessKey string) error
}

// TokenIssuer is the token lifecycle: mint, verify, rotate, revoke.
type TokenIssuer interface {
	IssuePair(ctx context.Context, key models.AccessKey) (token.Pair, error)
	Verify(ctx context.Context, tokenStr string, expectedType string) (*security.TokenClaims, error)
	InvalidateRefresh(ctx context.Context, subject string, refreshToken string) error
	RevokeAll(ctx context.Context, accessKey string) error
}

type CreateKeyInput struct {
	Name        string
	Description string
	ExpiresAt   *time.Time
}

// CreateKeyResult carries the plaintext secret exactly once; it is never
// retrievable again.
type CreateKeyResult struct {
	Key       models.AccessKey
	SecretKey string
}

// AuthService manages access keys and their token lifecycle.
type AuthService struct {
	keys   AccessKeyStore
	tokens TokenIssuer
	log    zerolog.Logger
}

func NewAuthService(keys AccessKeyStore, tokens TokenIssuer, log zerolog.Logger) *AuthService {
	return &AuthService{
		keys:   keys,
		tokens: tokens,
		log:    log,
	}
}

func (s *AuthService) CreateKey(ctx context.Context, input CreateKeyInput) (CreateKeyResult, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return CreateKeyResult{}, apperr.New(apperr.KindValidation, "name_required", "key name is required")
	}
	if input.ExpiresAt != nil && input.ExpiresAt.Before(time.Now()) {
		return CreateKeyResult{}, apperr.New(apperr.KindValidation, "expiry_in_past", "expires_at must be in the future")
	}

	secretKey, err := security.GenerateSecretKey()
	if err != nil {
		return CreateKeyResult{}, apperr.Wrap(apperr.KindStorage, "key_generation_failed", "could not generate secret key", err)
	}
	secretHash, err := security.HashSecretKey(secretKey)
	if err != nil {
		return CreateKeyResult{}, apperr.Wrap(apperr.KindStorage, "key_generation_failed", "could not hash secret key", err)
	}

	key, err := s.keys.Create(ctx, models.AccessKey{
		Name:          input.Name,
		AccessKey:     security.GenerateAccessKey(),
		SecretKeyHash: secretHash,
		Description:   input.Description,
		ExpiresAt:     input.ExpiresAt,
	})
	if err != nil {
		return CreateKeyResult{}, apperr.Wrap(apperr.KindStorage, "key_create_failed", "could not create access key", err)
	}

	s.log.Info().Str("access_key", key.AccessKey).Str("name", key.Name).Msg("access key created")

	return CreateKeyResult{Key: key, SecretKey: secretKey}, nil
}

func (s *AuthService) ListKeys(ctx context.Context, filter repository.AccessKeyFilter) ([]models.AccessKey, int, error) {
	keys, total, err := s.keys.List(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStorage, "key_list_failed", "could not list access keys", err)
	}
	return keys, total, nil
}

// IssueToken verifies a credential pair and mints a token pair. Unknown key
// and wrong secret are indistinguishable to the caller; disabled and expired
// keys are refused by the token manager.
func (s *AuthService) IssueToken(ctx context.Context, accessKey string, secretKey string) (token.Pair, error) {
	key, err := s.verifyCredentials(ctx, accessKey, secretKey)
	if err != nil {
		return token.Pair{}, err
	}

	pair, err := s.tokens.IssuePair(ctx, key)
	if err != nil {
		return token.Pair{}, err
	}

	s.touchLastUsed(ctx, key.AccessKey)
	return pair, nil
}

func (s *AuthService) verifyCredentials(ctx context.Context, accessKey string, secretKey string) (models.AccessKey, error) {
	invalid := apperr.New(apperr.KindUnauthorized, "invalid_credentials", "invalid credentials")

	key, err := s.keys.GetByAccessKey(ctx, accessKey)
	if err != nil {
		if errors.Is(err, repository.ErrAccessKeyNotFound) {
			s.log.Debug().Str("access_key", accessKey).Msg("credential check: key not found")
			return models.AccessKey{}, invalid
		}
		return models.AccessKey{}, apperr.Wrap(apperr.KindStorage, "key_lookup_failed", "could not look up access key", err)
	}

	ok, err := security.VerifySecretKey(secretKey, key.SecretKeyHash)
	if err != nil || !ok {
		s.log.Debug().Str("access_key", accessKey).Msg("credential check: secret mismatch")
		return models.AccessKey{}, invalid
	}

	return key, nil
}

// Refresh rotates a refresh token into a brand-new pair. The presented
// refresh token's registry entry is deleted, so a second refresh with the
// same token fails; the old access token rides out its own expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, security.TokenTypeRefresh)
	if err != nil {
		return token.Pair{}, err
	}

	key, err := s.keys.GetByAccessKey(ctx, claims.AccessKey)
	if err != nil {
		if errors.Is(err, repository.ErrAccessKeyNotFound) {
			return token.Pair{}, apperr.New(apperr.KindUnauthorized, "invalid_credentials", "invalid credentials")
		}
		return token.Pair{}, apperr.Wrap(apperr.KindStorage, "key_lookup_failed", "could not look up access key", err)
	}

	pair, err := s.tokens.IssuePair(ctx, key)
	if err != nil {
		return token.Pair{}, err
	}

	if err := s.tokens.InvalidateRefresh(ctx, key.AccessKey, refreshToken); err != nil {
		s.log.Warn().Err(err).Str("access_key", key.AccessKey).Msg("old refresh token cleanup failed")
	}

	s.touchLastUsed(ctx, key.AccessKey)
	return pair, nil
}

// Revoke deletes every outstanding registry entry for the key and disables
// it, blocking further issuance.
func (s *AuthService) Revoke(ctx context.Context, accessKey string) error {
	if err := s.tokens.RevokeAll(ctx, accessKey); err != nil {
		return err
	}
	if _, err := s.keys.Disable(ctx, accessKey); err != nil {
		return apperr.Wrap(apperr.KindStorage, "key_disable_failed", "could not disable access key", err)
	}
	return nil
}

// VerifyAccess validates a bearer token for a protected request and checks
// the owning key is still live.
func (s *AuthService) VerifyAccess(ctx context.Context, tokenStr string) (*security.TokenClaims, error) {
	claims, err := s.tokens.Verify(ctx, tokenStr, security.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.GetByAccessKey(ctx, claims.AccessKey)
	if err != nil {
		if errors.Is(err, repository.ErrAccessKeyNotFound) {
			return nil, apperr.New(apperr.KindUnauthorized, "invalid_token", "token is invalid or expired")
		}
		return nil, apperr.Wrap(apperr.KindStorage, "key_lookup_failed", "could not look up access key", err)
	}
	if !key.IsEnabled {
		return nil, apperr.New(apperr.KindForbidden, "access_key_disabled", "access key is disabled")
	}
	if key.Expired(time.Now()) {
		return nil, apperr.New(apperr.KindForbidden, "access_key_expired", "access key has expired")
	}

	s.touchLastUsed(ctx, key.AccessKey)
	return claims, nil
}

func (s *AuthService) touchLastUsed(ctx context.Context, accessKey string) {
	if err := s.keys.TouchLastUsed(ctx, accessKey); err != nil {
		s.log.Warn().Err(err).Str("access_key", accessKey).Msg("last-used touch failed")
	}
}
