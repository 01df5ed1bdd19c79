package models

import "time"

// AccessKey is an API credential pair. SecretKeyHash never equals the
// plaintext secret, which is shown to the caller exactly once at creation.
type AccessKey struct {
	ID            int64
	Name          string
	AccessKey     string
	SecretKeyHash []byte
	Description   string
	IsEnabled     bool
	ExpiresAt     *time.Time
	LastUsedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the key's optional expiry has passed. An expired
// key is treated as disabled for token issuance regardless of IsEnabled.
func (k AccessKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
