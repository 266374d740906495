// Package storage implements the durable config store: API key records,
// webhook secrets, and rate limit tier definitions. SQLite and PostgreSQL
// backends share one database/sql implementation; an in-memory store backs
// tests.
//
// All security-sensitive mutations run inside Transact so partial key state
// is never observable.
package storage

import (
	"context"
	"time"
)

// APIKeyRecord is the durable state of a bearer API key. The opaque key
// itself is never stored; KeyDigest (SHA-256 of the key) is the lookup
// handle. Records are soft-revoked, never deleted, and at most one active
// record exists per digest.
type APIKeyRecord struct {
	ID         string     `json:"id"`
	KeyDigest  string     `json:"key_digest"`
	SecretHash string     `json:"-"`
	Tier       string     `json:"tier"`
	Active     bool       `json:"active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// WebhookSecretRecord is a caller-identified signing secret. The secret is
// stored AES-256-GCM encrypted so it can be returned for outbound signing.
type WebhookSecretRecord struct {
	ID           string     `json:"id"`
	Identifier   string     `json:"identifier"`
	SecretCipher string     `json:"-"`
	Description  string     `json:"description,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// TierRecord is a named rate limit profile. EndpointLimits overrides the
// per-minute quota for specific operation types.
type TierRecord struct {
	Name               string         `json:"name"`
	RequestsPerMinute  int            `json:"requests_per_minute"`
	Burst              int            `json:"burst"`
	ConcurrentRequests int            `json:"concurrent_requests"`
	EndpointLimits     map[string]int `json:"endpoint_limits,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Store is the config store contract consumed by the security manager and
// rate limiter. Lookups return typed not-found errors; deactivations are
// idempotent and report whether they changed anything.
type Store interface {
	Close() error
	Health() error

	// API keys
	CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error
	GetAPIKeyByDigest(ctx context.Context, digest string) (*APIKeyRecord, error)
	DeactivateAPIKey(ctx context.Context, digest string, at time.Time) (bool, error)
	FindAPIKeyTier(ctx context.Context, digest string) (string, error)

	// Webhook secrets
	CreateWebhookSecret(ctx context.Context, rec *WebhookSecretRecord) error
	GetWebhookSecret(ctx context.Context, identifier string) (*WebhookSecretRecord, error)
	ListWebhookSecrets(ctx context.Context) ([]*WebhookSecretRecord, error)
	DeactivateWebhookSecret(ctx context.Context, identifier string, at time.Time) (bool, error)

	// Rate limit tiers
	UpsertTier(ctx context.Context, rec *TierRecord) error
	GetTier(ctx context.Context, name string) (*TierRecord, error)

	// Transact runs fn inside a single all-or-nothing transaction. The Store
	// passed to fn operates on the transaction; any error rolls everything
	// back. Nested Transact calls join the enclosing transaction.
	Transact(ctx context.Context, fn func(Store) error) error
}
