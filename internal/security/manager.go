// Package security owns the lifecycle of bearer API keys and webhook
// secrets, and symmetric message authentication for both.
//
// API keys are opaque high-entropy tokens. Only the SHA-256 digest of a key
// is stored, as the lookup handle; the companion secret is stored as a
// salted one-way hash and returned in plaintext exactly once, at generation.
// Webhook secrets differ: they must be recoverable for outbound signing, so
// they are stored AES-256-GCM encrypted instead of hashed.
//
// Every durable mutation runs inside a single storage transaction, so no
// partial key state is ever observable.
package security

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/cache"
	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/logging"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/crypto"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/storage"
)

const (
	apiKeyBytes = 32
	secretBytes = 64
)

type Config struct {
	// KeyTTL is the default API key lifetime. One year unless overridden.
	KeyTTL time.Duration `json:"key_ttl"`
	// ValidationCacheTTL bounds staleness of cached key validations.
	ValidationCacheTTL time.Duration `json:"validation_cache_ttl"`
}

func (c *Config) applyDefaults() {
	if c.KeyTTL <= 0 {
		c.KeyTTL = 365 * 24 * time.Hour
	}
	if c.ValidationCacheTTL <= 0 {
		c.ValidationCacheTTL = 5 * time.Minute
	}
}

// APIKeyCredentials is returned exactly once per generation or rotation.
// The Secret is not recoverable afterwards.
type APIKeyCredentials struct {
	Key       string    `json:"api_key"`
	Secret    string    `json:"secret"`
	Tier      string    `json:"tier"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WebhookSecretInfo is the listing shape. It never carries the secret.
type WebhookSecretInfo struct {
	Identifier  string `json:"identifier"`
	Description string `json:"description,omitempty"`
}

// apiKeyEntry is the cached form of a key validation. Only the fields the
// validation path needs are serialized; the secret hash stays out of Redis.
// Storage records cannot be cached directly because their sensitive fields
// carry `json:"-"` and would be dropped by the cache codec.
type apiKeyEntry struct {
	ID        string     `json:"id"`
	Tier      string     `json:"tier"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// webhookSecretEntry is the cached form of a webhook secret. The ciphertext
// is serialized explicitly so it survives the cache codec; plaintext never
// enters the cache backend.
type webhookSecretEntry struct {
	SecretCipher string `json:"secret_cipher"`
	Active       bool   `json:"active"`
}

type Manager struct {
	store     storage.Store
	cache     *cache.Manager
	encryptor *crypto.SecretEncryptor
	config    *Config
	logger    logging.Logger
}

func NewManager(store storage.Store, cacheManager *cache.Manager, encryptionKey string, config *Config, logger logging.Logger) (*Manager, error) {
	encryptor, err := crypto.NewSecretEncryptor(encryptionKey)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Manager{
		store:     store,
		cache:     cacheManager,
		encryptor: encryptor,
		config:    config,
		logger:    logger,
	}, nil
}

// GenerateAPIKey mints a new key and secret for a tier. The plaintext
// secret exists only in the returned credentials.
func (m *Manager) GenerateAPIKey(ctx context.Context, tier string) (*APIKeyCredentials, error) {
	if tier == "" {
		return nil, apperrors.ValidationError("tier is required")
	}

	creds, record, err := m.mintKey(tier)
	if err != nil {
		return nil, err
	}

	err = m.store.Transact(ctx, func(tx storage.Store) error {
		return tx.CreateAPIKey(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("api key generated",
		logging.String("key_id", record.ID),
		logging.String("tier", tier))
	return creds, nil
}

// mintKey builds fresh credentials and the matching storage record.
func (m *Manager) mintKey(tier string) (*APIKeyCredentials, *storage.APIKeyRecord, error) {
	key, err := crypto.RandomToken(apiKeyBytes)
	if err != nil {
		return nil, nil, apperrors.InternalError("failed to generate api key", err)
	}
	secret, err := crypto.RandomToken(secretBytes)
	if err != nil {
		return nil, nil, apperrors.InternalError("failed to generate secret", err)
	}
	secretHash, err := crypto.HashSecret(secret)
	if err != nil {
		return nil, nil, apperrors.InternalError("failed to hash secret", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(m.config.KeyTTL)

	record := &storage.APIKeyRecord{
		ID:         uuid.NewString(),
		KeyDigest:  crypto.DigestKey(key),
		SecretHash: secretHash,
		Tier:       tier,
		Active:     true,
		ExpiresAt:  &expiresAt,
		CreatedAt:  now,
	}
	creds := &APIKeyCredentials{
		Key:       key,
		Secret:    secret,
		Tier:      tier,
		ExpiresAt: expiresAt,
	}
	return creds, record, nil
}

// ValidateAPIKey resolves a presented key to its active record. Missing keys
// surface NotFound; revoked or expired keys surface InvalidCredential. Reads
// are cached briefly, keyed by the key's digest; the cache entry is dropped
// on revoke and rotate.
func (m *Manager) ValidateAPIKey(ctx context.Context, key string) (*storage.APIKeyRecord, error) {
	digest := crypto.DigestKey(key)

	var entry apiKeyEntry
	err := m.cache.Remember(ctx, validationCacheKey(digest), m.config.ValidationCacheTTL, &entry, func(ctx context.Context) (interface{}, error) {
		record, err := m.store.GetAPIKeyByDigest(ctx, digest)
		if err != nil {
			return nil, err
		}
		return &apiKeyEntry{
			ID:        record.ID,
			Tier:      record.Tier,
			Active:    record.Active,
			ExpiresAt: record.ExpiresAt,
			CreatedAt: record.CreatedAt,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	// Active/expiry are re-checked on every call so a cached record cannot
	// outlive its own expiry.
	if !entry.Active {
		return nil, apperrors.InvalidCredentialError("api key is revoked")
	}
	if entry.ExpiresAt != nil && entry.ExpiresAt.Before(time.Now()) {
		return nil, apperrors.InvalidCredentialError("api key is expired")
	}
	return &storage.APIKeyRecord{
		ID:        entry.ID,
		KeyDigest: digest,
		Tier:      entry.Tier,
		Active:    entry.Active,
		ExpiresAt: entry.ExpiresAt,
		CreatedAt: entry.CreatedAt,
	}, nil
}

// RevokeAPIKey soft-revokes a key. Idempotent: revoking a key that is
// already inactive or unknown returns false without error.
func (m *Manager) RevokeAPIKey(ctx context.Context, key string) (bool, error) {
	digest := crypto.DigestKey(key)

	var revoked bool
	err := m.store.Transact(ctx, func(tx storage.Store) error {
		var err error
		revoked, err = tx.DeactivateAPIKey(ctx, digest, time.Now().UTC())
		return err
	})
	if err != nil {
		return false, err
	}

	m.forgetKeyCaches(ctx, digest)
	if revoked {
		m.logger.Info("api key revoked", logging.String("digest", digest))
	}
	return revoked, nil
}

// RotateAPIKey replaces an active key with a fresh one of the same tier.
// The new key is created before the old one is revoked, inside one
// transaction, so a concurrent observer never sees a state with no valid
// key. Rotating an inactive or unknown key is a NotFound.
func (m *Manager) RotateAPIKey(ctx context.Context, key string) (*APIKeyCredentials, error) {
	digest := crypto.DigestKey(key)

	var creds *APIKeyCredentials
	err := m.store.Transact(ctx, func(tx storage.Store) error {
		current, err := tx.GetAPIKeyByDigest(ctx, digest)
		if err != nil {
			return err
		}
		if !current.Active {
			return apperrors.NotFoundError("active api key")
		}
		if current.ExpiresAt != nil && current.ExpiresAt.Before(time.Now()) {
			return apperrors.NotFoundError("active api key")
		}

		newCreds, record, err := m.mintKey(current.Tier)
		if err != nil {
			return err
		}
		if err := tx.CreateAPIKey(ctx, record); err != nil {
			return err
		}
		if _, err := tx.DeactivateAPIKey(ctx, digest, time.Now().UTC()); err != nil {
			return err
		}

		creds = newCreds
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.forgetKeyCaches(ctx, digest)
	m.logger.Info("api key rotated", logging.String("digest", digest), logging.String("tier", creds.Tier))
	return creds, nil
}

// forgetKeyCaches drops both caches derived from a key digest: the
// validation entry and the limiter's tier assignment.
func (m *Manager) forgetKeyCaches(ctx context.Context, digest string) {
	m.cache.Forget(ctx, validationCacheKey(digest))
	m.cache.Forget(ctx, "api_key_tier:"+digest)
}

func validationCacheKey(digest string) string {
	return "api_key_val:" + digest
}

// StoreWebhookSecret registers a secret under a caller-chosen identifier.
// Duplicate identifiers are rejected.
func (m *Manager) StoreWebhookSecret(ctx context.Context, identifier, secret, description string) (*WebhookSecretInfo, error) {
	if identifier == "" {
		return nil, apperrors.ValidationError("identifier is required")
	}
	if secret == "" {
		return nil, apperrors.ValidationError("secret is required")
	}

	cipher, err := m.encryptor.Encrypt(secret)
	if err != nil {
		return nil, apperrors.InternalError("failed to encrypt webhook secret", err)
	}

	record := &storage.WebhookSecretRecord{
		ID:           uuid.NewString(),
		Identifier:   identifier,
		SecretCipher: cipher,
		Description:  description,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	err = m.store.Transact(ctx, func(tx storage.Store) error {
		return tx.CreateWebhookSecret(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("webhook secret stored", logging.String("identifier", identifier))
	return &WebhookSecretInfo{Identifier: identifier, Description: description}, nil
}

// GetWebhookSecret returns the plaintext secret for an identifier. Reads are
// cached as ciphertext; decryption happens per call so plaintext never sits
// in the cache backend.
func (m *Manager) GetWebhookSecret(ctx context.Context, identifier string) (string, error) {
	var entry webhookSecretEntry
	err := m.cache.Remember(ctx, webhookCacheKey(identifier), 0, &entry, func(ctx context.Context) (interface{}, error) {
		record, err := m.store.GetWebhookSecret(ctx, identifier)
		if err != nil {
			return nil, err
		}
		return &webhookSecretEntry{SecretCipher: record.SecretCipher, Active: record.Active}, nil
	})
	if err != nil {
		return "", err
	}
	if !entry.Active {
		return "", apperrors.NotFoundError(fmt.Sprintf("webhook secret %q", identifier))
	}

	secret, err := m.encryptor.Decrypt(entry.SecretCipher)
	if err != nil {
		return "", apperrors.InternalError("failed to decrypt webhook secret", err)
	}
	return secret, nil
}

// ListWebhookSecrets returns the active identifiers and descriptions,
// always fresh from storage.
func (m *Manager) ListWebhookSecrets(ctx context.Context) ([]WebhookSecretInfo, error) {
	records, err := m.store.ListWebhookSecrets(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]WebhookSecretInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, WebhookSecretInfo{
			Identifier:  rec.Identifier,
			Description: rec.Description,
		})
	}
	return infos, nil
}

// RevokeWebhookSecret soft-revokes by identifier, idempotently.
func (m *Manager) RevokeWebhookSecret(ctx context.Context, identifier string) (bool, error) {
	var revoked bool
	err := m.store.Transact(ctx, func(tx storage.Store) error {
		var err error
		revoked, err = tx.DeactivateWebhookSecret(ctx, identifier, time.Now().UTC())
		return err
	})
	if err != nil {
		return false, err
	}

	m.cache.Forget(ctx, webhookCacheKey(identifier))
	return revoked, nil
}

func webhookCacheKey(identifier string) string {
	return "webhook_secret:" + identifier
}

// SignWebhookPayload signs a payload with a stored secret, resolving it by
// identifier. Convenience for outbound delivery paths.
func (m *Manager) SignWebhookPayload(ctx context.Context, identifier string, payload interface{}) (string, error) {
	secret, err := m.GetWebhookSecret(ctx, identifier)
	if err != nil {
		return "", err
	}
	return GenerateWebhookHMAC(payload, secret)
}
