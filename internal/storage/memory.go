package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
)

// MemoryStore is an in-memory Store used by tests and ephemeral setups.
// Transact snapshots state up front and restores it when fn fails, matching
// the rollback semantics of the SQL backends.
type MemoryStore struct {
	mu      sync.RWMutex
	txMu    sync.Mutex // serializes whole transactions
	keys    map[string]*APIKeyRecord        // by key digest
	secrets map[string]*WebhookSecretRecord // by identifier
	tiers   map[string]*TierRecord          // by name
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:    make(map[string]*APIKeyRecord),
		secrets: make(map[string]*WebhookSecretRecord),
		tiers:   make(map[string]*TierRecord),
	}
}

func (m *MemoryStore) Close() error  { return nil }
func (m *MemoryStore) Health() error { return nil }

func (m *MemoryStore) CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[rec.KeyDigest]; exists {
		return apperrors.InvariantError("api key already exists")
	}
	clone := *rec
	m.keys[rec.KeyDigest] = &clone
	return nil
}

func (m *MemoryStore) GetAPIKeyByDigest(ctx context.Context, digest string) (*APIKeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.keys[digest]
	if !ok {
		return nil, apperrors.NotFoundError("api key")
	}
	clone := *rec
	return &clone, nil
}

func (m *MemoryStore) DeactivateAPIKey(ctx context.Context, digest string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.keys[digest]
	if !ok || !rec.Active {
		return false, nil
	}
	rec.Active = false
	revoked := at
	rec.RevokedAt = &revoked
	return true, nil
}

func (m *MemoryStore) FindAPIKeyTier(ctx context.Context, digest string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.keys[digest]
	if !ok || !rec.Active {
		return "", apperrors.NotFoundError("api key")
	}
	return rec.Tier, nil
}

func (m *MemoryStore) CreateWebhookSecret(ctx context.Context, rec *WebhookSecretRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.secrets[rec.Identifier]; exists {
		return apperrors.ValidationError("webhook secret identifier already in use")
	}
	clone := *rec
	m.secrets[rec.Identifier] = &clone
	return nil
}

func (m *MemoryStore) GetWebhookSecret(ctx context.Context, identifier string) (*WebhookSecretRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.secrets[identifier]
	if !ok {
		return nil, apperrors.NotFoundError("webhook secret")
	}
	clone := *rec
	return &clone, nil
}

func (m *MemoryStore) ListWebhookSecrets(ctx context.Context) ([]*WebhookSecretRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var secrets []*WebhookSecretRecord
	for _, rec := range m.secrets {
		if rec.Active {
			clone := *rec
			secrets = append(secrets, &clone)
		}
	}
	sort.Slice(secrets, func(i, j int) bool { return secrets[i].Identifier < secrets[j].Identifier })
	return secrets, nil
}

func (m *MemoryStore) DeactivateWebhookSecret(ctx context.Context, identifier string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.secrets[identifier]
	if !ok || !rec.Active {
		return false, nil
	}
	rec.Active = false
	revoked := at
	rec.RevokedAt = &revoked
	return true, nil
}

func (m *MemoryStore) UpsertTier(ctx context.Context, rec *TierRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *rec
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = time.Now().UTC()
	}
	m.tiers[rec.Name] = &clone
	return nil
}

func (m *MemoryStore) GetTier(ctx context.Context, name string) (*TierRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tiers[name]
	if !ok {
		return nil, apperrors.NotFoundError("rate limit tier")
	}
	clone := *rec
	return &clone, nil
}

// Transact runs fn against a transaction-scoped view. Transactions are
// serialized against each other; concurrent plain reads keep going through
// the regular mutex. An error restores the pre-transaction snapshot.
func (m *MemoryStore) Transact(ctx context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.snapshot()
	m.mu.Unlock()

	err := fn(&memoryTx{m})
	if err != nil {
		m.mu.Lock()
		m.restore(snapshot)
		m.mu.Unlock()
	}
	return err
}

// memoryTx is the view handed to Transact callbacks. Nested Transact calls
// join the enclosing transaction instead of re-entering txMu.
type memoryTx struct {
	*MemoryStore
}

func (t *memoryTx) Transact(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

type memorySnapshot struct {
	keys    map[string]*APIKeyRecord
	secrets map[string]*WebhookSecretRecord
	tiers   map[string]*TierRecord
}

func (m *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		keys:    make(map[string]*APIKeyRecord, len(m.keys)),
		secrets: make(map[string]*WebhookSecretRecord, len(m.secrets)),
		tiers:   make(map[string]*TierRecord, len(m.tiers)),
	}
	for k, v := range m.keys {
		clone := *v
		snap.keys[k] = &clone
	}
	for k, v := range m.secrets {
		clone := *v
		snap.secrets[k] = &clone
	}
	for k, v := range m.tiers {
		clone := *v
		snap.tiers[k] = &clone
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.keys = snap.keys
	m.secrets = snap.secrets
	m.tiers = snap.tiers
}

var _ Store = (*MemoryStore)(nil)
