package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same query code serves both direct and transactional access.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// sqlStore implements Store over database/sql. db is nil when the store is
// scoped to a transaction.
type sqlStore struct {
	db      *sql.DB
	q       dbtx
	dialect dialect
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{db: db, q: db, dialect: d}
}

// rebind translates ?-placeholders to the dialect's parameter style.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Health() error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	serial := "BOOLEAN"
	if s.dialect == dialectSQLite {
		serial = "INTEGER"
	}

	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_digest TEXT NOT NULL UNIQUE,
			secret_hash TEXT NOT NULL,
			tier TEXT NOT NULL,
			active %s NOT NULL,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			revoked_at TIMESTAMP
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS webhook_secrets (
			id TEXT PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			secret_cipher TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			active %s NOT NULL,
			created_at TIMESTAMP NOT NULL,
			revoked_at TIMESTAMP
		)`, serial),
		`CREATE TABLE IF NOT EXISTS rate_limit_tiers (
			name TEXT PRIMARY KEY,
			requests_per_minute INTEGER NOT NULL,
			burst INTEGER NOT NULL DEFAULT 0,
			concurrent_requests INTEGER NOT NULL DEFAULT 0,
			endpoint_limits TEXT NOT NULL DEFAULT '{}',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_active ON api_keys (key_digest, active)`,
	}

	for _, query := range queries {
		if _, err := s.q.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func (s *sqlStore) CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error {
	var expiresAt sql.NullTime
	if rec.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *rec.ExpiresAt, Valid: true}
	}

	_, err := s.q.ExecContext(ctx, s.rebind(
		`INSERT INTO api_keys (id, key_digest, secret_hash, tier, active, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.KeyDigest, rec.SecretHash, rec.Tier, rec.Active, expiresAt, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.InvariantError("api key already exists")
		}
		return apperrors.InternalError("failed to create api key", err)
	}
	return nil
}

func (s *sqlStore) GetAPIKeyByDigest(ctx context.Context, digest string) (*APIKeyRecord, error) {
	row := s.q.QueryRowContext(ctx, s.rebind(
		`SELECT id, key_digest, secret_hash, tier, active, expires_at, created_at, revoked_at
		 FROM api_keys WHERE key_digest = ?`), digest)
	return scanAPIKey(row)
}

func scanAPIKey(row *sql.Row) (*APIKeyRecord, error) {
	var rec APIKeyRecord
	var expiresAt, revokedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.KeyDigest, &rec.SecretHash, &rec.Tier,
		&rec.Active, &expiresAt, &rec.CreatedAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("api key")
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to read api key", err)
	}

	if expiresAt.Valid {
		rec.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		rec.RevokedAt = &revokedAt.Time
	}
	return &rec, nil
}

func (s *sqlStore) DeactivateAPIKey(ctx context.Context, digest string, at time.Time) (bool, error) {
	falseVal := s.boolValue(false)
	trueVal := s.boolValue(true)

	result, err := s.q.ExecContext(ctx, s.rebind(
		`UPDATE api_keys SET active = ?, revoked_at = ? WHERE key_digest = ? AND active = ?`),
		falseVal, at, digest, trueVal)
	if err != nil {
		return false, apperrors.InternalError("failed to deactivate api key", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.InternalError("failed to deactivate api key", err)
	}
	return affected > 0, nil
}

func (s *sqlStore) FindAPIKeyTier(ctx context.Context, digest string) (string, error) {
	var tier string
	err := s.q.QueryRowContext(ctx, s.rebind(
		`SELECT tier FROM api_keys WHERE key_digest = ? AND active = ?`),
		digest, s.boolValue(true)).Scan(&tier)
	if err == sql.ErrNoRows {
		return "", apperrors.NotFoundError("api key")
	}
	if err != nil {
		return "", apperrors.InternalError("failed to resolve api key tier", err)
	}
	return tier, nil
}

func (s *sqlStore) CreateWebhookSecret(ctx context.Context, rec *WebhookSecretRecord) error {
	_, err := s.q.ExecContext(ctx, s.rebind(
		`INSERT INTO webhook_secrets (id, identifier, secret_cipher, description, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Identifier, rec.SecretCipher, rec.Description, rec.Active, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ValidationError("webhook secret identifier already in use")
		}
		return apperrors.InternalError("failed to create webhook secret", err)
	}
	return nil
}

func (s *sqlStore) GetWebhookSecret(ctx context.Context, identifier string) (*WebhookSecretRecord, error) {
	row := s.q.QueryRowContext(ctx, s.rebind(
		`SELECT id, identifier, secret_cipher, description, active, created_at, revoked_at
		 FROM webhook_secrets WHERE identifier = ?`), identifier)

	var rec WebhookSecretRecord
	var revokedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.Identifier, &rec.SecretCipher, &rec.Description,
		&rec.Active, &rec.CreatedAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("webhook secret")
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to read webhook secret", err)
	}

	if revokedAt.Valid {
		rec.RevokedAt = &revokedAt.Time
	}
	return &rec, nil
}

func (s *sqlStore) ListWebhookSecrets(ctx context.Context) ([]*WebhookSecretRecord, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(
		`SELECT id, identifier, secret_cipher, description, active, created_at, revoked_at
		 FROM webhook_secrets WHERE active = ? ORDER BY identifier`), s.boolValue(true))
	if err != nil {
		return nil, apperrors.InternalError("failed to list webhook secrets", err)
	}
	defer rows.Close()

	var secrets []*WebhookSecretRecord
	for rows.Next() {
		var rec WebhookSecretRecord
		var revokedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Identifier, &rec.SecretCipher, &rec.Description,
			&rec.Active, &rec.CreatedAt, &revokedAt); err != nil {
			return nil, apperrors.InternalError("failed to scan webhook secret", err)
		}
		if revokedAt.Valid {
			rec.RevokedAt = &revokedAt.Time
		}
		secrets = append(secrets, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.InternalError("failed to list webhook secrets", err)
	}
	return secrets, nil
}

func (s *sqlStore) DeactivateWebhookSecret(ctx context.Context, identifier string, at time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx, s.rebind(
		`UPDATE webhook_secrets SET active = ?, revoked_at = ? WHERE identifier = ? AND active = ?`),
		s.boolValue(false), at, identifier, s.boolValue(true))
	if err != nil {
		return false, apperrors.InternalError("failed to deactivate webhook secret", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.InternalError("failed to deactivate webhook secret", err)
	}
	return affected > 0, nil
}

func (s *sqlStore) UpsertTier(ctx context.Context, rec *TierRecord) error {
	limits, err := json.Marshal(rec.EndpointLimits)
	if err != nil {
		return apperrors.InternalError("failed to encode endpoint limits", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err = s.q.ExecContext(ctx, s.rebind(
		`INSERT INTO rate_limit_tiers (name, requests_per_minute, burst, concurrent_requests, endpoint_limits, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
			requests_per_minute = excluded.requests_per_minute,
			burst = excluded.burst,
			concurrent_requests = excluded.concurrent_requests,
			endpoint_limits = excluded.endpoint_limits,
			updated_at = excluded.updated_at`),
		rec.Name, rec.RequestsPerMinute, rec.Burst, rec.ConcurrentRequests, string(limits), rec.UpdatedAt)
	if err != nil {
		return apperrors.InternalError("failed to upsert tier", err)
	}
	return nil
}

func (s *sqlStore) GetTier(ctx context.Context, name string) (*TierRecord, error) {
	row := s.q.QueryRowContext(ctx, s.rebind(
		`SELECT name, requests_per_minute, burst, concurrent_requests, endpoint_limits, updated_at
		 FROM rate_limit_tiers WHERE name = ?`), name)

	var rec TierRecord
	var limits string
	err := row.Scan(&rec.Name, &rec.RequestsPerMinute, &rec.Burst,
		&rec.ConcurrentRequests, &limits, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("rate limit tier")
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to read tier", err)
	}

	if limits != "" && limits != "{}" {
		if err := json.Unmarshal([]byte(limits), &rec.EndpointLimits); err != nil {
			return nil, apperrors.InternalError("failed to decode endpoint limits", err)
		}
	}
	return &rec, nil
}

func (s *sqlStore) Transact(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		// Already inside a transaction; join it.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.TransientError("failed to begin transaction", err)
	}

	txStore := &sqlStore{q: tx, dialect: s.dialect}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.TransientError("failed to commit transaction", err)
	}
	return nil
}

// boolValue maps Go bools to what the dialect stores. SQLite keeps integers;
// database/sql handles the conversion either way, so this is only about
// keeping literal comparisons consistent.
func (s *sqlStore) boolValue(v bool) interface{} {
	if s.dialect == dialectSQLite {
		if v {
			return 1
		}
		return 0
	}
	return v
}

var _ Store = (*sqlStore)(nil)
