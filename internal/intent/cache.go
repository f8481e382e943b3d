package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/storage"
)

const DefaultCacheTTL = 600 * time.Second

const (
	tableIntentCache = `
		CREATE TABLE IF NOT EXISTS intent_cache (
			policy_hash TEXT NOT NULL,
			signature TEXT NOT NULL,
			decision_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			stable INTEGER NOT NULL,
			PRIMARY KEY (policy_hash, signature)
		)`

	indexIntentCacheExpires = `
		CREATE INDEX IF NOT EXISTS idx_intent_cache_expires
		ON intent_cache (expires_at)`

	querySelectEntry = `
		SELECT decision_json, created_at, expires_at, stable
		FROM intent_cache
		WHERE policy_hash = ? AND signature = ? AND expires_at > ?`

	queryUpsertEntry = `
		INSERT OR REPLACE INTO intent_cache
			(policy_hash, signature, decision_json, created_at, expires_at, stable)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryDeletePolicy = `
		DELETE FROM intent_cache WHERE policy_hash = ?`

	queryDeleteExpired = `
		DELETE FROM intent_cache WHERE expires_at <= ?`
)

// CacheEntry is one memoized routing decision, scoped to the policy hash
// that produced it.
type CacheEntry struct {
	PolicyHash string
	Signature  string
	Decision   Decision
	CreatedAt  string
	ExpiresAt  string
	Stable     bool
}

// Cache memoizes routing decisions keyed by (policy hash, input
// signature). Expired entries are invisible to Get and purged by
// PruneExpired; a policy change wipes every entry under the old hash.
type Cache struct {
	db      *sql.DB
	ttl     time.Duration
	enabled bool
}

func NewCache(dbPath string, ttl time.Duration, enabled bool) (*Cache, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}

	for _, stmt := range []string{tableIntentCache, indexIntentCacheExpires} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute schema: %w", err)
		}
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{db: db, ttl: ttl, enabled: enabled}, nil
}

func (c *Cache) Get(ctx context.Context, policyHash, signature string) (*CacheEntry, error) {
	if !c.enabled {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	row := c.db.QueryRowContext(ctx, querySelectEntry, policyHash, signature, now)

	var decisionJSON string
	entry := CacheEntry{PolicyHash: policyHash, Signature: signature}
	var stable int
	err := row.Scan(&decisionJSON, &entry.CreatedAt, &entry.ExpiresAt, &stable)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cache entry: %w", err)
	}
	entry.Stable = stable == 1

	if err := json.Unmarshal([]byte(decisionJSON), &entry.Decision); err != nil {
		return nil, fmt.Errorf("unmarshal cached decision: %w", err)
	}
	return &entry, nil
}

func (c *Cache) Set(ctx context.Context, policyHash, signature string, decision Decision, stable bool) error {
	if !c.enabled {
		return nil
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	now := time.Now().UTC()
	stableInt := 0
	if stable {
		stableInt = 1
	}

	return storage.RetryBusy(func() error {
		_, execErr := c.db.ExecContext(ctx, queryUpsertEntry,
			policyHash, signature, string(payload),
			now.Format(time.RFC3339Nano),
			now.Add(c.ttl).Format(time.RFC3339Nano),
			stableInt)
		return execErr
	})
}

// InvalidatePolicy wipes every entry cached under the superseded hash. A
// rule change must not honor decisions made under the old policy.
func (c *Cache) InvalidatePolicy(ctx context.Context, policyHash string) error {
	if !c.enabled || policyHash == "" {
		return nil
	}

	err := storage.RetryBusy(func() error {
		_, execErr := c.db.ExecContext(ctx, queryDeletePolicy, policyHash)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("invalidate policy %s: %w", policyHash, err)
	}

	log.Info().Str("policy_hash", policyHash).Msg("intent cache invalidated")
	return nil
}

// PruneExpired removes entries past their expiry.
func (c *Cache) PruneExpired(ctx context.Context) (int64, error) {
	if !c.enabled {
		return 0, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := c.db.ExecContext(ctx, queryDeleteExpired, now)
	if err != nil {
		return 0, fmt.Errorf("prune expired: %w", err)
	}
	return result.RowsAffected()
}

func (c *Cache) Close() error {
	return c.db.Close()
}
