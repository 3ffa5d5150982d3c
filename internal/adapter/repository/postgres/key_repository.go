package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusai/credit-engine/internal/adapter/metrics"
	"github.com/nexusai/credit-engine/internal/domain"
)

type keyCacheEntry struct {
	key       *domain.AccessKey
	expiresAt time.Time
}

// KeyRepository implements domain.KeyRepository using PostgreSQL as the
// source of truth and an in-memory, time-based cache in front of Lookup.
// Every authenticated request passes through Lookup, so the cache keeps
// the hot path off the database.
type KeyRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	cache    map[string]keyCacheEntry
	mu       sync.RWMutex
	cacheTTL time.Duration
	metrics  *metrics.EngineMetrics
}

// NewKeyRepository creates a new PostgreSQL access-key repository.
func NewKeyRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.EngineMetrics) *KeyRepository {
	return &KeyRepository{
		db:       db,
		logger:   logger,
		cache:    make(map[string]keyCacheEntry),
		cacheTTL: cacheTTL,
		metrics:  m,
	}
}

func (r *KeyRepository) Insert(ctx context.Context, key *domain.AccessKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO access_keys (key_id, account_id, api_key)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		key.ID, key.AccountID, key.Key,
	).Scan(&key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert access key: %w", err)
	}
	return nil
}

// Revoke marks a key revoked and drops it from the cache, so revocation
// takes effect immediately for this process. Other processes converge
// within the cache TTL.
func (r *KeyRepository) Revoke(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE access_keys SET revoked = true WHERE api_key = $1`, key,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke access key: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return domain.ErrInvalidKey
	}

	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
	return nil
}

func (r *KeyRepository) CountActive(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_keys WHERE account_id = $1 AND revoked = false`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count access keys: %w", err)
	}
	return count, nil
}

// Lookup resolves a key string to its record. It first checks the local
// cache and falls back to the database on a miss or expired entry.
// Unknown keys return (nil, nil) and are cached as negative entries.
func (r *KeyRepository) Lookup(ctx context.Context, key string) (*domain.AccessKey, error) {
	r.mu.RLock()
	entry, found := r.cache[key]
	r.mu.RUnlock()

	if found && time.Now().Before(entry.expiresAt) {
		if r.metrics != nil {
			r.metrics.KeyCacheHits.Inc()
		}
		return entry.key, nil
	}

	if r.metrics != nil {
		r.metrics.KeyCacheMisses.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check in case another goroutine populated it while waiting
	// for the lock.
	entry, found = r.cache[key]
	if found && time.Now().Before(entry.expiresAt) {
		return entry.key, nil
	}

	var ak domain.AccessKey
	err := r.db.QueryRowContext(ctx, `
		SELECT key_id, account_id, api_key, revoked, created_at
		FROM access_keys WHERE api_key = $1`,
		key,
	).Scan(&ak.ID, &ak.AccountID, &ak.Key, &ak.Revoked, &ak.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		r.cache[key] = keyCacheEntry{key: nil, expiresAt: time.Now().Add(r.cacheTTL)}
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to look up access key", "error", err)
		// Don't cache errors, let the next request retry from the DB.
		return nil, fmt.Errorf("failed to look up access key: %w", err)
	}

	r.cache[key] = keyCacheEntry{key: &ak, expiresAt: time.Now().Add(r.cacheTTL)}
	return &ak, nil
}
