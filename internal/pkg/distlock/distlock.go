// Package distlock serializes campaign dispatch runs across processes. Two
// instances must never both snapshot the same campaign's pending recipients,
// so a dispatch run takes a per-campaign lock before reading anything.
//
// Redis is the primary backend. Without a Redis client the lock degrades to
// a Postgres advisory lock on the queue's own database, which is session
// scoped and frees itself when the connection drops.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock guards one dispatch run. Instances are single-use and
// single-goroutine; every run builds its own lock.
type DistLock interface {
	// Acquire takes the lock, reporting false when another run holds it.
	Acquire(ctx context.Context) (bool, error)
	// Extend pushes the expiry out for a run that outlives the ttl it was
	// acquired with.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release frees the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// NewLock picks the backend: Redis when a client is available, otherwise a
// Postgres advisory lock.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// PGAdvisoryLock maps a key to a pg_try_advisory_lock id. The lock lives
// with the session, so a crashed dispatcher frees it the moment its
// connection dies.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock hashes key into the 64-bit advisory lock space.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire is non-blocking; a held lock reports false immediately.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Extend is a no-op: advisory locks have no TTL, they last for the session.
func (l *PGAdvisoryLock) Extend(_ context.Context, _ time.Duration) error {
	return nil
}

// Release frees the advisory lock for this session.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
