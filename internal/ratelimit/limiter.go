// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"database/sql"
	"math/rand"
	"time"
)

// LeaseStore grants short-lived exclusive leases on a shared store.
// Acquire sets the key only if it is absent or expired; success means the
// caller owns the window for ttl. Every process must reach the same store,
// so a process-local mutex can never implement this.
type LeaseStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// PostgresLeaseStore implements the lease on the leases table with one
// atomic upsert-if-expired statement.
type PostgresLeaseStore struct {
	DB *sql.DB
}

func (s *PostgresLeaseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO leases (key, expires_at)
		VALUES ($1, now() + ($2 * interval '1 millisecond'))
		ON CONFLICT (key) DO UPDATE
			SET expires_at = now() + ($2 * interval '1 millisecond')
			WHERE leases.expires_at <= now()
		RETURNING key
	`
	var got string
	err := s.DB.QueryRowContext(ctx, query, key, ttl.Milliseconds()).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ LeaseStore = (*PostgresLeaseStore)(nil)

// Limiter spaces metered calls across every worker process: each grant
// holds the lease key for the minimum interval, so no two calls anywhere
// in the system start closer together than that.
type Limiter struct {
	Store    LeaseStore
	Key      string
	Interval time.Duration
	// PollInterval is the base wait between acquire attempts; jitter is
	// added so contending workers do not retry in lockstep.
	PollInterval time.Duration
}

func NewLimiter(store LeaseStore, key string, interval time.Duration) *Limiter {
	poll := interval / 4
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	return &Limiter{Store: store, Key: key, Interval: interval, PollInterval: poll}
}

// Wait blocks until the caller may make one metered call, or until ctx is
// done. The lease is never held beyond its TTL, so a crashed holder cannot
// stall anyone past one interval.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		granted, err := l.Store.Acquire(ctx, l.Key, l.Interval)
		if err != nil {
			return err
		}
		if granted {
			return nil
		}
		sleep := l.PollInterval + time.Duration(rand.Int63n(int64(l.PollInterval)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
