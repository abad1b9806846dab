// Package redis backs the hot-path reads: the rendered city snapshot and the
// weekly raid leaderboard. Both are optional; a nil client disables them and
// callers fall back to postgres.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/EndlessPixel/git-city/internal/app/domain/raid"
)

const (
	snapshotKey       = "git_city:snapshot"
	leaderboardPrefix = "git_city:raids"
	// leaderboardRetention keeps last week's board around briefly after the
	// weekly rollover.
	leaderboardRetention = 14 * 24 * time.Hour
)

// Connect dials redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// Cache holds the marshaled city snapshot.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache creates a snapshot cache. A nil client yields a disabled cache.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Enabled reports whether the cache is backed by a connection.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// GetSnapshot returns the cached snapshot bytes, if any. Redis errors read as
// cache misses so a flaky cache never takes the city down.
func (c *Cache) GetSnapshot(ctx context.Context) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetSnapshot caches the snapshot bytes for the configured TTL.
func (c *Cache) SetSnapshot(ctx context.Context, data []byte) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Set(ctx, snapshotKey, data, c.ttl).Err()
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.rdb.Del(ctx, snapshotKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// Leaderboard is the weekly raid win ranking, a sorted set per ISO week.
type Leaderboard struct {
	rdb *redis.Client
}

// NewLeaderboard creates a leaderboard. A nil client yields a disabled board.
func NewLeaderboard(rdb *redis.Client) *Leaderboard {
	return &Leaderboard{rdb: rdb}
}

// Enabled reports whether the board is backed by a connection.
func (l *Leaderboard) Enabled() bool {
	return l != nil && l.rdb != nil
}

// RecordWin bumps the attacker's score on this week's board.
func (l *Leaderboard) RecordWin(ctx context.Context, login string) error {
	if !l.Enabled() {
		return nil
	}
	key := WeekKey(time.Now().UTC())
	pipe := l.rdb.TxPipeline()
	pipe.ZIncrBy(ctx, key, 1, login)
	pipe.Expire(ctx, key, leaderboardRetention)
	_, err := pipe.Exec(ctx)
	return err
}

// Top returns the highest win counts for this week, best first.
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]raid.LeaderboardEntry, error) {
	if !l.Enabled() {
		return nil, fmt.Errorf("leaderboard disabled")
	}
	if limit <= 0 {
		limit = 10
	}

	members, err := l.rdb.ZRevRangeWithScores(ctx, WeekKey(time.Now().UTC()), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	entries := make([]raid.LeaderboardEntry, 0, len(members))
	for _, m := range members {
		login, ok := m.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, raid.LeaderboardEntry{Login: login, Wins: m.Score})
	}
	return entries, nil
}

// WeekKey names the sorted set for the ISO week containing t. Keys rotate at
// the same boundary the weekly counter reset runs on.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%s:%d-W%02d", leaderboardPrefix, year, week)
}
