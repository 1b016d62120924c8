package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/temcen/giftwise/pkg/models"
)

// ProfileCache is a read-through cache for session profiles. Every profile
// write bumps a per-session version; a fill only lands if the version is
// unchanged since before the source read, so a slow reader cannot put back
// a profile that a concurrent writer already superseded.
type ProfileCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, sessionID string) (*models.SessionProfile, error)
	Version(ctx context.Context, sessionID string) (int64, error)
	SetIfVersion(ctx context.Context, profile *models.SessionProfile, version int64) error
	Invalidate(ctx context.Context, sessionID string) error
}

// errStaleProfile is returned by SetIfVersion when the fill lost the race.
var errStaleProfile = errors.New("session profile changed during cache fill")

type RedisProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProfileCache(client *redis.Client, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{client: client, ttl: ttl}
}

func profileCacheKey(sessionID string) string {
	return "session_profile:" + sessionID
}

func profileVersionKey(sessionID string) string {
	return "session_profile_version:" + sessionID
}

func (c *RedisProfileCache) Get(ctx context.Context, sessionID string) (*models.SessionProfile, error) {
	data, err := c.client.Get(ctx, profileCacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var profile models.SessionProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	return &profile, nil
}

func (c *RedisProfileCache) Version(ctx context.Context, sessionID string) (int64, error) {
	version, err := c.client.Get(ctx, profileVersionKey(sessionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

func (c *RedisProfileCache) SetIfVersion(ctx context.Context, profile *models.SessionProfile, version int64) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	versionKey := profileVersionKey(profile.SessionID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleProfile
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, profileCacheKey(profile.SessionID), data, c.ttl)
			return nil
		})
		return err
	}, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return errStaleProfile
	}
	return err
}

// Invalidate drops the cached profile and bumps the version in one
// transaction. The version key outlives the profile so in-flight fills
// still see the bump.
func (c *RedisProfileCache) Invalidate(ctx context.Context, sessionID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, profileCacheKey(sessionID))
		pipe.Incr(ctx, profileVersionKey(sessionID))
		pipe.Expire(ctx, profileVersionKey(sessionID), 2*c.ttl)
		return nil
	})
	return err
}
