// Package presence tracks which doctors currently have a live app
// connection, backed by Redis keys with a TTL. A doctor is online while
// their heartbeat key exists; missed heartbeats age out on their own.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:doctor:"

// Registry records and queries doctor presence.
type Registry struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRegistry creates a presence registry. ttl bounds how long a doctor
// stays "online" after their last heartbeat.
func NewRegistry(redisClient *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Registry{redis: redisClient, ttl: ttl}
}

func key(doctorID uuid.UUID) string {
	return keyPrefix + doctorID.String()
}

// Heartbeat marks the doctor online for another TTL window.
func (r *Registry) Heartbeat(ctx context.Context, doctorID uuid.UUID) error {
	if err := r.redis.Set(ctx, key(doctorID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("presence: heartbeat: %w", err)
	}
	return nil
}

// Disconnect marks the doctor offline immediately.
func (r *Registry) Disconnect(ctx context.Context, doctorID uuid.UUID) error {
	if err := r.redis.Del(ctx, key(doctorID)).Err(); err != nil {
		return fmt.Errorf("presence: disconnect: %w", err)
	}
	return nil
}

// IsOnline reports whether the doctor has a live heartbeat.
func (r *Registry) IsOnline(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	n, err := r.redis.Exists(ctx, key(doctorID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence: exists: %w", err)
	}
	return n > 0, nil
}

// OnlineDoctors returns the ids of all doctors with a live heartbeat.
// SCAN rather than KEYS: the keyspace is shared.
func (r *Registry) OnlineDoctors(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	iter := r.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := uuid.Parse(iter.Val()[len(keyPrefix):])
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence: scan: %w", err)
	}
	return out, nil
}
