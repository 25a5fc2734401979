package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/maneesh/filedrop/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// SessionTTL bounds how long a tracked session record survives in Redis
	SessionTTL = 7 * 24 * time.Hour

	sessionIndexKey = "sessions"
)

// RedisClient tracks in-flight multipart sessions so they can be aborted
// if the process dies before completing or aborting them itself.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// TrackSession records an opened session
func (rc *RedisClient) TrackSession(ctx context.Context, session *models.UploadSession) error {
	ctx, span := tracer.Start(ctx, "redis.track_session",
		trace.WithAttributes(
			attribute.String("session_id", session.SessionID),
			attribute.String("object_key", session.ObjectKey),
		),
	)
	defer span.End()

	record := models.UploadSession{
		SessionID: session.SessionID,
		ObjectKey: session.ObjectKey,
		Bucket:    session.Bucket,
		StartedAt: session.StartedAt,
	}
	data, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = rc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.SessionID), data, SessionTTL)
		pipe.ZAdd(ctx, sessionIndexKey, redis.Z{
			Score:  float64(session.StartedAt.Unix()),
			Member: session.SessionID,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to track session: %w", err)
	}

	return nil
}

// ForgetSession removes a session once it was completed or aborted
func (rc *RedisClient) ForgetSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "redis.forget_session",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
		),
	)
	defer span.End()

	_, err := rc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sessionID))
		pipe.ZRem(ctx, sessionIndexKey, sessionID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to forget session: %w", err)
	}

	return nil
}

// StaleSessions returns up to limit sessions started before cutoff, oldest first.
// Index entries whose record already expired are dropped from the index.
func (rc *RedisClient) StaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.UploadSession, error) {
	ctx, span := tracer.Start(ctx, "redis.stale_sessions",
		trace.WithAttributes(
			attribute.Int64("cutoff_unix", cutoff.Unix()),
		),
	)
	defer span.End()

	ids, err := rc.client.ZRangeByScore(ctx, sessionIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []*models.UploadSession
	for _, id := range ids {
		data, err := rc.client.Get(ctx, sessionKey(id)).Result()
		if err == redis.Nil {
			rc.client.ZRem(ctx, sessionIndexKey, id)
			continue
		} else if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to get session %s: %w", id, err)
		}

		var session models.UploadSession
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
		}
		sessions = append(sessions, &session)
	}

	span.SetAttributes(attribute.Int("stale_count", len(sessions)))
	return sessions, nil
}
