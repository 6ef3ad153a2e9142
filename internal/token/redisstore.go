package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pdfsplitbot/internal/models"
	"pdfsplitbot/internal/redis"
)

const redisKeyPrefix = "dltoken:"

// RedisRegistry stores tokens in redis with native key TTLs, so
// pending expirations survive a process restart.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry wraps an established redis client.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) (*RedisRegistry, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRegistry{client: client, ttl: ttl}, nil
}

func (r *RedisRegistry) Issue(ctx context.Context, filePath, fileName string) (string, error) {
	tok := uuid.NewString()
	entry := models.DownloadToken{
		Token:      tok,
		FilePath:   filePath,
		FileName:   fileName,
		ExpireTime: time.Now().UTC().Add(r.ttl),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode token entry: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+tok, payload, r.ttl); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return tok, nil
}

func (r *RedisRegistry) Resolve(ctx context.Context, tok string) (models.DownloadToken, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+tok)
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return models.DownloadToken{}, ErrNotFound
		}
		return models.DownloadToken{}, fmt.Errorf("lookup token: %w", err)
	}
	var entry models.DownloadToken
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return models.DownloadToken{}, fmt.Errorf("decode token entry: %w", err)
	}
	// Redis drops the key at TTL, but guard against clock skew between
	// writer and reader.
	if entry.Expired(time.Now().UTC()) {
		_ = r.client.Del(ctx, redisKeyPrefix+tok)
		return models.DownloadToken{}, ErrNotFound
	}
	return entry, nil
}
