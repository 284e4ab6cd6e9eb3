// Package cache は決済状態の読み取りキャッシュを提供する。
// ステータスAPIはクライアントからポーリングされるため、DB参照をRedisで肩代わりする。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DStukalo/children-server/internal/model"
)

const keyPrefix = "children:payment:status:"

// StatusEntry はキャッシュする決済状態。所有者チェックのためUserIDも保持する。
type StatusEntry struct {
	Status model.PaymentStatus `json:"status"`
	UserID *string             `json:"userId,omitempty"`
}

// StatusCache は決済状態キャッシュのインターフェース。
type StatusCache interface {
	// Get はキャッシュ済みの状態を返す。存在しない場合はnilを返す。
	Get(ctx context.Context, paymentID string) (*StatusEntry, error)
	// Set は状態を保存する。呼び出し側は終端状態のみを渡す。
	Set(ctx context.Context, paymentID string, entry StatusEntry) error
	// Delete は状態を破棄する。状態遷移のたびに呼ばれる。
	Delete(ctx context.Context, paymentID string) error
}

// RedisStatusCache はRedisを使用したStatusCache。
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatusCache はredisURLに接続してRedisStatusCacheを生成する。
// 接続確認に失敗した場合はエラーを返す。
func NewRedisStatusCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStatusCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStatusCache{client: client, ttl: ttl}, nil
}

// Get はキャッシュ済みの状態を返す。存在しない場合はnilを返す。
func (c *RedisStatusCache) Get(ctx context.Context, paymentID string) (*StatusEntry, error) {
	data, err := c.client.Get(ctx, Key(paymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached status: %w", err)
	}

	var entry StatusEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cached status: %w", err)
	}
	return &entry, nil
}

// Set は状態をTTL付きで保存する。
func (c *RedisStatusCache) Set(ctx context.Context, paymentID string, entry StatusEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := c.client.Set(ctx, Key(paymentID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache status: %w", err)
	}
	return nil
}

// Delete は状態を破棄する。
func (c *RedisStatusCache) Delete(ctx context.Context, paymentID string) error {
	if err := c.client.Del(ctx, Key(paymentID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached status: %w", err)
	}
	return nil
}

// Close はRedis接続を閉じる。
func (c *RedisStatusCache) Close() error {
	return c.client.Close()
}

// Key は決済IDに対応するRedisキーを返す。
func Key(paymentID string) string {
	return keyPrefix + paymentID
}

// NopStatusCache は常にミスするStatusCache。REDIS_URL未設定時に使う。
type NopStatusCache struct{}

func (NopStatusCache) Get(context.Context, string) (*StatusEntry, error) { return nil, nil }
func (NopStatusCache) Set(context.Context, string, StatusEntry) error { return nil }
func (NopStatusCache) Delete(context.Context, string) error { return nil }

var (
	_ StatusCache = (*RedisStatusCache)(nil)
	_ StatusCache = NopStatusCache{}
)
