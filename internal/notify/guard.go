package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	guardKeyPrefix = "hi:dispatch"
	guardTTL       = 48 * time.Hour
	dayLayout      = "2006-01-02"
)

// Guard: ジョブを1日1回だけ通す。day は Calendar のタイムゾーンでの日付。
type Guard interface {
	Acquire(ctx context.Context, job string, day time.Time, runID string) (bool, error)
	Release(ctx context.Context, job string, day time.Time) error
}

func guardKey(job string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", guardKeyPrefix, job, day.Format(dayLayout))
}

// ===== redis =====

type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client, ttl: guardTTL}
}

// Acquire: SET NX。既に誰かが取っていれば false。
func (g *RedisGuard) Acquire(ctx context.Context, job string, day time.Time, runID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, guardKey(job, day), runID, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire dispatch guard: %w", err)
	}
	return ok, nil
}

// Release: 送信前に失敗したときだけ使う（再実行できるように戻す）
func (g *RedisGuard) Release(ctx context.Context, job string, day time.Time) error {
	if err := g.client.Del(ctx, guardKey(job, day)).Err(); err != nil {
		return fmt.Errorf("release dispatch guard: %w", err)
	}
	return nil
}

// ===== nop =====

// NopGuard: redis 無効時。毎回通す（重複送信は防げない）。
type NopGuard struct{}

func (NopGuard) Acquire(context.Context, string, time.Time, string) (bool, error) { return true, nil }
func (NopGuard) Release(context.Context, string, time.Time) error                 { return nil }
