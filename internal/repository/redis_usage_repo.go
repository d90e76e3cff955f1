package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/keihi/internal/model"
)

// RedisUsageEventRepo はRedisのソート済みセットを使用した利用イベント台帳。
// キー {prefix}:{tenantID}:{actionType} に、スコアを発生時刻（マイクロ秒）、
// メンバーをイベントIDとして保持する。
type RedisUsageEventRepo struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// RedisUsageOption はRedisUsageEventRepoのオプション。
type RedisUsageOption func(*RedisUsageEventRepo)

// WithUsageKeyPrefix はキーのプレフィックスを指定する。
func WithUsageKeyPrefix(prefix string) RedisUsageOption {
	return func(r *RedisUsageEventRepo) { r.prefix = strings.Trim(prefix, ":") }
}

// WithUsageRetention は保持期間を指定する。
// 追記時に保持期間より古いメンバーを削除し、キー自体にも同じTTLを設定する。
// 0以下の場合は削除もTTL設定も行わない。
func WithUsageRetention(d time.Duration) RedisUsageOption {
	return func(r *RedisUsageEventRepo) { r.retention = d }
}

// NewRedisUsageEventRepo はRedisUsageEventRepoを生成する。
func NewRedisUsageEventRepo(rdb redis.UniversalClient, opts ...RedisUsageOption) *RedisUsageEventRepo {
	r := &RedisUsageEventRepo{
		rdb:    rdb,
		prefix: "keihi:usage",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisUsageEventRepo) key(tenantID, actionType string) string {
	return r.prefix + ":" + tenantID + ":" + actionType
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Insert は利用イベントを1件追記する。
func (r *RedisUsageEventRepo) Insert(ctx context.Context, event *model.UsageEvent) error {
	key := r.key(event.TenantID, event.ActionType)

	pipe := r.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score(event.CreatedAt), Member: event.ID})
	if r.retention > 0 {
		cutoff := event.CreatedAt.Add(-r.retention)
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff.UnixMicro(), 10))
		pipe.Expire(ctx, key, r.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// CountSince は created_at >= since のイベント数を返す。
func (r *RedisUsageEventRepo) CountSince(ctx context.Context, tenantID, actionType string, since time.Time) (int, error) {
	n, err := r.rdb.ZCount(ctx,
		r.key(tenantID, actionType),
		strconv.FormatInt(since.UnixMicro(), 10),
		"+inf",
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count usage events: %w", err)
	}
	return int(n), nil
}

// compile-time interface check
var _ UsageEventRepository = (*RedisUsageEventRepo)(nil)
