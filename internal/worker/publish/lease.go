package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTickLockKey はティックのリースに使うRedisキー。
const DefaultTickLockKey = "schedpost:poller:tick"

// TickLocker は複数プロセスのポーラーが同じティックで重複してスキャンしないための
// リースを取得するインターフェース。
// 公開の一意性は行ロックと条件付き更新で保証されるため、リースは重複作業を減らすためだけに使う。
type TickLocker interface {
	// Acquire はリースの取得を試みる。取得できた場合は解放関数と true を返す。
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}

// noopTickLocker は常にリースを取得できるTickLocker。単一プロセス構成で使う。
type noopTickLocker struct{}

// NewNoopTickLocker は常に取得に成功するTickLockerを返す。
func NewNoopTickLocker() TickLocker {
	return noopTickLocker{}
}

func (noopTickLocker) Acquire(ctx context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript は自分が取得したリースの場合のみ削除する。
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisTickLocker はRedisの SET NX PX によるTickLockerの実装。
type RedisTickLocker struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisTickLocker はRedisTickLockerを生成する。
// ttl はポーリング間隔より短くすること。プロセスが解放前に落ちてもttl経過後に他のプロセスが取得できる。
func NewRedisTickLocker(client redis.Cmdable, key string, ttl time.Duration, logger *slog.Logger) *RedisTickLocker {
	if key == "" {
		key = DefaultTickLockKey
	}
	return &RedisTickLocker{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire はリースを取得する。
func (l *RedisTickLocker) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("ティックのリース取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("ティックのリース解放に失敗しました",
				slog.String("key", l.key),
				slog.String("error", err.Error()),
			)
		}
	}
	return release, true, nil
}

var _ TickLocker = (*RedisTickLocker)(nil)
