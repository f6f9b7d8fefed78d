package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript は自分のトークンが入っている場合のみキーを削除する。
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Redis はRedisのSET NXで複数インスタンス間の排他を行うLocker。
type Redis struct {
	client redis.Cmdable
	prefix string
}

// NewRedis は新しいRedisを生成する。キーには"lease:"が前置される。
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client, prefix: "lease:"}
}

// NewRedisClient は接続確認済みのRedisクライアントを生成する。
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return client, nil
}

// TryLock はkeyのロックをSET NXで取得する。
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	k := r.prefix + key
	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("ロックの取得に失敗: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{k}, token).Int()
		if err != nil {
			return fmt.Errorf("ロックの解放に失敗: %w", err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, true, nil
}
