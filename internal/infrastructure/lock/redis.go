package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLocker is a SET NX lock with a TTL. The token check on release keeps
// a run whose lock expired from deleting a newer holder's lock.
type RedisLocker struct {
	client redisClient
	ttl    time.Duration
	prefix string
}

func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: "opinion-analyzer:run-lock:"}
}

func (l *RedisLocker) key(projectID string) string {
	return l.prefix + projectID
}

func (l *RedisLocker) Acquire(ctx context.Context, projectID string) (func(context.Context) error, error) {
	key := l.key(projectID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "acquire run lock", err)
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrRunInProgress, "acquire run lock", fmt.Errorf("project %s", projectID))
	}

	return func(releaseCtx context.Context) error {
		released, err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token).Int64()
		if err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		if released == 0 {
			return fmt.Errorf("release run lock: lock for project %s expired or was taken over", projectID)
		}
		return nil
	}, nil
}
