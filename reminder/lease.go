package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// releaseScript deletes the lease only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a best-effort mutual exclusion lock held in Redis. The TTL
// bounds how long a crashed holder blocks other instances.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = "tasklane:reminder:lease"
	}
	if ttl <= 0 {
		ttl = DefaultInterval
	}
	return &RedisLease{client: client, key: key, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	release := func() {
		// The tick context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			log.WithError(err).WithField("key", l.key).Warn("release reminder lease")
		}
	}
	return release, true, nil
}
