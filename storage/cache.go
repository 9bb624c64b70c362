package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklane/domain"
)

// Backend is a full store: tasks plus the user directory.
type Backend interface {
	domain.TaskStore
	domain.Directory
}

// Cache wraps a Backend with Redis-backed caching of the per-owner listings.
// Single task reads and the reminder scan always reach the backend.
type Cache struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Backend: base, redis: client, ttl: ttl}
}

func (c *Cache) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return c.cached(ctx, ownerID, ownedKey(ownerID), func() ([]domain.Task, error) {
		return c.Backend.ListByOwner(ctx, ownerID)
	})
}

func (c *Cache) ListPublicByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return c.cached(ctx, ownerID, publicKey(ownerID), func() ([]domain.Task, error) {
		return c.Backend.ListPublicByOwner(ctx, ownerID)
	})
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	created, err := c.Backend.CreateTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, created.OwnerID)
	return created, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) (domain.Task, error) {
	updated, err := c.Backend.UpdateTask(ctx, id, p)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, updated.OwnerID)
	return updated, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	t, err := c.Backend.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Backend.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, t.OwnerID)
	return nil
}

func (c *Cache) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	marked, err := c.Backend.MarkReminderSent(ctx, id)
	if err != nil || !marked {
		return marked, err
	}
	if t, err := c.Backend.GetTask(ctx, id); err == nil {
		c.evict(ctx, t.OwnerID)
	}
	return true, nil
}

// cached reads key or fills it from load. The fill only lands if no write
// evicted the owner while load ran.
func (c *Cache) cached(ctx context.Context, ownerID, key string, load func() ([]domain.Task, error)) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, key); ok {
		return tasks, nil
	}
	version, versionOK := c.version(ctx, ownerID)
	tasks, err := load()
	if err != nil {
		return nil, err
	}
	if versionOK {
		c.store(ctx, ownerID, version, key, tasks)
	}
	return tasks, nil
}

func (c *Cache) version(ctx context.Context, ownerID string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	v, err := c.redis.Get(ctx, versionKey(ownerID)).Result()
	switch {
	case err == redis.Nil:
		return "0", true
	case err != nil:
		log.WithError(err).WithField("owner", ownerID).Debug("cache version read failed")
		return "", false
	}
	return v, true
}

func (c *Cache) load(ctx context.Context, key string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			log.WithError(err).WithField("key", key).Debug("cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

// storeIfCurrent sets KEYS[2] only while the owner version in KEYS[1] still
// equals ARGV[1].
var storeIfCurrent = redis.NewScript(`
local v = redis.call("GET", KEYS[1]) or "0"
if v ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

func (c *Cache) store(ctx context.Context, ownerID, version, key string, tasks []domain.Task) {
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	err = storeIfCurrent.Run(ctx, c.redis, []string{versionKey(ownerID), key}, version, data, c.ttl.Milliseconds()).Err()
	if err != nil {
		log.WithError(err).WithField("key", key).Debug("cache fill failed")
	}
}

// evict bumps the owner version before dropping the listings so fills that
// started earlier are discarded.
func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, versionKey(ownerID))
	pipe.Del(ctx, ownedKey(ownerID), publicKey(ownerID))
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).WithField("owner", ownerID).Warn("cache eviction failed")
	}
}

// Key kinds live in disjoint namespaces so no owner id can name another
// owner's key.
func ownedKey(ownerID string) string {
	return "tasks:owned:" + ownerID
}

func publicKey(ownerID string) string {
	return "tasks:public:" + ownerID
}

func versionKey(ownerID string) string {
	return "tasks:version:" + ownerID
}
