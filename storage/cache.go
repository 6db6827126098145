package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type backend interface {
	ListTasks(ctx context.Context, ownerID string, f TaskFilter) ([]domain.TaskRecord, error)
	MaxOrder(ctx context.Context, ownerID string, f TaskFilter) (int, bool, error)
	GetTask(ctx context.Context, ownerID, id string) (domain.TaskRecord, error)
	InsertTask(ctx context.Context, ownerID string, rec domain.TaskRecord) (domain.TaskRecord, error)
	UpdateTask(ctx context.Context, ownerID, id string, patch domain.TaskPatch) (domain.TaskRecord, error)
	DeleteTask(ctx context.Context, ownerID, id string) error
}

// Cache wraps a task backend with Redis-backed caching of task listings.
// Every write evicts all cached listings of the owner.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, ownerID string, f TaskFilter) ([]domain.TaskRecord, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, ownerID, f); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, ownerID, f)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, ownerID, f, tasks)
	return tasks, nil
}

func (c *Cache) MaxOrder(ctx context.Context, ownerID string, f TaskFilter) (int, bool, error) {
	return c.base.MaxOrder(ctx, ownerID, f)
}

func (c *Cache) GetTask(ctx context.Context, ownerID, id string) (domain.TaskRecord, error) {
	return c.base.GetTask(ctx, ownerID, id)
}

func (c *Cache) InsertTask(ctx context.Context, ownerID string, rec domain.TaskRecord) (domain.TaskRecord, error) {
	out, err := c.base.InsertTask(ctx, ownerID, rec)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	c.evict(ctx, ownerID)
	return out, nil
}

func (c *Cache) UpdateTask(ctx context.Context, ownerID, id string, patch domain.TaskPatch) (domain.TaskRecord, error) {
	out, err := c.base.UpdateTask(ctx, ownerID, id, patch)
	// A rejected conditional write may still mean the cache is stale.
	c.evict(ctx, ownerID)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	return out, nil
}

func (c *Cache) DeleteTask(ctx context.Context, ownerID, id string) error {
	err := c.base.DeleteTask(ctx, ownerID, id)
	c.evict(ctx, ownerID)
	return err
}

func (c *Cache) loadTasksFromCache(ctx context.Context, ownerID string, f TaskFilter) ([]domain.TaskRecord, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := tasksCacheKey(ownerID)
	data, err := c.redis.HGet(ctx, key, filterField(f)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.TaskRecord
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, ownerID string, f TaskFilter, tasks []domain.TaskRecord) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	key := tasksCacheKey(ownerID)
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, filterField(f), data)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
}

func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Result()
}

func tasksCacheKey(ownerID string) string {
	return "tasks:" + ownerID
}

func filterField(f TaskFilter) string {
	return "board=" + f.BoardID + "|status=" + string(f.Status)
}
