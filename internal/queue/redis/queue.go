// Package redis provides Redis-backed task queues and per-address locks, so
// multiple service instances share the same delayed work.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/launchindex/indexer/internal/indexer"
)

const keyPrefix = "mq:"

// popDue atomically removes and returns the due members of a sorted set.
var popDue = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #members > 0 then
  redis.call('ZREM', KEYS[1], unpack(members))
end
return members
`)

// Queue is a delayed task queue on a Redis sorted set scored by RunAt.
type Queue struct {
	client redis.UniversalClient
	key    string
}

// NewQueue creates a queue named name, e.g. "submit" or "verify".
func NewQueue(client redis.UniversalClient, name string) *Queue {
	return &Queue{client: client, key: keyPrefix + name}
}

// Enqueue adds tasks scored by their RunAt.
func (q *Queue) Enqueue(ctx context.Context, tasks ...indexer.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(tasks))
	for _, t := range tasks {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		members = append(members, redis.Z{
			Score:  float64(t.RunAt.UnixMilli()),
			Member: payload,
		})
	}
	if err := q.client.ZAdd(ctx, q.key, members...).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", q.key, err)
	}
	return nil
}

// PopDue atomically removes and returns up to limit due tasks. The Lua script
// keeps competing instances from popping the same task twice.
func (q *Queue) PopDue(ctx context.Context, now time.Time, limit int) ([]indexer.Task, error) {
	raw, err := popDue.Run(ctx, q.client, []string{q.key},
		strconv.FormatInt(now.UnixMilli(), 10), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pop due from %s: %w", q.key, err)
	}
	tasks := make([]indexer.Task, 0, len(raw))
	for _, member := range raw {
		var t indexer.Task
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Stats summarizes the queue.
func (q *Queue) Stats(ctx context.Context) (indexer.QueueStats, error) {
	total, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return indexer.QueueStats{}, fmt.Errorf("zcard %s: %w", q.key, err)
	}
	eligible, err := q.client.ZCount(ctx, q.key, "-inf",
		strconv.FormatInt(time.Now().UnixMilli(), 10)).Result()
	if err != nil {
		return indexer.QueueStats{}, fmt.Errorf("zcount %s: %w", q.key, err)
	}
	return indexer.QueueStats{
		Total:    total,
		Eligible: eligible,
		Delayed:  total - eligible,
	}, nil
}

// Locker serializes per-address work across instances with SET NX EX.
type Locker struct {
	client redis.UniversalClient
}

// NewLocker creates a Locker.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// Acquire takes the lock for ttl; false means another worker holds it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+"lock:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock.
func (l *Locker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, keyPrefix+"lock:"+key).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
