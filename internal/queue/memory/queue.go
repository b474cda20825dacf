// Package memory provides in-process task queues for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/launchindex/indexer/internal/indexer"
)

// Queue is a mutex-guarded delayed queue ordered by RunAt.
type Queue struct {
	mu    sync.Mutex
	clock indexer.Clock
	tasks []indexer.Task
}

// NewQueue creates an empty queue.
func NewQueue(clock indexer.Clock) *Queue {
	return &Queue{clock: clock}
}

// Enqueue adds tasks, keeping RunAt order.
func (q *Queue) Enqueue(_ context.Context, tasks ...indexer.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, tasks...)
	sort.SliceStable(q.tasks, func(i, j int) bool { return q.tasks[i].RunAt.Before(q.tasks[j].RunAt) })
	return nil
}

// PopDue removes and returns up to limit tasks whose RunAt is not after now.
func (q *Queue) PopDue(_ context.Context, now time.Time, limit int) ([]indexer.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []indexer.Task
	for len(q.tasks) > 0 && len(due) < limit && !q.tasks[0].RunAt.After(now) {
		due = append(due, q.tasks[0])
		q.tasks = q.tasks[1:]
	}
	return due, nil
}

// Stats summarizes the queue.
func (q *Queue) Stats(_ context.Context) (indexer.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	stats := indexer.QueueStats{Total: int64(len(q.tasks))}
	for _, t := range q.tasks {
		if t.RunAt.After(now) {
			stats.Delayed++
		} else {
			stats.Eligible++
		}
	}
	return stats, nil
}

// Locker serializes work per key in a single process.
type Locker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock indexer.Clock
}

// NewLocker creates a Locker.
func NewLocker(clock indexer.Clock) *Locker {
	return &Locker{held: make(map[string]time.Time), clock: clock}
}

// Acquire takes the lock unless it is already held and unexpired.
func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if until, ok := l.held[key]; ok && until.After(now) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

// Release drops the lock.
func (l *Locker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
