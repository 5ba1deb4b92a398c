package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/redis/go-redis/v9"
)

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("queue closed")

// ProcessJob asks a worker to run one orchestration cycle.
type ProcessJob struct {
	ConversationID string    `json:"conversation_id"`
	OrganizationID string    `json:"organization_id"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	// NotBefore is the end of the message cooldown; workers wait for it.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// WorkQueue hands conversations that need processing to workers. Delivery is
// at least once; the processing lock makes duplicates harmless.
type WorkQueue interface {
	Enqueue(ctx context.Context, job ProcessJob) error
	// Dequeue blocks up to wait. It returns (nil, nil) on timeout.
	Dequeue(ctx context.Context, wait time.Duration) (*ProcessJob, error)
	Close() error
}

// NewWorkQueue returns a redis queue when an address is configured and an
// in-process queue otherwise.
func NewWorkQueue(ctx context.Context, cfg config.RedisConfig) (WorkQueue, error) {
	if cfg.Addr == "" {
		return NewMemoryQueue(1024), nil
	}
	return NewRedisQueue(ctx, cfg)
}

// RedisQueue is a list based queue: LPUSH to enqueue, BRPOP to dequeue.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisQueue(ctx context.Context, cfg config.RedisConfig) (*RedisQueue, error) {
	key := cfg.Queue
	if key == "" {
		key = config.DefaultRedisQueue
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	q := &RedisQueue{client: rdb, key: key, logger: utils.GetLogger()}
	q.logger.Info("Redis work queue connected", "addr", cfg.Addr, "key", key)
	return q, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job ProcessJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.ConversationID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*ProcessJob, error) {
	res, err := q.client.BRPop(ctx, wait, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrQueueClosed
		}
		return nil, err
	}
	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply: %v", res)
	}
	var job ProcessJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		q.logger.Warn("Dropping malformed queue entry", "payload", res[1], "error", err)
		return nil, nil
	}
	return &job, nil
}

// Len returns the number of queued jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// MemoryQueue is a bounded in-process queue for single node deployments.
type MemoryQueue struct {
	ch     chan ProcessJob
	closed chan struct{}
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch:     make(chan ProcessJob, size),
		closed: make(chan struct{}),
	}
}

// Enqueue never blocks. A full queue drops the job; the poller picks the
// conversation up from the database instead.
func (q *MemoryQueue) Enqueue(_ context.Context, job ProcessJob) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.ch <- job:
	default:
		utils.GetLogger().Warn("Work queue full, relying on poller", "conversationID", job.ConversationID)
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*ProcessJob, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case job := <-q.ch:
		return &job, nil
	case <-q.closed:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (q *MemoryQueue) Close() error {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
	return nil
}
