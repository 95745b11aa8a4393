// Package queue holds the Redis stream that retries blob deletions which
// failed while a mutation was running.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"graphdj/internal/util"
)

// Task is one blob key waiting to be deleted.
type Task struct {
	ID       string
	Key      string
	Reason   string
	Attempts int
}

// Handler deletes the blob of a task. A non-nil error schedules a retry.
type Handler func(ctx context.Context, task Task) error

// RedisCleanupQueue is a consumer-group backed stream of blob keys.
type RedisCleanupQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type Config struct {
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisCleanupQueue(client *redis.Client, cfg Config) (*RedisCleanupQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "graphdj:blob-cleanup"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "janitor"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	return &RedisCleanupQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue schedules key for deletion.
func (q *RedisCleanupQueue) Enqueue(ctx context.Context, key, reason string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("blob key required")
	}
	return q.add(ctx, q.client, Task{ID: util.NewID(), Key: key, Reason: reason})
}

// Start runs concurrency consumers until ctx is done.
func (q *RedisCleanupQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisCleanupQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			util.LoggerFromContext(ctx).Warn("create cleanup consumer group", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisCleanupQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisCleanupQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisCleanupQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	task, ok := decodeTask(msg.Values)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	task.Attempts++
	logger := util.LoggerFromContext(ctx).With("task_id", task.ID, "key", task.Key, "attempt", task.Attempts)
	err := handler(ctx, task)
	if err == nil {
		logger.Info("orphaned blob deleted")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if task.Attempts >= q.maxRetries {
		logger.Error("blob cleanup gave up", "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger.Warn("blob cleanup failed, retrying", "err", err)
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	if err := q.requeueAndAck(ctx, msg.ID, task); err != nil {
		logger.Warn("requeue blob cleanup", "err", err)
	}
}

func (q *RedisCleanupQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck replaces a message with its retry in one transaction, so a
// failure leaves the original pending for XAUTOCLAIM.
func (q *RedisCleanupQueue) requeueAndAck(ctx context.Context, msgID string, task Task) error {
	pipe := q.client.TxPipeline()
	_ = q.add(ctx, pipe, task)
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisCleanupQueue) add(ctx context.Context, c redis.Cmdable, task Task) error {
	return c.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"task_id":  task.ID,
			"key":      task.Key,
			"reason":   task.Reason,
			"attempts": strconv.Itoa(task.Attempts),
		},
	}).Err()
}

func decodeTask(values map[string]any) (Task, bool) {
	task := Task{}
	task.ID, _ = values["task_id"].(string)
	task.Key, _ = values["key"].(string)
	task.Reason, _ = values["reason"].(string)
	if v, _ := values["attempts"].(string); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			task.Attempts = n
		}
	}
	return task, task.ID != "" && task.Key != ""
}
