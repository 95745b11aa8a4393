package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, maxRetries int) (*RedisCleanupQueue, context.Context) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := NewRedisCleanupQueue(client, Config{
		Stream:     "test:cleanup",
		Group:      "test-group",
		Consumer:   "consumer-1",
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	q.ensureGroup(ctx)
	return q, ctx
}

func readOne(t *testing.T, q *RedisCleanupQueue, ctx context.Context) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one message, got %+v", streams)
	}
	return streams[0].Messages[0]
}

func streamLen(t *testing.T, q *RedisCleanupQueue, ctx context.Context) int64 {
	t.Helper()
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	return n
}

func TestNewRedisCleanupQueueRequiresClient(t *testing.T) {
	if _, err := NewRedisCleanupQueue(nil, Config{}); err == nil {
		t.Fatal("expected error without redis client")
	}
}

func TestEnqueueRejectsEmptyKey(t *testing.T) {
	q, ctx := newTestQueue(t, 3)
	if err := q.Enqueue(ctx, "  ", "test"); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestHandleMessageAcksOnSuccess(t *testing.T) {
	q, ctx := newTestQueue(t, 3)
	if err := q.Enqueue(ctx, "profile_images/a.png", "replace"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var got Task
	q.handleMessage(ctx, readOne(t, q, ctx), func(_ context.Context, task Task) error {
		got = task
		return nil
	})
	if got.Key != "profile_images/a.png" || got.Reason != "replace" || got.Attempts != 1 {
		t.Fatalf("task = %+v", got)
	}
	if n := streamLen(t, q, ctx); n != 0 {
		t.Fatalf("stream len = %d, want 0", n)
	}
}

func TestHandleMessageRequeuesWithAttemptCount(t *testing.T) {
	q, ctx := newTestQueue(t, 3)
	if err := q.Enqueue(ctx, "profile_images/b.png", "delete"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	fail := func(context.Context, Task) error { return errors.New("storage offline") }
	q.handleMessage(ctx, readOne(t, q, ctx), fail)

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected original message acked, %d pending", pending.Count)
	}
	retry, ok := decodeTask(readOne(t, q, ctx).Values)
	if !ok || retry.Key != "profile_images/b.png" || retry.Attempts != 1 {
		t.Fatalf("retry = %+v ok=%v", retry, ok)
	}
}

func TestHandleMessageGivesUpAfterMaxRetries(t *testing.T) {
	q, ctx := newTestQueue(t, 1)
	if err := q.Enqueue(ctx, "profile_images/c.png", "delete"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.handleMessage(ctx, readOne(t, q, ctx), func(context.Context, Task) error { return errors.New("still failing") })
	if n := streamLen(t, q, ctx); n != 0 {
		t.Fatalf("stream len = %d, want 0", n)
	}
}

func TestRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx := newTestQueue(t, 3)
	if err := q.Enqueue(ctx, "profile_images/d.png", "delete"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readOne(t, q, ctx)
	task, _ := decodeTask(msg.Values)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceled, msg.ID, task); err == nil {
		t.Fatal("expected requeueAndAck to fail on canceled context")
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	if n := streamLen(t, q, ctx); n != 1 {
		t.Fatalf("stream len = %d, want 1", n)
	}
}

func TestDecodeTaskRejectsIncompleteMessage(t *testing.T) {
	if _, ok := decodeTask(map[string]any{"key": "k"}); ok {
		t.Fatal("expected message without task id to be rejected")
	}
}
