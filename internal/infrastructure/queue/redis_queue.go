// Package queue implements the at-least-once processing queue on Redis.
//
// Layout, for a queue named q:
//
//	q:ready    list  - tasks ready for delivery, JSON payloads
//	q:delayed  zset  - tasks scheduled for later, scored by ready time
//	q:inflight hash  - receipt -> payload for leased tasks
//	q:lease    zset  - receipt scored by lease expiry
//
// Dequeue promotes due delayed tasks and reclaims expired leases before
// blocking on the ready list. Promotion runs under a distributed mutex so
// concurrent consumers do not double-promote.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/infrastructure/metrics"
)

const (
	popTimeout = 2 * time.Second
	sweepEvery = 5 * time.Second
)

// RedisQueue implements media.TaskQueue.
type RedisQueue struct {
	rdb       *redis.Client
	rs        *redsync.Redsync
	name      string
	leaseTTL  time.Duration
	lastSweep time.Time
	log       zerolog.Logger
}

func NewRedisQueue(rdb *redis.Client, name string, leaseTTL time.Duration, log zerolog.Logger) *RedisQueue {
	return &RedisQueue{
		rdb:      rdb,
		rs:       redsync.New(redsyncredis.NewPool(rdb)),
		name:     name,
		leaseTTL: leaseTTL,
		log:      log.With().Str("component", "redis-queue").Str("queue", name).Logger(),
	}
}

func (q *RedisQueue) readyKey() string    { return q.name + ":ready" }
func (q *RedisQueue) delayedKey() string  { return q.name + ":delayed" }
func (q *RedisQueue) inflightKey() string { return q.name + ":inflight" }
func (q *RedisQueue) leaseKey() string    { return q.name + ":lease" }

func (q *RedisQueue) Enqueue(ctx context.Context, task media.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	metrics.QueueOperationsTotal.WithLabelValues("enqueue").Inc()
	return nil
}

func (q *RedisQueue) EnqueueIn(ctx context.Context, task media.Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, task)
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: payload}).Err(); err != nil {
		return fmt.Errorf("schedule task: %w", err)
	}
	metrics.QueueOperationsTotal.WithLabelValues("enqueue").Inc()
	return nil
}

// Dequeue blocks until a task is available or ctx is cancelled. The returned
// task is leased; it redelivers after the lease TTL unless Acked or Nacked.
func (q *RedisQueue) Dequeue(ctx context.Context) (*media.LeasedTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.maybeSweep(ctx)

		res, err := q.rdb.BRPop(ctx, popTimeout, q.readyKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("pop task: %w", err)
		}
		payload := res[1]

		var task media.Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			// Poison payload; drop it rather than wedging the queue.
			q.log.Error().Err(err).Str("payload", payload).Msg("dropping undecodable task payload")
			continue
		}

		receipt := uuid.NewString()
		expiry := float64(time.Now().Add(q.leaseTTL).UnixMilli())
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, q.inflightKey(), receipt, payload)
		pipe.ZAdd(ctx, q.leaseKey(), redis.Z{Score: expiry, Member: receipt})
		if _, err := pipe.Exec(ctx); err != nil {
			// Lease bookkeeping failed; put the task back instead of losing it.
			q.rdb.LPush(ctx, q.readyKey(), payload)
			return nil, fmt.Errorf("lease task: %w", err)
		}

		metrics.QueueOperationsTotal.WithLabelValues("dequeue").Inc()
		return &media.LeasedTask{Task: task, Receipt: receipt}, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, lt *media.LeasedTask) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.inflightKey(), lt.Receipt)
	pipe.ZRem(ctx, q.leaseKey(), lt.Receipt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	metrics.QueueOperationsTotal.WithLabelValues("ack").Inc()
	return nil
}

// Nack releases the lease and reschedules the task, carrying the caller's
// mutations (such as an incremented attempt counter).
func (q *RedisQueue) Nack(ctx context.Context, lt *media.LeasedTask, delay time.Duration) error {
	payload, err := json.Marshal(lt.Task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.inflightKey(), lt.Receipt)
	pipe.ZRem(ctx, q.leaseKey(), lt.Receipt)
	if delay <= 0 {
		pipe.LPush(ctx, q.readyKey(), payload)
	} else {
		readyAt := float64(time.Now().Add(delay).UnixMilli())
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: payload})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("nack task: %w", err)
	}
	metrics.QueueOperationsTotal.WithLabelValues("nack").Inc()
	return nil
}

// maybeSweep promotes due delayed tasks and reclaims expired leases, at most
// once per sweep interval per consumer. The redsync mutex keeps the sweep
// single-writer across processes; losing the lock just means another consumer
// is sweeping.
func (q *RedisQueue) maybeSweep(ctx context.Context) {
	if time.Since(q.lastSweep) < sweepEvery {
		return
	}
	q.lastSweep = time.Now()

	mutex := q.rs.NewMutex(q.name+":sweep", redsync.WithExpiry(10*time.Second), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		return
	}
	defer mutex.UnlockContext(ctx)

	q.promoteDelayed(ctx)
	q.reclaimExpired(ctx)
}

func (q *RedisQueue) promoteDelayed(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now, Count: 100}).Result()
	if err != nil || len(due) == 0 {
		return
	}
	pipe := q.rdb.TxPipeline()
	for _, payload := range due {
		pipe.ZRem(ctx, q.delayedKey(), payload)
		pipe.LPush(ctx, q.readyKey(), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Warn().Err(err).Msg("failed to promote delayed tasks")
	}
}

func (q *RedisQueue) reclaimExpired(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	expired, err := q.rdb.ZRangeByScore(ctx, q.leaseKey(), &redis.ZRangeBy{Min: "-inf", Max: now, Count: 100}).Result()
	if err != nil || len(expired) == 0 {
		return
	}
	for _, receipt := range expired {
		payload, err := q.rdb.HGet(ctx, q.inflightKey(), receipt).Result()
		if err != nil {
			// Acked concurrently; just drop the stale lease entry.
			q.rdb.ZRem(ctx, q.leaseKey(), receipt)
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.HDel(ctx, q.inflightKey(), receipt)
		pipe.ZRem(ctx, q.leaseKey(), receipt)
		pipe.LPush(ctx, q.readyKey(), payload)
		if _, err := pipe.Exec(ctx); err != nil {
			q.log.Warn().Err(err).Str("receipt", receipt).Msg("failed to reclaim expired lease")
			continue
		}
		metrics.QueueOperationsTotal.WithLabelValues("redeliver").Inc()
		q.log.Warn().Str("receipt", receipt).Msg("lease expired, task redelivered")
	}
}

// Depth returns the number of ready and delayed tasks, for health reporting.
func (q *RedisQueue) Depth(ctx context.Context) (ready int64, delayed int64, err error) {
	ready, err = q.rdb.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, 0, err
	}
	delayed, err = q.rdb.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, 0, err
	}
	return ready, delayed, nil
}
