package processing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/infrastructure/metrics"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// Worker runs the background processing pipeline: it dequeues tasks, executes
// attempts on a bounded pool and applies the retry policy to the outcomes.
type Worker struct {
	cfg      *config.Config
	repo     media.Repository
	blobs    media.BlobStore
	index    media.VectorIndex
	embedder media.Embedder
	prober   VideoProber
	queue    media.TaskQueue
	policy   Policy
	pool     *ants.Pool
	log      zerolog.Logger

	// inflight dedupes concurrent deliveries of the same asset within this
	// process. Cross-process exclusion comes from the queue lease.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewWorker builds a Worker with a pool sized from configuration.
func NewWorker(
	cfg *config.Config,
	repo media.Repository,
	blobs media.BlobStore,
	index media.VectorIndex,
	embedder media.Embedder,
	prober VideoProber,
	queue media.TaskQueue,
	log zerolog.Logger,
) (*Worker, error) {
	pool, err := ants.NewPool(cfg.WorkerCount, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Worker{
		cfg:      cfg,
		repo:     repo,
		blobs:    blobs,
		index:    index,
		embedder: embedder,
		prober:   prober,
		queue:    queue,
		policy: Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		pool:     pool,
		log:      log.With().Str("component", "processing-worker").Logger(),
		inflight: make(map[string]struct{}),
	}, nil
}

// Run blocks on the queue until ctx is cancelled, dispatching each leased task
// to the pool. Pool submission blocks when all workers are busy, which also
// throttles dequeueing.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Int("workers", w.cfg.WorkerCount).Msg("processing worker started")
	for {
		lt, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.log.Info().Msg("processing worker stopping")
				return
			}
			w.log.Error().Err(err).Msg("dequeue failed, backing off")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if lt == nil {
			continue
		}
		task := lt
		if err := w.pool.Submit(func() { w.handle(ctx, task) }); err != nil {
			w.log.Error().Err(err).Str("asset_id", task.AssetID).Msg("pool submit failed, releasing task")
			w.nack(ctx, task, w.policy.BaseDelay)
		}
	}
}

// Close drains the pool. Call after the Run context is cancelled.
func (w *Worker) Close() {
	w.pool.Release()
}

// handle processes one leased task end to end: dedup, run the attempt under
// the soft timeout, then settle with the queue according to the retry
// decision.
func (w *Worker) handle(ctx context.Context, lt *media.LeasedTask) {
	if !w.tryAcquire(lt.AssetID) {
		// Another goroutine in this process holds the asset. Push the
		// delivery back a little rather than racing it.
		metrics.ProcessingTasksTotal.WithLabelValues("duplicate").Inc()
		w.nack(ctx, lt, w.policy.BaseDelay)
		return
	}
	defer w.release(lt.AssetID)

	start := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskSoftTimeout)
	fileType, err := w.runAttempt(attemptCtx, lt.Task)
	cancel()

	d := w.policy.Decide(lt.Attempt, err)
	switch d.Outcome {
	case OutcomeSuccess:
		metrics.ProcessingTasksTotal.WithLabelValues("committed").Inc()
		if fileType != "" {
			metrics.ProcessingDuration.WithLabelValues(fileType).Observe(time.Since(start).Seconds())
		}
		if ackErr := w.queue.Ack(ctx, lt); ackErr != nil {
			// The task redelivers after the lease expires; the processed
			// check in runAttempt absorbs it.
			w.log.Warn().Err(ackErr).Str("asset_id", lt.AssetID).Msg("ack failed after successful commit")
		}

	case OutcomeRetry:
		metrics.ProcessingTasksTotal.WithLabelValues("retried").Inc()
		w.log.Warn().Err(d.Err).
			Str("asset_id", lt.AssetID).
			Int("attempt", lt.Attempt).
			Dur("delay", d.Delay).
			Msg("attempt failed, scheduling retry")
		w.recordError(ctx, lt.AssetID, d.Err)
		lt.Attempt++
		w.nack(ctx, lt, d.Delay)

	case OutcomeFail:
		outcome := "exhausted"
		if platformerrors.IsPermanent(d.Err) {
			outcome = "permanent"
		}
		metrics.ProcessingTasksTotal.WithLabelValues(outcome).Inc()
		w.log.Error().Err(d.Err).
			Str("asset_id", lt.AssetID).
			Int("attempt", lt.Attempt).
			Msg("giving up on task, asset stays unprocessed")
		w.recordError(ctx, lt.AssetID, d.Err)
		if ackErr := w.queue.Ack(ctx, lt); ackErr != nil {
			w.log.Warn().Err(ackErr).Str("asset_id", lt.AssetID).Msg("ack failed for abandoned task")
		}
	}
}

func (w *Worker) tryAcquire(assetID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[assetID]; busy {
		return false
	}
	w.inflight[assetID] = struct{}{}
	return true
}

func (w *Worker) release(assetID string) {
	w.mu.Lock()
	delete(w.inflight, assetID)
	w.mu.Unlock()
}

func (w *Worker) nack(ctx context.Context, lt *media.LeasedTask, delay time.Duration) {
	if err := w.queue.Nack(ctx, lt, delay); err != nil {
		// The lease TTL eventually redelivers the task anyway.
		w.log.Warn().Err(err).Str("asset_id", lt.AssetID).Msg("nack failed, relying on lease expiry")
	}
}

func (w *Worker) recordError(ctx context.Context, assetID string, attemptErr error) {
	if attemptErr == nil {
		return
	}
	if err := w.repo.RecordError(ctx, assetID, attemptErr.Error()); err != nil {
		w.log.Warn().Err(err).Str("asset_id", assetID).Msg("failed to record last error on asset")
	}
}
