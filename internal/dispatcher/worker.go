package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/debooklet/internal/convert"
	"github.com/local/debooklet/internal/logger"
	"github.com/local/debooklet/internal/metrics"
	"github.com/local/debooklet/internal/queue"
	"github.com/local/debooklet/internal/store"
)

type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, *queue.Job, error)
	Ack(ctx context.Context, msgID string) error
	EnqueueDelayed(ctx context.Context, job queue.Job, executeAt time.Time) error
	AddDLQ(ctx context.Context, job queue.Job, reason string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	IsIdemDone(ctx context.Context, key string) (bool, error)
	MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error
	Depths(ctx context.Context) (stream, delayed, dlq int64, err error)
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type ResultStore interface {
	Save(ctx context.Context, jobID string, data []byte, outputRef string) (string, error)
}

type Config struct {
	Concurrency       int
	ConversionTimeout time.Duration
	FetchTimeout      time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	ResultTTL         time.Duration
	PollTimeout       time.Duration
	DepthInterval     time.Duration
}

type Dependencies struct {
	Queue   Queue
	Status  StatusStore
	Fetcher Fetcher
	Results ResultStore
}

// Worker runs Concurrency consumers. Each consumer converts one job at a
// time; jobs never share state.
type Worker struct {
	cfg  Config
	deps Dependencies

	stop     chan struct{}
	wg       sync.WaitGroup
	runCtx   context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func New(cfg Config, deps Dependencies) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{cfg: cfg, deps: deps, stop: make(chan struct{}), runCtx: ctx, cancel: cancel}
}

func (w *Worker) Start() {
	host, _ := os.Hostname()
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(fmt.Sprintf("%s-%d", host, i))
	}
	w.wg.Add(1)
	go w.reportDepths()
}

// Stop stops taking new jobs and waits for in-flight conversions. When ctx
// expires first, running conversions are cancelled.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) loop(consumer string) {
	defer w.wg.Done()
	log.Info().Str("consumer", consumer).Msg("dispatcher worker started")
	for !w.stopping() {
		msgID, job, err := w.deps.Queue.Dequeue(w.runCtx, consumer, w.cfg.PollTimeout)
		if err != nil {
			if w.runCtx.Err() != nil {
				break
			}
			log.Error().Err(err).Str("consumer", consumer).Msg("queue dequeue error")
			if msgID != "" {
				// undecodable entry; drop it so it is not redelivered forever
				_ = w.deps.Queue.Ack(w.runCtx, msgID)
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if job == nil {
			continue
		}

		w.Process(w.runCtx, *job)
		if err := w.deps.Queue.Ack(context.Background(), msgID); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("ack failed")
		}
	}
	log.Info().Str("consumer", consumer).Msg("dispatcher worker stopped")
}

func (w *Worker) reportDepths() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(w.runCtx, 2*time.Second)
			s, d, q, err := w.deps.Queue.Depths(ctx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("queue depth check failed")
				continue
			}
			metrics.SetQueueDepth("stream", s)
			metrics.SetQueueDepth("delayed", d)
			metrics.SetQueueDepth("dlq", q)
		}
	}
}

// Process runs one job to a terminal state or reschedules it. Failures are
// recorded in the status store, never returned.
func (w *Worker) Process(ctx context.Context, job queue.Job) {
	jl := logger.ForJob(job.ID)

	if cancelled, _ := w.deps.Queue.IsCancelled(ctx, job.ID); cancelled {
		jl.Warn().Msg("job cancelled before processing; skipping")
		w.finish(ctx, job.ID, store.StateCancelled, "Cancelled", nil)
		metrics.IncJob(store.StateCancelled)
		return
	}
	if done, _ := w.deps.Queue.IsIdemDone(ctx, job.IdempotencyKey()); done {
		jl.Info().Msg("job already completed; skipping redelivery")
		return
	}

	w.update(ctx, job.ID, func(st *store.Status) {
		st.Status = store.StateProcessing
		st.Progress = 0
		st.Message = fmt.Sprintf("processing (attempt %d)", job.Attempt)
	})
	jl.Info().Str("input", job.InputRef).Int("attempt", job.Attempt).Msg("job started")

	loc, rep, err := w.run(ctx, job, jl)
	if err != nil {
		w.fail(ctx, job, err, jl)
		return
	}

	meta := map[string]any{
		"result_location": loc,
		"sheets":          rep.Sheets,
		"pages":           rep.Pages,
		"duration_ms":     rep.Duration.Milliseconds(),
	}
	if !strings.HasPrefix(loc, "s3://") {
		meta["result_local_path"] = loc
	}
	w.finish(ctx, job.ID, store.StateSuccess, "completed", meta)
	_ = w.deps.Queue.MarkIdemDone(ctx, job.IdempotencyKey(), w.cfg.ResultTTL)
	metrics.IncJob(store.StateSuccess)
	jl.Info().Str("result", loc).Int("pages", rep.Pages).Msg("job completed")
}

func (w *Worker) run(ctx context.Context, job queue.Job, jl zerolog.Logger) (string, *convert.Report, error) {
	fetchCtx, cancelFetch := withOptionalTimeout(ctx, w.cfg.FetchTimeout)
	data, err := w.deps.Fetcher.Fetch(fetchCtx, job.InputRef)
	cancelFetch()
	if err != nil {
		return "", nil, &StageError{JobID: job.ID, Stage: "fetch", Err: err}
	}

	convCtx, cancelConv := withOptionalTimeout(ctx, w.cfg.ConversionTimeout)
	defer cancelConv()

	out, rep, err := convert.ConvertBytes(convCtx, data,
		convert.WithLogger(jl),
		convert.WithProgress(func(done, total int) {
			if cancelled, _ := w.deps.Queue.IsCancelled(convCtx, job.ID); cancelled {
				cancelConv()
				return
			}
			w.update(convCtx, job.ID, func(st *store.Status) {
				st.Progress = done * 100 / total
				st.Message = fmt.Sprintf("page %d of %d", done, total)
			})
		}))
	if err != nil {
		return "", rep, &StageError{JobID: job.ID, Stage: "convert", Err: err}
	}

	loc, err := w.deps.Results.Save(ctx, job.ID, out, job.OutputRef)
	if err != nil {
		return "", rep, &StageError{JobID: job.ID, Stage: "store", Err: err}
	}
	return loc, rep, nil
}

func (w *Worker) fail(ctx context.Context, job queue.Job, err error, jl zerolog.Logger) {
	if cancelled, _ := w.deps.Queue.IsCancelled(context.Background(), job.ID); cancelled {
		jl.Warn().Err(err).Msg("job cancelled during processing")
		w.finish(context.Background(), job.ID, store.StateCancelled, "Cancelled", nil)
		metrics.IncJob(store.StateCancelled)
		return
	}

	// Shutdown interrupted the job; hand it back for another worker.
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		jl.Warn().Msg("job interrupted by shutdown; requeueing")
		w.retry(context.Background(), job, 0, jl)
		return
	}

	if isFatalError(err) || job.Attempt >= w.cfg.MaxAttempts {
		reason := err.Error()
		if isTimeoutError(err) {
			reason = "timed out: " + reason
		}
		if dlqErr := w.deps.Queue.AddDLQ(ctx, job, reason); dlqErr != nil {
			jl.Error().Err(dlqErr).Msg("failed to add job to DLQ")
		}
		w.finish(ctx, job.ID, store.StateFailed, reason, map[string]any{"attempts": job.Attempt})
		metrics.IncJob("dlq")
		jl.Error().Err(err).Bool("fatal", isFatalError(err)).Int("attempt", job.Attempt).Msg("job failed")
		return
	}

	jl.Warn().Err(err).Int("attempt", job.Attempt).Msg("job failed; scheduling retry")
	w.retry(ctx, job, retryDelay(w.cfg.RetryBaseDelay, job.Attempt), jl)
}

func (w *Worker) retry(ctx context.Context, job queue.Job, delay time.Duration, jl zerolog.Logger) {
	next := job
	if delay > 0 {
		next.Attempt++
	}
	if err := w.deps.Queue.EnqueueDelayed(ctx, next, time.Now().Add(delay)); err != nil {
		jl.Error().Err(err).Msg("failed to reschedule job")
		w.finish(ctx, job.ID, store.StateFailed, "reschedule failed: "+err.Error(), nil)
		return
	}
	w.update(ctx, job.ID, func(st *store.Status) {
		st.Status = store.StateQueued
		st.Message = fmt.Sprintf("retry scheduled (attempt %d)", next.Attempt)
	})
	metrics.IncJob("retry")
}

// retryDelay returns the exponential backoff delay after attempt failures.
func retryDelay(base time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (w *Worker) update(ctx context.Context, jobID string, fn func(*store.Status)) {
	st, ok, err := w.deps.Status.Get(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("status read failed")
	}
	if !ok {
		now := time.Now()
		st = store.Status{Start: &now}
	}
	fn(&st)
	if err := w.deps.Status.Set(ctx, jobID, st); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("status write failed")
	}
}

func (w *Worker) finish(ctx context.Context, jobID, state, msg string, meta map[string]any) {
	w.update(ctx, jobID, func(st *store.Status) {
		now := time.Now()
		st.Status = state
		st.Message = msg
		st.End = &now
		if state == store.StateSuccess {
			st.Progress = 100
		}
		if len(meta) > 0 && st.Metadata == nil {
			st.Metadata = map[string]any{}
		}
		for k, v := range meta {
			st.Metadata[k] = v
		}
	})
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
