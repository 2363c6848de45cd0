package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/repository"
	"ai-chat-pipeline/internal/infra/metrics"
	"ai-chat-pipeline/internal/infra/redis"
)

// BatchResult summarizes one claim-and-process cycle.
type BatchResult struct {
	Processed        int
	Failed           int
	Elapsed          time.Duration
	NextJobAvailable bool
}

// failureMirror is implemented by processors that keep a specialized row in
// sync with the queue row.
type failureMirror interface {
	RecordFailure(ctx context.Context, job *model.QueueJob, queueStatus model.QueueJobStatus, retryCount int, cause error)
}

// Runner claims batches from the queue and dispatches them to processors by
// job type. Multiple runner instances compete safely: claiming is atomic at
// the store, so a job executes on exactly one of them per lease.
type Runner struct {
	queue      repository.QueueJobRepository
	workers    repository.WorkerStatusRepository
	locker     redis.Locker
	processors map[string]Processor

	workerID  string
	lease     time.Duration
	idleEvery time.Duration
	busyEvery time.Duration

	running   atomic.Bool
	lockToken string
	status    *model.WorkerStatus
	log       *zerolog.Logger
}

func NewRunner(
	queue repository.QueueJobRepository,
	workers repository.WorkerStatusRepository,
	locker redis.Locker,
	processors []Processor,
	workerID string,
	lease, idleEvery, busyEvery time.Duration,
	log *zerolog.Logger,
) *Runner {
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()
	}
	byType := make(map[string]Processor, len(processors))
	for _, p := range processors {
		byType[p.JobType()] = p
	}
	return &Runner{
		queue:      queue,
		workers:    workers,
		locker:     locker,
		processors: byType,
		workerID:   workerID,
		lease:      lease,
		idleEvery:  idleEvery,
		busyEvery:  busyEvery,
		log:        log,
	}
}

func (r *Runner) WorkerID() string { return r.workerID }

func (r *Runner) jobTypes() []string {
	out := make([]string, 0, len(r.processors))
	for t := range r.processors {
		out = append(out, t)
	}
	return out
}

// Register fences the worker id with a distributed lock and records the
// worker row. Call Deregister when done.
func (r *Runner) Register(ctx context.Context, runBudget time.Duration) error {
	if r.locker != nil {
		token, err := r.locker.TryLock(ctx, "worker:"+r.workerID, runBudget+r.lease)
		if err != nil {
			if err == domain.ErrAlreadyExists {
				return domain.ErrWorkerBusy
			}
			return err
		}
		r.lockToken = token
	}
	r.status = model.NewWorkerStatus(r.workerID)
	return r.workers.Upsert(ctx, nil, r.status)
}

func (r *Runner) Deregister(ctx context.Context) {
	if err := r.workers.MarkOffline(ctx, nil, r.workerID); err != nil {
		r.log.Error().Err(err).Str("worker_id", r.workerID).Msg("mark offline failed")
	}
	if r.locker != nil && r.lockToken != "" {
		if err := r.locker.Unlock(ctx, "worker:"+r.workerID, r.lockToken); err != nil {
			r.log.Error().Err(err).Str("worker_id", r.workerID).Msg("worker lock release failed")
		}
		r.lockToken = ""
	}
}

// RunBatch claims up to batchSize jobs and processes them sequentially.
// jobTypes nil means all registered types.
func (r *Runner) RunBatch(ctx context.Context, batchSize int, jobTypes []string) (BatchResult, error) {
	if len(jobTypes) == 0 {
		jobTypes = r.jobTypes()
	}
	start := time.Now()

	jobs, err := r.queue.ClaimBatch(ctx, r.workerID, batchSize, jobTypes, r.lease)
	if err != nil {
		return BatchResult{}, err
	}
	metrics.ObserveBatch(len(jobs))

	res := BatchResult{}
	for _, job := range jobs {
		if err := r.ExecuteClaimed(ctx, job, nil); err != nil {
			res.Failed++
		} else {
			res.Processed++
		}
	}
	res.Elapsed = time.Since(start)
	r.recordStats(ctx, res)

	more, err := r.queue.HasMoreJobs(ctx, jobTypes)
	if err != nil {
		r.log.Error().Err(err).Msg("has-more check failed")
	}
	res.NextJobAvailable = more
	return res, nil
}

func (r *Runner) recordStats(ctx context.Context, res BatchResult) {
	if r.status == nil {
		return
	}
	r.status.RecordBatch(res.Processed, res.Failed, res.Elapsed)
	if err := r.workers.Upsert(ctx, nil, r.status); err != nil {
		r.log.Error().Err(err).Str("worker_id", r.workerID).Msg("worker status upsert failed")
	}
}

// WithWorkerID returns a runner bound to workerID that shares this runner's
// stores and processors. An empty id keeps the current one. The returned
// runner carries its own registration state, so single-shot runs never
// disturb a live continuous loop on the receiver.
func (r *Runner) WithWorkerID(workerID string) *Runner {
	if workerID == "" {
		workerID = r.workerID
	}
	run := NewRunner(r.queue, r.workers, r.locker, nil, workerID, r.lease, r.idleEvery, r.busyEvery, r.log)
	run.processors = r.processors
	return run
}

// RunOnce wraps a single batch in the full worker lifecycle: register,
// process, record stats, guaranteed offline mark.
func (r *Runner) RunOnce(ctx context.Context, batchSize int, jobTypes []string) (BatchResult, error) {
	if err := r.Register(ctx, r.lease); err != nil {
		return BatchResult{}, err
	}
	defer r.Deregister(context.Background())
	return r.RunBatch(ctx, batchSize, jobTypes)
}

// ProcessByID claims one named job and executes it under the same lifecycle
// as RunOnce.
func (r *Runner) ProcessByID(ctx context.Context, jobID string) (BatchResult, error) {
	if err := r.Register(ctx, r.lease); err != nil {
		return BatchResult{}, err
	}
	defer r.Deregister(context.Background())

	start := time.Now()
	job, err := r.queue.ClaimByID(ctx, r.workerID, jobID, r.lease)
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{}
	if execErr := r.ExecuteClaimed(ctx, job, nil); execErr != nil {
		res.Failed = 1
	} else {
		res.Processed = 1
	}
	res.Elapsed = time.Since(start)
	r.recordStats(ctx, res)

	more, err := r.queue.HasMoreJobs(ctx, nil)
	if err != nil {
		r.log.Error().Err(err).Msg("has-more check failed")
	}
	res.NextJobAvailable = more
	return res, nil
}

// ExecuteClaimed runs one already-claimed job to its terminal or retry
// state. The returned error reports the processing outcome; queue and
// mirror rows are updated regardless.
func (r *Runner) ExecuteClaimed(ctx context.Context, job *model.QueueJob, onChunk func(string)) error {
	log := r.log.With().Str("job_id", job.ID).Str("job_type", job.JobType).Logger()
	proc, ok := r.processors[job.JobType]
	if !ok {
		err := domain.E(domain.KindValidation, "no processor for job type "+job.JobType)
		r.finishFailure(ctx, job, proc, err)
		return err
	}

	start := time.Now()
	result, err := proc.Process(ctx, job, onChunk)
	elapsed := time.Since(start).Milliseconds()
	metrics.ObserveProcessing(job.JobType, elapsed)

	if err != nil {
		log.Error().Err(err).Int("retry_count", job.RetryCount).Msg("job processing failed")
		r.finishFailure(ctx, job, proc, err)
		return err
	}

	if err := r.queue.UpdateStatus(ctx, nil, job.ID, model.QueueStatusCompleted, result, ""); err != nil {
		log.Error().Err(err).Msg("completed status write failed")
		return err
	}
	metrics.IncProcessed(job.JobType, string(model.QueueStatusCompleted))
	log.Info().Dur("duration", time.Duration(elapsed)*time.Millisecond).Msg("job completed")
	return nil
}

// finishFailure applies the retry policy: retryable errors go back to the
// queue with backoff, everything else fails terminally. The processor's
// mirror row follows the queue row either way.
func (r *Runner) finishFailure(ctx context.Context, job *model.QueueJob, proc Processor, cause error) {
	msg := cause.Error()

	if domain.Retryable(cause) {
		nextCount := job.RetryCount + 1
		status, err := r.queue.ScheduleRetry(ctx, nil, job.ID, nextCount, job.MaxRetries, msg)
		if err != nil {
			r.log.Error().Err(err).Str("job_id", job.ID).Msg("schedule retry failed")
			return
		}
		if status == model.QueueStatusQueued {
			metrics.IncRetried(job.JobType)
		} else {
			metrics.IncProcessed(job.JobType, string(status))
		}
		r.mirrorFailure(ctx, job, proc, status, nextCount, cause)
		return
	}

	if err := r.queue.UpdateStatus(ctx, nil, job.ID, model.QueueStatusFailed, nil, msg); err != nil {
		r.log.Error().Err(err).Str("job_id", job.ID).Msg("failed status write failed")
		return
	}
	metrics.IncProcessed(job.JobType, string(model.QueueStatusFailed))
	r.mirrorFailure(ctx, job, proc, model.QueueStatusFailed, job.RetryCount, cause)
}

func (r *Runner) mirrorFailure(ctx context.Context, job *model.QueueJob, proc Processor, status model.QueueJobStatus, retryCount int, cause error) {
	if m, ok := proc.(failureMirror); ok {
		m.RecordFailure(ctx, job, status, retryCount, cause)
	}
}

// RunContinuous polls the queue until ctx is done or maxDuration elapses.
// Only one continuous loop may run per Runner; a second call is rejected
// with ErrWorkerBusy while the first is live.
func (r *Runner) RunContinuous(ctx context.Context, batchSize int, maxDuration time.Duration) error {
	if !r.running.CompareAndSwap(false, true) {
		return domain.ErrWorkerBusy
	}
	defer r.running.Store(false)

	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	if err := r.Register(ctx, maxDuration); err != nil {
		return err
	}
	defer r.Deregister(context.Background())

	r.log.Info().Str("worker_id", r.workerID).Msg("continuous worker started")
	for {
		res, err := r.RunBatch(ctx, batchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info().Str("worker_id", r.workerID).Msg("continuous worker stopping")
				return nil
			}
			r.log.Error().Err(err).Msg("batch failed")
		}

		wait := r.idleEvery
		if res.NextJobAvailable {
			wait = r.busyEvery
		}
		select {
		case <-ctx.Done():
			r.log.Info().Str("worker_id", r.workerID).Msg("continuous worker stopping")
			return nil
		case <-time.After(wait):
		}
	}
}
