package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"catalog-import-service/internal/catalog"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/store"
	"catalog-import-service/internal/telemetry"
)

// JobStore is the job state the worker reads and transitions.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkRunning(ctx context.Context, id, workerID string) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress int, message string) error
	MarkSucceeded(ctx context.Context, id, message string, result map[string]any) error
	MarkFailed(ctx context.Context, id, message string) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// JobQueue is the leased queue the worker pulls from.
type JobQueue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, jobID string) error
	Ack(ctx context.Context, jobID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	FailedPush(ctx context.Context, jobID string) error
	ReadyDepth(ctx context.Context) (int64, error)
}

// Publisher hands events to the webhook pipeline.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) error
}

// Event is published once the job that produced it has reached a terminal
// state.
type Event struct {
	Type    string
	Payload map[string]any
}

// Outcome is what a handler leaves on the job record. Events are honoured on
// failure too.
type Outcome struct {
	Message string
	Result  map[string]any
	Events  []Event
}

// Handler executes a job for a given type.
type Handler func(ctx context.Context, job models.Job, rep *Reporter) (Outcome, error)

// Processor drives the worker execution loop.
type Processor struct {
	cfg      config.Config
	queue    JobQueue
	store    JobStore
	handlers map[string]Handler
	events   Publisher
	workerID string
	log      *zap.Logger
}

func NewProcessor(cfg config.Config, q JobQueue, st JobStore, log *zap.Logger) *Processor {
	return NewProcessorWithID(cfg, q, st, "", log)
}

// NewProcessorWithID creates a processor with a specific worker ID for tracking.
func NewProcessorWithID(cfg config.Config, q JobQueue, st JobStore, workerID string, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		handlers: make(map[string]Handler),
		workerID: workerID,
		log:      log.With(zap.String("worker_id", workerID)),
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// SetPublisher routes handler events to pub. Without one they are dropped.
func (p *Processor) SetPublisher(pub Publisher) {
	p.events = pub
}

// Run starts WorkerConcurrency loops and blocks until ctx is cancelled. A job
// that has started is always run to completion, so shutdown waits for
// in-flight work.
func (p *Processor) Run(ctx context.Context) error {
	n := p.cfg.WorkerConcurrency
	if n <= 0 {
		n = 1
	}
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error { return p.loop(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) loop(ctx context.Context) error {
	poll := p.cfg.WorkerPollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		worked, err := p.ProcessNext(ctx)
		if err != nil {
			p.log.Warn("worker iteration failed", zap.Error(err))
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// ProcessNext reclaims expired leases, then leases and runs at most one job.
// It reports whether a job id was dequeued.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	if reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100); err != nil {
		p.log.Warn("requeue expired leases", zap.Error(err))
	} else if len(reclaimed) > 0 {
		p.log.Info("reclaimed expired leases", zap.Strings("job_ids", reclaimed))
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}

	jobID, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if jobID == "" {
		return false, nil
	}

	// The job runs to completion even if the worker is asked to stop.
	p.process(context.WithoutCancel(ctx), jobID)
	return true, nil
}

func (p *Processor) process(ctx context.Context, jobID string) {
	log := p.log.With(zap.String("job_id", jobID))

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("dropping queue entry for unknown job")
			_ = p.queue.Ack(ctx, jobID)
		} else {
			log.Error("load job", zap.Error(err))
		}
		return
	}
	log = log.With(zap.String("type", job.Type))

	started, err := p.store.MarkRunning(ctx, job.ID, p.workerID)
	if err != nil {
		log.Error("mark running", zap.Error(err))
		return
	}
	if !started {
		log.Info("job already terminal, acking redelivery", zap.String("state", job.State))
		_ = p.queue.Ack(ctx, job.ID)
		return
	}
	job.State = models.StateRunning
	_ = p.store.AppendAudit(ctx, job.ID, "started", "worker="+p.workerID)

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	start := time.Now()
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeat(hbCtx, job.ID, log)
	}()
	out, err := p.runJob(ctx, job, &Reporter{jobID: job.ID, store: p.store, queue: p.queue, log: log})
	stopHeartbeat()
	<-hbDone

	if err != nil {
		msg := err.Error()
		if ferr := p.store.MarkFailed(ctx, job.ID, msg); ferr != nil {
			log.Error("mark failed", zap.Error(ferr))
		}
		_ = p.queue.FailedPush(ctx, job.ID)
		_ = p.queue.Ack(ctx, job.ID)
		_ = p.store.AppendAudit(ctx, job.ID, "failed", msg)
		telemetry.JobsFailed.WithLabelValues(job.Type).Inc()
		if catalog.IsValidation(err) {
			log.Warn("job rejected its input", zap.Error(err))
		} else {
			log.Error("job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		}
		p.publish(ctx, out.Events, log)
		return
	}

	if out.Message == "" {
		out.Message = "Completed"
	}
	if serr := p.store.MarkSucceeded(ctx, job.ID, out.Message, out.Result); serr != nil {
		log.Error("mark succeeded", zap.Error(serr))
	}
	_ = p.queue.Ack(ctx, job.ID)
	_ = p.store.AppendAudit(ctx, job.ID, "succeeded", out.Message)
	telemetry.JobsSucceeded.WithLabelValues(job.Type).Inc()
	log.Info("job succeeded", zap.Duration("elapsed", time.Since(start)), zap.String("message", out.Message))
	p.publish(ctx, out.Events, log)
}

// heartbeat extends the job's lease every third of the visibility timeout
// until ctx is cancelled, so a long or quiet handler is never reclaimed.
func (p *Processor) heartbeat(ctx context.Context, jobID string, log *zap.Logger) {
	visibility := p.cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	ticker := time.NewTicker(visibility / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, jobID); err != nil && ctx.Err() == nil {
				log.Warn("extend lease", zap.Error(err))
			}
		}
	}
}

// publish is best effort: the job outcome is already recorded.
func (p *Processor) publish(ctx context.Context, events []Event, log *zap.Logger) {
	if p.events == nil {
		return
	}
	for _, ev := range events {
		if err := p.events.Publish(ctx, ev.Type, ev.Payload); err != nil {
			log.Warn("publish event", zap.String("event", ev.Type), zap.Error(err))
		}
	}
}

// runJob isolates a handler panic to the job it belongs to.
func (p *Processor) runJob(ctx context.Context, job models.Job, rep *Reporter) (out Outcome, err error) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		return Outcome{}, fmt.Errorf("no handler registered for type %q", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job, rep)
}

// Reporter writes best-effort progress for one running job and keeps its lease
// alive.
type Reporter struct {
	jobID string
	store JobStore
	queue JobQueue
	log   *zap.Logger
}

// Progress records percent and message. A failed write is returned to the
// caller, which is expected to log it and carry on.
func (r *Reporter) Progress(ctx context.Context, percent int, message string) error {
	if err := r.queue.ExtendLease(ctx, r.jobID); err != nil {
		r.log.Warn("extend lease", zap.Error(err))
	}
	if err := r.store.UpdateProgress(ctx, r.jobID, percent, message); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}
