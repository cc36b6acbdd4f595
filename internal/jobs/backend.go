package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/queue"
	"catalog-import-service/internal/store"
	"catalog-import-service/internal/telemetry"
)

// Store is the durable job record the backend writes at submission.
type Store interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkFailed(ctx context.Context, id, message string) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// Queue carries job ids from submitters to workers.
type Queue interface {
	Enqueue(ctx context.Context, jobID, priority string) error
	FailedPeek(ctx context.Context, count int64) ([]string, error)
}

// Backend submits jobs and answers polls. Persisting the record before the id
// is enqueued means a worker never dequeues an id it cannot load.
type Backend struct {
	store Store
	queue Queue
	log   *zap.Logger
}

func NewBackend(st Store, q Queue, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{store: st, queue: q, log: log}
}

// Submit records a PENDING job and hands its id to the queue. Webhook
// dispatches ride the high priority lane so notifications are not stuck behind
// long imports.
func (b *Backend) Submit(ctx context.Context, jobType string, payload map[string]any) (models.Job, error) {
	job, err := b.store.CreateJob(ctx, store.CreateJobParams{Type: jobType, Payload: payload})
	if err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}

	priority := queue.PriorityDefault
	if jobType == models.JobTypeWebhookDispatch {
		priority = queue.PriorityHigh
	}
	if err := b.queue.Enqueue(ctx, job.ID, priority); err != nil {
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if ferr := b.store.MarkFailed(ctx, job.ID, msg); ferr != nil {
			b.log.Error("mark unenqueued job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return models.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	if err := b.store.AppendAudit(ctx, job.ID, "submitted", fmt.Sprintf("type=%s priority=%s", jobType, priority)); err != nil {
		b.log.Warn("audit submit", zap.String("job_id", job.ID), zap.Error(err))
	}
	telemetry.JobsSubmitted.WithLabelValues(jobType).Inc()
	b.log.Info("job submitted", zap.String("job_id", job.ID), zap.String("type", jobType), zap.String("priority", priority))
	return job, nil
}

// SubmitImport starts a catalog import of a stored upload.
func (b *Backend) SubmitImport(ctx context.Context, path string) (models.Job, error) {
	if path == "" {
		return models.Job{}, errors.New("import path is required")
	}
	return b.Submit(ctx, models.JobTypeCatalogImport, ImportPayload(path))
}

// Publish turns a catalog event into a webhook dispatch job.
func (b *Backend) Publish(ctx context.Context, eventType string, payload map[string]any) error {
	if !models.ValidEventType(eventType) {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	_, err := b.Submit(ctx, models.JobTypeWebhookDispatch, DispatchPayload(eventType, payload))
	return err
}

// Get returns the job record.
func (b *Backend) Get(ctx context.Context, id string) (models.Job, error) {
	return b.store.GetJob(ctx, id)
}

// Status returns the polling view of a job.
func (b *Backend) Status(ctx context.Context, id string) (models.JobStatus, error) {
	job, err := b.store.GetJob(ctx, id)
	if err != nil {
		return models.JobStatus{}, err
	}
	return job.Status(), nil
}

// Failed lists the most recently failed job ids.
func (b *Backend) Failed(ctx context.Context, count int64) ([]string, error) {
	return b.queue.FailedPeek(ctx, count)
}
