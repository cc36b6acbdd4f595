package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"catalog-import-service/internal/models"
)

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	Type    string
	Payload map[string]any
}

// CreateJob inserts a PENDING job row.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	const msg = "Waiting for a worker"

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, payload, state, status_message, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
	`, id, p.Type, payloadJSON, models.StatePending, msg, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:            id,
		Type:          p.Type,
		Payload:       p.Payload,
		State:         models.StatePending,
		StatusMessage: msg,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Job{}, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, type, payload, state, status_message, progress, result, worker_id, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var payloadJSON, resultJSON []byte
	var workerID pgtype.Text

	if err := row.Scan(&job.ID, &job.Type, &payloadJSON, &job.State, &job.StatusMessage, &job.Progress, &resultJSON, &workerID, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, notFound(err, "job")
	}
	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	job.WorkerID = textPtr(workerID)
	return job, nil
}

// MarkRunning moves a non-terminal job to RUNNING. It reports false when the
// job is already terminal, which happens when a reclaimed lease is delivered
// after another worker finished the job.
func (s *Store) MarkRunning(ctx context.Context, id, workerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = $2, status_message = 'Running', worker_id = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1 AND state IN ($4, $2)
	`, id, models.StateRunning, workerID, models.StatePending)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProgress records best-effort progress for a RUNNING job. Progress never
// moves backwards.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2), status_message = $3, updated_at = NOW()
		WHERE id = $1 AND state = $4
	`, id, progress, message, models.StateRunning)
	return err
}

// MarkSucceeded transitions a job to SUCCEEDED with progress 100.
func (s *Store) MarkSucceeded(ctx context.Context, id, message string, result map[string]any) error {
	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = b
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $2, status_message = $3, progress = 100, result = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.StateSucceeded, message, resultJSON)
	return err
}

// MarkFailed transitions a job to FAILED with the error text.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $2, status_message = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.StateFailed, message)
	return err
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_audit (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}
