package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"catalog-import-service/internal/catalog"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/jobs"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/queue"
	"catalog-import-service/internal/store"
)

type fakeJobStore struct {
	mu       sync.Mutex
	jobs     map[string]models.Job
	progress map[string][]int
}

func newFakeJobStore(jobs ...models.Job) *fakeJobStore {
	s := &fakeJobStore{jobs: map[string]models.Job{}, progress: map[string][]int{}}
	for _, j := range jobs {
		if j.State == "" {
			j.State = models.StatePending
		}
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeJobStore) get(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *fakeJobStore) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return j, nil
}

func (s *fakeJobStore) MarkRunning(_ context.Context, id, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.Terminal() {
		return false, nil
	}
	j.State = models.StateRunning
	s.jobs[id] = j
	return true, nil
}

func (s *fakeJobStore) UpdateProgress(_ context.Context, id string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if progress > j.Progress {
		j.Progress = progress
	}
	j.StatusMessage = message
	s.jobs[id] = j
	s.progress[id] = append(s.progress[id], progress)
	return nil
}

func (s *fakeJobStore) MarkSucceeded(_ context.Context, id, message string, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.State, j.StatusMessage, j.Progress, j.Result = models.StateSucceeded, message, 100, result
	s.jobs[id] = j
	return nil
}

func (s *fakeJobStore) MarkFailed(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.State, j.StatusMessage = models.StateFailed, message
	s.jobs[id] = j
	return nil
}

func (s *fakeJobStore) AppendAudit(context.Context, string, string, string) error { return nil }

func newTestQueue(t *testing.T) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	return newTestQueueWithVisibility(t, time.Minute)
}

func newTestQueueWithVisibility(t *testing.T, visibility time.Duration) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	q := queue.NewRedisQueueWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), config.Config{
		PriorityQueues:    []string{queue.PriorityHigh, queue.PriorityDefault},
		VisibilityTimeout: visibility,
	})
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func enqueue(t *testing.T, q *queue.RedisQueue, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), id, queue.PriorityDefault))
	}
}

func TestProcessNextSucceeds(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)
	st := newFakeJobStore(models.Job{ID: "j1", Type: "demo"})
	enqueue(t, q, "j1")

	p := NewProcessorWithID(config.Config{}, q, st, "w1", nil)
	p.RegisterHandler("demo", func(ctx context.Context, job models.Job, rep *Reporter) (Outcome, error) {
		require.NoError(t, rep.Progress(ctx, 40, "Processed 1 of 2"))
		require.NoError(t, rep.Progress(ctx, 80, "Processed 2 of 2"))
		return Outcome{Message: "done", Result: map[string]any{"n": 2}}, nil
	})

	worked, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	job := st.get("j1")
	assert.Equal(t, models.StateSucceeded, job.State)
	assert.Equal(t, "done", job.StatusMessage)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, []int{40, 80}, st.progress["j1"])

	inflight, err := mr.ZMembers("queue:inflight")
	if err == nil {
		assert.Empty(t, inflight)
	}
	failed, err := q.FailedPeek(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestProcessNextEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	p := NewProcessor(config.Config{}, q, newFakeJobStore(), nil)
	worked, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestProcessNextRecordsFailure(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	st := newFakeJobStore(models.Job{ID: "j1", Type: "demo"})
	enqueue(t, q, "j1")

	p := NewProcessor(config.Config{}, q, st, nil)
	p.RegisterHandler("demo", func(context.Context, models.Job, *Reporter) (Outcome, error) {
		return Outcome{}, errors.New(`CSV is missing required column "sku"`)
	})

	_, err := p.ProcessNext(ctx)
	require.NoError(t, err)

	job := st.get("j1")
	assert.Equal(t, models.StateFailed, job.State)
	assert.Contains(t, job.StatusMessage, `"sku"`)
	failed, err := q.FailedPeek(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, failed)
}

func TestPanicIsIsolatedToItsJob(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	st := newFakeJobStore(models.Job{ID: "bad", Type: "boom"}, models.Job{ID: "good", Type: "demo"})
	enqueue(t, q, "bad", "good")

	p := NewProcessor(config.Config{}, q, st, nil)
	p.RegisterHandler("boom", func(context.Context, models.Job, *Reporter) (Outcome, error) {
		panic("nil map")
	})
	p.RegisterHandler("demo", func(context.Context, models.Job, *Reporter) (Outcome, error) {
		return Outcome{}, nil
	})

	for i := 0; i < 2; i++ {
		_, err := p.ProcessNext(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, models.StateFailed, st.get("bad").State)
	assert.Contains(t, st.get("bad").StatusMessage, "panicked")
	assert.Equal(t, models.StateSucceeded, st.get("good").State)
	assert.Equal(t, "Completed", st.get("good").StatusMessage)
}

func TestUnknownTypeFails(t *testing.T) {
	q, _ := newTestQueue(t)
	st := newFakeJobStore(models.Job{ID: "j1", Type: "mystery"})
	enqueue(t, q, "j1")

	_, err := NewProcessor(config.Config{}, q, st, nil).ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.get("j1").State)
	assert.Contains(t, st.get("j1").StatusMessage, "no handler")
}

func TestTerminalRedeliveryIsAcked(t *testing.T) {
	q, _ := newTestQueue(t)
	st := newFakeJobStore(models.Job{ID: "j1", Type: "demo", State: models.StateSucceeded, StatusMessage: "done"})
	enqueue(t, q, "j1")

	called := false
	p := NewProcessor(config.Config{}, q, st, nil)
	p.RegisterHandler("demo", func(context.Context, models.Job, *Reporter) (Outcome, error) {
		called = true
		return Outcome{}, nil
	})

	worked, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.False(t, called)
	assert.Equal(t, "done", st.get("j1").StatusMessage)
}

func TestRunDrainsQueueConcurrently(t *testing.T) {
	q, _ := newTestQueue(t)
	st := newFakeJobStore(
		models.Job{ID: "a", Type: "demo"},
		models.Job{ID: "b", Type: "demo"},
		models.Job{ID: "c", Type: "demo"},
	)
	enqueue(t, q, "a", "b", "c")

	p := NewProcessor(config.Config{WorkerConcurrency: 2, WorkerPollInterval: 10 * time.Millisecond}, q, st, nil)
	p.RegisterHandler("demo", func(context.Context, models.Job, *Reporter) (Outcome, error) {
		return Outcome{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool {
		for _, id := range []string{"a", "b", "c"} {
			if st.get(id).State != models.StateSucceeded {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestQuietJobKeepsItsLeasePastVisibility(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{VisibilityTimeout: 100 * time.Millisecond}
	q, _ := newTestQueueWithVisibility(t, cfg.VisibilityTimeout)
	st := newFakeJobStore(models.Job{ID: "j1", Type: "slow"})
	enqueue(t, q, "j1")

	var runs atomic.Int32
	slow := func(context.Context, models.Job, *Reporter) (Outcome, error) {
		runs.Add(1)
		time.Sleep(400 * time.Millisecond)
		return Outcome{}, nil
	}
	a := NewProcessorWithID(cfg, q, st, "a", nil)
	a.RegisterHandler("slow", slow)
	b := NewProcessorWithID(cfg, q, st, "b", nil)
	b.RegisterHandler("slow", slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.ProcessNext(ctx)
	}()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	worked, err := b.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, worked, "lease must still be held by the first worker")

	<-done
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, models.StateSucceeded, st.get("j1").State)
}

type stateRecordingPublisher struct {
	store  *fakeJobStore
	mu     sync.Mutex
	events []string
	states []string
}

func (p *stateRecordingPublisher) Publish(_ context.Context, eventType string, payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	p.states = append(p.states, p.store.get(fmt.Sprint(payload["job_id"])).State)
	return nil
}

func TestEventsPublishedAfterTerminalState(t *testing.T) {
	cases := []struct {
		name      string
		handler   Handler
		wantState string
	}{
		{
			name: "succeeded",
			handler: func(_ context.Context, job models.Job, _ *Reporter) (Outcome, error) {
				return Outcome{Events: []Event{{Type: "done", Payload: map[string]any{"job_id": job.ID}}}}, nil
			},
			wantState: models.StateSucceeded,
		},
		{
			name: "failed",
			handler: func(_ context.Context, job models.Job, _ *Reporter) (Outcome, error) {
				return Outcome{Events: []Event{{Type: "failed", Payload: map[string]any{"job_id": job.ID}}}}, errors.New("bad row")
			},
			wantState: models.StateFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, _ := newTestQueue(t)
			st := newFakeJobStore(models.Job{ID: "j1", Type: "demo"})
			enqueue(t, q, "j1")
			pub := &stateRecordingPublisher{store: st}

			p := NewProcessor(config.Config{}, q, st, nil)
			p.SetPublisher(pub)
			p.RegisterHandler("demo", tc.handler)

			_, err := p.ProcessNext(context.Background())
			require.NoError(t, err)
			require.Len(t, pub.events, 1)
			assert.Equal(t, tc.wantState, pub.states[0])
		})
	}
}

type stubImporter struct {
	res catalog.Result
	err error
}

func (s stubImporter) Run(ctx context.Context, path string, rep catalog.Reporter) (catalog.Result, error) {
	_ = rep.Progress(ctx, 0, "Starting import...")
	s.res.Filepath = path
	return s.res, s.err
}

func TestImportHandlerRecordsResult(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	st := newFakeJobStore(models.Job{ID: "j1", Type: models.JobTypeCatalogImport, Payload: jobs.ImportPayload("/uploads/a.csv")})
	enqueue(t, q, "j1")

	p := NewProcessor(config.Config{}, q, st, nil)
	p.RegisterHandler(models.JobTypeCatalogImport, ImportHandler(stubImporter{res: catalog.Result{TotalRows: 2500, ProcessedRows: 2500, Inserted: 2500}}))

	_, err := p.ProcessNext(ctx)
	require.NoError(t, err)

	job := st.get("j1")
	assert.Equal(t, models.StateSucceeded, job.State)
	assert.Equal(t, "Import complete: 2500 rows processed", job.StatusMessage)
	assert.Equal(t, "/uploads/a.csv", job.Result["filepath"])
	assert.Equal(t, 2500, job.Result["inserted"])
	assert.Equal(t, []int{0}, st.progress["j1"])
}

func TestImportHandlerAnnouncesOutcome(t *testing.T) {
	job := models.Job{ID: "j1", Type: models.JobTypeCatalogImport, Payload: jobs.ImportPayload("/uploads/a.csv")}
	rep := &Reporter{jobID: "j1", store: newFakeJobStore(job), queue: nopQueue{}, log: zap.NewNop()}

	out, err := ImportHandler(stubImporter{res: catalog.Result{ProcessedRows: 3}})(context.Background(), job, rep)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, models.EventCSVImportComplete, out.Events[0].Type)
	assert.Equal(t, 3, out.Events[0].Payload["total_rows_processed"])

	out, err = ImportHandler(stubImporter{err: errors.New("chunk 1: boom")})(context.Background(), job, rep)
	require.Error(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, models.EventCSVImportFailed, out.Events[0].Type)
	assert.Equal(t, "/uploads/a.csv", out.Events[0].Payload["filepath"])
}

type nopQueue struct{ JobQueue }

func (nopQueue) ExtendLease(context.Context, string) error { return nil }

func TestImportHandlerRequiresPath(t *testing.T) {
	_, err := ImportHandler(stubImporter{})(context.Background(), models.Job{Payload: map[string]any{}}, nil)
	assert.Error(t, err)
}

type stubDispatcher struct {
	gotEvent string
	out      []models.Delivery
}

func (s *stubDispatcher) Dispatch(_ context.Context, eventType string, _ map[string]any) ([]models.Delivery, error) {
	s.gotEvent = eventType
	return s.out, nil
}

func TestDispatchHandlerCountsFailures(t *testing.T) {
	d := &stubDispatcher{out: []models.Delivery{{StatusCode: 200}, {StatusCode: 0}, {StatusCode: 502}}}
	job := models.Job{Payload: jobs.DispatchPayload(models.EventProductDeleted, map[string]any{"event": models.EventProductDeleted})}

	out, err := DispatchHandler(d)(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, models.EventProductDeleted, d.gotEvent)
	assert.Equal(t, 3, out.Result["attempts"])
	assert.Equal(t, 2, out.Result["failed"])
}
