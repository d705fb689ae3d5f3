package jobs

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	code := m.Run()
	test.Terminate()
	os.Exit(code)
}

func newTestQueue(t *testing.T) *Queue {
	q, err := New(&Builder{DB: test.Postgres(t), UpdateSchema: true, Concurrency: 3})
	require.NoError(t, err)
	return q
}

func TestEnqueueAndProcess(t *testing.T) {
	q := newTestQueue(t)

	var mu sync.Mutex
	received := map[string]string{}
	var requestIDs []string
	q.Handle("greet", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return err
		}
		received[job.Key] = p.Name
		requestIDs = append(requestIDs, logger.RequestIDFromContext(ctx))
		return nil
	})

	ctx, _ := logger.ContextWithLogger(context.Background())
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		require.NoError(t, q.Enqueue(ctx, Job{Type: "greet", Key: "k-" + name}.WithPayload(map[string]string{"name": name})))
	}
	assert.True(t, q.HasJobsToProcess())
	assert.False(t, q.HasJobsToProcess())

	assert.False(t, q.ProcessJobsSync(0))
	assert.Equal(t, map[string]string{"k-alice": "alice", "k-bob": "bob", "k-carol": "carol", "k-dave": "dave"}, received)
	for _, id := range requestIDs {
		assert.Equal(t, logger.RequestIDFromContext(ctx), id, "the logger context travels with the job")
	}

	health, err := q.Health(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, health.Jobs.Failed)
	assert.Zero(t, health.Jobs.Failing)
	assert.Empty(t, health.Jobs.Details)
}

func TestEnqueueWithoutHandler(t *testing.T) {
	q := newTestQueue(t)
	err := q.Enqueue(context.Background(), Job{Type: "unknown"})
	assert.True(t, errors.Is(err, ErrNoHandler))
}

func TestRetriesAndHealth(t *testing.T) {
	q := newTestQueue(t)
	var calls int32
	q.Handle("fail", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		if job.Key == "panic" {
			panic("boom")
		}
		return errors.New("always failing")
	})
	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "fail", Key: "error"}))
	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "fail", Key: "panic"}))

	q.ProcessJobsSync(0)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// retries are scheduled in the future, so nothing is processed right away
	q.ProcessJobsSync(0)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// pretend the retries are due until all attempts are used up
	for i := 0; i < 3; i++ {
		_, err := q.db.Exec(q.db.Q(`UPDATE {schema}."_job_" SET scheduled_at = now() - interval '1 hour';`))
		require.NoError(t, err)
		q.ProcessJobsSync(0)
	}
	assert.Equal(t, int32(8), atomic.LoadInt32(&calls))

	health, err := q.Health(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), health.Jobs.Failed)
	assert.Zero(t, health.Jobs.Failing)
	require.Len(t, health.Jobs.Details, 2)
	assert.Equal(t, "fail", health.Jobs.Details[0].Type)
	assert.Zero(t, health.Jobs.Details[0].AttemptsLeft)

	purged, err := q.HealthPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	health, err = q.Health(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, health.Jobs.Failed)
}

func TestFailingAndOverdue(t *testing.T) {
	q := newTestQueue(t)
	q.Handle("noop", func(ctx context.Context, job Job) error { return nil })
	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "noop"}))
	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "noop"}))
	_, err := q.db.Exec(q.db.Q(`UPDATE {schema}."_job_" SET attempts_left = 2 WHERE serial = (SELECT min(serial) FROM {schema}."_job_");`))
	require.NoError(t, err)
	_, err = q.db.Exec(q.db.Q(`UPDATE {schema}."_job_" SET timestamp = now() - interval '1 hour' WHERE serial = (SELECT max(serial) FROM {schema}."_job_");`))
	require.NoError(t, err)

	health, err := q.Health(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), health.Jobs.Failing)
	assert.Equal(t, int64(1), health.Jobs.Overdue)
}

func TestProcessJobsAsync(t *testing.T) {
	q := newTestQueue(t)
	done := make(chan string, 1)
	q.Handle("async", func(ctx context.Context, job Job) error {
		done <- job.Key
		return nil
	})
	q.ProcessJobsAsync(time.Hour)
	defer q.Close(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "async", Key: "a"}))
	select {
	case key := <-done:
		assert.Equal(t, "a", key)
	case <-time.After(10 * time.Second):
		t.Fatal("job was not processed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, q.Close(ctx))
	assert.NoError(t, q.Close(ctx), "closing twice is fine")
}
