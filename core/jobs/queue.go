/*
Package jobs implements a durable job queue on Postgres.

Jobs are stored in the table _job_ of the database schema and processed out-of-band by
a pool of workers. A job that fails is retried three more times, after 5, 15 and 45
minutes. Jobs that failed for good stay in the table and are reported by Health.
*/
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/kumii/core/csql"
	"github.com/relabs-tech/kumii/core/logger"
)

// ErrNoHandler is returned by Enqueue for job types without a handler
var ErrNoHandler = errors.New("no handler installed")

// Job is a unit of out-of-band work. Key is informational and shows up in the logs and
// in the health details.
type Job struct {
	Type    string
	Key     string
	Payload []byte
}

// WithPayload adds a payload to a job. Payload can be an object or a []byte
func (j Job) WithPayload(payload interface{}) Job {
	data, ok := payload.([]byte)
	if !ok {
		data, _ = json.Marshal(payload)
	}
	j.Payload = data
	return j
}

// Handler processes a job. Returning an error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// claimedJob is a job row claimed by the transaction tx
type claimedJob struct {
	Job
	serial       int
	attemptsLeft int
	contextData  []byte
	tx           *sql.Tx
}

// Builder is a helper to configure a new queue
type Builder struct {
	DB *csql.DB
	// UpdateSchema creates the job table if it does not exist
	UpdateSchema bool
	// Concurrency is the number of parallel workers, defaults to 5
	Concurrency int
}

// Queue is the job queue
type Queue struct {
	db          *csql.DB
	concurrency int
	handlers    map[string]Handler

	insertQuery string
	claimQuery  string
	deleteQuery string

	hasJobsToProcess     bool
	hasJobsToProcessLock sync.Mutex

	asyncRuns    bool
	asyncTrigger chan struct{}
	stop         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once
}

// New creates a new queue
func New(b *Builder) (*Queue, error) {
	db := b.DB
	q := &Queue{
		db:          db,
		concurrency: b.Concurrency,
		handlers:    map[string]Handler{},
	}
	if q.concurrency < 1 {
		q.concurrency = 5
	}

	if b.UpdateSchema {
		_, err := db.Exec(db.Q(`CREATE table IF NOT EXISTS {schema}."_job_"
(serial SERIAL,
type VARCHAR NOT NULL,
key VARCHAR NOT NULL DEFAULT '',
payload JSON NOT NULL DEFAULT '{}'::json,
timestamp TIMESTAMP NOT NULL DEFAULT now(),
attempts_left INTEGER NOT NULL,
context JSON NOT NULL DEFAULT '{}'::json,
scheduled_at TIMESTAMP,
PRIMARY KEY(serial)
);
CREATE index IF NOT EXISTS jobs_scheduled_at_index ON {schema}."_job_"(scheduled_at);
`))
		if err != nil {
			return nil, fmt.Errorf("create job table: %w", err)
		}
	}

	q.insertQuery = db.Q(`INSERT INTO {schema}."_job_"
(type,key,payload,timestamp,attempts_left,context)
VALUES($1,$2,$3,$4,4,$5) RETURNING serial;`)

	q.claimQuery = db.Q(`UPDATE {schema}."_job_"
SET attempts_left = attempts_left - 1,
scheduled_at = CASE WHEN attempts_left>3 then $2 WHEN attempts_left=3 THEN $3 ELSE $4 END::TIMESTAMP
WHERE serial = (
SELECT serial
 FROM {schema}."_job_"
 WHERE attempts_left > 0 AND (scheduled_at IS NULL OR $1 > scheduled_at)
 ORDER BY serial
 FOR UPDATE SKIP LOCKED
 LIMIT 1
)
RETURNING serial, type, key, payload, attempts_left, context;`)

	q.deleteQuery = db.Q(`DELETE FROM {schema}."_job_" WHERE serial = $1 RETURNING serial;`)
	return q, nil
}

// Handle installs the handler for a job type. Handlers are executed out-of-band. If a
// handler fails (i.e. it returns a non-nil error), it will be retried a few times with
// increasing timeout.
func (q *Queue) Handle(jobType string, handler Handler) {
	if _, ok := q.handlers[jobType]; ok {
		logger.Default().Fatalf("job handler for %s already installed", jobType)
	}
	logger.Default().Debugf("install job handler for %s", jobType)
	q.handlers[jobType] = handler
}

// Enqueue adds job to the queue and triggers processing. The logger context of ctx is
// stored with the job and restored when the job runs.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if _, ok := q.handlers[job.Type]; !ok {
		return fmt.Errorf("enqueue %s: %w", job.Type, ErrNoHandler)
	}
	payload := job.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var serial int
	err := q.db.QueryRowContext(ctx, q.insertQuery,
		job.Type,
		job.Key,
		payload,
		time.Now().UTC(),
		logger.SerializeLoggerContext(ctx),
	).Scan(&serial)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	logger.FromContext(ctx).Debugf("enqueued %s[%s] #%d", job.Type, job.Key, serial)
	q.TriggerJobs()
	return nil
}

func (q *Queue) worker(jobs <-chan claimedJob, ready chan<- bool) {
	for job := range jobs {
		rlog := logger.Default()
		name := job.Type + "[" + job.Key + "] #" + strconv.Itoa(job.serial)

		if err := job.tx.Commit(); err != nil {
			rlog.Errorf("error committing %s: %s", name, err.Error())
		}

		ctx := logger.ContextWithLoggerFromData(context.Background(), job.contextData)
		rlog = logger.FromContext(ctx)

		// call the registered handler in a panic/recover envelope
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("recovered from panic: %s", r)
					debug.PrintStack()
				}
			}()
			timeout := time.AfterFunc(20*time.Second, func() {
				rlog.Errorf("This (%s) is taking a long time...", name)
			})
			defer timeout.Stop()
			handler, ok := q.handlers[job.Type]
			if !ok {
				return fmt.Errorf("no handler for job type %s", job.Type)
			}
			return handler(ctx, job.Job)
		}()

		if err != nil {
			rlog.WithError(err).Errorf("error processing %s, %d attempts left", name, job.attemptsLeft)
		} else {
			rlog.Info("successfully processed " + name)
			var serial int
			err = q.db.QueryRow(q.deleteQuery, job.serial).Scan(&serial)
			if err != nil && err != sql.ErrNoRows {
				rlog.WithError(err).Error("could not delete processed job " + name)
			}
		}
		ready <- true
	}
}

// TriggerJobs triggers pipeline processing.
func (q *Queue) TriggerJobs() {
	q.hasJobsToProcessLock.Lock()
	q.hasJobsToProcess = true
	q.hasJobsToProcessLock.Unlock()
	if q.asyncRuns {
		select {
		case q.asyncTrigger <- struct{}{}:
		default:
		}
	}
}

// HasJobsToProcess returns true, if there are jobs to process.
// It then resets the process flag.
func (q *Queue) HasJobsToProcess() bool {
	q.hasJobsToProcessLock.Lock()
	defer q.hasJobsToProcessLock.Unlock()
	result := q.hasJobsToProcess
	q.hasJobsToProcess = false
	return result
}

// ProcessJobsAsync starts a job processing loop. It returns immediately. This
// function must only be called once.
//
// If heartbeat is larger than 0, the function also starts a heartbeat timer for
// processing of retries.
//
// Left-over jobs in the database are processed right away. Close stops the loop.
func (q *Queue) ProcessJobsAsync(heartbeat time.Duration) {
	if q.asyncRuns {
		panic("already processing jobs")
	}
	q.asyncTrigger = make(chan struct{}, 10)
	q.stop = make(chan struct{})
	q.stopped = make(chan struct{})
	q.asyncRuns = true

	if heartbeat > 0 {
		go func() {
			ticker := time.NewTicker(heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					q.TriggerJobs()
				case <-q.stop:
					return
				}
			}
		}()
	}

	go func() {
		defer close(q.stopped)
		q.ProcessJobsSync(5 * time.Minute)
		for {
			select {
			case <-q.asyncTrigger:
				q.ProcessJobsSync(5 * time.Minute)
			case <-q.stop:
				return
			}
		}
	}()
}

// Close stops the processing loop started with ProcessJobsAsync. It waits until the
// jobs in progress are done or ctx expires.
func (q *Queue) Close(ctx context.Context) error {
	if !q.asyncRuns {
		return nil
	}
	q.closeOnce.Do(func() { close(q.stop) })
	select {
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessJobsSync commissions all pending jobs up to the specified maximum duration and then returns after the last
// commissioned job was fully processed. It returns true if it has maxed out and there are more jobs to process,
// otherwise it returns false. If you pass 0, it will process all pending jobs.
func (q *Queue) ProcessJobsSync(max time.Duration) bool {
	rlog := logger.Default()
	startTime := time.Now()

	getJob := func() (job claimedJob, err error) {
		job.tx, err = q.db.BeginTx(context.Background(), nil)
		if err != nil {
			rlog.WithError(err).Error("failed to begin transaction")
			return
		}
		now := time.Now().UTC()
		err = job.tx.QueryRow(q.claimQuery,
			now,
			now.Add(5*time.Minute),  // first retry timeout
			now.Add(15*time.Minute), // second retry timeout
			now.Add(45*time.Minute), // third retry timeout before we give up
		).Scan(
			&job.serial,
			&job.Type,
			&job.Key,
			&job.Payload,
			&job.attemptsLeft,
			&job.contextData,
		)
		if err != nil {
			if err != sql.ErrNoRows {
				rlog.Errorln("failed to retrieve job:", err.Error())
			}
			job.tx.Rollback()
			job.tx = nil
		}
		return
	}

	jobs := make(chan claimedJob, q.concurrency)
	ready := make(chan bool, q.concurrency)
	defer close(jobs)
	for i := 0; i < q.concurrency; i++ {
		go q.worker(jobs, ready)
	}

	var maxedOut bool
	var jobCount, readyCount int
	for i := 0; i < q.concurrency; i++ {
		job, err := getJob()
		if err != nil {
			break
		}
		jobCount++
		jobs <- job
	}

	for readyCount < jobCount {
		<-ready
		readyCount++

		if maxedOut = max > 0 && time.Since(startTime) >= max; !maxedOut {
			// we have time for more jobs, check if there are any in the database
			job, err := getJob()
			if err != nil {
				continue
			}
			jobCount++
			jobs <- job
		}
	}

	maxedOutString := ""
	if maxedOut {
		maxedOutString = " (maxed out)"
	}
	if jobCount > 0 {
		rlog.Debugf("process jobs: %d done%s", jobCount, maxedOutString)
	}
	return maxedOut
}
