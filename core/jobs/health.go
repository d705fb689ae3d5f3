package jobs

import (
	"context"
	"time"
)

// JobDetail is detail on a job for the health endpoint
type JobDetail struct {
	Serial       int64      `json:"serial"`
	Type         string     `json:"type"`
	Key          string     `json:"key"`
	AttemptsLeft int64      `json:"attempts_left"`
	Timestamp    time.Time  `json:"timestamp"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
}

// Health contains the queue's health status
type Health struct {
	Jobs struct {
		Failed  int64       `json:"failed"`
		Failing int64       `json:"failing"`
		Overdue int64       `json:"overdue"`
		Details []JobDetail `json:"details,omitempty"`
	} `json:"jobs"`
}

// Health returns the queue's health status. Failed jobs have no attempts left, failing jobs
// failed at least twice and are still scheduled for a retry, overdue jobs should have run
// at least ten minutes ago.
func (q *Queue) Health(ctx context.Context, includeDetails bool) (Health, error) {
	health := Health{}
	jobs := &health.Jobs

	err := q.db.QueryRowContext(ctx, q.db.Q(`SELECT count(*) FROM {schema}."_job_" WHERE attempts_left = 0;`)).Scan(&jobs.Failed)
	if err != nil {
		return health, err
	}

	err = q.db.QueryRowContext(ctx, q.db.Q(`SELECT count(*) FROM {schema}."_job_" WHERE attempts_left > 0 AND attempts_left < 3;`)).Scan(&jobs.Failing)
	if err != nil {
		return health, err
	}

	tenMinutesAgo := time.Now().UTC().Add(-10 * time.Minute)
	overdue := `attempts_left > 0 AND
	((scheduled_at IS NULL AND $1 > timestamp) OR (scheduled_at IS NOT NULL AND $1 > scheduled_at))`

	err = q.db.QueryRowContext(ctx, q.db.Q(`SELECT count(*) FROM {schema}."_job_" WHERE `+overdue+`;`), tenMinutesAgo).Scan(&jobs.Overdue)
	if err != nil {
		return health, err
	}

	if includeDetails {
		rows, err := q.db.QueryContext(ctx, q.db.Q(`SELECT serial, type, key, timestamp, attempts_left, scheduled_at
FROM {schema}."_job_" WHERE attempts_left = 0 OR (`+overdue+`) ORDER BY serial;`), tenMinutesAgo)
		if err != nil {
			return health, err
		}
		defer rows.Close()
		for rows.Next() {
			var detail JobDetail
			err := rows.Scan(
				&detail.Serial,
				&detail.Type,
				&detail.Key,
				&detail.Timestamp,
				&detail.AttemptsLeft,
				&detail.ScheduledAt,
			)
			if err != nil {
				return health, err
			}
			jobs.Details = append(jobs.Details, detail)
		}
		if err := rows.Err(); err != nil {
			return health, err
		}
	}
	return health, nil
}

// HealthPurge deletes failed jobs and returns how many were deleted
func (q *Queue) HealthPurge(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, q.db.Q(`DELETE FROM {schema}."_job_" WHERE attempts_left = 0;`))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
