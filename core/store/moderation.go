package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// CreateReport inserts a pending report
func (s *Store) CreateReport(ctx context.Context, nr NewReport) (*Report, error) {
	var r Report
	err := s.db.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.reports
(reporter_id, report_type, reported_user_id, message_id, post_id, thread_id, group_id, reason, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
RETURNING id, reporter_id, report_type, reported_user_id, message_id, post_id, thread_id, group_id, reason, status,
reviewed_by, reviewed_at, created_at;`),
		nr.ReporterID, nr.ReportType, nr.ReportedUserID, nr.MessageID, nr.PostID, nr.ThreadID, nr.GroupID, nr.Reason).
		Scan(&r.ID, &r.ReporterID, &r.ReportType, &r.ReportedUserID, &r.MessageID, &r.PostID, &r.ThreadID, &r.GroupID,
			&r.Reason, &r.Status, &r.ReviewedBy, &r.ReviewedAt, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return &r, nil
}

// ListPendingReports returns all pending reports, newest first, with reporter and
// reported user.
func (s *Store) ListPendingReports(ctx context.Context) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT r.id, r.reporter_id, r.report_type, r.reported_user_id, r.message_id, r.post_id,
r.thread_id, r.group_id, r.reason, r.status, r.reviewed_by, r.reviewed_at, r.created_at,
`+profileSelect("rp")+`, `+profileSelect("ru")+`
FROM {schema}.reports r
LEFT JOIN {schema}.profiles rp ON rp.id = r.reporter_id
LEFT JOIN {schema}.profiles ru ON ru.id = r.reported_user_id
WHERE r.status = 'pending'
ORDER BY r.created_at DESC;`))
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	reports := []Report{}
	for rows.Next() {
		var r Report
		var reporter, reported profileColumns
		dest := []interface{}{&r.ID, &r.ReporterID, &r.ReportType, &r.ReportedUserID, &r.MessageID, &r.PostID,
			&r.ThreadID, &r.GroupID, &r.Reason, &r.Status, &r.ReviewedBy, &r.ReviewedAt, &r.CreatedAt}
		dest = append(dest, reporter.dest()...)
		dest = append(dest, reported.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r.Reporter = reporter.summaryWithEmail()
		r.ReportedUser = reported.summaryWithEmail()
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// CreateModerationAction records a moderation action. In the same transaction the
// report, if any, is resolved and an audit log entry is written.
func (s *Store) CreateModerationAction(ctx context.Context, na NewModerationAction) (*ModerationAction, error) {
	var a ModerationAction
	var expiresAt *time.Time
	if na.DurationDays != nil {
		t := time.Now().Add(time.Duration(*na.DurationDays) * 24 * time.Hour)
		expiresAt = &t
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.moderation_actions
(moderator_id, target_user_id, action_type, report_id, reason, duration_days, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, moderator_id, target_user_id, action_type, report_id, reason, duration_days, expires_at, created_at;`),
			na.ModeratorID, na.TargetUserID, na.ActionType, na.ReportID, na.Reason, na.DurationDays, expiresAt).
			Scan(&a.ID, &a.ModeratorID, &a.TargetUserID, &a.ActionType, &a.ReportID, &a.Reason, &a.DurationDays, &a.ExpiresAt, &a.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert moderation action: %w", err)
		}

		if na.ReportID != nil {
			_, err = tx.ExecContext(ctx, s.db.Q(`UPDATE {schema}.reports SET status = 'resolved', reviewed_by = $2, reviewed_at = now()
WHERE id = $1;`), *na.ReportID, na.ModeratorID)
			if err != nil {
				return fmt.Errorf("resolve report: %w", err)
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"actionType":   na.ActionType,
			"targetUserId": na.TargetUserID,
			"reason":       na.Reason,
		})
		_, err = tx.ExecContext(ctx, s.db.Q(`INSERT INTO {schema}.audit_logs (user_id, event_type, resource_type, resource_id, details)
VALUES ($1, 'moderation_action', 'moderation_actions', $2, $3);`), na.ModeratorID, a.ID, string(details))
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}
