package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core/content"
)

// DashboardStats returns the dashboard counters of the user. The number of pending
// reports is only included if withReports is true.
func (s *Store) DashboardStats(ctx context.Context, userID uuid.UUID, withReports bool) (*DashboardStats, error) {
	var stats DashboardStats
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT
(SELECT count(*) FROM {schema}.conversation_participants WHERE user_id = $1 AND left_at IS NULL),
(SELECT count(*) FROM {schema}.messages m
  JOIN {schema}.conversation_participants cp ON cp.conversation_id = m.conversation_id AND cp.user_id = $1 AND cp.left_at IS NULL
  WHERE m.sender_id <> $1 AND m.deleted = false
  AND NOT EXISTS (SELECT 1 FROM {schema}.message_reads r WHERE r.message_id = m.id AND r.user_id = $1)),
(SELECT count(*) FROM {schema}.forum_threads WHERE author_id = $1 AND deleted = false),
(SELECT count(*) FROM {schema}.forum_posts WHERE author_id = $1 AND deleted = false),
COALESCE((SELECT reputation_score FROM {schema}.profiles WHERE id = $1), 0);`), userID).
		Scan(&stats.TotalConversations, &stats.UnreadMessages, &stats.TotalThreads, &stats.TotalPosts, &stats.ReputationScore)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	if withReports {
		var pending int
		err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT count(*) FROM {schema}.reports WHERE status = 'pending';`)).Scan(&pending)
		if err != nil {
			return nil, fmt.Errorf("count pending reports: %w", err)
		}
		stats.PendingReports = &pending
	}
	return &stats, nil
}

// RecentActivity returns the latest messages, threads and posts of the user merged
// into one feed, newest first
func (s *Store) RecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(`(SELECT m.id, 'message', COALESCE(c.name, 'Direct message'), m.content, '/chat/' || m.conversation_id, m.created_at
  FROM {schema}.messages m JOIN {schema}.conversations c ON c.id = m.conversation_id
  WHERE m.sender_id = $1 AND m.deleted = false ORDER BY m.created_at DESC LIMIT $2)
UNION ALL
(SELECT t.id, 'thread', t.title, t.content, '/forum/threads/' || t.id, t.created_at
  FROM {schema}.forum_threads t
  WHERE t.author_id = $1 AND t.deleted = false ORDER BY t.created_at DESC LIMIT $2)
UNION ALL
(SELECT p.id, 'post', t.title, p.content, '/forum/threads/' || p.thread_id, p.created_at
  FROM {schema}.forum_posts p JOIN {schema}.forum_threads t ON t.id = p.thread_id
  WHERE p.author_id = $1 AND p.deleted = false ORDER BY p.created_at DESC LIMIT $2);`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()
	activities := []Activity{}
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Type, &a.Title, &a.Description, &a.Link, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Description = content.Preview(content.StripHTML(a.Description), 120)
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(activities, func(i, j int) bool { return activities[i].CreatedAt.After(activities[j].CreatedAt) })
	if len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}
