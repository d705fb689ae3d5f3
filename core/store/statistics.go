package store

import (
	"context"
	"fmt"
)

// TableStatistics represents size information about a table
type TableStatistics struct {
	Table        string  `json:"table"`
	Count        int64   `json:"count"`
	SizeMB       float64 `json:"size_mb"`
	AverageSizeB float64 `json:"average_size_b"`
}

// tables are all tables of the platform in alphabetical order
var tables = []string{
	"attachments",
	"audit_logs",
	"conversation_participants",
	"conversations",
	"forum_boards",
	"forum_bookmarks",
	"forum_categories",
	"forum_posts",
	"forum_threads",
	"forum_votes",
	"message_reactions",
	"message_reads",
	"messages",
	"moderation_actions",
	"notifications",
	"profiles",
	"reports",
	"typing_indicators",
}

// TableStatistics returns row count and disk size of every table
func (s *Store) TableStatistics(ctx context.Context) ([]TableStatistics, error) {
	stats := []TableStatistics{}
	for _, table := range tables {
		var size, count int64
		query := fmt.Sprintf(`SELECT pg_total_relation_size('{schema}.%s'), count(*) FROM {schema}.%s;`, table, table)
		if err := s.db.QueryRowContext(ctx, s.db.Q(query)).Scan(&size, &count); err != nil {
			return nil, fmt.Errorf("statistics of %s: %w", table, err)
		}
		var averageSize float64
		if count != 0 {
			averageSize = float64(size / count)
		}
		stats = append(stats, TableStatistics{
			Table:        table,
			Count:        count,
			SizeMB:       float64(size) / 1024. / 1024.,
			AverageSizeB: averageSize,
		})
	}
	return stats, nil
}
