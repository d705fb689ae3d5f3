package backend

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/store"
)

// ChatStore is the data access of the chat routes
type ChatStore interface {
	ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]store.Conversation, int, error)
	FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*store.Conversation, error)
	CreateConversation(ctx context.Context, nc store.NewConversation) (*store.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before *uuid.UUID) ([]store.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error)
	CreateMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*store.Message, error)
	UpdateMessage(ctx context.Context, id, senderID uuid.UUID, content string) (*store.Message, error)
	DeleteMessage(ctx context.Context, id, senderID uuid.UUID) error
	MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) error
	AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*store.Reaction, error)
	SetTyping(ctx context.Context, conversationID, userID uuid.UUID) error
	CleanupTyping(ctx context.Context, maxAge time.Duration) (int64, error)
	CreateAttachment(ctx context.Context, a store.Attachment) (*store.Attachment, error)
}

// ForumStore is the data access of the forum routes
type ForumStore interface {
	ListCategories(ctx context.Context) ([]store.Category, error)
	GetCategory(ctx context.Context, id uuid.UUID) (*store.Category, error)
	CreateCategory(ctx context.Context, name, description string, icon *string) (*store.Category, error)
	ListBoards(ctx context.Context, categoryID uuid.UUID) ([]store.Board, error)
	GetBoard(ctx context.Context, id uuid.UUID) (*store.Board, error)
	CreateBoard(ctx context.Context, categoryID uuid.UUID, name, description string) (*store.Board, error)
	ListBoardThreads(ctx context.Context, boardID uuid.UUID, limit, offset int) ([]store.Thread, int, error)
	SearchThreads(ctx context.Context, q store.ThreadQuery) ([]store.ThreadListItem, int, error)
	ViewThread(ctx context.Context, id uuid.UUID) (*store.ThreadDetail, error)
	GetThread(ctx context.Context, id uuid.UUID) (*store.Thread, error)
	CreateThread(ctx context.Context, boardID, authorID uuid.UUID, title, body string) (*store.Thread, error)
	UpdateThreadFlags(ctx context.Context, id uuid.UUID, pinned, locked *bool) (*store.Thread, error)
	ListPosts(ctx context.Context, threadID uuid.UUID) ([]store.Post, error)
	GetPost(ctx context.Context, id uuid.UUID) (*store.Post, error)
	CreatePost(ctx context.Context, threadID, authorID uuid.UUID, body string, parentPostID *uuid.UUID) (*store.Post, error)
	UpdatePost(ctx context.Context, id uuid.UUID, body string) (*store.Post, error)
	SoftDeletePost(ctx context.Context, id uuid.UUID) error
	VoteThread(ctx context.Context, threadID, userID uuid.UUID, value int) error
	VotePost(ctx context.Context, postID, userID uuid.UUID, value int) error
	ToggleSolution(ctx context.Context, postID uuid.UUID) (bool, error)
	ToggleBookmark(ctx context.Context, threadID, userID uuid.UUID) (bool, error)
	ListBookmarks(ctx context.Context, userID uuid.UUID) ([]store.Bookmark, error)
}

// ModerationStore is the data access of the moderation routes
type ModerationStore interface {
	CreateReport(ctx context.Context, nr store.NewReport) (*store.Report, error)
	ListPendingReports(ctx context.Context) ([]store.Report, error)
	CreateModerationAction(ctx context.Context, na store.NewModerationAction) (*store.ModerationAction, error)
}

// NotificationStore is the data access of the notification routes
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int, unreadOnly bool) ([]store.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error)
	SetNotificationRead(ctx context.Context, id, userID uuid.UUID, read bool) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteNotification(ctx context.Context, id, userID uuid.UUID) error
}

// UserStore is the data access of the user routes
type UserStore interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*store.Profile, error)
	SearchProfiles(ctx context.Context, q string, exclude uuid.UUID, limit int) ([]store.Profile, error)
	LoadAuthorization(ctx context.Context, userID uuid.UUID) (*access.Authorization, error)
}

// DashboardStore is the data access of the dashboard and admin routes
type DashboardStore interface {
	DashboardStats(ctx context.Context, userID uuid.UUID, withReports bool) (*store.DashboardStats, error)
	RecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]store.Activity, error)
	TableStatistics(ctx context.Context) ([]store.TableStatistics, error)
	Ping(ctx context.Context) error
}

// Store is the complete data access of the backend. It is implemented by *store.Store.
type Store interface {
	ChatStore
	ForumStore
	ModerationStore
	NotificationStore
	UserStore
	DashboardStore
}

// JobHealth reports and purges failed jobs
type JobHealth interface {
	Health(ctx context.Context, includeDetails bool) (jobs.Health, error)
	HealthPurge(ctx context.Context) (int64, error)
}

var _ Store = (*store.Store)(nil)
var _ JobHealth = (*jobs.Queue)(nil)
