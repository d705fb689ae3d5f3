package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core"
)

// UserSummary is the public part of a profile embedded into other resources
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	FullName  *string   `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	Role      core.Role `json:"role,omitempty"`
	Verified  bool      `json:"verified"`
}

// Name returns the full name of the user, or fallback if the user has none
func (u *UserSummary) Name(fallback string) string {
	if u == nil || u.FullName == nil || *u.FullName == "" {
		return fallback
	}
	return *u.FullName
}

// Profile is a user profile
type Profile struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	FullName        *string   `json:"full_name"`
	AvatarURL       *string   `json:"avatar_url"`
	Role            core.Role `json:"role"`
	Company         *string   `json:"company"`
	Bio             *string   `json:"bio,omitempty"`
	Sector          *string   `json:"sector,omitempty"`
	Location        *string   `json:"location,omitempty"`
	ReputationScore int       `json:"reputation_score"`
	Verified        bool      `json:"verified"`
	CreatedAt       time.Time `json:"created_at"`
}

// DisplayName returns the full name of the profile, or its email if there is none
func (p *Profile) DisplayName() string {
	if p.FullName != nil && *p.FullName != "" {
		return *p.FullName
	}
	return p.Email
}

// ConversationType is the type of a conversation
type ConversationType string

// all conversation types
const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Conversation is a chat conversation
type Conversation struct {
	ID            uuid.UUID        `json:"id"`
	Type          ConversationType `json:"type"`
	Name          *string          `json:"name"`
	CreatedBy     *uuid.UUID       `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	LastMessageAt *time.Time       `json:"last_message_at"`
	Participants  []Participant    `json:"participants"`
}

// Participant is a member of a conversation
type Participant struct {
	UserID   uuid.UUID    `json:"user_id"`
	JoinedAt time.Time    `json:"joined_at"`
	Profile  *UserSummary `json:"profile"`
}

// NewConversation is the input to CreateConversation. Participants must already contain
// the creator.
type NewConversation struct {
	Type         ConversationType
	Name         *string
	CreatedBy    uuid.UUID
	Participants []uuid.UUID
}

// Message is a chat message
type Message struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	SenderID       uuid.UUID    `json:"sender_id"`
	Content        string       `json:"content"`
	Edited         bool         `json:"edited"`
	EditedAt       *time.Time   `json:"edited_at"`
	Deleted        bool         `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	Sender         *UserSummary `json:"sender"`
	Reactions      []Reaction   `json:"message_reactions"`
	Reads          []Read       `json:"message_reads"`
	Attachments    []Attachment `json:"attachments"`
}

// Reaction is an emoji reaction to a message
type Reaction struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Read is a read receipt of a message
type Read struct {
	UserID uuid.UUID `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Attachment is a file attached to a message. The file itself lives in the key-value
// storage under StorageKey.
type Attachment struct {
	ID         uuid.UUID `json:"id"`
	MessageID  uuid.UUID `json:"message_id"`
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	StorageKey string    `json:"-"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Category is a forum category
type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        *string   `json:"icon"`
	SortOrder   int       `json:"sort_order"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	Boards      []Board   `json:"forum_boards"`
	BoardCount  int       `json:"board_count"`
	Slug        string    `json:"slug"`
}

// Board is a forum board within a category
type Board struct {
	ID           uuid.UUID  `json:"id"`
	CategoryID   uuid.UUID  `json:"category_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	SortOrder    int        `json:"sort_order"`
	IsPrivate    bool       `json:"is_private"`
	RequiredRole *core.Role `json:"required_role"`
	CreatedAt    time.Time  `json:"created_at"`
	Slug         string     `json:"slug"`
}

// Thread is a forum thread
type Thread struct {
	ID         uuid.UUID    `json:"id"`
	BoardID    uuid.UUID    `json:"board_id"`
	AuthorID   uuid.UUID    `json:"author_id"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	IsPinned   bool         `json:"is_pinned"`
	IsLocked   bool         `json:"is_locked"`
	ViewsCount int          `json:"views_count"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	LastPostAt time.Time    `json:"last_post_at"`
	Author     *UserSummary `json:"author"`
}

// ThreadSort is the sort order of thread listings
type ThreadSort string

// all thread sort orders
const (
	SortRecent   ThreadSort = "recent"
	SortTrending ThreadSort = "trending"
)

// ThreadQuery filters thread listings
type ThreadQuery struct {
	Sort    ThreadSort
	Limit   int
	Offset  int
	BoardID *uuid.UUID
	Search  string
}

// ThreadListItem is the flattened representation of a thread in listings
type ThreadListItem struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	ContentPreview string     `json:"content_preview"`
	AuthorID       *uuid.UUID `json:"author_id"`
	AuthorName     *string    `json:"author_name"`
	AuthorAvatar   *string    `json:"author_avatar"`
	BoardID        uuid.UUID  `json:"board_id"`
	BoardName      *string    `json:"board_name"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastPostAt     time.Time  `json:"last_post_at"`
	IsPinned       bool       `json:"is_pinned"`
	IsLocked       bool       `json:"is_locked"`
	ViewCount      int        `json:"view_count"`
	ReplyCount     int        `json:"reply_count"`
	VoteScore      int        `json:"vote_score"`
}

// ThreadDetail is the flattened representation of a single thread
type ThreadDetail struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	AuthorID     uuid.UUID  `json:"author_id"`
	AuthorName   string     `json:"author_name"`
	AuthorAvatar *string    `json:"author_avatar"`
	AuthorRole   core.Role  `json:"author_role"`
	BoardID      uuid.UUID  `json:"board_id"`
	BoardName    string     `json:"board_name"`
	CategoryID   *uuid.UUID `json:"category_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastPostAt   time.Time  `json:"last_post_at"`
	IsPinned     bool       `json:"is_pinned"`
	IsLocked     bool       `json:"is_locked"`
	ViewCount    int        `json:"view_count"`
	ReplyCount   int        `json:"reply_count"`
	VoteScore    int        `json:"vote_score"`
}

// Post is a reply within a forum thread
type Post struct {
	ID           uuid.UUID    `json:"id"`
	ThreadID     uuid.UUID    `json:"thread_id"`
	AuthorID     uuid.UUID    `json:"author_id"`
	ParentPostID *uuid.UUID   `json:"parent_post_id"`
	Content      string       `json:"content"`
	IsSolution   bool         `json:"is_solution"`
	Edited       bool         `json:"edited"`
	EditedAt     *time.Time   `json:"edited_at"`
	Deleted      bool         `json:"deleted"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	VoteScore    int          `json:"vote_score"`
	Author       *UserSummary `json:"author"`
}

// BookmarkedThread is the thread summary embedded into a bookmark
type BookmarkedThread struct {
	ID         uuid.UUID    `json:"id"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	IsPinned   bool         `json:"is_pinned"`
	IsLocked   bool         `json:"is_locked"`
	ViewsCount int          `json:"views_count"`
	Board      BoardRef     `json:"board"`
	Author     *UserSummary `json:"author"`
}

// BoardRef is a reference to a board by id and name
type BoardRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Bookmark is a thread bookmarked by a user
type Bookmark struct {
	ID        uuid.UUID        `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Thread    BookmarkedThread `json:"thread"`
}

// ReportType is the type of a report
type ReportType string

// all report types
const (
	ReportMessage ReportType = "message"
	ReportPost    ReportType = "post"
	ReportUser    ReportType = "user"
	ReportGroup   ReportType = "group"
)

// Report is a moderation report
type Report struct {
	ID             uuid.UUID    `json:"id"`
	ReporterID     uuid.UUID    `json:"reporter_id"`
	ReportType     ReportType   `json:"report_type"`
	ReportedUserID *uuid.UUID   `json:"reported_user_id"`
	MessageID      *uuid.UUID   `json:"message_id"`
	PostID         *uuid.UUID   `json:"post_id"`
	ThreadID       *uuid.UUID   `json:"thread_id"`
	GroupID        *uuid.UUID   `json:"group_id"`
	Reason         string       `json:"reason"`
	Status         string       `json:"status"`
	ReviewedBy     *uuid.UUID   `json:"reviewed_by"`
	ReviewedAt     *time.Time   `json:"reviewed_at"`
	CreatedAt      time.Time    `json:"created_at"`
	Reporter       *UserSummary `json:"reporter,omitempty"`
	ReportedUser   *UserSummary `json:"reported_user,omitempty"`
}

// NewReport is the input to CreateReport
type NewReport struct {
	ReporterID     uuid.UUID
	ReportType     ReportType
	ReportedUserID *uuid.UUID
	MessageID      *uuid.UUID
	PostID         *uuid.UUID
	ThreadID       *uuid.UUID
	GroupID        *uuid.UUID
	Reason         string
}

// ActionType is the type of a moderation action
type ActionType string

// all moderation action types
const (
	ActionWarn          ActionType = "warn"
	ActionRemoveContent ActionType = "remove_content"
	ActionSuspend       ActionType = "suspend"
	ActionBan           ActionType = "ban"
	ActionRestore       ActionType = "restore"
)

// ModerationAction is an action taken by a moderator against a user
type ModerationAction struct {
	ID           uuid.UUID  `json:"id"`
	ModeratorID  uuid.UUID  `json:"moderator_id"`
	TargetUserID uuid.UUID  `json:"target_user_id"`
	ActionType   ActionType `json:"action_type"`
	ReportID     *uuid.UUID `json:"report_id"`
	Reason       string     `json:"reason"`
	DurationDays *int       `json:"duration_days"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewModerationAction is the input to CreateModerationAction
type NewModerationAction struct {
	ModeratorID  uuid.UUID
	TargetUserID uuid.UUID
	ActionType   ActionType
	ReportID     *uuid.UUID
	Reason       string
	DurationDays *int
}

// NotificationType is the type of a notification
type NotificationType string

// all notification types
const (
	NotificationMention    NotificationType = "mention"
	NotificationReply      NotificationType = "reply"
	NotificationModeration NotificationType = "moderation"
)

// Notification is an in-app notification
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Content   *string          `json:"content"`
	Link      *string          `json:"link"`
	Read      bool             `json:"read"`
	ReadAt    *time.Time       `json:"read_at"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewNotification is the input to CreateNotification
type NewNotification struct {
	UserID  uuid.UUID
	Type    NotificationType
	Title   string
	Content string
	Link    string
}

// DashboardStats are the counters shown on the dashboard
type DashboardStats struct {
	TotalConversations int  `json:"total_conversations"`
	UnreadMessages     int  `json:"unread_messages"`
	TotalThreads       int  `json:"total_threads"`
	TotalPosts         int  `json:"total_posts"`
	ReputationScore    int  `json:"reputation_score"`
	PendingReports     *int `json:"pending_reports,omitempty"`
}

// Activity is an entry of the recent activity feed
type Activity struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	CreatedAt   time.Time `json:"created_at"`
}
