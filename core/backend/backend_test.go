package backend_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/backend"
	"github.com/relabs-tech/kumii/core/client"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/store"
)

// fakeStore is an in-memory store. Methods which are not overridden panic through the
// nil embedded interface.
type fakeStore struct {
	backend.Store

	mu            sync.Mutex
	pingErr       error
	profiles      map[uuid.UUID]*store.Profile
	participants  map[uuid.UUID][]uuid.UUID
	conversations map[uuid.UUID]*store.Conversation
	messages      map[uuid.UUID]*store.Message
	attachments   []store.Attachment
	boards        map[uuid.UUID]*store.Board
	threads       map[uuid.UUID]*store.Thread
	posts         map[uuid.UUID]*store.Post
	votes         map[uuid.UUID]int
	reports       []store.Report
	actions       []store.ModerationAction
	notifications map[uuid.UUID]*store.Notification
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:      map[uuid.UUID]*store.Profile{},
		participants:  map[uuid.UUID][]uuid.UUID{},
		conversations: map[uuid.UUID]*store.Conversation{},
		messages:      map[uuid.UUID]*store.Message{},
		boards:        map[uuid.UUID]*store.Board{},
		threads:       map[uuid.UUID]*store.Thread{},
		posts:         map[uuid.UUID]*store.Post{},
		votes:         map[uuid.UUID]int{},
		notifications: map[uuid.UUID]*store.Notification{},
	}
}

func (s *fakeStore) addProfile(email string, role core.Role) *access.Authorization {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.profiles[id] = &store.Profile{ID: id, Email: email, Role: role, CreatedAt: time.Now()}
	return &access.Authorization{UserID: id, Email: email, Role: role}
}

func (s *fakeStore) Ping(ctx context.Context) error {
	return s.pingErr
}

func (s *fakeStore) LoadAuthorization(ctx context.Context, userID uuid.UUID) (*access.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &access.Authorization{UserID: p.ID, Email: p.Email, Role: p.Role}, nil
}

func (s *fakeStore) GetProfile(ctx context.Context, id uuid.UUID) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) SearchProfiles(ctx context.Context, q string, exclude uuid.UUID, limit int) ([]store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles := []store.Profile{}
	for _, p := range s.profiles {
		if p.ID != exclude && bytes.Contains(bytes.ToLower([]byte(p.Email)), bytes.ToLower([]byte(q))) {
			profiles = append(profiles, *p)
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Email < profiles[j].Email })
	if len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

func (s *fakeStore) FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conversations {
		if c.Type != store.ConversationDirect {
			continue
		}
		members := s.participants[id]
		if len(members) == 2 && ((members[0] == a && members[1] == b) || (members[0] == b && members[1] == a)) {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) CreateConversation(ctx context.Context, nc store.NewConversation) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &store.Conversation{ID: uuid.New(), Type: nc.Type, Name: nc.Name, CreatedBy: &nc.CreatedBy, CreatedAt: time.Now()}
	for _, id := range nc.Participants {
		if _, ok := s.profiles[id]; !ok {
			return nil, store.ErrAddParticipants
		}
		c.Participants = append(c.Participants, store.Participant{UserID: id})
	}
	s.conversations[c.ID] = c
	s.participants[c.ID] = nc.Participants
	return c, nil
}

func (s *fakeStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before *uuid.UUID) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := []store.Message{}
	for _, m := range s.messages {
		if m.ConversationID == conversationID && !m.Deleted {
			message := *m
			for _, a := range s.attachments {
				if a.MessageID == m.ID {
					message.Attachments = append(message.Attachments, a)
				}
			}
			messages = append(messages, message)
		}
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	return messages, nil
}

func (s *fakeStore) GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	message := *m
	return &message, nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &store.Message{ID: uuid.New(), ConversationID: conversationID, SenderID: senderID, Content: content, CreatedAt: time.Now()}
	s.messages[m.ID] = m
	message := *m
	return &message, nil
}

func (s *fakeStore) DeleteMessage(ctx context.Context, id, senderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.SenderID != senderID || m.Deleted {
		return store.ErrNotFound
	}
	m.Deleted = true
	return nil
}

func (s *fakeStore) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return store.ErrNotFound
	}
	m.Reads = append(m.Reads, store.Read{UserID: userID, ReadAt: time.Now()})
	return nil
}

func (s *fakeStore) SetTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	return errors.New("typing indicators unavailable")
}

func (s *fakeStore) CreateAttachment(ctx context.Context, a store.Attachment) (*store.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	s.attachments = append(s.attachments, a)
	return &a, nil
}

func (s *fakeStore) addBoard(requiredRole *core.Role) *store.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &store.Board{ID: uuid.New(), CategoryID: uuid.New(), Name: "General", RequiredRole: requiredRole}
	s.boards[b.ID] = b
	return b
}

func (s *fakeStore) GetBoard(ctx context.Context, id uuid.UUID) (*store.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (s *fakeStore) SearchThreads(ctx context.Context, q store.ThreadQuery) ([]store.ThreadListItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := []store.ThreadListItem{}
	for _, t := range s.threads {
		if q.BoardID == nil || *q.BoardID == t.BoardID {
			items = append(items, store.ThreadListItem{ID: t.ID, Title: t.Title, BoardID: t.BoardID, CreatedAt: t.CreatedAt})
		}
	}
	total := len(items)
	if q.Offset >= len(items) {
		return []store.ThreadListItem{}, total, nil
	}
	items = items[q.Offset:]
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, total, nil
}

func (s *fakeStore) ViewThread(ctx context.Context, id uuid.UUID) (*store.ThreadDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	t.ViewsCount++
	return &store.ThreadDetail{ID: t.ID, Title: t.Title, Content: t.Content, AuthorID: t.AuthorID, AuthorRole: core.RoleUser,
		BoardID: t.BoardID, ViewCount: t.ViewsCount}, nil
}

func (s *fakeStore) GetThread(ctx context.Context, id uuid.UUID) (*store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	thread := *t
	return &thread, nil
}

func (s *fakeStore) CreateThread(ctx context.Context, boardID, authorID uuid.UUID, title, body string) (*store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &store.Thread{ID: uuid.New(), BoardID: boardID, AuthorID: authorID, Title: title, Content: body, CreatedAt: time.Now()}
	s.threads[t.ID] = t
	thread := *t
	return &thread, nil
}

func (s *fakeStore) UpdateThreadFlags(ctx context.Context, id uuid.UUID, pinned, locked *bool) (*store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if pinned != nil {
		t.IsPinned = *pinned
	}
	if locked != nil {
		t.IsLocked = *locked
	}
	thread := *t
	return &thread, nil
}

func (s *fakeStore) GetPost(ctx context.Context, id uuid.UUID) (*store.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	post := *p
	return &post, nil
}

func (s *fakeStore) CreatePost(ctx context.Context, threadID, authorID uuid.UUID, body string, parentPostID *uuid.UUID) (*store.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &store.Post{ID: uuid.New(), ThreadID: threadID, AuthorID: authorID, Content: body, ParentPostID: parentPostID, CreatedAt: time.Now()}
	s.posts[p.ID] = p
	post := *p
	return &post, nil
}

func (s *fakeStore) UpdatePost(ctx context.Context, id uuid.UUID, body string) (*store.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.Content = body
	p.Edited = true
	post := *p
	return &post, nil
}

func (s *fakeStore) SoftDeletePost(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Deleted = true
	p.Content = "[deleted]"
	return nil
}

func (s *fakeStore) VoteThread(ctx context.Context, threadID, userID uuid.UUID, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return store.ErrNotFound
	}
	s.votes[threadID] = value
	return nil
}

func (s *fakeStore) ToggleSolution(ctx context.Context, postID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return false, store.ErrNotFound
	}
	p.IsSolution = !p.IsSolution
	return p.IsSolution, nil
}

func (s *fakeStore) CreateReport(ctx context.Context, nr store.NewReport) (*store.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := store.Report{ID: uuid.New(), ReporterID: nr.ReporterID, ReportType: nr.ReportType, PostID: nr.PostID,
		Reason: nr.Reason, Status: "pending", CreatedAt: time.Now()}
	s.reports = append(s.reports, r)
	return &r, nil
}

func (s *fakeStore) ListPendingReports(ctx context.Context) ([]store.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Report{}, s.reports...), nil
}

func (s *fakeStore) CreateModerationAction(ctx context.Context, na store.NewModerationAction) (*store.ModerationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[na.TargetUserID]; !ok {
		return nil, store.ErrNotFound
	}
	a := store.ModerationAction{ID: uuid.New(), ModeratorID: na.ModeratorID, TargetUserID: na.TargetUserID,
		ActionType: na.ActionType, ReportID: na.ReportID, Reason: na.Reason, DurationDays: na.DurationDays, CreatedAt: time.Now()}
	s.actions = append(s.actions, a)
	return &a, nil
}

func (s *fakeStore) addNotification(userID uuid.UUID, title string) *store.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &store.Notification{ID: uuid.New(), UserID: userID, Type: store.NotificationMention, Title: title, CreatedAt: time.Now()}
	s.notifications[n.ID] = n
	return n
}

func (s *fakeStore) ListNotifications(ctx context.Context, userID uuid.UUID, limit int, unreadOnly bool) ([]store.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notifications := []store.Notification{}
	for _, n := range s.notifications {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			notifications = append(notifications, *n)
		}
	}
	return notifications, nil
}

func (s *fakeStore) CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	notifications, _ := s.ListNotifications(ctx, userID, 100, true)
	return len(notifications), nil
}

func (s *fakeStore) SetNotificationRead(ctx context.Context, id, userID uuid.UUID, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	n.Read = read
	return nil
}

func (s *fakeStore) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) DeleteNotification(ctx context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}

func (s *fakeStore) DashboardStats(ctx context.Context, userID uuid.UUID, withReports bool) (*store.DashboardStats, error) {
	stats := &store.DashboardStats{TotalThreads: len(s.threads)}
	if withReports {
		pending := len(s.reports)
		stats.PendingReports = &pending
	}
	return stats, nil
}

func (s *fakeStore) TableStatistics(ctx context.Context) ([]store.TableStatistics, error) {
	return []store.TableStatistics{{Table: "profiles", Count: int64(len(s.profiles))}}, nil
}

// fakeVerifier accepts the tokens it knows
type fakeVerifier map[string]uuid.UUID

func (v fakeVerifier) Verify(ctx context.Context, token string) (*access.Identity, error) {
	id, ok := v[token]
	if !ok {
		return nil, access.ErrInvalidToken
	}
	return &access.Identity{UserID: id, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// fakeQueue records enqueued jobs
type fakeQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) ofType(jobType string) []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var result []jobs.Job
	for _, j := range q.jobs {
		if j.Type == jobType {
			result = append(result, j)
		}
	}
	return result
}

// fakePublisher records published events
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, e ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) ofType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// memoryStorage is an in-memory attachment storage
type memoryStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memoryStorage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	return nil
}

func (m *memoryStorage) URL(ctx context.Context, key string) (string, error) {
	return "https://files.test/" + key, nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

// testService is a backend on fakes
type testService struct {
	backend   *backend.Backend
	store     *fakeStore
	queue     *fakeQueue
	publisher *fakePublisher
	storage   *memoryStorage
	verifier  fakeVerifier
	client    client.Client

	user      *access.Authorization
	other     *access.Authorization
	moderator *access.Authorization
	admin     *access.Authorization
}

func newTestService(t *testing.T, config backend.Configuration) *testService {
	t.Helper()
	ts := &testService{
		store:     newFakeStore(),
		queue:     &fakeQueue{},
		publisher: &fakePublisher{},
		storage:   &memoryStorage{files: map[string][]byte{}},
		verifier:  fakeVerifier{},
	}
	ts.user = ts.store.addProfile("amara@kumii.test", core.RoleUser)
	ts.other = ts.store.addProfile("thabo@kumii.test", core.RoleUser)
	ts.moderator = ts.store.addProfile("moderator@kumii.test", core.RoleModerator)
	ts.admin = ts.store.addProfile("admin@kumii.test", core.RoleAdmin)
	ts.verifier["user-token"] = ts.user.UserID

	router := mux.NewRouter()
	ts.backend = backend.New(&backend.Builder{
		Config:    config,
		Store:     ts.store,
		Router:    router,
		Verifier:  ts.verifier,
		Queue:     ts.queue,
		Publisher: ts.publisher,
		Storage:   ts.storage,
	})
	ts.client = client.NewWithRouter(router)
	return ts
}

func (ts *testService) as(auth *access.Authorization) client.Client {
	return ts.client.WithAuthorization(auth)
}
