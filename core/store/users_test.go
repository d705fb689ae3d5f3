package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createProfile(t, s, "alice@example.com", "Alice Smith", "admin")
	bob := createProfile(t, s, "bob_x@example.com", "Bob Jones", "user")
	createProfile(t, s, "carol@example.com", "", "unknown-role")

	p, err := s.GetProfile(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, core.RoleAdmin, p.Role)
	assert.Equal(t, "Alice Smith", p.DisplayName())
	_, err = s.GetProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := s.SearchProfiles(ctx, "SMITH", bob, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, alice, found[0].ID)

	found, err = s.SearchProfiles(ctx, "example", alice, 10)
	require.NoError(t, err)
	assert.Len(t, found, 2, "the caller is excluded")
	for _, p := range found {
		if p.Email == "carol@example.com" {
			assert.Equal(t, core.RoleUser, p.Role)
		}
	}

	found, err = s.SearchProfiles(ctx, "_x", alice, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, bob, found[0].ID)

	auth, err := s.LoadAuthorization(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, core.RoleAdmin, auth.Role)
	assert.Equal(t, "alice@example.com", auth.Email)
	auth, err = s.LoadAuthorization(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, auth)
}

func TestResolveMentions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createProfile(t, s, "alice@example.com", "Alice Smith", "user")
	bob := createProfile(t, s, "bob@example.com", "Bob Jones", "user")
	createProfile(t, s, "carol@example.com", "Carol", "user")

	found, err := s.ResolveMentions(ctx, []string{"Bob", "alicesmith", "nobody"}, uuid.New())
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, alice, found[0].ID)
	assert.Equal(t, bob, found[1].ID)

	found, err = s.ResolveMentions(ctx, []string{"alice", "bob"}, alice)
	require.NoError(t, err)
	require.Len(t, found, 1, "the author is never notified")
	assert.Equal(t, bob, found[0].ID)

	found, err = s.ResolveMentions(ctx, nil, alice)
	require.NoError(t, err)
	assert.Len(t, found, 0)
}

func TestDashboard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createProfile(t, s, "alice@example.com", "Alice", "user")
	bob := createProfile(t, s, "bob@example.com", "Bob", "user")
	c, err := s.CreateConversation(ctx, NewConversation{Type: ConversationDirect, CreatedBy: alice, Participants: []uuid.UUID{alice, bob}})
	require.NoError(t, err)
	m, err := s.CreateMessage(ctx, c.ID, bob, "<p>hi alice</p>")
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, c.ID, bob, "are you there?")
	require.NoError(t, err)
	require.NoError(t, s.MarkMessageRead(ctx, m.ID, alice))

	_, board := seedBoard(t, s)
	thread, err := s.CreateThread(ctx, board.ID, alice, "My thread", "body")
	require.NoError(t, err)
	_, err = s.CreatePost(ctx, thread.ID, alice, "follow up", nil)
	require.NoError(t, err)

	stats, err := s.DashboardStats(ctx, alice, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalConversations)
	assert.Equal(t, 1, stats.UnreadMessages)
	assert.Equal(t, 1, stats.TotalThreads)
	assert.Equal(t, 1, stats.TotalPosts)
	assert.Nil(t, stats.PendingReports)

	stats, err = s.DashboardStats(ctx, alice, true)
	require.NoError(t, err)
	require.NotNil(t, stats.PendingReports)
	assert.Equal(t, 0, *stats.PendingReports)

	activity, err := s.RecentActivity(ctx, bob, 10)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, "message", activity[0].Type)
	assert.Equal(t, "are you there?", activity[0].Description)
	assert.Equal(t, "hi alice", activity[1].Description)

	activity, err = s.RecentActivity(ctx, alice, 1)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "post", activity[0].Type)
	assert.Equal(t, "/forum/threads/"+thread.ID.String(), activity[0].Link)
}
