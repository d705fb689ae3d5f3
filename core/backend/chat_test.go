package backend_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core/backend"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directConversation creates a direct conversation between user and other and returns
// its id
func (ts *testService) directConversation(t *testing.T) string {
	t.Helper()
	var created struct {
		Conversation store.Conversation `json:"conversation"`
	}
	_, err := ts.as(ts.user).Post("/api/chat/conversations", map[string]interface{}{
		"participantIds": []uuid.UUID{ts.other.UserID},
	}, &created)
	require.NoError(t, err)
	return created.Conversation.ID.String()
}

func TestCreateConversation(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})

	var created struct {
		Conversation store.Conversation `json:"conversation"`
	}
	res, err := ts.as(ts.user).Post("/api/chat/conversations", map[string]interface{}{
		"participantIds": []uuid.UUID{ts.other.UserID, ts.user.UserID, ts.other.UserID},
	}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, store.ConversationDirect, created.Conversation.Type)
	require.Len(t, created.Conversation.Participants, 2)
	assert.Equal(t, ts.user.UserID, created.Conversation.Participants[0].UserID)

	// the existing direct conversation is returned, from either side
	var existing struct {
		Conversation store.Conversation `json:"conversation"`
	}
	res, err = ts.as(ts.other).Post("/api/chat/conversations", map[string]interface{}{
		"participantIds": []uuid.UUID{ts.user.UserID},
	}, &existing)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, created.Conversation.ID, existing.Conversation.ID)

	res, _ = ts.as(ts.user).Post("/api/chat/conversations", map[string]interface{}{
		"participantIds": []uuid.UUID{uuid.New()},
		"type":           "group",
		"name":           "Founders",
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Equal(t, "Failed to add participants", res.Error)

	res, _ = ts.as(ts.user).Post("/api/chat/conversations", map[string]interface{}{"participantIds": []string{}}, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "Validation failed", res.Error)
}

func TestSendMessage(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	conversation := ts.directConversation(t)

	var sent struct {
		Message store.Message `json:"message"`
	}
	res, err := ts.as(ts.user).Post("/api/chat/conversations/"+conversation+"/messages", map[string]string{
		"content": `Hi @thabo <script>alert(1)</script><strong>welcome</strong>`,
	}, &sent)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.NotContains(t, sent.Message.Content, "<script>")
	assert.Contains(t, sent.Message.Content, "<strong>welcome</strong>")

	require.Len(t, ts.publisher.ofType(events.TypeMessageCreated), 1)
	assert.Equal(t, conversation, ts.publisher.ofType(events.TypeMessageCreated)[0].Key)

	mentions := ts.queue.ofType(jobs.TypeMention)
	require.Len(t, mentions, 1)
	assert.Equal(t, sent.Message.ID.String(), mentions[0].Key)
	assert.Contains(t, string(mentions[0].Payload), `"tokens":["thabo"]`)
	assert.Contains(t, string(mentions[0].Payload), `"link":"/chat/`+conversation+`"`)

	var listed struct {
		Messages []store.Message `json:"messages"`
	}
	_, err = ts.as(ts.other).Get("/api/chat/conversations/"+conversation+"/messages", &listed)
	require.NoError(t, err)
	require.Len(t, listed.Messages, 1)
	assert.Equal(t, sent.Message.ID, listed.Messages[0].ID)

	// outsiders are rejected
	res, _ = ts.as(ts.moderator).Get("/api/chat/conversations/"+conversation+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Equal(t, "Access denied", res.Error)

	res, _ = ts.as(ts.user).Post("/api/chat/conversations/"+conversation+"/messages", map[string]string{"content": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestMessageReadAndDelete(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	conversation := ts.directConversation(t)

	var sent struct {
		Message store.Message `json:"message"`
	}
	_, err := ts.as(ts.user).Post("/api/chat/conversations/"+conversation+"/messages", map[string]string{"content": "hello"}, &sent)
	require.NoError(t, err)
	id := sent.Message.ID.String()

	var read struct {
		Message string `json:"message"`
	}
	_, err = ts.as(ts.other).Post("/api/chat/messages/"+id+"/read", nil, &read)
	require.NoError(t, err)
	assert.Equal(t, "Message marked as read", read.Message)

	res, _ := ts.as(ts.other).Delete("/api/chat/messages/"+id, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, "Message not found", res.Error)

	_, err = ts.as(ts.user).Delete("/api/chat/messages/"+id, nil)
	require.NoError(t, err)

	res, _ = ts.as(ts.other).Post("/api/chat/messages/"+uuid.NewString()+"/read", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestTyping(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	conversation := ts.directConversation(t)

	var typing struct {
		Message string `json:"message"`
	}
	_, err := ts.as(ts.user).Post("/api/chat/conversations/"+conversation+"/typing", nil, &typing)
	require.NoError(t, err)
	assert.Equal(t, "Typing indicator updated", typing.Message)
}

func TestUploadAttachment(t *testing.T) {
	ts := newTestService(t, backend.Configuration{MaxFileSize: 1024})
	conversation := ts.directConversation(t)

	var sent struct {
		Message store.Message `json:"message"`
	}
	_, err := ts.as(ts.user).Post("/api/chat/conversations/"+conversation+"/messages", map[string]string{"content": "see attached"}, &sent)
	require.NoError(t, err)
	path := "/api/chat/messages/" + sent.Message.ID.String() + "/attachments"

	res, _ := ts.as(ts.other).PostFile(path, "file", "plan.pdf", "application/pdf", []byte("%PDF-1.4"), nil)
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Equal(t, "You can only attach files to your own messages", res.Error)

	res, _ = ts.as(ts.user).PostFile(path, "file", "tool.exe", "application/x-msdownload", []byte("MZ"), nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "File type not allowed", res.Error)

	res, _ = ts.as(ts.user).PostFile(path, "file", "big.pdf", "application/pdf", []byte(strings.Repeat("x", 2048)), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.Status)
	assert.Equal(t, "File too large", res.Error)

	var uploaded struct {
		Attachment store.Attachment `json:"attachment"`
	}
	res, err = ts.as(ts.user).PostFile(path, "file", "business plan.pdf", "application/pdf", []byte("%PDF-1.4"), &uploaded)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, "business plan.pdf", uploaded.Attachment.FileName)
	assert.Equal(t, int64(8), uploaded.Attachment.FileSize)
	assert.True(t, strings.HasPrefix(uploaded.Attachment.URL, "https://files.test/conversations/"+conversation+"/"))
	require.Len(t, ts.storage.files, 1)

	var listed struct {
		Messages []store.Message `json:"messages"`
	}
	_, err = ts.as(ts.other).Get("/api/chat/conversations/"+conversation+"/messages", &listed)
	require.NoError(t, err)
	require.Len(t, listed.Messages, 1)
	require.Len(t, listed.Messages[0].Attachments, 1)
	assert.Equal(t, uploaded.Attachment.URL, listed.Messages[0].Attachments[0].URL)
}
