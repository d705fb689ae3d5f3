package mail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMailer(url string) *Mailer {
	return New(Configuration{
		APIKey:    "re_test",
		From:      "Kumii <noreply@kumii.test>",
		Endpoint:  url,
		RetryBase: time.Millisecond,
	})
}

func TestSend(t *testing.T) {
	var received Email
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer server.Close()

	sent, err := newTestMailer(server.URL).Send(context.Background(), Email{To: []string{"a@example.com"}, Subject: "s", HTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, "Kumii <noreply@kumii.test>", received.From)
	assert.Equal(t, []string{"a@example.com"}, received.To)
}

func TestSendRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"email-2"}`))
	}))
	defer server.Close()

	sent, err := newTestMailer(server.URL).Send(context.Background(), Email{To: []string{"a@example.com"}})
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendGivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sent, err := newTestMailer(server.URL).Send(context.Background(), Email{To: []string{"a@example.com"}})
	assert.Error(t, err)
	assert.False(t, sent)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendPermanentFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid to address"}`))
	}))
	defer server.Close()

	sent, err := newTestMailer(server.URL).Send(context.Background(), Email{To: []string{"nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid to address")
	assert.False(t, sent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSendNotConfigured(t *testing.T) {
	m := New(Configuration{})
	assert.False(t, m.Configured())
	sent, err := m.Send(context.Background(), Email{To: []string{"a@example.com"}})
	assert.NoError(t, err)
	assert.False(t, sent)
}

func TestTemplates(t *testing.T) {
	email, err := MentionEmail("a@example.com", MentionData{
		MentionedBy: "bob@example.com",
		Context:     "<script>x</script> hello",
		Link:        "http://localhost:5173/chat/1",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com mentioned you on Kumii", email.Subject)
	assert.Equal(t, []string{"a@example.com"}, email.To)
	assert.Contains(t, email.HTML, "&lt;script&gt;")
	assert.Contains(t, email.HTML, `href="http://localhost:5173/chat/1"`)
	assert.Contains(t, email.HTML, "View Full Discussion")

	email, err = MentionEmail("a@example.com", MentionData{MentionedBy: "bob@example.com", Context: "Don't fix A & B"})
	require.NoError(t, err)
	assert.Contains(t, email.HTML, "Don&#39;t fix A &amp; B")

	email, err = ReplyEmail("a@example.com", ReplyData{RepliedBy: "Bob", OriginalContent: "question", ReplyContent: "answer", Link: "/forum/threads/1"})
	require.NoError(t, err)
	assert.Equal(t, "Bob replied to your post on Kumii", email.Subject)
	assert.Contains(t, email.HTML, "answer")
	assert.Contains(t, email.HTML, "Bob's reply:")

	email, err = ModerationEmail("a@example.com", ModerationData{Action: "suspend", Reason: "spam", Duration: "7 days", Year: 2026})
	require.NoError(t, err)
	assert.Equal(t, "Kumii Moderation Notice", email.Subject)
	assert.Contains(t, email.HTML, "<strong>Duration:</strong> 7 days")
	assert.Contains(t, email.HTML, "2026 Kumii Platform")

	email, err = ModerationEmail("a@example.com", ModerationData{Action: "warn", Reason: "tone"})
	require.NoError(t, err)
	assert.NotContains(t, email.HTML, "Duration:")
}
