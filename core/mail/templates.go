package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// Kind identifies an email template
type Kind string

// all supported email templates
const (
	KindMention    Kind = "mention"
	KindReply      Kind = "reply"
	KindModeration Kind = "moderation"
)

var templates = map[Kind]*template.Template{}

func init() {
	for _, kind := range []Kind{KindMention, KindReply, KindModeration} {
		templates[kind] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+string(kind)+".html"))
	}
}

// MentionData is the data of a mention email
type MentionData struct {
	MentionedBy string `json:"mentioned_by"`
	Context     string `json:"context"`
	Link        string `json:"link"`
}

// ReplyData is the data of a reply email
type ReplyData struct {
	RepliedBy       string `json:"replied_by"`
	OriginalContent string `json:"original_content"`
	ReplyContent    string `json:"reply_content"`
	Link            string `json:"link"`
}

// ModerationData is the data of a moderation notice
type ModerationData struct {
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Duration string `json:"duration,omitempty"`
	Year     int    `json:"-"`
}

func render(kind Kind, data interface{}) (string, error) {
	t, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("unknown email template %s", kind)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render %s email: %w", kind, err)
	}
	return buf.String(), nil
}

// MentionEmail renders the email for a user who was mentioned
func MentionEmail(to string, data MentionData) (Email, error) {
	html, err := render(KindMention, data)
	return Email{To: []string{to}, Subject: data.MentionedBy + " mentioned you on Kumii", HTML: html}, err
}

// ReplyEmail renders the email for an author whose post received a reply
func ReplyEmail(to string, data ReplyData) (Email, error) {
	html, err := render(KindReply, data)
	return Email{To: []string{to}, Subject: data.RepliedBy + " replied to your post on Kumii", HTML: html}, err
}

// ModerationEmail renders the notice for a user who was subject of a moderation action
func ModerationEmail(to string, data ModerationData) (Email, error) {
	if data.Year == 0 {
		data.Year = time.Now().Year()
	}
	html, err := render(KindModeration, data)
	return Email{To: []string{to}, Subject: "Kumii Moderation Notice", HTML: html}, err
}
