package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core/content"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/mail"
	"github.com/relabs-tech/kumii/core/store"
	"github.com/sirupsen/logrus"
)

// all job types of the notification side-channel
const (
	TypeMention          = "mention"
	TypeReply            = "reply"
	TypeEmail            = "email"
	TypeModerationNotice = "moderation_notice"
)

// MentionPayload is the payload of a mention job
type MentionPayload struct {
	ActorID    uuid.UUID `json:"actor_id"`
	ActorEmail string    `json:"actor_email"`
	Tokens     []string  `json:"tokens"`
	Content    string    `json:"content"`
	Link       string    `json:"link"`
	Source     string    `json:"source"`
}

// ReplyPayload is the payload of a reply job
type ReplyPayload struct {
	ActorID     uuid.UUID `json:"actor_id"`
	ActorName   string    `json:"actor_name"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Original    string    `json:"original"`
	Reply       string    `json:"reply"`
	Link        string    `json:"link"`
}

// EmailPayload is the payload of an email job. Data holds the template data of Kind.
type EmailPayload struct {
	Kind mail.Kind       `json:"kind"`
	To   string          `json:"to"`
	Data json.RawMessage `json:"data"`
}

// ModerationNoticePayload is the payload of a moderation notice job
type ModerationNoticePayload struct {
	ActionID     uuid.UUID        `json:"action_id"`
	TargetUserID uuid.UUID        `json:"target_user_id"`
	ActionType   store.ActionType `json:"action_type"`
	Reason       string           `json:"reason"`
	DurationDays *int             `json:"duration_days,omitempty"`
}

// Directory is the part of the store the notifier needs
type Directory interface {
	ResolveMentions(ctx context.Context, tokens []string, exclude uuid.UUID) ([]store.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*store.Profile, error)
	CreateNotification(ctx context.Context, nn store.NewNotification) (*store.Notification, error)
}

// Sender sends emails
type Sender interface {
	Send(ctx context.Context, email mail.Email) (bool, error)
}

// Enqueuer adds jobs to a queue
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Notifier turns mentions, replies and moderation actions into in-app notifications
// and emails
type Notifier struct {
	directory Directory
	mailer    Sender
	queue     Enqueuer
	publisher events.Publisher
	webOrigin string
}

// NewNotifier returns a new notifier. Relative links in emails are made absolute with
// webOrigin. The publisher may be nil.
func NewNotifier(directory Directory, mailer Sender, queue Enqueuer, publisher events.Publisher, webOrigin string) *Notifier {
	if publisher == nil {
		publisher = events.Nop()
	}
	return &Notifier{
		directory: directory,
		mailer:    mailer,
		queue:     queue,
		publisher: publisher,
		webOrigin: strings.TrimSuffix(webOrigin, "/"),
	}
}

// Register installs the notifier's job handlers on q
func (n *Notifier) Register(q *Queue) {
	q.Handle(TypeMention, n.HandleMention)
	q.Handle(TypeReply, n.HandleReply)
	q.Handle(TypeEmail, n.HandleEmail)
	q.Handle(TypeModerationNotice, n.HandleModerationNotice)
}

func (n *Notifier) absolute(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return n.webOrigin + link
}

// notify creates the notification and publishes it
func (n *Notifier) notify(ctx context.Context, nn store.NewNotification) (*store.Notification, error) {
	notification, err := n.directory.CreateNotification(ctx, nn)
	if err != nil {
		return nil, err
	}
	if err := n.publisher.Publish(ctx, events.New(events.TypeNotificationCreated, nn.UserID.String(), notification)); err != nil {
		logger.FromContext(ctx).WithError(err).Warnln("cannot publish notification event")
	}
	return notification, nil
}

func (n *Notifier) enqueueEmail(ctx context.Context, key string, kind mail.Kind, to string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return n.queue.Enqueue(ctx, Job{Type: TypeEmail, Key: key}.WithPayload(EmailPayload{Kind: kind, To: to, Data: raw}))
}

// HandleMention notifies every user mentioned in the payload's content
func (n *Notifier) HandleMention(ctx context.Context, job Job) error {
	var p MentionPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("invalid mention payload: %w", err)
	}
	rlog := logger.FromContext(ctx).WithFields(logrus.Fields{"actor": p.ActorID, "source": p.Source})
	if len(p.Tokens) == 0 {
		return nil
	}
	users, err := n.directory.ResolveMentions(ctx, p.Tokens, p.ActorID)
	if err != nil {
		return fmt.Errorf("resolve mentions: %w", err)
	}
	rlog.Debugf("%d of %d mentions resolved", len(users), len(p.Tokens))

	preview := content.Preview(p.Content, 200)
	for _, user := range users {
		notification, err := n.notify(ctx, store.NewNotification{
			UserID:  user.ID,
			Type:    store.NotificationMention,
			Title:   p.ActorEmail + " mentioned you",
			Content: preview,
			Link:    p.Link,
		})
		if err != nil {
			rlog.WithError(err).Errorln("Error 5001: cannot create mention notification for", user.ID)
			continue
		}
		err = n.enqueueEmail(ctx, notification.ID.String(), mail.KindMention, user.Email, mail.MentionData{
			MentionedBy: p.ActorEmail,
			Context:     content.StripHTML(p.Content),
			Link:        n.absolute(p.Link),
		})
		if err != nil {
			rlog.WithError(err).Errorln("Error 5002: cannot enqueue mention email for", user.ID)
		}
	}
	return nil
}

// HandleReply notifies the author of a post or thread that received a reply
func (n *Notifier) HandleReply(ctx context.Context, job Job) error {
	var p ReplyPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("invalid reply payload: %w", err)
	}
	if p.RecipientID == p.ActorID {
		return nil
	}
	recipient, err := n.directory.GetProfile(ctx, p.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		logger.FromContext(ctx).Warnln("reply recipient has no profile:", p.RecipientID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reply recipient: %w", err)
	}

	notification, err := n.notify(ctx, store.NewNotification{
		UserID:  recipient.ID,
		Type:    store.NotificationReply,
		Title:   p.ActorName + " replied to your post",
		Content: content.Preview(content.StripHTML(p.Reply), 200),
		Link:    p.Link,
	})
	if err != nil {
		return fmt.Errorf("create reply notification: %w", err)
	}
	err = n.enqueueEmail(ctx, notification.ID.String(), mail.KindReply, recipient.Email, mail.ReplyData{
		RepliedBy:       p.ActorName,
		OriginalContent: content.Preview(content.StripHTML(p.Original), 500),
		ReplyContent:    content.StripHTML(p.Reply),
		Link:            n.absolute(p.Link),
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 5003: cannot enqueue reply email")
	}
	return nil
}

// HandleModerationNotice informs the target user of a moderation action
func (n *Notifier) HandleModerationNotice(ctx context.Context, job Job) error {
	var p ModerationNoticePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("invalid moderation notice payload: %w", err)
	}
	target, err := n.directory.GetProfile(ctx, p.TargetUserID)
	if errors.Is(err, store.ErrNotFound) {
		logger.FromContext(ctx).Warnln("moderation target has no profile:", p.TargetUserID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load moderation target: %w", err)
	}

	data := mail.ModerationData{Action: string(p.ActionType), Reason: p.Reason}
	if p.DurationDays != nil {
		data.Duration = strconv.Itoa(*p.DurationDays) + " days"
		if *p.DurationDays == 1 {
			data.Duration = "1 day"
		}
	}
	_, err = n.notify(ctx, store.NewNotification{
		UserID:  target.ID,
		Type:    store.NotificationModeration,
		Title:   "Moderation notice: " + strings.ReplaceAll(data.Action, "_", " "),
		Content: p.Reason,
	})
	if err != nil {
		return fmt.Errorf("create moderation notification: %w", err)
	}
	if err := n.enqueueEmail(ctx, p.ActionID.String(), mail.KindModeration, target.Email, data); err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 5004: cannot enqueue moderation email")
	}
	return nil
}

// HandleEmail renders and sends an email. A mailer which is not configured skips the
// email without error.
func (n *Notifier) HandleEmail(ctx context.Context, job Job) error {
	var p EmailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("invalid email payload: %w", err)
	}
	email, err := render(p)
	if err != nil {
		return err
	}
	sent, err := n.mailer.Send(ctx, email)
	if err != nil {
		return fmt.Errorf("send %s email: %w", p.Kind, err)
	}
	if !sent {
		logger.FromContext(ctx).Debugf("%s email to %s skipped", p.Kind, p.To)
	}
	return nil
}

func render(p EmailPayload) (mail.Email, error) {
	switch p.Kind {
	case mail.KindMention:
		var data mail.MentionData
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return mail.Email{}, fmt.Errorf("invalid mention email data: %w", err)
		}
		return mail.MentionEmail(p.To, data)
	case mail.KindReply:
		var data mail.ReplyData
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return mail.Email{}, fmt.Errorf("invalid reply email data: %w", err)
		}
		return mail.ReplyEmail(p.To, data)
	case mail.KindModeration:
		var data mail.ModerationData
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return mail.Email{}, fmt.Errorf("invalid moderation email data: %w", err)
		}
		return mail.ModerationEmail(p.To, data)
	}
	return mail.Email{}, fmt.Errorf("unknown email kind %q", p.Kind)
}
