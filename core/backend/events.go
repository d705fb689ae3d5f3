package backend

import (
	"context"

	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/content"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/logger"
)

// enqueue adds a side job. Failures are logged and never fail the request.
func (b *Backend) enqueue(ctx context.Context, job jobs.Job) {
	if b.queue == nil {
		return
	}
	if err := b.queue.Enqueue(ctx, job); err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 4401: cannot enqueue", job.Type, "job")
	}
}

// publish publishes a domain event. Failures are logged and never fail the request.
func (b *Backend) publish(ctx context.Context, eventType, key string, payload interface{}) {
	if err := b.publisher.Publish(ctx, events.New(eventType, key, payload)); err != nil {
		logger.FromContext(ctx).WithError(err).Warnln("Error 4402: cannot publish", eventType, "event")
	}
}

// enqueueMentions enqueues a mention job if text mentions anybody. key identifies the
// message or post.
func (b *Backend) enqueueMentions(ctx context.Context, key, text, sanitized, link, source string) {
	tokens := content.ExtractMentions(text)
	if len(tokens) == 0 {
		return
	}
	auth := access.AuthorizationFromContext(ctx)
	b.enqueue(ctx, jobs.Job{Type: jobs.TypeMention, Key: key}.WithPayload(jobs.MentionPayload{
		ActorID:    auth.UserID,
		ActorEmail: auth.Email,
		Tokens:     tokens,
		Content:    sanitized,
		Link:       link,
		Source:     source,
	}))
}
