package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/content"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/store"
)

// TypingTimeout is the age after which typing indicators are removed
const TypingTimeout = 10 * time.Second

func (b *Backend) handleChat(router *mux.Router) {
	logger.Default().Debugln("chat")
	logger.Default().Debugln("  handle chat routes: /api/chat/conversations GET, POST")
	router.HandleFunc("/conversations", b.listConversations).Methods(http.MethodGet)
	router.HandleFunc("/conversations", b.createConversation).Methods(http.MethodPost)
	logger.Default().Debugln("  handle chat routes: /api/chat/conversations/{id}/messages GET, POST")
	router.HandleFunc("/conversations/{id}/messages", b.listMessages).Methods(http.MethodGet)
	router.HandleFunc("/conversations/{id}/messages", b.sendMessage).Methods(http.MethodPost)
	router.HandleFunc("/conversations/{id}/typing", b.typing).Methods(http.MethodPost)
	logger.Default().Debugln("  handle chat routes: /api/chat/messages/{id} PATCH, DELETE")
	router.HandleFunc("/messages/{id}", b.updateMessage).Methods(http.MethodPatch)
	router.HandleFunc("/messages/{id}", b.deleteMessage).Methods(http.MethodDelete)
	router.HandleFunc("/messages/{id}/read", b.markMessageRead).Methods(http.MethodPost)
	router.HandleFunc("/messages/{id}/reactions", b.addReaction).Methods(http.MethodPost)
	router.HandleFunc("/messages/{id}/attachments", b.uploadAttachment).Methods(http.MethodPost)
}

func (b *Backend) listConversations(w http.ResponseWriter, r *http.Request) {
	var q pageQuery
	if !decodeQuery(w, r, &q) {
		return
	}
	conversations, total, err := b.store.ListConversations(r.Context(), caller(r).UserID, q.Limit, q.Offset)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4501: cannot list conversations")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch conversations")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
		"total":         total,
		"limit":         q.Limit,
		"offset":        q.Offset,
	})
}

func (b *Backend) createConversation(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	var body struct {
		ParticipantIDs []uuid.UUID            `json:"participantIds"`
		Type           store.ConversationType `json:"type"`
		Name           *string                `json:"name"`
	}
	if !b.decodeBody(w, r, "conversation-create", &body) {
		return
	}
	if body.Type == "" {
		body.Type = store.ConversationDirect
	}
	auth := caller(r)

	participants := []uuid.UUID{auth.UserID}
	seen := map[uuid.UUID]bool{auth.UserID: true}
	for _, id := range body.ParticipantIDs {
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}

	if body.Type == store.ConversationDirect && len(participants) == 2 {
		existing, err := b.store.FindDirectConversation(r.Context(), participants[0], participants[1])
		if err == nil {
			envelope.OK(w, http.StatusOK, map[string]interface{}{"conversation": existing})
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			rlog.WithError(err).Errorln("Error 4502: cannot look up direct conversation")
			envelope.Error(w, http.StatusInternalServerError, "Failed to create conversation")
			return
		}
	}

	conversation, err := b.store.CreateConversation(r.Context(), store.NewConversation{
		Type:         body.Type,
		Name:         body.Name,
		CreatedBy:    auth.UserID,
		Participants: participants,
	})
	if err != nil {
		rlog.WithError(err).Errorln("Error 4503: cannot create conversation")
		if errors.Is(err, store.ErrAddParticipants) {
			envelope.Error(w, http.StatusInternalServerError, "Failed to add participants")
			return
		}
		envelope.Error(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	envelope.OK(w, http.StatusCreated, map[string]interface{}{"conversation": conversation})
}

// participant checks that the caller actively participates in the conversation. It
// writes the failure response and returns false otherwise.
func (b *Backend) participant(w http.ResponseWriter, r *http.Request, conversationID uuid.UUID) bool {
	ok, err := b.store.IsParticipant(r.Context(), conversationID, caller(r).UserID)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4504: cannot check participant")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return false
	}
	if !ok {
		envelope.Error(w, http.StatusForbidden, "Access denied")
		return false
	}
	return true
}

func (b *Backend) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var q struct {
		Limit  int    `query:"limit,default:50" validate:"min=1,max=100"`
		Before string `query:"before" validate:"omitempty,uuid"`
	}
	if !decodeQuery(w, r, &q) {
		return
	}
	if !b.participant(w, r, conversationID) {
		return
	}
	var before *uuid.UUID
	if q.Before != "" {
		id := uuid.MustParse(q.Before)
		before = &id
	}
	messages, err := b.store.ListMessages(r.Context(), conversationID, q.Limit, before)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4505: cannot list messages")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	b.withAttachmentURLs(r.Context(), messages)
	envelope.OK(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (b *Backend) sendMessage(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if !b.decodeBody(w, r, "message-content", &body) {
		return
	}
	if !b.participant(w, r, conversationID) {
		return
	}

	sanitized := content.Sanitize(body.Content)
	message, err := b.store.CreateMessage(r.Context(), conversationID, caller(r).UserID, sanitized)
	if err != nil {
		rlog.WithError(err).Errorln("Error 4506: cannot create message")
		envelope.Error(w, http.StatusInternalServerError, "Failed to send message")
		return
	}
	envelope.OK(w, http.StatusCreated, map[string]interface{}{"message": message})

	b.publish(r.Context(), events.TypeMessageCreated, conversationID.String(), message)
	b.enqueueMentions(r.Context(), message.ID.String(), body.Content, sanitized, "/chat/"+conversationID.String(), "chat")
}

func (b *Backend) updateMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if !b.decodeBody(w, r, "message-content", &body) {
		return
	}
	message, err := b.store.UpdateMessage(r.Context(), id, caller(r).UserID, content.Sanitize(body.Content))
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4507: cannot update message")
		envelope.Error(w, http.StatusInternalServerError, "Failed to update message")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{"message": message})
}

func (b *Backend) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	err := b.store.DeleteMessage(r.Context(), id, caller(r).UserID)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4508: cannot delete message")
		envelope.Error(w, http.StatusInternalServerError, "Failed to delete message")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]string{"message": "Message deleted"})
}

func (b *Backend) markMessageRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	err := b.store.MarkMessageRead(r.Context(), id, caller(r).UserID)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4509: cannot mark message as read")
		envelope.Error(w, http.StatusInternalServerError, "Failed to mark message as read")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]string{"message": "Message marked as read"})
}

func (b *Backend) addReaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Emoji string `json:"emoji"`
	}
	if !b.decodeBody(w, r, "reaction", &body) {
		return
	}
	reaction, err := b.store.AddReaction(r.Context(), id, caller(r).UserID, body.Emoji)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4510: cannot add reaction")
		envelope.Error(w, http.StatusInternalServerError, "Failed to add reaction")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{"reaction": reaction})
}

// typing never fails, typing indicators are best effort
func (b *Backend) typing(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := b.store.SetTyping(r.Context(), conversationID, caller(r).UserID); err != nil {
		logger.FromContext(r.Context()).WithError(err).Warnln("cannot update typing indicator")
	}
	envelope.OK(w, http.StatusOK, map[string]string{"message": "Typing indicator updated"})
}

func (b *Backend) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	message, err := b.store.GetMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && message.Deleted) {
		envelope.Error(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorln("Error 4511: cannot load message")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if message.SenderID != caller(r).UserID {
		envelope.Error(w, http.StatusForbidden, "You can only attach files to your own messages")
		return
	}
	if b.storage == nil {
		envelope.Error(w, http.StatusServiceUnavailable, "File storage is not configured")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			envelope.Error(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		envelope.ValidationError(w, "Validation failed", []envelope.FieldError{{Field: "file", Message: "Required"}})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !content.IsAllowedFileType(contentType, b.config.AllowedFileTypes) {
		envelope.Error(w, http.StatusBadRequest, "File type not allowed")
		return
	}
	if header.Size > b.config.MaxFileSize {
		envelope.Error(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	key := fmt.Sprintf("conversations/%s/%s", message.ConversationID, content.UniqueFilename(header.Filename))
	if err := b.storage.Put(r.Context(), key, contentType, file, header.Size); err != nil {
		rlog.WithError(err).Errorln("Error 4512: cannot store attachment")
		envelope.Error(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}
	attachment, err := b.store.CreateAttachment(r.Context(), store.Attachment{
		MessageID:  message.ID,
		FileName:   header.Filename,
		FileType:   contentType,
		FileSize:   header.Size,
		StorageKey: key,
	})
	if err != nil {
		rlog.WithError(err).Errorln("Error 4513: cannot insert attachment")
		if err := b.storage.Delete(r.Context(), key); err != nil {
			rlog.WithError(err).Warnln("cannot remove orphaned attachment", key)
		}
		envelope.Error(w, http.StatusInternalServerError, "Failed to save attachment")
		return
	}
	if attachment.URL, err = b.storage.URL(r.Context(), key); err != nil {
		rlog.WithError(err).Errorln("Error 4301: cannot sign attachment url", attachment.ID)
	}
	envelope.OK(w, http.StatusCreated, map[string]interface{}{"attachment": attachment})
}

// CleanupTyping removes stale typing indicators every TypingTimeout until done is closed
func (b *Backend) CleanupTyping(done <-chan struct{}) {
	ticker := time.NewTicker(TypingTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, rlog := logger.ContextWithLogger(context.Background())
			n, err := b.store.CleanupTyping(ctx, TypingTimeout)
			if err != nil {
				rlog.WithError(err).Warnln("cannot clean up typing indicators")
				continue
			}
			if n > 0 {
				rlog.Debugf("removed %d typing indicators", n)
			}
		}
	}
}
