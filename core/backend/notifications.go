package backend

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/store"
)

func (b *Backend) handleNotifications(router *mux.Router) {
	logger.Default().Debugln("notifications")
	logger.Default().Debugln("  handle notification routes: /api/notifications GET")
	router.HandleFunc("", b.listNotifications).Methods(http.MethodGet)
	router.HandleFunc("/unread-count", b.unreadNotificationCount).Methods(http.MethodGet)
	router.HandleFunc("/mark-all-read", b.markAllNotificationsRead).Methods(http.MethodPost)
	logger.Default().Debugln("  handle notification routes: /api/notifications/{id} PATCH, DELETE")
	router.HandleFunc("/{id}/read", b.updateNotification).Methods(http.MethodPatch)
	router.HandleFunc("/{id}", b.updateNotification).Methods(http.MethodPatch)
	router.HandleFunc("/{id}", b.deleteNotification).Methods(http.MethodDelete)
}

func (b *Backend) listNotifications(w http.ResponseWriter, r *http.Request) {
	var q struct {
		Limit      int  `query:"limit,default:50" validate:"min=1,max=100"`
		UnreadOnly bool `query:"unread_only,default:false"`
	}
	if !decodeQuery(w, r, &q) {
		return
	}
	notifications, err := b.store.ListNotifications(r.Context(), caller(r).UserID, q.Limit, q.UnreadOnly)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4801: cannot list notifications")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch notifications")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

func (b *Backend) unreadNotificationCount(w http.ResponseWriter, r *http.Request) {
	count, err := b.store.CountUnreadNotifications(r.Context(), caller(r).UserID)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4802: cannot count notifications")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch unread count")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]int{"count": count})
}

func (b *Backend) updateNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		IsRead *bool `json:"is_read"`
	}
	if !b.decodeBody(w, r, "notification-update", &body) {
		return
	}
	read := body.IsRead == nil || *body.IsRead

	err := b.store.SetNotificationRead(r.Context(), id, caller(r).UserID, read)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4803: cannot update notification")
		envelope.Error(w, http.StatusInternalServerError, "Failed to update notification")
		return
	}
	message := "Notification marked as read"
	if !read {
		message = "Notification marked as unread"
	}
	envelope.OK(w, http.StatusOK, map[string]string{"message": message})
}

func (b *Backend) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if _, err := b.store.MarkAllNotificationsRead(r.Context(), caller(r).UserID); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4804: cannot update notifications")
		envelope.Error(w, http.StatusInternalServerError, "Failed to update notifications")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]string{"message": "All notifications marked as read"})
}

func (b *Backend) deleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	err := b.store.DeleteNotification(r.Context(), id, caller(r).UserID)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4805: cannot delete notification")
		envelope.Error(w, http.StatusInternalServerError, "Failed to delete notification")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]string{"message": "Notification deleted"})
}
